package service

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/models"
)

type withdrawalNote struct {
	Notes string `json:"notes,omitempty" validate:"max=255"`
}

type bankDetails struct {
	AccountNumber     string `json:"account_number" validate:"required,max=64"`
	BankName          string `json:"bank_name" validate:"required,max=128"`
	RoutingNumber     string `json:"routing_number" validate:"required,max=32"`
	AccountHolderName string `json:"account_holder_name,omitempty" validate:"max=128"`
	withdrawalNote
}

func (d *bankDetails) trim() {
	d.AccountNumber = strings.TrimSpace(d.AccountNumber)
	d.BankName = strings.TrimSpace(d.BankName)
	d.RoutingNumber = strings.TrimSpace(d.RoutingNumber)
	d.AccountHolderName = strings.TrimSpace(d.AccountHolderName)
	d.Notes = strings.TrimSpace(d.Notes)
}

type paypalDetails struct {
	PaypalEmail string `json:"paypal_email" validate:"required,email,max=255"`
	withdrawalNote
}

func (d *paypalDetails) trim() {
	d.PaypalEmail = strings.TrimSpace(d.PaypalEmail)
	d.Notes = strings.TrimSpace(d.Notes)
}

type cryptoDetails struct {
	WalletAddress string `json:"wallet_address" validate:"required,max=128"`
	withdrawalNote
}

func (d *cryptoDetails) trim() {
	d.WalletAddress = strings.TrimSpace(d.WalletAddress)
	d.Notes = strings.TrimSpace(d.Notes)
}

type withdrawalDetails interface {
	trim()
}

func detailsFor(method string) withdrawalDetails {
	switch method {
	case constants.WithdrawMethodBank:
		return &bankDetails{}
	case constants.WithdrawMethodPaypal:
		return &paypalDetails{}
	case constants.WithdrawMethodCrypto:
		return &cryptoDetails{}
	default:
		return nil
	}
}

// normalizeWithdrawalDetails 按提现方式校验收款信息，只保留该方式的字段
//
// 计划中开放但未定义字段的方式原样保存。
func normalizeWithdrawalDetails(v *validator.Validate, method string, raw models.JSON) (models.JSON, error) {
	target := detailsFor(method)
	if target == nil {
		return raw, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fieldError("details", ErrInvalidInput, "must be an object")
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		return nil, fieldError("details", ErrInvalidInput, "fields must be strings")
	}
	target.trim()
	if err := validateInput(v, target); err != nil {
		var fe *FieldError
		if errors.As(err, &fe) {
			fe.Field = "details." + fe.Field
		}
		return nil, err
	}
	encoded, err = json.Marshal(target)
	if err != nil {
		return nil, err
	}
	meta := models.JSON{}
	if err := json.Unmarshal(encoded, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
