package service

import (
	"errors"
	"fmt"

	"github.com/tiernet/internal/plan"
)

// 业务错误
var (
	ErrNotFound            = errors.New("not found")
	ErrUnknownMember       = errors.New("unknown member")
	ErrUnknownSponsor      = errors.New("unknown sponsor")
	ErrCycle               = errors.New("sponsor change would create a cycle")
	ErrDepthExceeded       = errors.New("sponsor chain exceeds max depth")
	ErrDuplicateMember     = errors.New("username or email already registered")
	ErrMemberInactive      = errors.New("member is inactive")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidMethod       = errors.New("withdrawal method not available")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimum        = errors.New("amount below withdrawal minimum")
	ErrAboveDailyLimit     = errors.New("amount above daily withdrawal limit")
	ErrInvalidTransition   = errors.New("invalid withdrawal status transition")
	ErrWithdrawalNotFound  = errors.New("withdrawal not found")
	ErrWithdrawalForbidden = errors.New("withdrawal belongs to another member")
	ErrInvalidInput        = errors.New("invalid input")
	ErrPlanInvalid         = plan.ErrInvalidPlan
	ErrStorage             = errors.New("storage unavailable, please retry")
)

// FieldError 字段级校验错误
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Field, e.Err, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldError(field string, err error, reason string) error {
	return &FieldError{Field: field, Reason: reason, Err: err}
}

// storageError 包装存储层错误，业务错误原样返回
func storageError(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrUnknownMember, ErrUnknownSponsor, ErrCycle, ErrDepthExceeded,
		ErrDuplicateMember, ErrMemberInactive, ErrInvalidAmount, ErrInvalidMethod,
		ErrInsufficientBalance, ErrBelowMinimum, ErrAboveDailyLimit, ErrInvalidTransition,
		ErrWithdrawalNotFound, ErrWithdrawalForbidden, ErrInvalidInput, ErrPlanInvalid, ErrStorage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}
