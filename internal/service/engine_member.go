package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/models"
)

// RegisterMemberInput 注册成员输入
type RegisterMemberInput struct {
	SponsorID       *uint  `json:"sponsor_id"`
	SponsorUsername string `json:"sponsor_username" validate:"omitempty,max=32"`
	Username        string `json:"username" validate:"required,username"`
	FullName        string `json:"full_name" validate:"max=128"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Phone           string `json:"phone" validate:"omitempty,max=32"`
}

// UpdateProfileInput 资料更新输入
type UpdateProfileInput struct {
	FullName      string      `json:"full_name" validate:"max=128"`
	Email         string      `json:"email" validate:"required,email,max=255"`
	Phone         string      `json:"phone" validate:"omitempty,max=32"`
	PayoutDetails models.JSON `json:"payout_details"`
}

func normalizeRegisterInput(input RegisterMemberInput) RegisterMemberInput {
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	input.SponsorUsername = strings.ToLower(strings.TrimSpace(input.SponsorUsername))
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.FullName = strings.TrimSpace(input.FullName)
	input.Phone = strings.TrimSpace(input.Phone)
	return input
}

// RegisterMember 注册成员：挂载推荐树、记录入会流水、发放推荐奖励并重新评估推荐人等级
func (e *Engine) RegisterMember(ctx context.Context, input RegisterMemberInput) (*models.Member, error) {
	input = normalizeRegisterInput(input)
	if err := validateInput(e.validate, input); err != nil {
		return nil, err
	}

	var created *models.Member
	err := e.write(ctx, "register_member", func(u *unit) error {
		exists, err := u.members.ExistsByUsernameOrEmail(input.Username, input.Email, 0)
		if err != nil {
			return err
		}
		if exists {
			return fieldError("username", ErrDuplicateMember, "")
		}

		sponsorID := input.SponsorID
		if sponsorID == nil && input.SponsorUsername != "" {
			sponsor, err := u.members.GetByUsername(input.SponsorUsername)
			if err != nil {
				return err
			}
			if sponsor == nil {
				return fieldError("sponsor_username", ErrUnknownSponsor, "")
			}
			sponsorID = &sponsor.ID
		}

		now := e.now()
		member := &models.Member{
			Username: input.Username,
			FullName: input.FullName,
			Email:    input.Email,
			Phone:    input.Phone,
			JoinedAt: now,
			Active:   true,
			Rank:     u.plan.Ranks.Lowest(),
		}
		if _, err := u.network.AddMember(sponsorID, member); err != nil {
			return err
		}

		join := &models.LedgerEntry{
			OccurredAt:      now,
			Kind:            constants.LedgerKindJoin,
			Amount:          models.NewMoneyFromDecimal(u.plan.JoiningFee),
			MemberID:        member.ID,
			RelatedMemberID: sponsorID,
		}
		if _, err := u.ledger.Append(join); err != nil {
			return err
		}

		if sponsorID != nil {
			sponsor, err := u.members.GetByID(*sponsorID)
			if err != nil {
				return err
			}
			if _, err := u.commission.ApplyReferralBonus(join, sponsor, u.plan); err != nil {
				return err
			}
			before, after, err := u.ranks.Reevaluate(*sponsorID, u.plan.Ranks)
			if err != nil {
				return err
			}
			if before != after {
				logger.Infow("engine_rank_promoted", "member_id", *sponsorID, "from", before, "to", after)
			}
		}
		created = member
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("engine_member_registered", "member_id", created.ID, "sponsor_id", created.SponsorID)
	return created, nil
}

// UpdateProfile 更新成员资料（不涉及余额与推荐关系）
func (e *Engine) UpdateProfile(ctx context.Context, memberID uint, input UpdateProfileInput) (*models.Member, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.FullName = strings.TrimSpace(input.FullName)
	input.Phone = strings.TrimSpace(input.Phone)
	if err := validateInput(e.validate, input); err != nil {
		return nil, err
	}

	var updated *models.Member
	err := e.write(ctx, "update_profile", func(u *unit) error {
		member, err := u.network.GetMember(memberID)
		if err != nil {
			return err
		}
		exists, err := u.members.ExistsByUsernameOrEmail(member.Username, input.Email, member.ID)
		if err != nil {
			return err
		}
		if exists {
			return fieldError("email", ErrDuplicateMember, "")
		}
		updates := map[string]interface{}{
			"full_name": input.FullName,
			"email":     input.Email,
			"phone":     input.Phone,
		}
		if input.PayoutDetails != nil {
			updates["payout_details"] = input.PayoutDetails
		}
		if err := u.members.UpdateFields(member.ID, updates); err != nil {
			return err
		}
		updated, err = u.network.GetMember(member.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetMemberActive 启用或停用成员（停用成员不再获得佣金，不可提现）
func (e *Engine) SetMemberActive(ctx context.Context, memberID uint, active bool) (*models.Member, error) {
	var updated *models.Member
	err := e.write(ctx, "set_member_active", func(u *unit) error {
		member, err := u.network.GetMember(memberID)
		if err != nil {
			return err
		}
		if member.Active != active {
			if err := u.members.UpdateFields(member.ID, map[string]interface{}{"active": active}); err != nil {
				return err
			}
		}
		updated, err = u.network.GetMember(member.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("engine_member_active_changed", "member_id", memberID, "active", active)
	return updated, nil
}

// ChangeSponsor 调整推荐关系，记录零金额流水以便回放
func (e *Engine) ChangeSponsor(ctx context.Context, memberID uint, newSponsorID *uint, actor string) (*models.Member, error) {
	var updated *models.Member
	err := e.write(ctx, "change_sponsor", func(u *unit) error {
		oldSponsorID, err := u.network.ChangeSponsor(memberID, newSponsorID)
		if err != nil {
			return err
		}
		if sameSponsor(oldSponsorID, newSponsorID) {
			updated, err = u.network.GetMember(memberID)
			return err
		}
		meta := models.JSON{"actor": actor}
		if oldSponsorID != nil {
			meta["from_sponsor_id"] = *oldSponsorID
		}
		if _, err := u.ledger.Append(&models.LedgerEntry{
			Kind:            constants.LedgerKindSponsorChange,
			Amount:          models.ZeroMoney(),
			MemberID:        memberID,
			RelatedMemberID: newSponsorID,
			Meta:            meta,
		}); err != nil {
			return err
		}
		if newSponsorID != nil {
			if _, _, err := u.ranks.Reevaluate(*newSponsorID, u.plan.Ranks); err != nil {
				return err
			}
		}
		updated, err = u.network.GetMember(memberID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("engine_sponsor_changed", "member_id", memberID, "sponsor_id", fmt.Sprint(derefUint(newSponsorID)), "actor", actor)
	return updated, nil
}

func derefUint(v *uint) uint {
	if v == nil {
		return 0
	}
	return *v
}
