package service

import (
	"context"
	"fmt"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/plan"
	"github.com/tiernet/internal/repository"
)

const dashboardRecentEarnings = 5

// MemberDashboard 成员中心首页数据
type MemberDashboard struct {
	Member          models.Member        `json:"member"`
	TeamSize        int                  `json:"team_size"`
	DirectReferrals int                  `json:"direct_referrals"`
	RankProgress    plan.Progress        `json:"rank_progress"`
	RecruiterTitle  string               `json:"recruiter_title"`
	PendingPayout   models.Money         `json:"pending_payout"`
	RecentEarnings  []models.LedgerEntry `json:"recent_earnings"`
}

// Dashboard 成员首页：余额、团队、等级进度与最近收益
func (s *QueryService) Dashboard(ctx context.Context, memberID uint) (*MemberDashboard, error) {
	return cached(ctx, s, fmt.Sprintf("dashboard:%d", memberID), func() (*MemberDashboard, error) {
		result := &MemberDashboard{}
		err := s.snapshot(ctx, func(members repository.MemberRepository, ledgerRepo repository.LedgerRepository, p plan.Plan) error {
			network := NewNetworkStore(members, p.MaxDepth)
			member, err := network.GetMember(memberID)
			if err != nil {
				return err
			}
			descendants, err := network.GetDescendants(memberID)
			if err != nil {
				return err
			}
			direct, err := network.DirectReferralsOf(memberID)
			if err != nil {
				return err
			}
			stats, err := ledgerRepo.WithdrawalStats(memberID)
			if err != nil {
				return err
			}
			recent, err := ledgerRepo.Page(repository.LedgerPageFilter{
				MemberID: memberID,
				Kinds:    []string{constants.LedgerKindCommissionCredit},
				Limit:    dashboardRecentEarnings,
			})
			if err != nil {
				return err
			}
			result.Member = *member
			result.TeamSize = len(descendants)
			result.DirectReferrals = int(direct)
			result.RankProgress = p.Ranks.ProgressOf(member.Rank, int(direct))
			result.RecruiterTitle = plan.RecruiterTitle(int(direct))
			result.PendingPayout = summarizeWithdrawals(stats).Pending
			result.RecentEarnings = recent
			return nil
		})
		return result, err
	})
}

// AdminOverview 后台总览统计
type AdminOverview struct {
	TotalUsers         int64        `json:"total_users"`
	ActiveUsers        int64        `json:"active_users"`
	TotalEarnings      models.Money `json:"total_earnings"`
	TotalWithdrawals   models.Money `json:"total_withdrawals"`
	PendingWithdrawals models.Money `json:"pending_withdrawals"`
	TotalBalance       models.Money `json:"total_balance"`
	TodayJoins         int64        `json:"today_joins"`
	TodayEarnings      models.Money `json:"today_earnings"`
	TodaySales         models.Money `json:"today_sales"`
}

// AdminOverview 全站统计
func (s *QueryService) AdminOverview(ctx context.Context) (*AdminOverview, error) {
	return cached(ctx, s, "admin_overview", func() (*AdminOverview, error) {
		result := &AdminOverview{}
		dayStart, dayEnd := dayWindow(s.now(), s.location)

		err := s.snapshot(ctx, func(members repository.MemberRepository, ledgerRepo repository.LedgerRepository, _ plan.Plan) error {
			totals, err := members.Totals(dayStart, dayEnd)
			if err != nil {
				return err
			}
			stats, err := ledgerRepo.WithdrawalStats(0)
			if err != nil {
				return err
			}
			todayEarnings, err := ledgerRepo.SumByKind(constants.LedgerKindCommissionCredit, dayStart, dayEnd)
			if err != nil {
				return err
			}
			todaySales, err := ledgerRepo.SumByKind(constants.LedgerKindSale, dayStart, dayEnd)
			if err != nil {
				return err
			}
			summary := summarizeWithdrawals(stats)
			result.TotalUsers = totals.TotalMembers
			result.ActiveUsers = totals.ActiveMembers
			result.TotalEarnings = totals.TotalEarnings
			result.TotalWithdrawals = totals.TotalWithdrawn
			result.PendingWithdrawals = summary.Pending
			result.TotalBalance = totals.TotalBalance
			result.TodayJoins = totals.JoinedToday
			result.TodayEarnings = todayEarnings
			result.TodaySales = todaySales
			return nil
		})
		return result, err
	})
}
