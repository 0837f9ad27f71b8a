package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/metrics"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/plan"
	"github.com/tiernet/internal/repository"
)

const replayBatchSize = 500

// plan_change 流水 meta 中的阶梯键
const (
	planMetaPreviousRanks = "previous_ranks"
	planMetaRanks         = "ranks"
)

// MemberState 由流水回放得到的成员状态
type MemberState struct {
	MemberID        uint            `json:"member_id"`
	SponsorID       *uint           `json:"sponsor_id,omitempty"`
	Rank            string          `json:"rank"`
	DirectReferrals int             `json:"direct_referrals"`
	Balance         decimal.Decimal `json:"balance"`
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
	TotalWithdrawn  decimal.Decimal `json:"total_withdrawn"`
	Pending         decimal.Decimal `json:"pending"`
}

// MemberDrift 存储状态与回放状态的差异
type MemberDrift struct {
	MemberID uint   `json:"member_id"`
	Field    string `json:"field"`
	Stored   string `json:"stored"`
	Replayed string `json:"replayed"`
}

// AuditReport 对账报告
type AuditReport struct {
	CheckedAt time.Time     `json:"checked_at"`
	Members   int           `json:"members"`
	Entries   int           `json:"entries"`
	Drifts    []MemberDrift `json:"drifts"`
}

// Clean 是否无差异
func (r *AuditReport) Clean() bool {
	return r != nil && len(r.Drifts) == 0
}

// ReplayService 从空状态确定性回放流水，并与成员表对账
type ReplayService struct {
	db         *gorm.DB
	memberRepo repository.MemberRepository
	ledgerRepo repository.LedgerRepository
	settings   *SettingService
}

// NewReplayService 创建回放服务
func NewReplayService(db *gorm.DB, memberRepo repository.MemberRepository, ledgerRepo repository.LedgerRepository, settings *SettingService) *ReplayService {
	return &ReplayService{db: db, memberRepo: memberRepo, ledgerRepo: ledgerRepo, settings: settings}
}

// Replay 按流水ID顺序回放全部流水
func (s *ReplayService) Replay(ctx context.Context) (map[uint]*MemberState, error) {
	p, err := s.settings.GetPlan()
	if err != nil {
		return nil, storageError(err)
	}
	var states map[uint]*MemberState
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		states, _, err = replayLedger(ctx, s.ledgerRepo.WithTx(tx), p.Ranks)
		return err
	})
	if err != nil {
		return nil, storageError(err)
	}
	return states, nil
}

func replayLedger(ctx context.Context, repo repository.LedgerRepository, current plan.RankLadder) (map[uint]*MemberState, int, error) {
	ladder, err := initialLadder(repo, current)
	if err != nil {
		return nil, 0, err
	}
	states := make(map[uint]*MemberState)
	get := func(id uint) *MemberState {
		st, ok := states[id]
		if !ok {
			st = &MemberState{MemberID: id, Rank: ladder.Lowest()}
			states[id] = st
		}
		return st
	}
	refer := func(sponsorID uint, delta int) {
		sponsor := get(sponsorID)
		sponsor.DirectReferrals += delta
		sponsor.Rank = ladder.Promote(sponsor.Rank, sponsor.DirectReferrals)
	}

	count := 0
	var afterID uint
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		batch, err := repo.ListAfterID(afterID, replayBatchSize)
		if err != nil {
			return nil, 0, err
		}
		for _, entry := range batch {
			count++
			afterID = entry.ID
			amount := entry.Amount.Decimal
			switch entry.Kind {
			case constants.LedgerKindJoin:
				st := get(entry.MemberID)
				st.SponsorID = entry.RelatedMemberID
				if entry.RelatedMemberID != nil {
					refer(*entry.RelatedMemberID, 1)
				}
			case constants.LedgerKindSponsorChange:
				st := get(entry.MemberID)
				if st.SponsorID != nil {
					refer(*st.SponsorID, -1)
				}
				st.SponsorID = entry.RelatedMemberID
				if entry.RelatedMemberID != nil {
					refer(*entry.RelatedMemberID, 1)
				}
			case constants.LedgerKindPlanChange:
				next, ok := ladderFromMeta(entry.Meta, planMetaRanks)
				if !ok {
					continue
				}
				ladder = next
				for _, st := range states {
					st.Rank = ladder.Promote(st.Rank, st.DirectReferrals)
				}
			case constants.LedgerKindCommissionCredit:
				st := get(entry.MemberID)
				st.Balance = st.Balance.Add(amount)
				st.TotalEarnings = st.TotalEarnings.Add(amount)
			case constants.LedgerKindWithdrawal:
				st := get(entry.MemberID)
				switch entry.Status {
				case constants.WithdrawalStatusPending, constants.WithdrawalStatusProcessing:
					st.Balance = st.Balance.Sub(amount)
					st.Pending = st.Pending.Add(amount)
				case constants.WithdrawalStatusCompleted:
					st.Balance = st.Balance.Sub(amount)
					st.TotalWithdrawn = st.TotalWithdrawn.Add(amount)
				}
			}
		}
		if len(batch) < replayBatchSize {
			break
		}
	}
	return states, count, nil
}

// initialLadder 首条 plan_change 之前生效的阶梯；从未变更时即当前阶梯
func initialLadder(repo repository.LedgerRepository, current plan.RankLadder) (plan.RankLadder, error) {
	first, err := repo.FirstByKind(constants.LedgerKindPlanChange)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return current, nil
	}
	if previous, ok := ladderFromMeta(first.Meta, planMetaPreviousRanks); ok {
		return previous, nil
	}
	return current, nil
}

func ladderFromMeta(meta models.JSON, key string) (plan.RankLadder, bool) {
	raw, ok := meta[key]
	if !ok {
		return nil, false
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var ladder plan.RankLadder
	if err := json.Unmarshal(encoded, &ladder); err != nil || ladder.Validate() != nil {
		return nil, false
	}
	return ladder, true
}

// Audit 回放流水并与成员表逐项比对，同时校验余额恒等式
func (s *ReplayService) Audit(ctx context.Context) (*AuditReport, error) {
	p, err := s.settings.GetPlan()
	if err != nil {
		return nil, storageError(err)
	}
	report := &AuditReport{CheckedAt: time.Now().UTC(), Drifts: []MemberDrift{}}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		states, entries, err := replayLedger(ctx, s.ledgerRepo.WithTx(tx), p.Ranks)
		if err != nil {
			return err
		}
		report.Entries = entries

		members := s.memberRepo.WithTx(tx)
		var afterID uint
		for {
			batch, err := members.ListAfterID(afterID, replayBatchSize)
			if err != nil {
				return err
			}
			for _, member := range batch {
				afterID = member.ID
				report.Members++
				st, ok := states[member.ID]
				if !ok {
					st = &MemberState{MemberID: member.ID, Rank: p.Ranks.Lowest()}
				}
				report.Drifts = append(report.Drifts, compareState(member, st)...)
			}
			if len(batch) < replayBatchSize {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}
	sort.SliceStable(report.Drifts, func(i, j int) bool {
		return report.Drifts[i].MemberID < report.Drifts[j].MemberID
	})
	metrics.AuditDriftMembers.Set(float64(countDriftMembers(report.Drifts)))
	if !report.Clean() {
		logger.Warnw("audit_drift_detected", "members", report.Members, "drifts", len(report.Drifts))
	}
	return report, nil
}

func compareState(member models.Member, st *MemberState) []MemberDrift {
	drifts := make([]MemberDrift, 0)
	money := func(field string, stored models.Money, replayed decimal.Decimal) {
		if !stored.Equal(models.NewMoneyFromDecimal(replayed)) {
			drifts = append(drifts, MemberDrift{MemberID: member.ID, Field: field, Stored: stored.String(), Replayed: replayed.StringFixed(2)})
		}
	}
	money("balance", member.Balance, st.Balance)
	money("total_earnings", member.TotalEarnings, st.TotalEarnings)
	money("total_withdrawn", member.TotalWithdrawn, st.TotalWithdrawn)

	identity := member.TotalEarnings.Decimal.Sub(member.TotalWithdrawn.Decimal).Sub(st.Pending)
	money("balance_identity", member.Balance, identity)

	if member.Rank != st.Rank {
		drifts = append(drifts, MemberDrift{MemberID: member.ID, Field: "rank", Stored: member.Rank, Replayed: st.Rank})
	}
	if !sameSponsor(member.SponsorID, st.SponsorID) {
		drifts = append(drifts, MemberDrift{MemberID: member.ID, Field: "sponsor_id", Stored: uintPtrString(member.SponsorID), Replayed: uintPtrString(st.SponsorID)})
	}
	return drifts
}

func countDriftMembers(drifts []MemberDrift) int {
	seen := make(map[uint]struct{}, len(drifts))
	for _, d := range drifts {
		seen[d.MemberID] = struct{}{}
	}
	return len(seen)
}

func uintPtrString(v *uint) string {
	if v == nil {
		return "null"
	}
	return decimal.NewFromInt(int64(*v)).String()
}
