package service

import (
	"github.com/tiernet/internal/plan"
	"github.com/tiernet/internal/repository"
)

// RankEvaluator 根据直推人数推导等级
//
// 等级只升不降：直推减少（如调整推荐关系）不会自动降级。
type RankEvaluator struct {
	network *NetworkStore
	members repository.MemberRepository
}

// NewRankEvaluator 创建等级评估器
func NewRankEvaluator(network *NetworkStore, members repository.MemberRepository) *RankEvaluator {
	return &RankEvaluator{network: network, members: members}
}

// Evaluate 按当前直推人数计算等级（不落库）
func (r *RankEvaluator) Evaluate(memberID uint, ladder plan.RankLadder) (string, error) {
	direct, err := r.network.DirectReferralsOf(memberID)
	if err != nil {
		return "", err
	}
	return ladder.Evaluate(int(direct)), nil
}

// Reevaluate 重新评估并保存等级，返回评估前后的等级
func (r *RankEvaluator) Reevaluate(memberID uint, ladder plan.RankLadder) (string, string, error) {
	member, err := r.members.GetByIDForUpdate(memberID)
	if err != nil {
		return "", "", err
	}
	if member == nil {
		return "", "", ErrUnknownMember
	}
	direct, err := r.network.DirectReferralsOf(memberID)
	if err != nil {
		return "", "", err
	}
	before := member.Rank
	after := ladder.Promote(before, int(direct))
	updates := map[string]interface{}{}
	if after != before {
		updates["rank"] = after
	}
	if member.DirectReferrals != int(direct) {
		updates["direct_referrals"] = int(direct)
	}
	if err := r.members.UpdateFields(member.ID, updates); err != nil {
		return "", "", err
	}
	return before, after, nil
}
