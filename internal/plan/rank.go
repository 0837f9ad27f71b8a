package plan

import (
	"fmt"
	"strings"
)

// Threshold 等级门槛（直推人数）
type Threshold struct {
	Rank               string `json:"rank"`
	MinDirectReferrals int    `json:"min_direct_referrals"`
}

// RankLadder 由低到高排列的等级阶梯
type RankLadder []Threshold

// Validate 校验阶梯：首级门槛为 0，门槛严格递增，等级名唯一
func (l RankLadder) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("%w: rank ladder is empty", ErrInvalidPlan)
	}
	if l[0].MinDirectReferrals != 0 {
		return fmt.Errorf("%w: lowest rank must start at 0 referrals", ErrInvalidPlan)
	}
	seen := make(map[string]struct{}, len(l))
	for i, th := range l {
		name := strings.TrimSpace(th.Rank)
		if name == "" {
			return fmt.Errorf("%w: rank name is empty", ErrInvalidPlan)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: duplicate rank %s", ErrInvalidPlan, name)
		}
		seen[name] = struct{}{}
		if i > 0 && th.MinDirectReferrals <= l[i-1].MinDirectReferrals {
			return fmt.Errorf("%w: rank %s threshold must exceed %s", ErrInvalidPlan, name, l[i-1].Rank)
		}
	}
	return nil
}

// Lowest 最低等级
func (l RankLadder) Lowest() string {
	if len(l) == 0 {
		return ""
	}
	return l[0].Rank
}

// Evaluate 按直推人数计算等级，取满足的最高门槛；门槛相同时取更高等级
func (l RankLadder) Evaluate(direct int) string {
	rank := l.Lowest()
	for _, th := range l {
		if direct >= th.MinDirectReferrals {
			rank = th.Rank
		}
	}
	return rank
}

// Equal 两个阶梯的等级与门槛是否完全一致
func (l RankLadder) Equal(other RankLadder) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] != other[i] {
			return false
		}
	}
	return true
}

// Index 等级在阶梯中的位置，未知等级返回 -1
func (l RankLadder) Index(rank string) int {
	for i, th := range l {
		if th.Rank == rank {
			return i
		}
	}
	return -1
}

// Promote 只升不降：返回当前等级与计算等级中较高者
func (l RankLadder) Promote(current string, direct int) string {
	evaluated := l.Evaluate(direct)
	if l.Index(current) >= l.Index(evaluated) {
		return current
	}
	return evaluated
}

// Progress 距下一等级的进度
type Progress struct {
	Current   string `json:"current"`
	Next      string `json:"next,omitempty"`
	Target    int    `json:"target,omitempty"`
	Remaining int    `json:"remaining"`
	Percent   int    `json:"percent"`
}

// ProgressOf 计算当前等级到下一等级所需直推人数
func (l RankLadder) ProgressOf(current string, direct int) Progress {
	p := Progress{Current: current, Percent: 100}
	idx := l.Index(current)
	if idx < 0 || idx+1 >= len(l) {
		return p
	}
	next := l[idx+1]
	p.Next = next.Rank
	p.Target = next.MinDirectReferrals
	if direct < next.MinDirectReferrals {
		p.Remaining = next.MinDirectReferrals - direct
	}
	p.Percent = direct * 100 / next.MinDirectReferrals
	if p.Percent > 100 {
		p.Percent = 100
	}
	return p
}

// RecruiterTitle 推荐达人称号
func RecruiterTitle(direct int) string {
	switch {
	case direct >= 50:
		return "Master Recruiter"
	case direct >= 25:
		return "Super Recruiter"
	case direct >= 10:
		return "Pro Recruiter"
	case direct >= 5:
		return "Active Recruiter"
	default:
		return "New Recruiter"
	}
}
