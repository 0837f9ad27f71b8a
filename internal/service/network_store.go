package service

import (
	"fmt"

	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/repository"
)

// NetworkStore 推荐网络图存储：成员节点与推荐边
type NetworkStore struct {
	repo     repository.MemberRepository
	maxDepth int
}

// Descendant 下级成员及其相对层级（直推为 1）
type Descendant struct {
	Member models.Member `json:"member"`
	Level  int           `json:"level"`
}

// NewNetworkStore 创建网络图存储
func NewNetworkStore(repo repository.MemberRepository, maxDepth int) *NetworkStore {
	return &NetworkStore{repo: repo, maxDepth: maxDepth}
}

// AddMember 在 sponsorID 下挂载新成员，sponsorID 为空时作为根节点
func (s *NetworkStore) AddMember(sponsorID *uint, member *models.Member) (*models.Member, error) {
	var sponsor *models.Member
	if sponsorID != nil {
		var err error
		sponsor, err = s.repo.GetByIDForUpdate(*sponsorID)
		if err != nil {
			return nil, err
		}
		if sponsor == nil {
			return nil, fieldError("sponsor_id", ErrUnknownSponsor, "")
		}
		depth, err := s.depthOf(sponsor.ID)
		if err != nil {
			return nil, err
		}
		if depth+1 > s.maxDepth {
			return nil, ErrDepthExceeded
		}
	}

	member.SponsorID = sponsorID
	if err := s.repo.Create(member); err != nil {
		return nil, err
	}
	if sponsor != nil {
		if err := s.repo.UpdateFields(sponsor.ID, map[string]interface{}{
			"direct_referrals": sponsor.DirectReferrals + 1,
		}); err != nil {
			return nil, err
		}
	}
	return member, nil
}

// GetMember 获取成员，不存在时返回 ErrUnknownMember
func (s *NetworkStore) GetMember(memberID uint) (*models.Member, error) {
	member, err := s.repo.GetByID(memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrUnknownMember
	}
	return member, nil
}

// GetAncestors 自近及远返回至多 maxDepth 个上级
func (s *NetworkStore) GetAncestors(memberID uint, maxDepth int) ([]models.Member, error) {
	member, err := s.GetMember(memberID)
	if err != nil {
		return nil, err
	}
	if maxDepth <= 0 || maxDepth > s.maxDepth {
		maxDepth = s.maxDepth
	}
	ancestors := make([]models.Member, 0, maxDepth)
	visited := map[uint]struct{}{member.ID: {}}
	next := member.SponsorID
	for next != nil && len(ancestors) < maxDepth {
		if _, seen := visited[*next]; seen {
			return nil, fmt.Errorf("%w: member %d", ErrCycle, *next)
		}
		ancestor, err := s.repo.GetByID(*next)
		if err != nil {
			return nil, err
		}
		if ancestor == nil {
			return nil, fmt.Errorf("%w: sponsor %d of chain is missing", ErrUnknownSponsor, *next)
		}
		visited[ancestor.ID] = struct{}{}
		ancestors = append(ancestors, *ancestor)
		next = ancestor.SponsorID
	}
	return ancestors, nil
}

// depthOf 成员到根节点的层数（根为 0），超过最大深度返回 ErrDepthExceeded
func (s *NetworkStore) depthOf(memberID uint) (int, error) {
	ancestors, err := s.GetAncestors(memberID, s.maxDepth)
	if err != nil {
		return 0, err
	}
	if len(ancestors) == s.maxDepth {
		if last := ancestors[len(ancestors)-1]; !last.IsRoot() {
			return 0, ErrDepthExceeded
		}
	}
	return len(ancestors), nil
}

// GetDescendants 按层广度优先返回全部下级，层数受最大深度限制
func (s *NetworkStore) GetDescendants(memberID uint) ([]Descendant, error) {
	if _, err := s.GetMember(memberID); err != nil {
		return nil, err
	}
	result := make([]Descendant, 0)
	frontier := []uint{memberID}
	for level := 1; len(frontier) > 0 && level <= s.maxDepth; level++ {
		children, err := s.repo.ListChildren(frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, child := range children {
			result = append(result, Descendant{Member: child, Level: level})
			frontier = append(frontier, child.ID)
		}
	}
	return result, nil
}

// subtreeHeight 以成员为根的子树高度（无下级为 0）
func (s *NetworkStore) subtreeHeight(memberID uint) (int, error) {
	height := 0
	frontier := []uint{memberID}
	for len(frontier) > 0 {
		if height > s.maxDepth {
			return height, ErrDepthExceeded
		}
		children, err := s.repo.ListChildren(frontier)
		if err != nil {
			return 0, err
		}
		if len(children) == 0 {
			break
		}
		height++
		next := make([]uint, 0, len(children))
		for _, child := range children {
			next = append(next, child.ID)
		}
		frontier = next
	}
	return height, nil
}

// DirectReferralsOf 直推人数
func (s *NetworkStore) DirectReferralsOf(memberID uint) (int64, error) {
	if _, err := s.GetMember(memberID); err != nil {
		return 0, err
	}
	return s.repo.CountChildren(memberID)
}

// ChangeSponsor 调整推荐关系，返回原推荐人
//
// 新推荐人不能是成员自身或其下级；调整后整棵子树仍需满足最大深度。
func (s *NetworkStore) ChangeSponsor(memberID uint, newSponsorID *uint) (*uint, error) {
	member, err := s.repo.GetByIDForUpdate(memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrUnknownMember
	}
	oldSponsorID := member.SponsorID
	if sameSponsor(oldSponsorID, newSponsorID) {
		return oldSponsorID, nil
	}

	newDepth := 0
	var newSponsor *models.Member
	if newSponsorID != nil {
		if *newSponsorID == memberID {
			return nil, ErrCycle
		}
		newSponsor, err = s.repo.GetByIDForUpdate(*newSponsorID)
		if err != nil {
			return nil, err
		}
		if newSponsor == nil {
			return nil, fieldError("sponsor_id", ErrUnknownSponsor, "")
		}
		chain, err := s.GetAncestors(newSponsor.ID, s.maxDepth)
		if err != nil {
			return nil, err
		}
		for _, ancestor := range chain {
			if ancestor.ID == memberID {
				return nil, ErrCycle
			}
		}
		newDepth, err = s.depthOf(newSponsor.ID)
		if err != nil {
			return nil, err
		}
		newDepth++
	}
	height, err := s.subtreeHeight(memberID)
	if err != nil {
		return nil, err
	}
	if newDepth+height > s.maxDepth {
		return nil, ErrDepthExceeded
	}

	if err := s.repo.UpdateFields(memberID, map[string]interface{}{"sponsor_id": newSponsorID}); err != nil {
		return nil, err
	}
	if oldSponsorID != nil {
		old, err := s.repo.GetByIDForUpdate(*oldSponsorID)
		if err != nil {
			return nil, err
		}
		if old != nil && old.DirectReferrals > 0 {
			if err := s.repo.UpdateFields(old.ID, map[string]interface{}{"direct_referrals": old.DirectReferrals - 1}); err != nil {
				return nil, err
			}
		}
	}
	if newSponsor != nil {
		if err := s.repo.UpdateFields(newSponsor.ID, map[string]interface{}{"direct_referrals": newSponsor.DirectReferrals + 1}); err != nil {
			return nil, err
		}
	}
	return oldSponsorID, nil
}

func sameSponsor(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
