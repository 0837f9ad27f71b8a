package service

import (
	"encoding/json"
	"fmt"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/plan"
	"github.com/tiernet/internal/repository"

	"gorm.io/gorm"
)

// SettingService 奖金计划的持久化读写；库中无记录时使用配置文件默认值
type SettingService struct {
	repo     repository.SettingRepository
	defaults plan.Plan
}

// NewSettingService 创建计划设置服务
func NewSettingService(repo repository.SettingRepository, defaults plan.Plan) *SettingService {
	return &SettingService{repo: repo, defaults: defaults}
}

// withTx 绑定事务
func (s *SettingService) withTx(tx *gorm.DB) *SettingService {
	if s == nil || s.repo == nil || tx == nil {
		return s
	}
	return &SettingService{repo: s.repo.WithTx(tx), defaults: s.defaults}
}

// PlanSettingToMap 将报酬计划转换为 settings 存储结构
func PlanSettingToMap(p plan.Plan) (models.JSON, error) {
	raw, err := json.Marshal(p.Normalize())
	if err != nil {
		return nil, err
	}
	result := models.JSON{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func planSettingFromJSON(raw models.JSON, fallback plan.Plan) (plan.Plan, error) {
	base, err := clonePlan(fallback)
	if err != nil {
		return fallback, err
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fallback, err
	}
	if err := json.Unmarshal(encoded, &base); err != nil {
		return fallback, fmt.Errorf("%w: %v", ErrPlanInvalid, err)
	}
	return base.Normalize(), nil
}

func clonePlan(p plan.Plan) (plan.Plan, error) {
	encoded, err := json.Marshal(p)
	if err != nil {
		return p, err
	}
	var cloned plan.Plan
	if err := json.Unmarshal(encoded, &cloned); err != nil {
		return p, err
	}
	return cloned, nil
}

// GetPlan 获取报酬计划（优先 settings，空时回退配置默认值）
func (s *SettingService) GetPlan() (plan.Plan, error) {
	if s == nil {
		return plan.Default().Normalize(), nil
	}
	fallback := s.defaults.Normalize()
	if s.repo == nil {
		return fallback, nil
	}
	setting, err := s.repo.GetByKey(constants.SettingKeyPlanConfig)
	if err != nil {
		return fallback, err
	}
	if setting == nil || len(setting.ValueJSON) == 0 {
		return fallback, nil
	}
	loaded, err := planSettingFromJSON(setting.ValueJSON, fallback)
	if err != nil {
		return fallback, err
	}
	if err := loaded.Validate(); err != nil {
		return fallback, err
	}
	return loaded, nil
}

// UpdatePlan 更新报酬计划
func (s *SettingService) UpdatePlan(p plan.Plan) (plan.Plan, error) {
	if s == nil || s.repo == nil {
		return plan.Plan{}, fmt.Errorf("%w: plan settings unavailable", ErrStorage)
	}
	normalized := p.Normalize()
	if err := normalized.Validate(); err != nil {
		return plan.Plan{}, err
	}
	value, err := PlanSettingToMap(normalized)
	if err != nil {
		return plan.Plan{}, err
	}
	if _, err := s.repo.Upsert(constants.SettingKeyPlanConfig, value); err != nil {
		return plan.Plan{}, err
	}
	return normalized, nil
}
