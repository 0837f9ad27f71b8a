package service

import (
	"strings"
	"time"

	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/repository"
)

// 权限审计动作
const (
	AuthzAuditActionGrant  = "policy_grant"
	AuthzAuditActionRevoke = "policy_revoke"
)

// AuthzAuditRecordInput 权限审计记录输入
type AuthzAuditRecordInput struct {
	OperatorSubject string
	OperatorRole    string
	Action          string
	Role            string
	Object          string
	Method          string
	RequestID       string
}

// AuthzAuditService 权限审计服务
type AuthzAuditService struct {
	repo repository.AuthzAuditLogRepository
	now  func() time.Time
}

// NewAuthzAuditService 创建权限审计服务
func NewAuthzAuditService(repo repository.AuthzAuditLogRepository) *AuthzAuditService {
	return &AuthzAuditService{repo: repo, now: time.Now}
}

// Record 记录权限审计日志；缺少操作者或动作时忽略
func (s *AuthzAuditService) Record(input AuthzAuditRecordInput) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if strings.TrimSpace(input.OperatorSubject) == "" || strings.TrimSpace(input.Action) == "" {
		return nil
	}

	item := &models.AuthzAuditLog{
		OperatorSubject: strings.TrimSpace(input.OperatorSubject),
		OperatorRole:    strings.TrimSpace(input.OperatorRole),
		Action:          strings.TrimSpace(input.Action),
		Role:            strings.TrimSpace(input.Role),
		Object:          strings.TrimSpace(input.Object),
		Method:          strings.ToUpper(strings.TrimSpace(input.Method)),
		RequestID:       strings.TrimSpace(input.RequestID),
		CreatedAt:       s.now().UTC(),
	}
	if err := s.repo.Create(item); err != nil {
		return storageError(err)
	}
	return nil
}

// List 查询权限审计日志
func (s *AuthzAuditService) List(filter repository.AuthzAuditLogListFilter) ([]models.AuthzAuditLog, int64, error) {
	if s == nil || s.repo == nil {
		return []models.AuthzAuditLog{}, 0, nil
	}
	logs, total, err := s.repo.List(filter)
	if err != nil {
		return nil, 0, storageError(err)
	}
	return logs, total, nil
}
