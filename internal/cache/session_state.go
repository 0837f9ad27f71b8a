package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultRevocationTTL = 24 * time.Hour

// SessionRevocations 已注销会话令牌（按 jti）
//
// 令牌自带过期时间，注销标记只需保留到令牌过期为止。
type SessionRevocations struct {
	redis *Redis
	local *expirable.LRU[string, struct{}]
}

// NewSessionRevocations 创建会话注销表，maxTTL 为令牌最长有效期
func NewSessionRevocations(r *Redis, maxTTL time.Duration) *SessionRevocations {
	if maxTTL <= 0 {
		maxTTL = defaultRevocationTTL
	}
	return &SessionRevocations{
		redis: r,
		local: expirable.NewLRU[string, struct{}](defaultLRUSize, nil, maxTTL),
	}
}

func revocationKey(jti string) string {
	return "session:revoked:" + jti
}

// Revoke 注销令牌直至 expiresAt
func (s *SessionRevocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if s == nil || jti == "" {
		return nil
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if s.redis.Enabled() {
		return s.redis.SetFlag(ctx, revocationKey(jti), ttl)
	}
	s.local.Add(jti, struct{}{})
	return nil
}

// IsRevoked 令牌是否已注销
func (s *SessionRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s == nil || jti == "" {
		return false, nil
	}
	if s.redis.Enabled() {
		return s.redis.Exists(ctx, revocationKey(jti))
	}
	return s.local.Contains(jti), nil
}
