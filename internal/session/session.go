// Package session 会话令牌：签发、解析与注销。核心只消费解析出的成员ID。
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tiernet/internal/config"
	"github.com/tiernet/internal/constants"
)

// 会话错误
var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenRevoked = errors.New("session token revoked")
)

const defaultExpireHours = 24

// Claims 会话令牌声明
type Claims struct {
	MemberID uint   `json:"member_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Principal 已认证主体
type Principal struct {
	Subject   string
	MemberID  uint
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// IsMember 是否为成员会话
func (p *Principal) IsMember() bool {
	return p != nil && p.Role == constants.RoleMember && p.MemberID > 0
}

// Actor 操作者标识，写入审计记录
func (p *Principal) Actor() string {
	if p == nil {
		return constants.ActorSystem
	}
	return p.Role + ":" + p.Subject
}

// Revocations 令牌注销表
type Revocations interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Provider HS256 会话令牌提供者
type Provider struct {
	secret      []byte
	issuer      string
	ttl         time.Duration
	revocations Revocations
	now         func() time.Time
}

// NewProvider 创建会话提供者
func NewProvider(cfg config.SessionConfig, revocations Revocations) *Provider {
	hours := cfg.ExpireHours
	if hours <= 0 {
		hours = defaultExpireHours
	}
	return &Provider{
		secret:      []byte(cfg.Secret),
		issuer:      strings.TrimSpace(cfg.Issuer),
		ttl:         time.Duration(hours) * time.Hour,
		revocations: revocations,
		now:         time.Now,
	}
}

// TTL 默认有效期
func (p *Provider) TTL() time.Duration {
	return p.ttl
}

// IssueMember 签发成员令牌
func (p *Provider) IssueMember(memberID uint) (string, time.Time, error) {
	if memberID == 0 {
		return "", time.Time{}, fmt.Errorf("%w: member id is required", ErrInvalidToken)
	}
	return p.Issue(strconv.FormatUint(uint64(memberID), 10), memberID, constants.RoleMember, 0)
}

// Issue 签发令牌，ttl<=0 时使用默认有效期
func (p *Provider) Issue(subject string, memberID uint, role string, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	role = strings.TrimSpace(role)
	if subject == "" || role == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject and role are required", ErrInvalidToken)
	}
	if ttl <= 0 {
		ttl = p.ttl
	}
	now := p.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		MemberID: memberID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    p.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Resolve 校验令牌并返回主体
func (p *Provider) Resolve(ctx context.Context, tokenString string) (*Principal, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	claims := &Claims{}
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role == constants.RoleMember && claims.MemberID == 0 {
		return nil, ErrInvalidToken
	}
	if p.revocations != nil && claims.ID != "" {
		revoked, err := p.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	principal := &Principal{
		Subject:  claims.Subject,
		MemberID: claims.MemberID,
		Role:     claims.Role,
		TokenID:  claims.ID,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal, nil
}

// Revoke 注销令牌（登出）
func (p *Provider) Revoke(ctx context.Context, principal *Principal) error {
	if principal == nil || p.revocations == nil {
		return nil
	}
	return p.revocations.Revoke(ctx, principal.TokenID, principal.ExpiresAt)
}
