package router

import (
	"fmt"
	"strings"

	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/metrics"

	handlershared "github.com/tiernet/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitKeyFunc 生成限流 key 的函数
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 固定窗口限流规则
type RateLimitRule struct {
	Name          string // 指标标签，如 register / withdraw
	Prefix        string
	WindowSeconds int
	MaxRequests   int
	BlockSeconds  int // 超限后封禁时长，0 表示仅等待窗口结束
	Message       string
}

func (r RateLimitRule) enabled() bool {
	return r.WindowSeconds > 0 && r.MaxRequests > 0
}

// 返回 {当前计数, 剩余秒数}；首次超限时把过期时间延长为封禁时长
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local block = tonumber(ARGV[3])
if current == tonumber(ARGV[2]) + 1 and block > 0 then
	redis.call("EXPIRE", KEYS[1], block)
end
return {current, redis.call("TTL", KEYS[1])}
`)

// RateLimitMiddleware Redis 频率限制中间件；未配置 Redis 或规则关闭时放行
func RateLimitMiddleware(client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	if client == nil || !rule.enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	message := strings.TrimSpace(rule.Message)
	if message == "" {
		message = "too many requests"
	}
	return func(c *gin.Context) {
		key := ""
		if keyFunc != nil {
			key = strings.TrimSpace(keyFunc(c))
		}
		if key == "" {
			key = c.ClientIP()
		}
		if rule.Prefix != "" {
			key = rule.Prefix + ":" + key
		}

		values, err := rateLimitScript.Run(c.Request.Context(), client, []string{key},
			rule.WindowSeconds, rule.MaxRequests, rule.BlockSeconds).Int64Slice()
		if err != nil || len(values) < 2 {
			logger.Warnw("rate_limit_unavailable", "rule", rule.Name, "key", key, "error", err)
			response.Error(c, response.CodeInternal, "rate limit unavailable")
			c.Abort()
			return
		}

		count, ttl := values[0], values[1]
		if count > int64(rule.MaxRequests) {
			retryAfter := int(ttl)
			if retryAfter < 1 {
				retryAfter = rule.WindowSeconds
			}
			metrics.RateLimitedTotal.WithLabelValues(rule.Name).Inc()
			handlershared.RequestLog(c).Infow("rate_limited", "rule", rule.Name, "key", key, "retry_after", retryAfter)
			response.TooManyRequests(c, message, retryAfter)
			c.Abort()
			return
		}
		c.Next()
	}
}

// KeyByIP 使用客户端 IP 作为限流 key（注册接口）
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByMember 使用成员ID作为限流 key，无会话时回退 IP（提现接口）
func KeyByMember(c *gin.Context) string {
	principal, ok := handlershared.GetPrincipal(c)
	if !ok || principal.MemberID == 0 {
		return c.ClientIP()
	}
	return fmt.Sprintf("member:%d", principal.MemberID)
}
