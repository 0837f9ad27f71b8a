package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tiernet/internal/logger"
)

const (
	queryGenerationKey = "query:gen"
	defaultLRUSize     = 4096
	defaultQueryTTL    = 30 * time.Second
)

// QueryCache 查询视图缓存
//
// 启用 Redis 时按代际号组织 key，失效时只需递增代际号；
// 否则使用进程内 LRU，失效时整体清空。
type QueryCache struct {
	redis *Redis
	local *expirable.LRU[string, []byte]
}

// NewQueryCache 创建查询缓存
func NewQueryCache(r *Redis, size int, ttl time.Duration) *QueryCache {
	if size <= 0 {
		size = defaultLRUSize
	}
	if ttl <= 0 {
		ttl = defaultQueryTTL
	}
	return &QueryCache{
		redis: r,
		local: expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

// GetJSON 读取缓存
func (c *QueryCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c == nil {
		return false, nil
	}
	if c.redis.Enabled() {
		scoped, err := c.scopedKey(ctx, key)
		if err != nil {
			return false, err
		}
		return c.redis.GetJSON(ctx, scoped, dest)
	}
	raw, ok := c.local.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON 写入缓存
func (c *QueryCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if c.redis.Enabled() {
		scoped, err := c.scopedKey(ctx, key)
		if err != nil {
			return err
		}
		return c.redis.SetJSON(ctx, scoped, value, ttl)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.local.Add(key, raw)
	return nil
}

// InvalidateAll 使全部查询缓存失效
func (c *QueryCache) InvalidateAll(ctx context.Context) {
	if c == nil {
		return
	}
	c.local.Purge()
	if c.redis.Enabled() {
		if _, err := c.redis.Incr(ctx, queryGenerationKey); err != nil {
			logger.Warnw("query_cache_invalidate_failed", "error", err)
		}
	}
}

func (c *QueryCache) scopedKey(ctx context.Context, key string) (string, error) {
	gen, err := c.redis.GetInt64(ctx, queryGenerationKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("query:%d:%s", gen, key), nil
}
