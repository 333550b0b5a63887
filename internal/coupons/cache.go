package coupons

import (
	"context"
	"encoding/json"
	"time"

	"github.com/richxcame/points-ledger/pkg/logger"
	redisClient "github.com/richxcame/points-ledger/pkg/redis"
	"go.uber.org/zap"
)

const activeTemplatesKey = "coupons:templates:active"

// RedisTemplateCache stores the active template list as one JSON value.
// Cache failures are logged and treated as misses.
type RedisTemplateCache struct {
	redis redisClient.ClientInterface
	ttl   time.Duration
}

// NewTemplateCache creates a read-through cache entry that lives for ttl
func NewTemplateCache(redis redisClient.ClientInterface, ttl time.Duration) *RedisTemplateCache {
	return &RedisTemplateCache{redis: redis, ttl: ttl}
}

func (c *RedisTemplateCache) Get(ctx context.Context) ([]*Template, bool) {
	data, err := c.redis.GetString(ctx, activeTemplatesKey)
	if err != nil {
		if !redisClient.IsNil(err) {
			logger.WithContext(ctx).Warn("template cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var templates []*Template
	if err := json.Unmarshal([]byte(data), &templates); err != nil {
		logger.WithContext(ctx).Warn("template cache entry is corrupt", zap.Error(err))
		return nil, false
	}
	return templates, true
}

func (c *RedisTemplateCache) Set(ctx context.Context, templates []*Template) {
	data, err := json.Marshal(templates)
	if err != nil {
		return
	}
	if err := c.redis.SetWithExpiration(ctx, activeTemplatesKey, data, c.ttl); err != nil {
		logger.WithContext(ctx).Warn("template cache write failed", zap.Error(err))
	}
}

func (c *RedisTemplateCache) Invalidate(ctx context.Context) {
	if err := c.redis.Delete(ctx, activeTemplatesKey); err != nil {
		logger.WithContext(ctx).Warn("template cache invalidation failed", zap.Error(err))
	}
}

// noCache is used when Redis is not configured
type noCache struct{}

func (noCache) Get(context.Context) ([]*Template, bool) { return nil, false }
func (noCache) Set(context.Context, []*Template)         {}
func (noCache) Invalidate(context.Context)               {}
