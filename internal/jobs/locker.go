package jobs

import (
	"context"

	"github.com/go-co-op/gocron/v2"
	"github.com/richxcame/points-ledger/pkg/redis"
)

// redisLocker adapts the Redis SETNX lock to gocron's distributed locker
type redisLocker struct {
	locker *redis.Locker
}

// NewRedisLocker wraps l for gocron.WithDistributedLocker
func NewRedisLocker(l *redis.Locker) gocron.Locker {
	return &redisLocker{locker: l}
}

func (r *redisLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	lock, err := r.locker.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	return lock, nil
}
