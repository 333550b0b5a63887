package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned when another instance holds the lock
var ErrLockNotAcquired = errors.New("lock held by another instance")

const unlockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// Locker is a SETNX based distributed lock keyed under a fixed prefix. Release only
// deletes the key while it still holds this holder's token.
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	token  func() string
}

// NewLocker creates a locker whose keys expire after ttl
func NewLocker(client *redis.Client, prefix string, ttl time.Duration) *Locker {
	return &Locker{client: client, prefix: prefix, ttl: ttl, token: randomToken}
}

// Lock acquires key or fails with ErrLockNotAcquired
func (l *Locker) Lock(ctx context.Context, key string) (*Lock, error) {
	fullKey := l.prefix + key
	token := l.token()

	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return &Lock{client: l.client, key: fullKey, token: token}, nil
}

// Lock is a held distributed lock
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Unlock releases the lock if this holder still owns it
func (l *Lock) Unlock(ctx context.Context) error {
	if err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

func randomToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
