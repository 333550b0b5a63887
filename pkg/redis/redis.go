package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/resilience"
)

// ClientInterface is the subset of Redis operations the ledger caches depend on
type ClientInterface interface {
	GetString(ctx context.Context, key string) (string, error)
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Client wraps the Redis client
type Client struct {
	*redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// SetWithExpiration sets a key-value pair with expiration
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	_, err := RetryableOperation(ctx, func(ctx context.Context) (string, error) {
		return c.Set(ctx, key, value, expiration).Result()
	}, "redis.set")
	return err
}

// GetString gets a string value by key. A missing key returns redis.Nil.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return RetryableOperation(ctx, func(ctx context.Context) (string, error) {
		return c.Get(ctx, key).Result()
	}, "redis.get")
}

// Delete deletes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.Del(ctx, keys...).Err()
}

// PingContext pings the server
func (c *Client) PingContext(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *Client) Close() error {
	return c.Client.Close()
}

// IsNil reports whether err is a cache miss
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

var nonRetryableMarkers = []string{
	"wrongtype", "err syntax", "err invalid", "noauth", "wrongpass", "noperm", "err unknown", "execabort",
}

var retryableMarkers = []string{
	"connection refused", "connection reset", "broken pipe", "no such host", "network is unreachable",
	"temporary failure", "timeout", "server closed", "unexpected eof", "connection pool exhausted",
	"loading", "busy", "masterdown", "readonly", "noscript", "cluster", "moved", "ask", "tryagain",
}

func isRedisRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	// unknown failures are most often transport hiccups
	return true
}

// ConservativeRetryConfig is used for cache reads and writes
func ConservativeRetryConfig() resilience.RetryConfig {
	cfg := resilience.ConservativeRetryConfig()
	cfg.InitialBackoff = 50 * time.Millisecond
	cfg.MaxBackoff = 1 * time.Second
	cfg.RetryableChecker = isRedisRetryable
	return cfg
}

// RetryableOperation runs op with Redis-aware retries
func RetryableOperation[T any](ctx context.Context, op func(ctx context.Context) (T, error), name string) (T, error) {
	var zero T
	result, err := resilience.Retry(ctx, ConservativeRetryConfig(), func(ctx context.Context) (interface{}, error) {
		return op(ctx)
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, err
		}
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	typed, ok := result.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}
