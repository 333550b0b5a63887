package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Checker reports the health of one dependency
type Checker func() error

// CheckerConfig holds checker settings
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig returns the default checker configuration
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{Timeout: 2 * time.Second}
}

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusPinger pings a client whose Ping returns a command result, such as go-redis
type StatusPinger func(ctx context.Context) error

// DatabaseChecker returns a health check function for the PostgreSQL pool
func DatabaseChecker(db Pinger) Checker {
	return DatabaseCheckerWithConfig(db, DefaultCheckerConfig())
}

// DatabaseCheckerWithConfig returns a database checker with a custom timeout
func DatabaseCheckerWithConfig(db Pinger, cfg CheckerConfig) Checker {
	return func() error {
		if db == nil {
			return errors.New("database connection is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		return db.Ping(ctx)
	}
}

// RedisChecker returns a health check function for Redis
func RedisChecker(ping StatusPinger) Checker {
	return RedisCheckerWithConfig(ping, DefaultCheckerConfig())
}

// RedisCheckerWithConfig returns a Redis checker with a custom timeout
func RedisCheckerWithConfig(ping StatusPinger, cfg CheckerConfig) Checker {
	return func() error {
		if ping == nil {
			return errors.New("redis client is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		return ping(ctx)
	}
}

// CompositeChecker runs every checker and joins failures as "<name>.<check>: <err>"
func CompositeChecker(name string, checkers map[string]Checker) Checker {
	return func() error {
		keys := make([]string, 0, len(checkers))
		for k := range checkers {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var failures []string
		for _, k := range keys {
			if err := checkers[k](); err != nil {
				failures = append(failures, fmt.Sprintf("%s.%s: %v", name, k, err))
			}
		}
		if len(failures) > 0 {
			return errors.New(strings.Join(failures, "; "))
		}
		return nil
	}
}

// CachedChecker memoizes a checker result for ttl
type CachedChecker struct {
	checker   Checker
	ttl       time.Duration
	mu        sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// NewCachedChecker wraps checker with a result cache
func NewCachedChecker(checker Checker, ttl time.Duration) *CachedChecker {
	return &CachedChecker{checker: checker, ttl: ttl}
}

// Check returns the cached result or runs the wrapped checker
func (c *CachedChecker) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCheck.IsZero() && time.Since(c.lastCheck) < c.ttl {
		return c.lastErr
	}
	c.lastErr = c.checker()
	c.lastCheck = time.Now()
	return c.lastErr
}
