package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/richxcame/points-ledger/pkg/logger"
	"go.uber.org/zap"
)

// Operation is a unit of work that may be retried
type Operation func(ctx context.Context) (interface{}, error)

// RetryConfig controls backoff between attempts
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	EnableJitter      bool
	// RetryableChecker restricts retries to matching errors; nil retries everything
	RetryableChecker func(error) bool
}

// ConservativeRetryConfig retries once more after a longer wait. Used for
// cache round trips and upstream HTTP calls.
func ConservativeRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
	}
}

// LockContentionRetryConfig suits short database transactions that lost a row-lock race
func LockContentionRetryConfig(checker func(error) bool) RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    25 * time.Millisecond,
		MaxBackoff:        250 * time.Millisecond,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
		RetryableChecker:  checker,
	}
}

// Retry runs op until it succeeds, returns a non-retryable error, the context ends
// or the attempts run out. The last error is returned unchanged.
func Retry(ctx context.Context, cfg RetryConfig, op Operation) (interface{}, error) {
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= attempts || !shouldRetry(err, cfg) || ctx.Err() != nil {
			return nil, err
		}

		wait := backoff(attempt, cfg)
		logger.WithContext(ctx).Debug("retrying operation",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func shouldRetry(err error, cfg RetryConfig) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case cfg.RetryableChecker != nil:
		return cfg.RetryableChecker(err)
	}
	return true
}

// backoff is the wait after the given failed attempt, capped at MaxBackoff
func backoff(attempt int, cfg RetryConfig) time.Duration {
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	d := float64(cfg.InitialBackoff) * math.Pow(multiplier, float64(attempt-1))
	if cfg.MaxBackoff > 0 {
		d = math.Min(d, float64(cfg.MaxBackoff))
	}

	wait := time.Duration(d)
	if cfg.EnableJitter && wait > 0 {
		// full jitter in [0, wait]
		wait = time.Duration(rand.Int63n(int64(wait) + 1))
	}
	return wait
}

// IsRetryableHTTPStatus reports whether a response status is worth retrying
func IsRetryableHTTPStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}
