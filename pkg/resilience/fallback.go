package resilience

import (
	"context"

	"github.com/richxcame/points-ledger/pkg/logger"
	"go.uber.org/zap"
)

// FallbackFunc answers for a dependency while its breaker rejects calls
type FallbackFunc func(ctx context.Context, err error) (interface{}, error)

// Unavailable is the default fallback: callers see ErrCircuitOpen
func Unavailable(ctx context.Context, err error) (interface{}, error) {
	return nil, ErrCircuitOpen
}

// Degraded logs the skipped dependency and then behaves like Unavailable.
// The attestation client treats the result as an absent signal.
func Degraded(dependency string) FallbackFunc {
	return func(ctx context.Context, err error) (interface{}, error) {
		logger.WithContext(ctx).Warn("upstream breaker open, skipping call",
			zap.String("upstream", dependency),
			zap.Error(err),
		)
		return Unavailable(ctx, err)
	}
}
