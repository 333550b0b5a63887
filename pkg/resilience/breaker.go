package resilience

import (
	"context"
	"errors"

	"github.com/richxcame/points-ledger/pkg/logger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker wraps gobreaker with metrics and a fallback
type CircuitBreaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	fallback FallbackFunc
}

// NewCircuitBreaker creates a breaker that trips after FailureThreshold consecutive failures
func NewCircuitBreaker(settings Settings, fallback FallbackFunc) *CircuitBreaker {
	if settings.Name == "" {
		settings.Name = "upstream"
	}
	if fallback == nil {
		fallback = Unavailable
	}
	threshold := max(settings.FailureThreshold, 1)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: max(settings.SuccessThreshold, 1),
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			observeTransition(name, to)
		},
	})
	breakerState.WithLabelValues(settings.Name).Set(stateValue(gobreaker.StateClosed))

	return &CircuitBreaker{name: settings.Name, cb: cb, fallback: fallback}
}

// Execute runs op through the breaker. Open or saturated breakers invoke the fallback.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return op(ctx)
	})
	switch {
	case err == nil:
		observeCall(b.name, resultOK)
		return result, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		observeCall(b.name, resultRejected)
		return b.fallback(ctx, err)
	}
	observeCall(b.name, resultFailure)
	return nil, err
}

// Name returns the breaker name
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current breaker state
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}
