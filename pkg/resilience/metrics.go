package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_upstream_breaker_state",
		Help: "Upstream breaker state (0=closed, 0.5=half-open, 1=open)",
	}, []string{"upstream"})

	breakerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_upstream_breaker_calls_total",
		Help: "Calls routed through an upstream breaker, by result",
	}, []string{"upstream", "result"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_upstream_breaker_transitions_total",
		Help: "Upstream breaker state transitions",
	}, []string{"upstream", "to"})
)

// call results
const (
	resultOK       = "ok"
	resultFailure  = "failure"
	resultRejected = "rejected"
)

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 0.5
	case gobreaker.StateOpen:
		return 1
	}
	return -1
}

func observeTransition(name string, to gobreaker.State) {
	breakerTransitions.WithLabelValues(name, to.String()).Inc()
	breakerState.WithLabelValues(name).Set(stateValue(to))
}

func observeCall(name, result string) {
	breakerCalls.WithLabelValues(name, result).Inc()
}
