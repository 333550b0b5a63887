package fraud

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	insightsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_fraud_insights_created_total",
			Help: "Fraud insights raised, by type and severity",
		},
		[]string{"type", "severity"},
	)

	insightsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_fraud_insights_resolved_total",
			Help: "Fraud insights closed, by resolution",
		},
		[]string{"resolution"},
	)
)
