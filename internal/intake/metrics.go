package intake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_event_submissions_total",
		Help: "Event submissions by resulting status",
	}, []string{"status", "duplicate"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_event_rate_limited_total",
		Help: "Submissions rejected by a velocity ceiling",
	}, []string{"ceiling"})

	trustScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_trust_score",
		Help:    "Distribution of computed trust scores",
		Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})
)
