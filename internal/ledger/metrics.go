package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcileDiscrepancies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_reconcile_discrepancies",
		Help: "Users whose cached balance disagreed with the event log in the last audit",
	})

	reconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reconcile_runs_total",
		Help: "Completed reconciliation audits",
	}, []string{"result"})

	reconcileRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_reconcile_repairs_total",
		Help: "Balance cache rows rebuilt by reconciliation",
	})
)
