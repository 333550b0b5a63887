package coupons

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	redemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_coupon_redemptions_total",
		Help: "Coupon redemption attempts by outcome",
	}, []string{"outcome"})

	couponsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_coupons_expired_total",
		Help: "Issued coupons moved to expired by the sweep",
	})
)
