package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "HTTP requests by route and status class",
	}, []string{"service", "method", "route", "code"})

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"service", "method", "route"})

	requestsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_http_requests_active",
		Help: "HTTP requests currently being handled",
	}, []string{"service"})
)

// Metrics records request counts and latency per matched route. Unmatched paths
// share the "unmatched" route label.
func Metrics(service string) gin.HandlerFunc {
	active := requestsActive.WithLabelValues(service)
	return func(c *gin.Context) {
		active.Inc()
		started := time.Now()
		defer active.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		requestsTotal.WithLabelValues(service, method, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestLatency.WithLabelValues(service, method, route).Observe(time.Since(started).Seconds())
	}
}
