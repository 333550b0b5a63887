package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/logger"
	"go.uber.org/zap"
)

var panicsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ledger_http_panics_total",
	Help: "Handler panics turned into 500 responses",
})

// Recovery turns a handler panic into a 500 envelope. The stack goes to the log,
// never to the client.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		panicsTotal.Inc()
		logger.WithContext(c.Request.Context()).Error("handler panicked",
			zap.Any("panic", recovered),
			zap.String("route", c.FullPath()),
			zap.String("method", c.Request.Method),
			zap.Stack("stack"),
		)
		common.ErrorResponse(c, http.StatusInternalServerError, "internal server error")
		c.Abort()
	})
}
