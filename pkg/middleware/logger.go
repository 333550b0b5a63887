package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/points-ledger/pkg/logger"
	"go.uber.org/zap"
)

// probe and scrape routes are not logged
var quietRoutes = map[string]bool{
	"/healthz":      true,
	"/health/ready": true,
	"/metrics":      true,
}

// RequestLogger writes one structured line per request. 5xx and handler errors log
// at error level, 4xx at warn.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if quietRoutes[route] {
			return
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(started)),
		}
		if userID, err := GetUserID(c); err == nil {
			fields = append(fields, zap.Stringer("user_id", userID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		log := logger.WithContext(c.Request.Context())
		switch {
		case status >= 500 || len(c.Errors) > 0:
			log.Error("request failed", fields...)
		case status >= 400:
			log.Warn("request rejected", fields...)
		default:
			log.Info("request served", fields...)
		}
	}
}
