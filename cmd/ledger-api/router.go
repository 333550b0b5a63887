package main

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/richxcame/points-ledger/internal/coupons"
	"github.com/richxcame/points-ledger/internal/fraud"
	"github.com/richxcame/points-ledger/internal/intake"
	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/internal/review"
	"github.com/richxcame/points-ledger/pkg/common"
	"github.com/richxcame/points-ledger/pkg/health"
	"github.com/richxcame/points-ledger/pkg/middleware"
)

const (
	serviceName    = "ledger-api"
	serviceVersion = "1.0.0"
	maxBodyBytes   = 1 << 20
)

// routes bundles everything the router mounts
type routes struct {
	jwtSecret   string
	corsOrigins string
	readiness   map[string]health.Checker
	intake      *intake.Handler
	ledger      *ledger.Handler
	coupons     *coupons.Handler
	review      *review.Handler
	fraud       *fraud.Handler
}

func setupRouter(r routes) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics(serviceName))
	router.Use(middleware.MaxBodySize(maxBodyBytes))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitOrigins(r.corsOrigins)
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Correlation-ID"}
	router.Use(cors.New(corsConfig))

	// Health check and metrics (no auth required)
	router.GET("/healthz", common.HealthCheck(serviceName, serviceVersion))
	router.GET("/health/ready", common.ReadinessCheck(serviceName, serviceVersion, r.readiness))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(r.jwtSecret))

	points := api.Group("/points")
	rewards := api.Group("/rewards")
	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin())

	r.intake.RegisterRoutes(points)
	r.ledger.RegisterRoutes(points, admin)
	r.coupons.RegisterRoutes(rewards, admin)
	r.review.RegisterRoutes(admin)
	r.fraud.RegisterRoutes(admin)

	return router
}

func splitOrigins(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
