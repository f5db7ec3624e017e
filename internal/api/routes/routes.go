// Package routes wires the HTTP surface
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starpay-service/starpay_service/internal/api/handlers"
	"github.com/starpay-service/starpay_service/internal/api/middleware"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// Handlers groups everything the router mounts
type Handlers struct {
	Webhooks *handlers.WebhookHandlers
	Deposits *handlers.DepositHandlers
	Health   *handlers.HealthHandlers
	Admin    *handlers.AdminHandlers
}

// Guards are the optional request gates on the public surface. A nil
// guard is simply not mounted.
type Guards struct {
	RateLimit   gin.HandlerFunc
	Idempotency gin.HandlerFunc
}

// Setup builds the gin engine with all routes and middleware
func Setup(h Handlers, g Guards, environment string, log *logger.Logger) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.RequestLogger(log),
	)

	router.GET("/health", h.Health.Live)
	router.GET("/health/ready", h.Health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	if g.RateLimit != nil {
		v1.Use(g.RateLimit)
	}
	{
		v1.POST("/webhooks/:provider/:chain", h.Webhooks.Receive)

		deposits := v1.Group("/deposits")
		{
			if g.Idempotency != nil {
				deposits.POST("", g.Idempotency, h.Deposits.Create)
			} else {
				deposits.POST("", h.Deposits.Create)
			}
			deposits.GET("/:id", h.Deposits.Get)
			deposits.POST("/:id/submit", h.Deposits.Submit)
			deposits.POST("/:id/resolve", h.Deposits.Resolve)
		}

		admin := v1.Group("/admin")
		{
			admin.GET("/alerts", h.Admin.ListAlerts)
			admin.POST("/settings/invalidate", h.Admin.InvalidateSettings)
		}
	}

	return router
}
