package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/starpay-service/starpay_service/internal/infrastructure/cache"
)

// HealthHandlers exposes liveness and readiness probes
type HealthHandlers struct {
	db    *sqlx.DB
	redis cache.RedisClient
}

// NewHealthHandlers creates a new HealthHandlers instance
func NewHealthHandlers(db *sqlx.DB, redis cache.RedisClient) *HealthHandlers {
	return &HealthHandlers{db: db, redis: redis}
}

// Live handles GET /health
func (h *HealthHandlers) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// Ready handles GET /health/ready, checking every hard dependency
func (h *HealthHandlers) Ready(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := h.db.PingContext(c.Request.Context()); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.redis.Ping(c.Request.Context()); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
}
