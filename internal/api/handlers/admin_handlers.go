package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/starpay-service/starpay_service/internal/domain/services/settings"
	"github.com/starpay-service/starpay_service/internal/infrastructure/repositories"
	"github.com/starpay-service/starpay_service/pkg/logger"
)

// AdminHandlers exposes the operator surface: open alerts and settings cache
// control. Authentication for these routes is handled upstream at the
// ingress layer.
type AdminHandlers struct {
	alerts   *repositories.FraudAlertRepository
	settings *settings.Service
	logger   *logger.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(alerts *repositories.FraudAlertRepository, settingsSvc *settings.Service, logger *logger.Logger) *AdminHandlers {
	return &AdminHandlers{alerts: alerts, settings: settingsSvc, logger: logger}
}

// ListAlerts handles GET /api/v1/admin/alerts
func (h *AdminHandlers) ListAlerts(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			respondBadRequest(c, "INVALID_LIMIT", "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	alerts, err := h.alerts.ListOpen(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list fraud alerts", "error", err)
		respondInternalError(c, "Failed to list alerts")
		return
	}
	respondSuccess(c, alerts)
}

// InvalidateSettings handles POST /api/v1/admin/settings/invalidate, forcing
// the next read to hit the database after an operator edit.
func (h *AdminHandlers) InvalidateSettings(c *gin.Context) {
	h.settings.Invalidate()
	respondSuccess(c, gin.H{"status": "invalidated"})
}
