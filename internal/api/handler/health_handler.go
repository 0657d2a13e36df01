package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const renderProbeTimeout = 5 * time.Second

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "vidgen-api-service",
	})
}

// RenderHealth handles GET /health/render
// Probes the render backend's liveness endpoint
func (h *HealthHandler) RenderHealth(c *gin.Context) {
	if h.render == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unconfigured",
			"error":  "Render backend is not configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), renderProbeTimeout)
	defer cancel()

	if err := h.render.Health(ctx); err != nil {
		h.logger.Warn("Render backend health check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}
