package handlers

import (
	"context"
	"net/http"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/websocket"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether a backing service is reachable
type HealthChecker func(ctx context.Context) error

type HealthHandler struct {
	app    config.AppConfig
	hub    *websocket.Hub
	checks map[string]HealthChecker
}

func NewHealthHandler(app config.AppConfig, hub *websocket.Hub, checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{app: app, hub: hub, checks: checks}
}

// Health answers the client liveness probe. It is unauthenticated and
// returns 503 when a backing service check fails.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	services := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			services[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		services[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"service":   h.app.Name,
		"version":   h.app.Version,
		"services":  services,
		"hub":       h.hub.GetStats(),
		"timestamp": time.Now(),
	})
}
