package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aviatorstc/autopilot/internal/monitor"
)

// ComponentChecker verifies one dependency is reachable.
type ComponentChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler reports overall service health: dependency reachability
// plus the error monitor's verdict.
type HealthHandler struct {
	monitor    *monitor.Monitor
	components map[string]ComponentChecker
}

// NewHealthHandler creates the health handler. Components may be empty.
func NewHealthHandler(m *monitor.Monitor, components map[string]ComponentChecker) *HealthHandler {
	return &HealthHandler{monitor: m, components: components}
}

type componentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Check runs the health check. Unhealthy reports a 503 so load balancers
// stop routing; degraded still serves traffic.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	report := h.monitor.HealthCheck()
	status := report.Status

	components := make(map[string]componentStatus, len(h.components))
	for name, checker := range h.components {
		if err := checker.Health(ctx); err != nil {
			components[name] = componentStatus{Status: "down", Error: err.Error()}
			status = monitor.HealthUnhealthy
			continue
		}
		components[name] = componentStatus{Status: "up"}
	}

	code := http.StatusOK
	if status == monitor.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"monitor":    report,
		"components": components,
		"checked_at": time.Now().UTC(),
	})
}
