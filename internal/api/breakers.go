package api

import (
	"github.com/gin-gonic/gin"

	"github.com/aviatorstc/autopilot/internal/resilience"
	"github.com/aviatorstc/autopilot/pkg/errors"
)

// BreakersHandler exposes circuit breaker state and manual resets.
type BreakersHandler struct {
	registry *resilience.BreakerRegistry
}

// NewBreakersHandler creates the circuit breaker handler.
func NewBreakersHandler(registry *resilience.BreakerRegistry) *BreakersHandler {
	return &BreakersHandler{registry: registry}
}

// List returns a snapshot of every known breaker.
func (h *BreakersHandler) List(c *gin.Context) {
	SuccessResponse(c, gin.H{
		"breakers":   h.registry.Snapshots(),
		"open_count": h.registry.OpenCount(),
	})
}

// Reset forces the named breaker closed.
func (h *BreakersHandler) Reset(c *gin.Context) {
	operation := c.Param("operation")
	if !h.registry.Reset(c.Request.Context(), operation) {
		ErrorResponse(c, errors.NewNotFoundError("circuit breaker"))
		return
	}

	SuccessResponse(c, gin.H{"operation": operation, "state": resilience.StateClosed})
}
