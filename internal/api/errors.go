package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aviatorstc/autopilot/internal/monitor"
)

// ErrorsHandler exposes the error monitor over HTTP.
type ErrorsHandler struct {
	monitor *monitor.Monitor
}

// NewErrorsHandler creates the error monitor handler.
func NewErrorsHandler(m *monitor.Monitor) *ErrorsHandler {
	return &ErrorsHandler{monitor: m}
}

// List returns recent errors, newest first.
func (h *ErrorsHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			BadRequestResponse(c, "limit must be an integer between 1 and 1000")
			return
		}
		limit = parsed
	}

	SuccessResponse(c, h.monitor.Recent(limit))
}

// Stats returns aggregate error statistics for an optional window.
func (h *ErrorsHandler) Stats(c *gin.Context) {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			BadRequestResponse(c, "window must be a positive duration, e.g. 24h")
			return
		}
		window = parsed
	}

	SuccessResponse(c, h.monitor.Statistics(window))
}

type resolutionRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateResolution moves an error through the resolution workflow.
func (h *ErrorsHandler) UpdateResolution(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid error id")
		return
	}

	var req resolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "status is required")
		return
	}

	if err := h.monitor.UpdateResolution(c.Request.Context(), id, monitor.ResolutionStatus(req.Status)); err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, gin.H{"id": id.String(), "status": req.Status})
}

// Cleanup evicts errors past their retention windows.
func (h *ErrorsHandler) Cleanup(c *gin.Context) {
	evicted, err := h.monitor.CleanupOldErrors(c.Request.Context())
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, gin.H{"evicted": evicted})
}
