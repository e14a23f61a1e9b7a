package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aviatorstc/autopilot/internal/notify"
)

// NotificationsHandler exposes editor notifications and preferences.
type NotificationsHandler struct {
	dispatcher *notify.Dispatcher
	repo       notify.Repository
}

// NewNotificationsHandler creates the notifications handler.
func NewNotificationsHandler(dispatcher *notify.Dispatcher, repo notify.Repository) *NotificationsHandler {
	return &NotificationsHandler{dispatcher: dispatcher, repo: repo}
}

// List returns a recipient's notifications, newest first.
func (h *NotificationsHandler) List(c *gin.Context) {
	recipient := c.Query("recipient")
	if recipient == "" {
		BadRequestResponse(c, "recipient is required")
		return
	}

	var statuses []notify.Status
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, notify.Status(strings.TrimSpace(s)))
		}
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			BadRequestResponse(c, "limit must be an integer between 1 and 500")
			return
		}
		limit = parsed
	}

	notifications, err := h.dispatcher.List(c.Request.Context(), recipient, statuses, limit)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, notifications)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus moves a notification through its lifecycle.
func (h *NotificationsHandler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid notification id")
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "status is required")
		return
	}

	if err := h.dispatcher.UpdateStatus(c.Request.Context(), id, notify.Status(req.Status)); err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, gin.H{"id": id.String(), "status": req.Status})
}

type preferenceRequest struct {
	UserID      string   `json:"user_id" binding:"required"`
	Role        string   `json:"role" binding:"required"`
	Email       string   `json:"email"`
	Timezone    string   `json:"timezone"`
	QuietStart  string   `json:"quiet_start"`
	QuietEnd    string   `json:"quiet_end"`
	EmailEvents []string `json:"email_events"`
}

// UpsertPreference creates or updates a user's delivery preference.
func (h *NotificationsHandler) UpsertPreference(c *gin.Context) {
	var req preferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "user_id and role are required")
		return
	}

	pref := notify.Preference{
		UserID:      req.UserID,
		Role:        req.Role,
		Email:       req.Email,
		Timezone:    req.Timezone,
		QuietStart:  req.QuietStart,
		QuietEnd:    req.QuietEnd,
		EmailEvents: req.EmailEvents,
	}
	if pref.Timezone == "" {
		pref.Timezone = "UTC"
	}

	if err := h.repo.UpsertPreference(c.Request.Context(), &pref); err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, pref)
}

// Cleanup removes auto-expired notifications.
func (h *NotificationsHandler) Cleanup(c *gin.Context) {
	deleted, err := h.dispatcher.CleanupExpired(c.Request.Context())
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, gin.H{"deleted": deleted})
}
