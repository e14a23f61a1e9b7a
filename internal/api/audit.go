package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/internal/cache"
)

// AuditHandler exposes the audit trail over HTTP. Summary and performance
// reads go through the cache when one is configured.
type AuditHandler struct {
	audit *audit.Logger
	cache *cache.Service
}

// NewAuditHandler creates the audit handler. The cache may be nil.
func NewAuditHandler(auditLog *audit.Logger, cacheSvc *cache.Service) *AuditHandler {
	return &AuditHandler{audit: auditLog, cache: cacheSvc}
}

func parseAuditFilter(c *gin.Context) (audit.Filter, error) {
	filter := audit.Filter{AutomationID: c.Query("automation_id")}

	if raw := c.Query("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, audit.ActionType(strings.TrimSpace(t)))
		}
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, audit.Status(strings.TrimSpace(s)))
		}
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("from must be RFC3339")
		}
		filter.DateFrom = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("to must be RFC3339")
		}
		filter.DateTo = &t
	}

	return filter, nil
}

// Query returns matching audit entries, newest first.
func (h *AuditHandler) Query(c *gin.Context) {
	filter, err := parseAuditFilter(c)
	if err != nil {
		BadRequestResponse(c, err.Error())
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			BadRequestResponse(c, "limit must be an integer between 1 and 1000")
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			BadRequestResponse(c, "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}

	entries, err := h.audit.Query(c.Request.Context(), filter, limit, offset)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, entries)
}

// Summary returns aggregate audit activity since an optional time.
func (h *AuditHandler) Summary(c *gin.Context) {
	var since time.Time
	cacheID := "all"
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			BadRequestResponse(c, "since must be RFC3339")
			return
		}
		since = t
		cacheID = raw
	}

	key := cache.Key{Prefix: cache.PrefixAuditSummary, ID: cacheID}
	if h.cache != nil {
		var cached audit.Summary
		if err := h.cache.Get(c.Request.Context(), key, &cached); err == nil {
			SuccessResponse(c, cached)
			return
		}
	}

	summary, err := h.audit.Summarize(c.Request.Context(), since)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	if h.cache != nil {
		_ = h.cache.Set(c.Request.Context(), key, summary, h.cache.TTLFor(cache.PrefixAuditSummary))
	}

	SuccessResponse(c, summary)
}

// Performance returns pipeline throughput metrics.
func (h *AuditHandler) Performance(c *gin.Context) {
	key := cache.Key{Prefix: cache.PrefixPerformance, ID: "pipeline"}
	if h.cache != nil {
		var cached audit.PerformanceMetrics
		if err := h.cache.Get(c.Request.Context(), key, &cached); err == nil {
			SuccessResponse(c, cached)
			return
		}
	}

	pm, err := h.audit.PerformanceMetrics(c.Request.Context())
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	if h.cache != nil {
		_ = h.cache.Set(c.Request.Context(), key, pm, h.cache.TTLFor(cache.PrefixPerformance))
	}

	SuccessResponse(c, pm)
}

// Export streams the audit trail as JSON or CSV.
func (h *AuditHandler) Export(c *gin.Context) {
	filter, err := parseAuditFilter(c)
	if err != nil {
		BadRequestResponse(c, err.Error())
		return
	}

	format := audit.ExportFormat(c.DefaultQuery("format", "json"))

	data, err := h.audit.Export(c.Request.Context(), filter, format)
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	filename := fmt.Sprintf("audit-export-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	switch format {
	case audit.ExportCSV:
		c.Data(200, "text/csv; charset=utf-8", data)
	default:
		c.Data(200, "application/json; charset=utf-8", data)
	}
}

// Cleanup removes audit entries past the retention window.
func (h *AuditHandler) Cleanup(c *gin.Context) {
	deleted, err := h.audit.Cleanup(c.Request.Context())
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	SuccessResponse(c, gin.H{"deleted": deleted})
}
