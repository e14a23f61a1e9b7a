package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviatorstc/autopilot/internal/audit"
	"github.com/aviatorstc/autopilot/internal/monitor"
	"github.com/aviatorstc/autopilot/internal/notify"
	"github.com/aviatorstc/autopilot/internal/resilience"
	"github.com/aviatorstc/autopilot/pkg/config"
	"github.com/aviatorstc/autopilot/pkg/logging"
	"github.com/aviatorstc/autopilot/pkg/metrics"
)

type testEnv struct {
	router     *gin.Engine
	monitor    *monitor.Monitor
	breakers   *resilience.BreakerRegistry
	dispatcher *notify.Dispatcher
	notifyRepo *notify.MemoryRepository
	auditLog   *audit.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log, err := logging.NewLogger(&logging.Config{Level: "error", Format: "json"})
	require.NoError(t, err)
	log.SetOutput(&bytes.Buffer{})

	retention := config.RetentionConfig{
		AuditLogDays:      90,
		ErrorLowDays:      30,
		ErrorMediumDays:   90,
		ErrorHighDays:     180,
		ErrorCriticalDays: 365,
		CleanupBatchSize:  100,
	}

	m := &metrics.Metrics{}
	auditLog := audit.NewLogger(audit.NewMemoryRepository(), log, m, retention)

	monitorCfg := config.MonitorConfig{
		ImmediateAlertSeverities: []string{"high", "critical"},
		ErrorRateThreshold:       50,
		CircuitBreakerThreshold:  1,
		EscalationDelay:          time.Hour,
		BufferCapacity:           1000,
		EvictionInterval:         time.Hour,
	}

	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}, log, m, auditLog, nil)
	mon := monitor.NewMonitor(monitorCfg, retention, log, m, auditLog, monitor.WithBreakerStats(breakers))
	t.Cleanup(mon.Stop)

	notifyRepo := notify.NewMemoryRepository()
	dispatcher := notify.NewDispatcher(notifyRepo, nil, auditLog, m, log, retention)

	cfg := &config.Config{Logging: config.LoggingConfig{Level: "error"}}

	router := NewRouter(Deps{
		Config:     cfg,
		Log:        log,
		Audit:      auditLog,
		Monitor:    mon,
		Breakers:   breakers,
		Dispatcher: dispatcher,
		NotifyRepo: notifyRepo,
	})

	return &testEnv{
		router:     router,
		monitor:    mon,
		breakers:   breakers,
		dispatcher: dispatcher,
		notifyRepo: notifyRepo,
		auditLog:   auditLog,
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthEndpointHealthy(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeData(t, w)
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthEndpointUnhealthyOnOpenBreaker(t *testing.T) {
	env := newTestEnv(t)

	env.breakers.Execute(context.Background(), "publish", func(ctx context.Context) (interface{}, error) {
		return nil, stderrors.New("connection refused")
	})

	w := env.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeData(t, w)
	assert.Equal(t, "unhealthy", resp["status"])
}

func TestErrorsListAndStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.monitor.Report(ctx, stderrors.New("connection refused"), "publish", nil)
	env.monitor.Report(ctx, stderrors.New("validation failed: bad title"), "validate", nil)

	w := env.request(t, http.MethodGet, "/api/v1/errors?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeData(t, w)
	data := resp["data"].([]interface{})
	assert.Len(t, data, 2)

	w = env.request(t, http.MethodGet, "/api/v1/errors/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeData(t, w)
	stats := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["total"])

	w = env.request(t, http.MethodGet, "/api/v1/errors?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorResolutionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.monitor.Report(ctx, stderrors.New("connection refused"), "publish", nil)

	w := env.request(t, http.MethodPatch, "/api/v1/errors/"+entry.ID.String()+"/resolution", map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, w.Code)

	recent := env.monitor.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, monitor.ResolutionResolved, recent[0].ResolutionStatus)

	w = env.request(t, http.MethodPatch, "/api/v1/errors/"+entry.ID.String()+"/resolution", map[string]string{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodPatch, "/api/v1/errors/not-a-uuid/resolution", map[string]string{"status": "resolved"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditQueryAndExport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.auditLog.Record(ctx, audit.Entry{Type: audit.ActionDraftCreated, AutomationID: "blog", Status: audit.StatusSuccess})
	env.auditLog.Record(ctx, audit.Entry{Type: audit.ActionWebhookSent, AutomationID: "blog", Status: audit.StatusFailed, Error: "timeout"})

	w := env.request(t, http.MethodGet, "/api/v1/audit?type=draft_created", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeData(t, w)
	assert.Len(t, resp["data"].([]interface{}), 1)

	w = env.request(t, http.MethodGet, "/api/v1/audit/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeData(t, w)
	summary := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(2), summary["total_logs"])

	w = env.request(t, http.MethodGet, "/api/v1/audit/export?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.True(t, strings.HasPrefix(w.Body.String(), "timestamp,type,automationId,status,error,metadata"))

	w = env.request(t, http.MethodGet, "/api/v1/audit/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBreakerEndpoints(t *testing.T) {
	env := newTestEnv(t)

	env.breakers.Execute(context.Background(), "publish", func(ctx context.Context) (interface{}, error) {
		return nil, stderrors.New("connection refused")
	})

	w := env.request(t, http.MethodGet, "/api/v1/breakers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeData(t, w)
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["open_count"])

	w = env.request(t, http.MethodPost, "/api/v1/breakers/publish/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.breakers.OpenCount())

	w = env.request(t, http.MethodPost, "/api/v1/breakers/unknown/reset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.notifyRepo.UpsertPreference(ctx, &notify.Preference{UserID: "ed-1", Role: "editor"}))

	created, err := env.dispatcher.Dispatch(ctx, notify.EventReviewNeeded, nil, map[string]interface{}{"title": "IFR minima"})
	require.NoError(t, err)
	require.Len(t, created, 1)

	w := env.request(t, http.MethodGet, "/api/v1/notifications?recipient=ed-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeData(t, w)
	assert.Len(t, resp["data"].([]interface{}), 1)

	w = env.request(t, http.MethodPatch, "/api/v1/notifications/"+created[0].ID.String()+"/status", map[string]string{"status": "read"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodPatch, "/api/v1/notifications/"+created[0].ID.String()+"/status", map[string]string{"status": "unread"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodGet, "/api/v1/notifications", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(t, http.MethodPost, "/api/v1/notifications/preferences", map[string]interface{}{
		"user_id": "adm-1", "role": "admin", "email": "admin@aviatorstrainingcentre.in",
	})
	require.Equal(t, http.StatusOK, w.Code)

	prefs, err := env.notifyRepo.PreferencesByRoles(ctx, []string{"admin"})
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, "UTC", prefs[0].Timezone)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
