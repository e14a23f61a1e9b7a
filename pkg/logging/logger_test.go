package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()

	logger, err := NewLogger(&Config{
		Level:       "debug",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "autopilot-test",
		Version:     "test",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(&Config{Level: "bogus", Format: "json", Output: "stdout"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	_, err := NewLogger(&Config{Level: "info", Format: "xml", Output: "stdout"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")
}

func TestLogger_InfoWithFields(t *testing.T) {
	logger, buf := newTestLogger(t)

	logger.Info("operation retried", "operation", "webhook_send", "attempt", 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "operation retried", entry["message"])
	assert.Equal(t, "webhook_send", entry["operation"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, "autopilot-test", entry["service"])
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newTestLogger(t)

	ctx := WithCorrelationID(context.Background(), "corr-123")
	ctx = WithAutomationID(ctx, "auto-456")

	logger.WithContext(ctx).Info("context event")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-123", entry["correlation_id"])
	assert.Equal(t, "auto-456", entry["automation_id"])
}

func TestLogger_LogAutomationEvent(t *testing.T) {
	logger, buf := newTestLogger(t)

	logger.LogAutomationEvent(context.Background(), "draft_created", "auto-1", "create_draft", nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "draft_created", entry["event"])
	assert.Equal(t, "auto-1", entry["automation_id"])
	assert.Equal(t, "create_draft", entry["operation"])
}

func TestGetCorrelationID(t *testing.T) {
	assert.Empty(t, GetCorrelationID(context.Background()))

	ctx := WithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", GetCorrelationID(ctx))
}

func TestNewCorrelationID_Unique(t *testing.T) {
	assert.NotEqual(t, NewCorrelationID(), NewCorrelationID())
}
