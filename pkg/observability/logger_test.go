package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("debug message")
	assert.Zero(t, buf.Len(), "debug should be filtered at info level")

	logger.Info("info message")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "info message", entry["msg"])

	buf.Reset()
	logger.Warnf("warn %d", 2)
	entry = decodeLine(t, &buf)
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "warn 2", entry["msg"])
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf).
		WithField("table", "clients").
		WithFields(map[string]interface{}{"action": "INSERT"}).
		WithError(errors.New("boom"))

	logger.Debug("with fields")
	entry := decodeLine(t, &buf)
	assert.Equal(t, "clients", entry["table"])
	assert.Equal(t, "INSERT", entry["action"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	assert.Same(t, logger, logger.WithError(nil))
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithFormat(InfoLevel, "text", &buf).Info("plain")
	assert.Contains(t, buf.String(), `msg=plain`)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("verbose"))
	assert.Equal(t, "WARN", WarnLevel.String())
}

func TestFromLogrus(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	logger := FromLogrus(base)
	assert.Equal(t, DebugLevel, logger.Level())

	logger.WithField("k", "v").Debug("hello")
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "v", hook.LastEntry().Data["k"])

	base.SetLevel(logrus.WarnLevel)
	assert.Equal(t, WarnLevel, FromLogrus(base).Level())
}

func TestFromContext(t *testing.T) {
	base, hook := test.NewNullLogger()
	ctx := WithLogger(context.Background(), FromLogrus(base))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithActorID(ctx, "actor-1")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "actor-1", GetActorID(ctx))

	FromContext(ctx).Info("scoped")
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "req-1", entry.Data["request_id"])
	assert.Equal(t, "actor-1", entry.Data["actor_id"])

	assert.Empty(t, GetRequestID(context.Background()))
	assert.NotNil(t, GetLogger(context.Background()))
}
