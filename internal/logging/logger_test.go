package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOptionsWritesJSONWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOptions(Options{
		Level:  "debug",
		Output: &buf,
		Attrs:  []slog.Attr{slog.String("app", "agentpay")},
	})
	logger.Debug("hello", slog.String("wallet_id", "w1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "agentpay", line["app"])
	assert.Equal(t, "w1", line["wallet_id"])
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOptions(Options{Level: "loud", Format: "text", Output: &buf})
	logger.Debug("hidden")
	assert.Empty(t, buf.String())
	logger.Info("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}
