package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	cmd := NewRootCommand(VersionInfo{Version: "1.2.3", Commit: "abc", Date: "today"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    1.2.3")
	assert.Contains(t, out, "Commit:     abc")
}

func TestReconcileOnEmptyStoreIsClean(t *testing.T) {
	out, err := execute(t, "reconcile")
	require.NoError(t, err)

	var report struct {
		Wallets int   `json:"wallets"`
		Drifts  []any `json:"drifts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Wallets)
	assert.Empty(t, report.Drifts)
}

func TestMigrateNeedsDatabase(t *testing.T) {
	_, err := execute(t, "migrate")
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestInvalidConfigFailsBeforeServing(t *testing.T) {
	t.Setenv("METRICS_QUEUE", "kafka")
	_, err := execute(t, "serve")
	assert.ErrorContains(t, err, "METRICS_QUEUE")
}

func TestServeReleasesBackendsWhenSetupFails(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("METRICS_QUEUE", "redis")
	t.Setenv("FEE_SCHEDULE_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := execute(t, "serve", "--redis-url", "redis://"+mr.Addr())
	assert.ErrorContains(t, err, "fee schedule")
	assert.Eventually(t, func() bool {
		return mr.CurrentConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
