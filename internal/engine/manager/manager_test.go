package manager

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/snapshot"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeLog(t *testing.T, path string, extra ...string) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("timestamp,src_ip,dst_ip,protocol,port,payload_size,is_malicious\n")
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "%s,10.1.0.%d,10.0.0.1,TCP,443,%d,\n", base.Add(time.Duration(i)*time.Second).Format(time.RFC3339), i+1, 400+i*7)
	}
	for _, row := range extra {
		sb.WriteString(row + "\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0644))
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Source.Path = filepath.Join(dir, "net.csv")
	cfg.Detection.Seed = 5
	return cfg
}

func TestNewManager_ServesDefaultSource(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, filepath.Join(dir, "net.csv"), "2025-03-01T13:00:00Z,6.6.6.6,10.0.0.1,TCP,7,80,")

	m, err := NewManager(testConfig(dir), zap.NewNop())
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	records, err := m.Service().ListRecords(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, records, 21)
	assert.True(t, records[20].DetectedAnomaly)
}

func TestNewManager_WatchInvalidatesDefaultSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "net.csv")
	writeLog(t, path)

	cfg := testConfig(dir)
	cfg.Cache.Watch = true
	cfg.Detection.CacheTTL = "1h"
	m, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	_, err = m.Service().ListRecords(context.Background(), "")
	require.NoError(t, err)
	_, ok := m.Cache().Peek(path)
	require.True(t, ok)

	writeLog(t, path, "2025-03-01T13:00:00Z,6.6.6.6,10.0.0.1,TCP,7,80,")
	assert.Eventually(t, func() bool {
		_, ok := m.Cache().Peek(path)
		return !ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNewManager_AlerterWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, filepath.Join(dir, "net.csv"), "2025-03-01T13:00:00Z,6.6.6.6,10.0.0.1,TCP,7,80,")
	snapDir := filepath.Join(dir, "snapshots")

	cfg := testConfig(dir)
	cfg.Alerter.Enabled = true
	cfg.Alerter.CheckInterval = "1h"
	cfg.Sinks = []config.SinkDef{{Type: "gob", Enabled: true, Gob: config.GobConfig{RootPath: snapDir}}}

	m, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	m.Start()
	m.Stop()

	runs, err := os.ReadDir(snapDir)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	sources, err := os.ReadDir(filepath.Join(snapDir, runs[0].Name()))
	require.NoError(t, err)
	require.Len(t, sources, 1)

	alerts, err := snapshot.ReadAlerts(filepath.Join(snapDir, runs[0].Name(), sources[0].Name()))
	require.NoError(t, err)
	assert.NotEmpty(t, alerts)
}

func TestNewManager_Invalid(t *testing.T) {
	cfg := config.Default()
	cfg.Detection.RuleSet = []string{"no_such_rule"}
	_, err := NewManager(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Alerter.Enabled = true
	cfg.Sinks = []config.SinkDef{{Type: "carrier_pigeon", Enabled: true}}
	_, err = NewManager(cfg, zap.NewNop())
	assert.Error(t, err)
}
