package companion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/sinkguard/internal/audit"
	"github.com/ppiankov/sinkguard/internal/supervisor"
)

// shortDir keeps socket paths under the unix path length limit.
func shortDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sg")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

type harness struct {
	srv     *Server
	client  *Client
	store   *Store
	journal *audit.Log
	metrics *Metrics
	dir     string
}

func startServer(t *testing.T) *harness {
	t.Helper()
	dir := shortDir(t)
	store, err := OpenStore(filepath.Join(dir, "agent.db"))
	require.NoError(t, err)
	journal, err := audit.Open(filepath.Join(dir, "journal.jsonl"))
	require.NoError(t, err)
	metrics := NewMetrics()

	srv, err := NewServer(ServerConfig{Version: "1.4.0", Store: store, Journal: journal, Metrics: metrics})
	require.NoError(t, err)

	sock := filepath.Join(dir, "a.sock")
	lis, err := Listen(sock)
	require.NoError(t, err)
	go func() { _ = srv.ServeOn(lis) }()

	client, err := Dial(sock)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		srv.GracefulStop()
		journal.Close()
		store.Close()
	})
	return &harness{srv: srv, client: client, store: store, journal: journal, metrics: metrics, dir: dir}
}

func TestPing(t *testing.T) {
	h := startServer(t)
	version, err := h.client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", version)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RPCs.WithLabelValues("Ping", "ok")))
}

func TestReportStatsAccumulates(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	r := StatsReport{Sink: "shell_exec", Kind: "exec_op", Detected: 2, Blocked: 1, Total: 100,
		Timings: []time.Duration{time.Millisecond, 3 * time.Millisecond}}
	require.NoError(t, h.client.ReportStats(ctx, r))
	r.Total = 200
	require.NoError(t, h.client.ReportStats(ctx, r))
	require.NoError(t, h.client.ReportStats(ctx, StatsReport{Sink: "curl_exec", Kind: "outgoing_http_op", Total: 200}))

	rows, err := h.store.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "curl_exec", rows[0].Sink)
	shell := rows[1]
	assert.Equal(t, int64(2), shell.Reports)
	assert.Equal(t, int64(4), shell.Detected)
	assert.Equal(t, int64(2), shell.Blocked)
	assert.Equal(t, int64(200), shell.Total)
	assert.Equal(t, int64(4), shell.Timings)
	assert.Equal(t, int64(8*time.Millisecond), shell.TimingsNanos)

	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.Detected.WithLabelValues("shell_exec")))
	// Only reports carrying a detection are journalled.
	assert.Equal(t, 2, h.journal.Len())
}

func TestReportStatsRejectsMissingSink(t *testing.T) {
	h := startServer(t)
	err := h.client.ReportStats(context.Background(), StatsReport{Kind: "exec_op"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidArgument")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RPCs.WithLabelValues("ReportStats", "error")))
}

func TestUpdateConfigTokenChange(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	res, err := h.client.UpdateConfig(ctx, "tok-a", `{"blocking":true}`)
	require.NoError(t, err)
	assert.Equal(t, ConfigStored, res)

	res, err = h.client.UpdateConfig(ctx, "tok-a", `{"blocking":false}`)
	require.NoError(t, err)
	assert.Equal(t, ConfigSameToken, res)

	res, err = h.client.UpdateConfig(ctx, "tok-b", `{}`)
	require.NoError(t, err)
	assert.Equal(t, ConfigStored, res)

	token, payload, err := h.store.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-b", token)
	assert.Equal(t, `{}`, payload)

	_, err = h.client.UpdateConfig(ctx, "", `{}`)
	assert.Error(t, err)
}

func TestReportPackagesAndStatus(t *testing.T) {
	h := startServer(t)
	ctx := context.Background()

	require.NoError(t, h.client.ReportPackages(ctx, map[string]string{"laravel/framework": "11.0.0", "guzzle": "7.8"}))
	require.NoError(t, h.client.ReportPackages(ctx, map[string]string{"guzzle": "7.9"}))
	require.NoError(t, h.client.ReportPackages(ctx, nil))

	pkgs, err := h.store.Packages(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"laravel/framework": "11.0.0", "guzzle": "7.9"}, pkgs)

	_, err = h.client.UpdateConfig(ctx, "tok-a", "{}")
	require.NoError(t, err)
	require.NoError(t, h.client.ReportStats(ctx, StatsReport{Sink: "shell_exec", Kind: "exec_op", Detected: 1}))

	st, err := h.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", st["version"])
	assert.Equal(t, 2.0, st["packages"])
	assert.Equal(t, audit.Fingerprint("tok-a"), st["token"])
	sinks, ok := st["sinks"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, sinks, "shell_exec")
	assert.Equal(t, h.journal.Session(), st["session"])

	assert.True(t, audit.Verify(h.journal.Path()).Valid)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	ctx := context.Background()

	s, err := OpenStore(path)
	require.NoError(t, err)
	changed, err := s.SaveConfig(ctx, "tok", "payload")
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, s.Close())

	s, err = OpenStore(path)
	require.NoError(t, err)
	defer s.Close()
	token, payload, err := s.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, "payload", payload)
}

func TestOpenStoreEmptyPath(t *testing.T) {
	_, err := OpenStore("")
	assert.Error(t, err)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ConfigUpdates.WithLabelValues(ConfigStored).Inc()
	count, err := testutil.GatherAndCount(m.Registry(), "sinkguard_agent_config_updates_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NotNil(t, m.Handler())
}

func TestRunLifecycle(t *testing.T) {
	dir := shortDir(t)
	ai := supervisor.AgentInit{
		LogLevel: "INFO",
		Socket:   filepath.Join(dir, "agent.sock"),
		PIDFile:  filepath.Join(dir, "agent.pid"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, RunOptions{
			Init:    ai,
			Token:   "tok-run",
			Version: "1.4.0",
			Ready:   func() { close(ready) },
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent never became ready")
	}

	pid, err := supervisor.ReadPID(ai.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	client, err := Dial(ai.Socket)
	require.NoError(t, err)
	version, err := client.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", version)
	client.Close()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}

	_, err = os.Stat(ai.Socket)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(ai.PIDFile)
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(dir, "journal.jsonl"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), audit.KindStarted))
	assert.True(t, strings.Contains(string(data), audit.KindStopped))
}
