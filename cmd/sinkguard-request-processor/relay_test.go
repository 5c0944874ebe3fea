package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/sinkguard/internal/audit"
	"github.com/ppiankov/sinkguard/internal/bridge"
	"github.com/ppiankov/sinkguard/internal/companion"
	"github.com/ppiankov/sinkguard/internal/engineapi"
	"github.com/ppiankov/sinkguard/internal/model"
	"github.com/ppiankov/sinkguard/internal/supervisor"
)

// startCompanion serves a companion in a short temp dir and returns its socket.
func startCompanion(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "rp")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	sock := filepath.Join(dir, "agent.sock")
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- companion.Run(ctx, companion.RunOptions{
			Init:    supervisor.AgentInit{LogLevel: "ERROR", Socket: sock},
			Version: "1.4.0",
			Ready:   func() { close(ready) },
		})
	}()
	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("companion exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("companion never became ready")
	}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sock
}

func initJSON(token string) string {
	return bridge.InitData{Token: token, LogLevel: "ERROR", Packages: map[string]string{"example.com/lib": "v1.2.3"}}.JSON()
}

func TestRelayForwardsToCompanion(t *testing.T) {
	sock := startCompanion(t)
	r := newRelay(sock)

	require.True(t, r.init(bridge.PlatformInfo{Name: "net/http", Version: "go1.25"}.JSON()))
	id := r.createInstance(7, true)
	require.NotZero(t, id)
	require.True(t, r.initInstance(id, initJSON("tok-a")))

	assert.Equal(t, engineapi.ConfigSameToken, r.configUpdate(id, initJSON("tok-a")))
	assert.Equal(t, engineapi.ConfigReloaded, r.configUpdate(id, initJSON("tok-b")))
	assert.Equal(t, engineapi.ConfigPastSeenToken, r.configUpdate(id, initJSON("tok-a")))
	assert.Equal(t, engineapi.ConfigError, r.configUpdate(id, initJSON("")))

	r.reportStats(id, "exec.Cmd->Run", "exec_op", 2, 1, 0, 0, 10, []int64{1000, 2000})

	c, err := companion.Dial(sock)
	require.NoError(t, err)
	defer c.Close()
	status, err := c.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, audit.Fingerprint("tok-b"), status["token"])
	assert.Equal(t, float64(1), status["packages"])
	sinks, ok := status["sinks"].(map[string]any)
	require.True(t, ok)
	sink, ok := sinks["exec.Cmd->Run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), sink["detected"])
	assert.Equal(t, float64(1), sink["blocked"])

	r.destroyInstance(7)
	assert.Nil(t, r.lookup(id))
}

func TestRelayNeverReturnsVerdicts(t *testing.T) {
	r := newRelay(filepath.Join(t.TempDir(), "absent.sock"))
	id := r.createInstance(1, false)

	require.True(t, r.contextInit(id, func(int) string { return "/route" }))

	assert.Empty(t, r.onEvent(id, int(model.EventPreShellExecuted)))
	assert.Empty(t, r.onEvent(id, int(model.EventPreShellExecuted)))
	assert.Equal(t, 2, r.lookup(id).events[model.EventPreShellExecuted])
	assert.Equal(t, engineapi.BlockingUnset, r.blockingMode(id))
}

func TestRelayUnknownInstance(t *testing.T) {
	r := newRelay(filepath.Join(t.TempDir(), "absent.sock"))
	assert.False(t, r.initInstance(42, initJSON("tok")))
	assert.False(t, r.contextInit(42, func(int) string { return "" }))
	assert.Equal(t, engineapi.ConfigError, r.configUpdate(42, initJSON("tok")))
	assert.Empty(t, r.onEvent(42, int(model.EventPreRequest)))
	assert.False(t, r.init("not json"))
}

func TestRelayToleratesMissingCompanion(t *testing.T) {
	r := newRelay(filepath.Join(t.TempDir(), "absent.sock"))
	id := r.createInstance(3, false)
	require.True(t, r.initInstance(id, initJSON("tok")))
	assert.Equal(t, engineapi.ConfigReloaded, r.configUpdate(id, initJSON("tok-2")))

	done := make(chan struct{})
	go func() {
		r.reportStats(id, "os.Open", "fs_op", 0, 0, 0, 0, 1, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reportStats did not return")
	}
}
