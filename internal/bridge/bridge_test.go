package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/sinkguard/internal/bridge"
	"github.com/ppiankov/sinkguard/internal/bridge/enginetest"
	"github.com/ppiankov/sinkguard/internal/callctx"
	"github.com/ppiankov/sinkguard/internal/engineapi"
	"github.com/ppiankov/sinkguard/internal/model"
	"github.com/ppiankov/sinkguard/internal/stats"
)

func newBridge(t *testing.T, fake *enginetest.Fake, policy bridge.InstancePolicy) *bridge.Bridge {
	t.Helper()
	return bridge.New(bridge.Config{
		Loader:    bridge.StaticLoader(fake),
		Platform:  bridge.PlatformInfo{Name: "go", Version: "1.25"},
		Instances: policy,
	})
}

func acquireReady(t *testing.T, b *bridge.Bridge, thread uint64, token string) *bridge.Handle {
	t.Helper()
	h, err := b.Acquire(thread)
	require.NoError(t, err)
	require.NoError(t, h.Init(bridge.InitData{Token: token, LogLevel: "WARN"}, nil))
	return h
}

func TestBindFailureIsPermanent(t *testing.T) {
	loads := 0
	b := bridge.New(bridge.Config{Loader: func() (bridge.DecisionEngine, error) {
		loads++
		return nil, errors.New("no such file")
	}})

	for i := 0; i < 3; i++ {
		_, err := b.Acquire(uint64(i))
		require.Error(t, err)
		assert.True(t, errors.Is(err, bridge.ErrEngineUnavailable))
	}
	assert.Equal(t, 1, loads)
	assert.False(t, b.Bound())
	assert.Error(t, b.Err())
}

func TestBindInitFailureAndPanic(t *testing.T) {
	fake := enginetest.New()
	fake.FailInit = true
	b := newBridge(t, fake, nil)
	assert.ErrorIs(t, b.Bind(), bridge.ErrEngineUnavailable)

	panicking := bridge.New(bridge.Config{Loader: func() (bridge.DecisionEngine, error) { panic("bad lib") }})
	assert.ErrorIs(t, panicking.Bind(), bridge.ErrEngineUnavailable)

	none := bridge.New(bridge.Config{})
	assert.ErrorIs(t, none.Bind(), bridge.ErrEngineUnavailable)
}

func TestPerThreadInstances(t *testing.T) {
	fake := enginetest.New()
	b := newBridge(t, fake, bridge.PerThread{})

	h1, err := b.Acquire(1)
	require.NoError(t, err)
	h2, err := b.Acquire(2)
	require.NoError(t, err)
	again, err := b.Acquire(1)
	require.NoError(t, err)

	assert.NotEqual(t, h1.Instance(), h2.Instance())
	assert.Same(t, h1, again)
	assert.Equal(t, []uint64{1, 2}, fake.Created)
	assert.JSONEq(t, `{"platform_name":"go","platform_version":"1.25","agent_version":"","threaded":false}`, fake.Platform)

	b.Release(h1)
	assert.Empty(t, fake.Destroyed, "still referenced")
	b.Release(again)
	assert.Equal(t, []uint64{1}, fake.Destroyed)
	assert.Equal(t, []uint64{2}, b.Instances())

	b.Shutdown()
	assert.Equal(t, []uint64{1, 2}, fake.Destroyed)
	assert.Empty(t, b.Instances())
}

func TestSharedInstance(t *testing.T) {
	fake := enginetest.New()
	b := newBridge(t, fake, bridge.Shared{})
	h1, _ := b.Acquire(10)
	h2, _ := b.Acquire(20)
	assert.Same(t, h1, h2)
	assert.Equal(t, []uint64{0}, fake.Created)
}

func TestLoadConfigTokenGating(t *testing.T) {
	tests := []struct {
		prev, curr string
		sent       bool
	}{
		{"A", "A", false},
		{"A", "B", true},
		{"", "B", true},
		{"B", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		fake := enginetest.New()
		h := acquireReady(t, newBridge(t, fake, nil), 1, "")
		got := h.LoadConfig(tt.prev, tt.curr)
		assert.Equal(t, tt.sent, got, "LoadConfig(%q, %q)", tt.prev, tt.curr)
		if tt.sent {
			assert.Equal(t, []string{tt.curr}, fake.ConfigTokens())
			assert.Equal(t, tt.curr, h.Token())
			assert.True(t, h.TokenSeen())
		} else {
			assert.Empty(t, fake.ConfigUpdates)
		}
	}
}

func TestSetTokenGatesAgainstLastToken(t *testing.T) {
	fake := enginetest.New()
	h := acquireReady(t, newBridge(t, fake, nil), 1, "A")
	assert.True(t, h.TokenSeen())

	assert.False(t, h.SetToken("A"))
	assert.True(t, h.SetToken("B"))
	assert.False(t, h.SetToken("B"))
	assert.False(t, h.SetToken(""))
	assert.Equal(t, []string{"B"}, fake.ConfigTokens())

	h.SetData(bridge.InitData{LogLevel: "DEBUG", Blocking: true})
	assert.True(t, h.SetToken("C"))
	var last bridge.InitData
	require.NoError(t, json.Unmarshal([]byte(fake.ConfigUpdates[1]), &last))
	assert.Equal(t, "C", last.Token)
	assert.Equal(t, "DEBUG", last.LogLevel)
	assert.True(t, last.Blocking)
}

func TestSendEventFailsOpenAndTripsBreaker(t *testing.T) {
	fake := enginetest.New()
	b := bridge.New(bridge.Config{
		Loader:          bridge.StaticLoader(fake),
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	})
	h := acquireReady(t, b, 1, "")

	fake.Reply(model.EventPreShellExecuted, `{"action":"throw"}`)
	reply, ok := h.SendEvent(context.Background(), model.EventPreShellExecuted)
	require.True(t, ok)
	assert.Equal(t, `{"action":"throw"}`, reply)

	fake.Panic = true
	for i := 0; i < 2; i++ {
		_, ok = h.SendEvent(context.Background(), model.EventPreShellExecuted)
		assert.False(t, ok)
	}
	assert.Equal(t, gobreaker.StateOpen, b.Breaker())

	fake.Panic = false
	_, ok = h.SendEvent(context.Background(), model.EventPreShellExecuted)
	assert.False(t, ok, "open breaker fails open without calling the engine")
	assert.Len(t, fake.Events, 1)
}

func TestNullReply(t *testing.T) {
	h := acquireReady(t, newBridge(t, enginetest.New(), nil), 1, "")
	reply, ok := h.SendEvent(context.Background(), model.EventPreRequest)
	assert.False(t, ok)
	assert.Empty(t, reply)
}

func TestBlockingModeFallback(t *testing.T) {
	fake := enginetest.New()
	h := acquireReady(t, newBridge(t, fake, nil), 1, "")

	assert.True(t, h.IsBlockingEnabled(true))
	assert.False(t, h.IsBlockingEnabled(false))

	fake.Mode = engineapi.BlockingEnabled
	assert.True(t, h.IsBlockingEnabled(false))
	fake.Mode = engineapi.BlockingDisabled
	assert.False(t, h.IsBlockingEnabled(true))

	assert.True(t, bridge.BlockingState(nil, true))
}

func TestReportStats(t *testing.T) {
	fake := enginetest.New()
	h := acquireReady(t, newBridge(t, fake, nil), 1, "")

	err := h.ReportStats(context.Background(), "exec", stats.SinkStats{
		Kind:            "exec_op",
		AttacksDetected: 2,
		AttacksBlocked:  1,
		Timings:         []time.Duration{time.Millisecond, 2 * time.Millisecond},
	})
	require.NoError(t, err)
	require.Len(t, fake.Reports, 1)
	r := fake.Reports[0]
	assert.Equal(t, "exec", r.Sink)
	assert.Equal(t, 2, r.Detected)
	assert.Equal(t, 1, r.Blocked)
	assert.Equal(t, 2, r.Total)
}

func TestContextCallback(t *testing.T) {
	var req callctx.RequestContext
	req.Begin(model.RequestInfo{
		RemoteAddress: "10.0.0.7",
		Method:        "POST",
		HTTPS:         true,
		Headers:       map[string]string{"host": "example.com"},
	})
	req.UserID = "u1"
	req.Idor = &callctx.IdorConfig{ColumnName: "tenant_id", ExcludedTables: []string{"migrations"}}
	var stack callctx.Stack
	cb := bridge.NewContextCallback(&req, &stack)

	assert.Equal(t, "10.0.0.7", cb(model.CtxRemoteAddress))
	assert.Equal(t, "POST", cb(model.CtxMethod))
	assert.Equal(t, "1", cb(model.CtxHTTPS))
	assert.JSONEq(t, `{"host":"example.com"}`, cb(model.CtxHeaders))
	assert.Equal(t, "u1", cb(model.CtxUserID))
	assert.JSONEq(t, `{"column_name":"tenant_id","excluded_tables":["migrations"]}`, cb(model.CtxIdorConfig))
	assert.Empty(t, cb(model.CtxStatusCode))
	assert.Empty(t, cb(model.CtxCmd), "no frame pushed")

	req.IdorDisabled = true
	assert.Empty(t, cb(model.CtxIdorConfig))

	frame := stack.Push()
	frame.Cmd = "ls -la"
	frame.OutgoingRequestPort = 8443
	assert.Equal(t, "ls -la", cb(model.CtxCmd))
	assert.Equal(t, "8443", cb(model.CtxOutgoingRequestPort))
	assert.Empty(t, cb(model.CtxOutgoingRequestEffectiveURLPort))
}

func TestInitDataJSON(t *testing.T) {
	raw := bridge.InitData{Token: "tok", Blocking: true}.JSON()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	for _, key := range []string{"token", "platform_name", "platform_version", "endpoint", "config_endpoint",
		"log_level", "blocking", "trust_proxy", "disk_logs", "localhost_allowed_by_default",
		"collect_api_schema", "packages"} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, map[string]any{}, m["packages"])

	pkgs := bridge.BuildPackages(map[string]string{"laravel/framework": "11.0.0"})
	assert.Equal(t, "11.0.0", pkgs["laravel/framework"])
}

func TestParsePolicies(t *testing.T) {
	rp, err := bridge.ParseReloadPolicy("multi-tenant")
	require.NoError(t, err)
	assert.True(t, rp.ReloadOnRequest(true))
	rp, err = bridge.ParseReloadPolicy("")
	require.NoError(t, err)
	assert.True(t, rp.ReloadOnRequest(false))
	assert.False(t, rp.ReloadOnRequest(true))
	_, err = bridge.ParseReloadPolicy("sometimes")
	assert.Error(t, err)

	ip, err := bridge.ParseInstancePolicy("shared")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ip.Key(99))
	_, err = bridge.ParseInstancePolicy("per-coroutine")
	assert.Error(t, err)

	assert.Equal(t, "/opt/sinkguard-1.4.0/sinkguard-request-processor.so", bridge.LibraryPath("sinkguard", "1.4.0"))
}
