package bridge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/engineapi"
	"github.com/ppiankov/sinkguard/internal/model"
	"github.com/ppiankov/sinkguard/internal/stats"
)

// Handle is one engine instance as seen by the host threads using it.
type Handle struct {
	bridge   *Bridge
	engine   DecisionEngine
	key      uint64
	instance Instance
	refs     int
	log      *zap.Logger

	mu        sync.Mutex
	data      InitData
	token     string
	tokenSeen bool
	ready     bool
}

// Instance returns the engine-side instance.
func (h *Handle) Instance() Instance { return h.instance }

// Init sends the initial configuration and registers cb.
func (h *Handle) Init(data InitData, cb ContextCallback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ready {
		return nil
	}
	err := guard(func() error { return h.engine.InitInstance(h.instance, data.JSON()) })
	if err != nil {
		return fmt.Errorf("bridge: init instance: %w", err)
	}
	h.data = data
	h.token = data.Token
	h.tokenSeen = data.Token != ""
	h.ready = true
	if cb != nil {
		if err := guard(func() error { return h.engine.ContextInit(h.instance, cb) }); err != nil {
			return fmt.Errorf("bridge: context init: %w", err)
		}
	}
	return nil
}

// Ready reports whether Init succeeded.
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// SetCallback registers cb for the request about to be served.
func (h *Handle) SetCallback(cb ContextCallback) error {
	return guard(func() error { return h.engine.ContextInit(h.instance, cb) })
}

// Token returns the last token sent to the engine.
func (h *Handle) Token() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

// TokenSeen reports whether a non-empty token has reached the engine.
func (h *Handle) TokenSeen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokenSeen
}

// SetData replaces the non-token configuration used by later updates.
func (h *Handle) SetData(data InitData) {
	h.mu.Lock()
	h.data = data.WithToken(h.token)
	h.mu.Unlock()
}

// LoadConfig sends a configuration update carrying curr iff curr is
// non-empty and differs from prev. It reports whether an update was sent.
func (h *Handle) LoadConfig(prev, curr string) bool {
	if curr == "" || curr == prev {
		return false
	}
	h.mu.Lock()
	payload := h.data.WithToken(curr).JSON()
	h.mu.Unlock()

	res, err := h.bridge.call(func() (any, error) {
		return h.engine.ConfigUpdate(h.instance, payload), nil
	})
	if err != nil {
		h.log.Warn("config update not delivered", zap.Error(err))
		return false
	}

	switch res.(ConfigResult) {
	case ConfigError:
		h.log.Warn("engine rejected configuration update")
		return true
	case ConfigReloaded:
		h.log.Info("engine config reloaded for new token")
	case ConfigPastSeenToken:
		h.log.Debug("engine switched to a previously seen token")
	}
	h.mu.Lock()
	h.token = curr
	h.tokenSeen = true
	h.mu.Unlock()
	return true
}

// SetToken offers token to the engine, gated against the last token.
func (h *Handle) SetToken(token string) bool {
	return h.LoadConfig(h.Token(), token)
}

// SendEvent delivers kind to the engine. There is no reply when the
// breaker is open or the engine failed.
func (h *Handle) SendEvent(_ context.Context, kind model.EventKind) (string, bool) {
	res, err := h.bridge.call(func() (any, error) {
		reply, ok := h.engine.OnEvent(h.instance, kind)
		if !ok {
			return "", nil
		}
		return reply, nil
	})
	if err != nil {
		h.bridge.unavailable.Do(func() {
			h.log.Warn("engine call failed, failing open", zap.Stringer("event", kind), zap.Error(err))
		})
		return "", false
	}
	reply := res.(string)
	return reply, reply != ""
}

// BlockingMode returns the engine's blocking mode, or BlockingUnset when
// the engine cannot answer.
func (h *Handle) BlockingMode() int {
	mode := engineapi.BlockingUnset
	if err := guard(func() error {
		mode = h.engine.BlockingMode(h.instance)
		return nil
	}); err != nil {
		return engineapi.BlockingUnset
	}
	return mode
}

// IsBlockingEnabled resolves the engine's blocking mode, falling back to
// the configured flag when the engine has no opinion.
func (h *Handle) IsBlockingEnabled(fallback bool) bool {
	switch h.BlockingMode() {
	case engineapi.BlockingEnabled:
		return true
	case engineapi.BlockingDisabled:
		return false
	default:
		return fallback
	}
}

// ReportStats sends one sink's counters. It implements stats.Reporter.
func (h *Handle) ReportStats(_ context.Context, sink string, s stats.SinkStats) error {
	r := StatsReport{
		Sink:           sink,
		Kind:           s.Kind,
		Detected:       s.AttacksDetected,
		Blocked:        s.AttacksBlocked,
		Errored:        s.InterceptorThrewError,
		WithoutContext: s.WithoutContext,
		Total:          len(s.Timings),
		Timings:        s.Timings,
	}
	_, err := h.bridge.call(func() (any, error) {
		h.engine.ReportStats(h.instance, r)
		return nil, nil
	})
	return err
}

// BlockingState is used when no Handle is available.
func BlockingState(h *Handle, fallback bool) bool {
	if h == nil {
		return fallback
	}
	return h.IsBlockingEnabled(fallback)
}
