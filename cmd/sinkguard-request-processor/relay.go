package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/agent"
	"github.com/ppiankov/sinkguard/internal/bridge"
	"github.com/ppiankov/sinkguard/internal/companion"
	"github.com/ppiankov/sinkguard/internal/engineapi"
	"github.com/ppiankov/sinkguard/internal/logging"
	"github.com/ppiankov/sinkguard/internal/model"
	"github.com/ppiankov/sinkguard/internal/supervisor"
)

// SocketEnv overrides the companion socket the relay dials.
const SocketEnv = "SINKGUARD_AGENT_SOCKET"

const relayTimeout = 2 * time.Second

func companionSocket() string {
	if s := os.Getenv(SocketEnv); s != "" {
		return s
	}
	return supervisor.DefaultPaths(agent.Product, agent.Version).Socket
}

type instance struct {
	threadID uint64
	token    string
	seen     map[string]bool
	callback engineapi.ContextCallback
	events   map[model.EventKind]int
}

type relay struct {
	socket string
	nextID atomic.Uint64

	mu        sync.Mutex
	platform  bridge.PlatformInfo
	log       *zap.Logger
	client    *companion.Client
	instances map[uint64]*instance
}

func newRelay(socket string) *relay {
	return &relay{socket: socket, log: zap.NewNop(), instances: make(map[uint64]*instance)}
}

func (r *relay) init(platformInfo string) bool {
	var p bridge.PlatformInfo
	if err := json.Unmarshal([]byte(platformInfo), &p); err != nil {
		return false
	}
	r.mu.Lock()
	r.platform = p
	r.mu.Unlock()
	return true
}

func (r *relay) createInstance(threadID uint64, _ bool) uint64 {
	id := r.nextID.Add(1)
	r.mu.Lock()
	r.instances[id] = &instance{
		threadID: threadID,
		seen:     make(map[string]bool),
		events:   make(map[model.EventKind]int),
	}
	r.mu.Unlock()
	return id
}

func (r *relay) logger() *zap.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log
}

func (r *relay) lookup(id uint64) *instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instances[id]
}

// dial returns the shared companion client, creating it on first use.
func (r *relay) dial() *companion.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client
	}
	c, err := companion.Dial(r.socket)
	if err != nil {
		r.log.Warn("companion unavailable", zap.String("socket", r.socket), zap.Error(err))
		return nil
	}
	r.client = c
	return c
}

func (r *relay) initInstance(id uint64, initJSON string) bool {
	inst := r.lookup(id)
	if inst == nil {
		return false
	}
	var data bridge.InitData
	if err := json.Unmarshal([]byte(initJSON), &data); err != nil {
		return false
	}

	if l, err := logging.New(logging.Options{Level: data.LogLevel, DiskLogs: data.DiskLogs}); err == nil {
		r.mu.Lock()
		r.log = l.Logger.With(zap.String("mod", "request-processor"))
		r.mu.Unlock()
	}

	if data.Token != "" {
		r.pushConfig(inst, data.Token, initJSON)
	}
	if c := r.dial(); c != nil && len(data.Packages) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		defer cancel()
		if err := c.ReportPackages(ctx, data.Packages); err != nil {
			r.logger().Warn("failed to report packages", zap.Error(err))
		}
	}
	return true
}

func (r *relay) contextInit(id uint64, cb engineapi.ContextCallback) bool {
	inst := r.lookup(id)
	if inst == nil || cb == nil {
		return false
	}
	r.mu.Lock()
	inst.callback = cb
	r.mu.Unlock()
	return true
}

func (r *relay) configUpdate(id uint64, initJSON string) int {
	inst := r.lookup(id)
	if inst == nil {
		return engineapi.ConfigError
	}
	var data bridge.InitData
	if err := json.Unmarshal([]byte(initJSON), &data); err != nil || data.Token == "" {
		return engineapi.ConfigError
	}

	r.mu.Lock()
	current, seen := inst.token, inst.seen[data.Token]
	r.mu.Unlock()
	switch {
	case data.Token == current:
		return engineapi.ConfigSameToken
	case seen:
		r.mu.Lock()
		inst.token = data.Token
		r.mu.Unlock()
		return engineapi.ConfigPastSeenToken
	}
	r.pushConfig(inst, data.Token, initJSON)
	return engineapi.ConfigReloaded
}

// pushConfig records token as the instance's current one and forwards it.
// A companion failure leaves the token applied locally.
func (r *relay) pushConfig(inst *instance, token, payload string) {
	r.mu.Lock()
	inst.token = token
	inst.seen[token] = true
	r.mu.Unlock()

	c := r.dial()
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if _, err := c.UpdateConfig(ctx, token, payload); err != nil {
		r.logger().Warn("failed to relay configuration", zap.Error(err))
	}
}

func (r *relay) onEvent(id uint64, eventID int) string {
	inst := r.lookup(id)
	if inst == nil {
		return ""
	}
	kind := model.EventKind(eventID)
	r.mu.Lock()
	inst.events[kind]++
	cb := inst.callback
	r.mu.Unlock()

	if cb != nil && r.logger().Core().Enabled(zap.DebugLevel) {
		r.logger().Debug("event", zap.Stringer("kind", kind), zap.String("route", cb(int(model.CtxRoute))))
	}
	return ""
}

func (r *relay) blockingMode(uint64) int {
	return engineapi.BlockingUnset
}

func (r *relay) reportStats(_ uint64, sink, kind string, detected, blocked, errored, withoutContext, total int, timingsNanos []int64) {
	c := r.dial()
	if c == nil {
		return
	}
	timings := make([]time.Duration, len(timingsNanos))
	for i, n := range timingsNanos {
		timings[i] = time.Duration(n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	err := c.ReportStats(ctx, companion.StatsReport{
		Sink:           sink,
		Kind:           kind,
		Detected:       detected,
		Blocked:        blocked,
		Errored:        errored,
		WithoutContext: withoutContext,
		Total:          total,
		Timings:        timings,
	})
	if err != nil {
		r.logger().Warn("failed to relay stats", zap.String("sink", sink), zap.Error(err))
	}
}

func (r *relay) uninit(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst := r.instances[id]; inst != nil {
		inst.callback = nil
	}
}

func (r *relay) destroyInstance(threadID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, inst := range r.instances {
		if inst.threadID == threadID {
			delete(r.instances, id)
		}
	}
	if len(r.instances) == 0 && r.client != nil {
		_ = r.client.Close()
		r.client = nil
	}
}
