// Package enginetest provides an in-memory decision engine for tests.
package enginetest

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/ppiankov/sinkguard/internal/bridge"
	"github.com/ppiankov/sinkguard/internal/engineapi"
	"github.com/ppiankov/sinkguard/internal/model"
)

// Event is one OnEvent call as seen by the fake.
type Event struct {
	Instance bridge.Instance
	Kind     model.EventKind
	// Fields holds the context values the fake pulled through the
	// callback at the time of the call.
	Fields map[model.ContextField]string
}

// Fake is a scriptable DecisionEngine. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// FailInit makes Init fail.
	FailInit bool
	// Mode is returned by BlockingMode.
	Mode int
	// Pull lists the context fields read on every event.
	Pull []model.ContextField
	// Panic makes OnEvent panic.
	Panic bool

	replies   map[model.EventKind][]string
	callbacks map[bridge.Instance]bridge.ContextCallback
	next      bridge.Instance

	Platform      string
	Created       []uint64
	Destroyed     []uint64
	Uninited      []bridge.Instance
	InitPayloads  []string
	ConfigUpdates []string
	Events        []Event
	Reports       []bridge.StatsReport
	// Reporters holds the instance each report arrived on.
	Reporters []bridge.Instance
}

// New creates a fake with blocking mode unset.
func New() *Fake {
	return &Fake{
		Mode:      engineapi.BlockingUnset,
		replies:   make(map[model.EventKind][]string),
		callbacks: make(map[bridge.Instance]bridge.ContextCallback),
	}
}

// Reply queues a raw reply for the next event of kind. The last queued
// reply for a kind repeats.
func (f *Fake) Reply(kind model.EventKind, raw string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[kind] = append(f.replies[kind], raw)
	return f
}

// ReplyJSON queues v encoded as JSON.
func (f *Fake) ReplyJSON(kind model.EventKind, v any) *Fake {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return f.Reply(kind, string(b))
}

func (f *Fake) Init(platformInfo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailInit {
		return errors.New("fake: init failed")
	}
	f.Platform = platformInfo
	return nil
}

func (f *Fake) CreateInstance(threadID uint64, _ bool) (bridge.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.Created = append(f.Created, threadID)
	return f.next, nil
}

func (f *Fake) InitInstance(_ bridge.Instance, initJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InitPayloads = append(f.InitPayloads, initJSON)
	return nil
}

func (f *Fake) ContextInit(inst bridge.Instance, cb bridge.ContextCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[inst] = cb
	return nil
}

func (f *Fake) ConfigUpdate(_ bridge.Instance, initJSON string) bridge.ConfigResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConfigUpdates = append(f.ConfigUpdates, initJSON)
	return bridge.ConfigReloaded
}

func (f *Fake) OnEvent(inst bridge.Instance, kind model.EventKind) (string, bool) {
	f.mu.Lock()
	if f.Panic {
		f.mu.Unlock()
		panic("fake: engine crashed")
	}
	cb := f.callbacks[inst]
	pull := append([]model.ContextField(nil), f.Pull...)
	f.mu.Unlock()

	// The callback reads host state; call it without holding the lock.
	ev := Event{Instance: inst, Kind: kind}
	if cb != nil && len(pull) > 0 {
		ev.Fields = make(map[model.ContextField]string, len(pull))
		for _, field := range pull {
			ev.Fields[field] = cb(field)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, ev)
	queue := f.replies[kind]
	if len(queue) == 0 {
		return "", false
	}
	reply := queue[0]
	if len(queue) > 1 {
		f.replies[kind] = queue[1:]
	}
	return reply, reply != ""
}

func (f *Fake) BlockingMode(bridge.Instance) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Mode
}

func (f *Fake) ReportStats(inst bridge.Instance, r bridge.StatsReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reports = append(f.Reports, r)
	f.Reporters = append(f.Reporters, inst)
}

func (f *Fake) Uninit(inst bridge.Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uninited = append(f.Uninited, inst)
}

func (f *Fake) DestroyInstance(threadID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Destroyed = append(f.Destroyed, threadID)
}

// EventKinds returns the kinds received so far.
func (f *Fake) EventKinds() []model.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.EventKind, len(f.Events))
	for i, e := range f.Events {
		out[i] = e.Kind
	}
	return out
}

// LastEvent returns the most recent event.
func (f *Fake) LastEvent() (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Events) == 0 {
		return Event{}, false
	}
	return f.Events[len(f.Events)-1], true
}

// ReportCount returns the number of ReportStats calls.
func (f *Fake) ReportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Reports)
}

// ConfigTokens decodes the token of every configuration update.
func (f *Fake) ConfigTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.ConfigUpdates))
	for _, raw := range f.ConfigUpdates {
		var d bridge.InitData
		_ = json.Unmarshal([]byte(raw), &d)
		out = append(out, d.Token)
	}
	return out
}

var _ bridge.DecisionEngine = (*Fake)(nil)
