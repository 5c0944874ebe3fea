// Package bridge binds the external decision engine, keeps one engine
// instance per host thread, and gates configuration reloads on token
// changes. Every failure fails open: no reply means Continue.
package bridge

import (
	"errors"
	"time"

	"github.com/ppiankov/sinkguard/internal/model"
)

// ErrEngineUnavailable is returned after binding has failed. The failure
// is permanent for the lifetime of the process.
var ErrEngineUnavailable = errors.New("bridge: decision engine unavailable")

// Instance is an engine-side handle for one thread's state.
type Instance uint64

// ContextCallback answers the engine's lazy field lookups.
type ContextCallback func(field model.ContextField) string

// ConfigResult is the engine's answer to a configuration update.
type ConfigResult int

const (
	ConfigReloaded ConfigResult = iota
	ConfigPastSeenToken
	ConfigSameToken
	ConfigError
)

// StatsReport carries one sink's counters to the engine.
type StatsReport struct {
	Sink           string
	Kind           string
	Detected       int
	Blocked        int
	Errored        int
	WithoutContext int
	Total          int
	Timings        []time.Duration
}

// DecisionEngine is the external engine. The plugin-backed engine binds
// a shared library; enginetest.Fake serves tests.
type DecisionEngine interface {
	Init(platformInfo string) error
	CreateInstance(threadID uint64, threaded bool) (Instance, error)
	InitInstance(inst Instance, initJSON string) error
	ContextInit(inst Instance, cb ContextCallback) error
	ConfigUpdate(inst Instance, initJSON string) ConfigResult
	// OnEvent returns the raw reply; ok is false for a null reply.
	OnEvent(inst Instance, kind model.EventKind) (reply string, ok bool)
	BlockingMode(inst Instance) int
	ReportStats(inst Instance, r StatsReport)
	Uninit(inst Instance)
	DestroyInstance(threadID uint64)
}
