package bridge

import (
	"fmt"
	"strings"
)

// ReloadPolicy decides at request start whether configuration is
// re-read and offered to the engine.
type ReloadPolicy interface {
	Name() string
	ReloadOnRequest(tokenSeen bool) bool
}

// MultiTenant reloads on every request; one process may serve requests
// for different tokens.
type MultiTenant struct{}

func (MultiTenant) Name() string { return "multi-tenant" }
func (MultiTenant) ReloadOnRequest(bool) bool { return true }

// SingleTenant reloads only until a token has been seen.
type SingleTenant struct{}

func (SingleTenant) Name() string { return "single-tenant" }
func (SingleTenant) ReloadOnRequest(tokenSeen bool) bool { return !tokenSeen }

// InstancePolicy maps host threads onto engine instances.
type InstancePolicy interface {
	Name() string
	// Key returns the instance key for a thread.
	Key(threadID uint64) uint64
	// Threaded is passed to the engine at instance creation.
	Threaded() bool
}

// PerThread gives every thread its own instance.
type PerThread struct{}

func (PerThread) Name() string { return "per-thread" }
func (PerThread) Key(threadID uint64) uint64 { return threadID }
func (PerThread) Threaded() bool { return true }

// Shared uses one instance for the whole process. Only for hosts that
// serve one request at a time per process.
type Shared struct{}

func (Shared) Name() string { return "shared" }
func (Shared) Key(uint64) uint64 { return 0 }
func (Shared) Threaded() bool { return false }

// ParseReloadPolicy maps a configuration value to a ReloadPolicy.
func ParseReloadPolicy(s string) (ReloadPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single-tenant", "single":
		return SingleTenant{}, nil
	case "multi-tenant", "multi":
		return MultiTenant{}, nil
	default:
		return nil, fmt.Errorf("bridge: unknown reload policy %q", s)
	}
}

// ParseInstancePolicy maps a configuration value to an InstancePolicy.
func ParseInstancePolicy(s string) (InstancePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per-thread", "thread":
		return PerThread{}, nil
	case "shared", "process":
		return Shared{}, nil
	default:
		return nil, fmt.Errorf("bridge: unknown instance policy %q", s)
	}
}
