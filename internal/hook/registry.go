package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/sinkguard/internal/callctx"
	"github.com/ppiankov/sinkguard/internal/model"
)

var (
	// ErrFrozen is returned when registering after startup.
	ErrFrozen = errors.New("hook: registry is frozen")
	// ErrNotRegistered is returned by Invoke for an unknown operation
	// with no fallback.
	ErrNotRegistered = errors.New("hook: operation not registered")
)

// Original is the pre-existing entry point of an intercepted operation.
type Original func(ctx context.Context, args ...any) (any, error)

// Call carries one intercepted invocation through its handlers.
type Call struct {
	Key     OperationKey
	Args    []any
	Event   *callctx.EventContext
	Request *callctx.RequestContext

	// Set after the original entry point returns.
	Result any
	Err    error
}

// Arg returns the i-th argument, or nil.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// StringArg returns the i-th argument if it is a string.
func (c *Call) StringArg(i int) (string, bool) {
	s, ok := c.Arg(i).(string)
	return s, ok
}

// Handler populates the call's EventContext and names the event to send.
// It returns model.EventNone when no event is needed.
type Handler func(c *Call) (model.EventKind, error)

// HookEntry is one registered operation.
type HookEntry struct {
	Key      OperationKey
	Sink     model.SinkKind
	Pre      Handler
	Post     Handler
	Original Original
}

// Registry holds the registered operations. It is built once at startup,
// frozen, and read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]*HookEntry
	methods   map[OperationKey]*HookEntry
	frozen    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[string]*HookEntry),
		methods:   make(map[OperationKey]*HookEntry),
	}
}

// Register adds an entry. The key is normalized. Pre is required.
func (r *Registry) Register(e HookEntry) error {
	if e.Key.Name == "" {
		return fmt.Errorf("hook: empty operation name")
	}
	if e.Pre == nil {
		return fmt.Errorf("hook: %s: pre handler is required", e.Key)
	}
	if e.Key.IsMethod() {
		e.Key = Method(e.Key.Scope, e.Key.Name)
	} else {
		e.Key = Function(e.Key.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%w: %s", ErrFrozen, e.Key)
	}
	if e.Key.IsMethod() {
		if _, dup := r.methods[e.Key]; dup {
			return fmt.Errorf("hook: %s registered twice", e.Key)
		}
		r.methods[e.Key] = &e
		return nil
	}
	if _, dup := r.functions[e.Key.Name]; dup {
		return fmt.Errorf("hook: %s registered twice", e.Key)
	}
	r.functions[e.Key.Name] = &e
	return nil
}

// MustRegister is Register that panics on error. For static tables.
func (r *Registry) MustRegister(e HookEntry) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup finds the entry for key. key need not be normalized.
func (r *Registry) Lookup(key OperationKey) (*HookEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if key.IsMethod() {
		e, ok := r.methods[Method(key.Scope, key.Name)]
		return e, ok
	}
	e, ok := r.functions[Function(key.Name).Name]
	return e, ok
}

// Keys lists all registered keys in sorted order.
func (r *Registry) Keys() []OperationKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]OperationKey, 0, len(r.functions)+len(r.methods))
	for _, e := range r.functions {
		keys = append(keys, e.Key)
	}
	for _, e := range r.methods {
		keys = append(keys, e.Key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.functions) + len(r.methods)
}
