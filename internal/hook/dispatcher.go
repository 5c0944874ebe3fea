package hook

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ppiankov/sinkguard/internal/action"
	"github.com/ppiankov/sinkguard/internal/callctx"
	"github.com/ppiankov/sinkguard/internal/enforce"
	"github.com/ppiankov/sinkguard/internal/model"
	"github.com/ppiankov/sinkguard/internal/stats"
)

// Emitter sends an event and returns the applied verdict.
type Emitter interface {
	Emit(ctx context.Context, kind model.EventKind, sink action.Sink) model.Action
}

// Config wires a Dispatcher. Stack is required; the rest is optional.
type Config struct {
	Registry *Registry
	Stack    *callctx.Stack
	Request  *callctx.RequestContext
	Emitter  Emitter
	Stats    *stats.Table
	// Skip reports whether interception is off for the current call,
	// e.g. the agent is disabled or the client IP is bypassed.
	Skip   func() bool
	Logger *zap.Logger
}

// Dispatcher is the trampoline for one thread. Not safe for concurrent
// use; each thread owns its own.
type Dispatcher struct {
	registry *Registry
	stack    *callctx.Stack
	req      *callctx.RequestContext
	emitter  Emitter
	table    *stats.Table
	skip     func() bool
	log      *zap.Logger
	failures rate.Sometimes
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Stack == nil {
		cfg.Stack = &callctx.Stack{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		stack:    cfg.Stack,
		req:      cfg.Request,
		emitter:  cfg.Emitter,
		table:    cfg.Stats,
		skip:     cfg.Skip,
		log:      cfg.Logger,
		failures: rate.Sometimes{First: 5, Interval: time.Minute},
	}
}

// Stack returns the dispatcher's event context stack.
func (d *Dispatcher) Stack() *callctx.Stack { return d.stack }

// Invoke runs one intercepted call. Unregistered operations go straight
// to fallback. A blocking verdict returns an *enforce.EnforcementError
// without running the original. Handler failures are logged and the
// original runs as if unhooked.
func (d *Dispatcher) Invoke(ctx context.Context, key OperationKey, fallback Original, args ...any) (any, error) {
	entry, ok := d.registry.Lookup(key)
	if !ok {
		if fallback == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, key)
		}
		return fallback(ctx, args...)
	}
	original := entry.Original
	if original == nil {
		original = fallback
	}
	if original == nil {
		return nil, fmt.Errorf("hook: %s has no entry point", entry.Key)
	}
	if d.skip != nil && d.skip() {
		return original(ctx, args...)
	}

	sink := action.Sink{Name: entry.Key.String(), Kind: entry.Sink}
	if d.req != nil && !d.req.Initialized && d.table != nil {
		d.table.WithoutContext(sink.Name, string(sink.Kind))
	}

	frame, release := d.stack.Acquire()
	defer release()
	frame.FunctionName = sink.Name
	frame.Sink = string(sink.Kind)

	call := &Call{Key: entry.Key, Args: args, Event: frame, Request: d.req}
	var overhead time.Duration
	defer func() {
		if d.table != nil {
			d.table.AddTiming(sink.Name, string(sink.Kind), overhead)
		}
	}()

	start := time.Now()
	act, handled := d.phase(ctx, entry.Pre, call, sink)
	overhead += time.Since(start)
	if act.Blocked() {
		return nil, enforce.Enforce(act, sink.Name)
	}

	result, err := original(ctx, args...)
	if err != nil || !handled || entry.Post == nil {
		return result, err
	}

	call.Result = result
	start = time.Now()
	act, _ = d.phase(ctx, entry.Post, call, sink)
	overhead += time.Since(start)
	if act.Blocked() {
		return nil, enforce.Enforce(act, sink.Name)
	}
	return result, nil
}

// Wrap returns an entry point that dispatches through d.
func (d *Dispatcher) Wrap(key OperationKey, fn Original) Original {
	return func(ctx context.Context, args ...any) (any, error) {
		return d.Invoke(ctx, key, fn, args...)
	}
}

// phase runs one handler and sends its event. handled is false when the
// handler failed.
func (d *Dispatcher) phase(ctx context.Context, h Handler, call *Call, sink action.Sink) (model.Action, bool) {
	if h == nil {
		return model.Continue, true
	}
	kind, err := d.runHandler(h, call)
	if err != nil {
		if d.table != nil {
			d.table.Errored(sink.Name, string(sink.Kind))
		}
		d.failures.Do(func() {
			d.log.Error("interception handler failed, continuing unprotected",
				zap.String("operation", sink.Name), zap.Error(err))
		})
		return model.Continue, false
	}
	if !kind.Valid() || d.emitter == nil {
		return model.Continue, true
	}
	return d.emitter.Emit(ctx, kind, sink), true
}

func (d *Dispatcher) runHandler(h Handler, call *Call) (kind model.EventKind, err error) {
	defer func() {
		if r := recover(); r != nil {
			kind = model.EventNone
			err = fmt.Errorf("hook: handler panic: %v", r)
		}
	}()
	return h(call)
}
