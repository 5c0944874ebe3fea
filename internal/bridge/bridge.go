package bridge

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Loader produces the engine at first use.
type Loader func() (DecisionEngine, error)

// PluginLoader loads the engine plugin at path.
func PluginLoader(path, expectedSHA256 string) Loader {
	return func() (DecisionEngine, error) {
		return OpenPlugin(path, expectedSHA256)
	}
}

// StaticLoader returns engine as is.
func StaticLoader(engine DecisionEngine) Loader {
	return func() (DecisionEngine, error) { return engine, nil }
}

// Config wires a Bridge.
type Config struct {
	Loader    Loader
	Platform  PlatformInfo
	Instances InstancePolicy
	Logger    *zap.Logger
	// BreakerFailures is the number of consecutive failed engine calls
	// that opens the breaker. Zero means 5.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open. Zero means 30s.
	BreakerTimeout time.Duration
}

// Bridge owns the engine binding and the per-thread instances.
type Bridge struct {
	mu      sync.Mutex
	cfg     Config
	engine  DecisionEngine
	bound   bool
	failure error
	handles map[uint64]*Handle

	breaker     *gobreaker.CircuitBreaker
	log         *zap.Logger
	unavailable rate.Sometimes
}

// New creates an unbound Bridge.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Instances == nil {
		cfg.Instances = PerThread{}
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	log := cfg.Logger.With(zap.String("mod", "bridge"))
	maxFailures := cfg.BreakerFailures
	return &Bridge{
		cfg:     cfg,
		handles: make(map[uint64]*Handle),
		log:     log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "decision-engine",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("engine breaker state changed",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
		unavailable: rate.Sometimes{First: 1, Interval: 5 * time.Minute},
	}
}

// Bind loads and initializes the engine once. A failure is remembered
// and returned by every later call without retrying.
func (b *Bridge) Bind() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bindLocked()
}

func (b *Bridge) bindLocked() error {
	if b.bound {
		return nil
	}
	if b.failure != nil {
		return b.failure
	}
	if b.cfg.Loader == nil {
		b.failure = fmt.Errorf("%w: no loader configured", ErrEngineUnavailable)
		return b.failure
	}

	var engine DecisionEngine
	err := guard(func() error {
		var err error
		engine, err = b.cfg.Loader()
		if err != nil {
			return err
		}
		return engine.Init(b.cfg.Platform.JSON())
	})
	if err != nil {
		b.failure = fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		b.log.Error("decision engine bind failed, protection disabled for this process", zap.Error(err))
		return b.failure
	}
	b.engine = engine
	b.bound = true
	b.log.Info("decision engine bound", zap.String("instances", b.cfg.Instances.Name()))
	return nil
}

// Bound reports whether the engine is bound.
func (b *Bridge) Bound() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound
}

// Err returns the permanent bind failure, if any.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failure
}

// Breaker exposes the breaker state for diagnostics.
func (b *Bridge) Breaker() gobreaker.State { return b.breaker.State() }

// Acquire returns the Handle for threadID, binding the engine and
// creating the instance on first use. Every Acquire must be paired with
// a Release.
func (b *Bridge) Acquire(threadID uint64) (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.bindLocked(); err != nil {
		b.unavailable.Do(func() {
			b.log.Warn("no decision engine, failing open", zap.Error(err))
		})
		return nil, err
	}

	key := b.cfg.Instances.Key(threadID)
	if h, ok := b.handles[key]; ok {
		h.refs++
		return h, nil
	}

	var inst Instance
	err := guard(func() error {
		var err error
		inst, err = b.engine.CreateInstance(key, b.cfg.Instances.Threaded())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bridge: create instance for thread %d: %w", threadID, err)
	}
	h := &Handle{
		bridge:   b,
		engine:   b.engine,
		key:      key,
		instance: inst,
		refs:     1,
		log:      b.log.With(zap.Uint64("thread", key)),
	}
	b.handles[key] = h
	return h, nil
}

// Release drops one reference to h. The last reference destroys the
// engine instance.
func (b *Bridge) Release(h *Handle) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.handles[h.key]
	if !ok || cur != h {
		return
	}
	h.refs--
	if h.refs > 0 {
		return
	}
	delete(b.handles, h.key)
	b.destroyLocked(h)
}

func (b *Bridge) destroyLocked(h *Handle) {
	err := guard(func() error {
		b.engine.Uninit(h.instance)
		b.engine.DestroyInstance(h.key)
		return nil
	})
	if err != nil {
		b.log.Warn("engine instance teardown failed", zap.Uint64("thread", h.key), zap.Error(err))
	}
}

// Instances returns the keys of live instances in order.
func (b *Bridge) Instances() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]uint64, 0, len(b.handles))
	for k := range b.handles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Shutdown destroys every live instance.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, h := range b.handles {
		delete(b.handles, key)
		b.destroyLocked(h)
	}
}

// call runs fn through the breaker. Panics count as failures.
func (b *Bridge) call(fn func() (any, error)) (any, error) {
	return b.breaker.Execute(func() (res any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("bridge: engine panic: %v", r)
			}
		}()
		return fn()
	})
}

// guard converts a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return fn()
}
