// Package agent wires interception, the decision bridge and statistics
// into the lifecycle a host drives: module init, per-thread sessions,
// request init and shutdown, module shutdown.
package agent

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/astinject"
	"github.com/ppiankov/sinkguard/internal/bridge"
	"github.com/ppiankov/sinkguard/internal/config"
	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/model"
	"github.com/ppiankov/sinkguard/internal/stats"
	"github.com/ppiankov/sinkguard/internal/supervisor"
)

// Product and Version name the installed artifacts.
const (
	Product = "sinkguard"
	Version = "1.4.0"
)

// Options configures ModuleInit.
type Options struct {
	// Config defaults to the process environment.
	Config *config.Config
	// Platform identifies the host. Threads is derived from the instance
	// policy.
	Platform bridge.PlatformInfo
	// Loader defaults to the versioned engine plugin path.
	Loader bridge.Loader
	// Registry holds the intercepted operations. It is frozen by
	// ModuleInit.
	Registry *hook.Registry
	// Packages are merged into the Go build inventory sent to the engine.
	Packages map[string]string
	// Token resolves the token for a request in multi-tenant hosts.
	// Defaults to the configured token.
	Token func(model.RequestInfo) string
	// Supervisor, if set, is asked to ensure the companion is running.
	Supervisor *supervisor.Supervisor
	// CompileSlot, if set, is the host's compile hook. The auto-protect
	// injector is installed there for the life of the process.
	CompileSlot *astinject.Slot
	// CLI marks a command-line host, where request blocking checks are
	// skipped.
	CLI bool

	Metrics prometheus.Registerer
	Logger  *zap.Logger

	// BreakerFailures tunes the engine breaker. Zero keeps the default.
	BreakerFailures uint32
}

// ProcessState is the process-wide agent state.
type ProcessState struct {
	cfg      *config.Config
	opts     Options
	log      *zap.Logger
	bridge   *bridge.Bridge
	table    *stats.Table
	flusher  *stats.Flusher
	registry *hook.Registry
	reload   bridge.ReloadPolicy
	initData bridge.InitData
	pool     *Pool
	injector *astinject.Injector
}

// ModuleInit prepares the agent for this process. Companion supervision
// errors are logged, never returned; the engine is bound on first use.
func ModuleInit(ctx context.Context, opts Options) (*ProcessState, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.FromEnv(); err != nil {
			return nil, fmt.Errorf("agent: load config: %w", err)
		}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("mod", "agent"))

	reload, err := bridge.ParseReloadPolicy(cfg.Mode)
	if err != nil {
		log.Warn("unknown tenancy mode, using single-tenant", zap.String("mode", cfg.Mode))
		reload = bridge.SingleTenant{}
	}
	instances, err := bridge.ParseInstancePolicy(cfg.Instances)
	if err != nil {
		log.Warn("unknown instance policy, using per-thread", zap.String("instances", cfg.Instances))
		instances = bridge.PerThread{}
	}

	loader := opts.Loader
	if loader == nil {
		loader = bridge.PluginLoader(bridge.LibraryPath(Product, Version), cfg.EngineSHA256)
	}
	platform := opts.Platform
	if platform.Agent == "" {
		platform.Agent = Version
	}
	platform.Threads = instances.Threaded()

	registry := opts.Registry
	if registry == nil {
		registry = hook.NewRegistry()
	}
	registry.Freeze()

	table := stats.NewTable(stats.NewMetrics(opts.Metrics))
	p := &ProcessState{
		cfg:  cfg,
		opts: opts,
		log:  log,
		bridge: bridge.New(bridge.Config{
			Loader:          loader,
			Platform:        platform,
			Instances:       instances,
			Logger:          opts.Logger,
			BreakerFailures: opts.BreakerFailures,
		}),
		table:    table,
		flusher:  stats.NewFlusher(table, cfg.ReportStatsInterval),
		registry: registry,
		reload:   reload,
		initData: bridge.InitData{
			Token:                     cfg.Token,
			PlatformName:              platform.Name,
			PlatformVersion:           platform.Version,
			Endpoint:                  cfg.Endpoint,
			ConfigEndpoint:            cfg.ConfigEndpoint,
			LogLevel:                  cfg.LogLevel,
			Blocking:                  cfg.Blocking,
			TrustProxy:                cfg.TrustProxy,
			DiskLogs:                  cfg.DiskLogs,
			LocalhostAllowedByDefault: cfg.LocalhostAllowedByDefault,
			CollectAPISchema:          cfg.CollectAPISchema,
			Packages:                  bridge.BuildPackages(opts.Packages),
		},
	}
	p.pool = newPool(p)

	if cfg.Disable {
		log.Info("agent disabled by configuration")
		return p, nil
	}
	if opts.CompileSlot != nil {
		in := astinject.NewInjector(astinject.AutoBlockFunction, log)
		if err := in.Hook(opts.CompileSlot); err != nil {
			log.Warn("auto-protect not installed", zap.Error(err))
		} else {
			p.injector = in
		}
	}
	if opts.Supervisor != nil {
		if _, err := opts.Supervisor.Ensure(ctx); err != nil {
			log.Error("companion agent not started, will retry at next startup", zap.Error(err))
		}
	}
	log.Info("agent initialized",
		zap.String("mode", reload.Name()),
		zap.String("instances", instances.Name()),
		zap.Int("stats_interval", p.flusher.Interval()),
		zap.Bool("blocking", cfg.Blocking))
	return p, nil
}

// ModuleShutdown removes the compile hook, flushes pending statistics
// through a configured instance and destroys every engine instance. The
// companion is left running.
func (p *ProcessState) ModuleShutdown(ctx context.Context) {
	if p.injector != nil {
		p.injector.Unhook()
		p.injector = nil
	}
	if p.bridge.Bound() && len(p.table.Sinks()) > 0 {
		p.finalFlush(ctx)
	}
	p.pool.Close()
	p.bridge.Shutdown()
	p.log.Info("agent shut down", zap.Uint64("requests", p.flusher.Requests()))
}

// finalFlush reports through a live session's instance, or through a
// fresh one initialized with the module configuration when no session
// holds an instance.
func (p *ProcessState) finalFlush(ctx context.Context) {
	h := p.pool.handle()
	if h == nil {
		fresh, err := p.bridge.Acquire(0)
		if err != nil {
			return
		}
		defer p.bridge.Release(fresh)
		if err := fresh.Init(p.initData, nil); err != nil {
			p.log.Warn("final stats flush skipped", zap.Error(err))
			return
		}
		h = fresh
	}
	if err := p.flusher.Flush(ctx, h); err != nil {
		p.log.Warn("final stats flush failed", zap.Error(err))
	}
}

// Config returns the resolved configuration.
func (p *ProcessState) Config() *config.Config { return p.cfg }

// Bridge returns the decision bridge.
func (p *ProcessState) Bridge() *bridge.Bridge { return p.bridge }

// Stats returns the process-wide statistics table.
func (p *ProcessState) Stats() *stats.Table { return p.table }

// Flusher returns the statistics flusher.
func (p *ProcessState) Flusher() *stats.Flusher { return p.flusher }

// Registry returns the frozen operation registry.
func (p *ProcessState) Registry() *hook.Registry { return p.registry }

// Pool returns the session pool.
func (p *ProcessState) Pool() *Pool { return p.pool }

// Disabled reports whether the agent is switched off.
func (p *ProcessState) Disabled() bool { return p.cfg.Disable }

func (p *ProcessState) tokenFor(info model.RequestInfo) string {
	if p.opts.Token != nil {
		if t := p.opts.Token(info); t != "" {
			return t
		}
	}
	return p.cfg.Token
}

// discard drops flushed statistics when no engine is available.
type discard struct{}

func (discard) ReportStats(context.Context, string, stats.SinkStats) error { return nil }
