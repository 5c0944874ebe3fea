package sinkguard

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/action"
	"github.com/ppiankov/sinkguard/internal/agent"
	"github.com/ppiankov/sinkguard/internal/config"
	"github.com/ppiankov/sinkguard/internal/handlers"
	"github.com/ppiankov/sinkguard/internal/hook"
	"github.com/ppiankov/sinkguard/internal/logging"
	"github.com/ppiankov/sinkguard/internal/model"
	"github.com/ppiankov/sinkguard/internal/supervisor"
)

// Guard owns the process-wide agent state. Safe for concurrent use.
type Guard struct {
	proc      *agent.ProcessState
	log       *zap.Logger
	blockCode int
}

// New initializes the agent for this process. The decision engine is
// bound lazily; when it cannot be loaded every call runs unprotected.
func New(ctx context.Context, opts ...Option) (*Guard, error) {
	gc := guardConfig{blockCode: http.StatusForbidden}
	for _, o := range opts {
		o(&gc)
	}

	cfg := gc.cfg
	if cfg == nil {
		var err error
		cfg, err = config.Load(config.Options{EnvFile: gc.envFile})
		if err != nil {
			return nil, fmt.Errorf("sinkguard: %w", err)
		}
	}

	log := gc.logger
	if log == nil {
		l, err := logging.New(logging.Options{Level: cfg.LogLevel, Debug: cfg.Debug, DiskLogs: cfg.DiskLogs})
		if err != nil {
			return nil, fmt.Errorf("sinkguard: %w", err)
		}
		log = l.Logger
	}

	reg := hook.NewRegistry()
	if err := handlers.RegisterAll(reg); err != nil {
		return nil, fmt.Errorf("sinkguard: %w", err)
	}

	ao := agent.Options{
		Config:   cfg,
		Platform: gc.platform,
		Loader:   gc.loader,
		Registry: reg,
		Packages: gc.packages,
		Token:    gc.token,
		Metrics:  gc.metrics,
		Logger:   log,

		CompileSlot: gc.compile,
	}
	if ao.Platform.Name == "" {
		ao.Platform.Name = "go"
	}
	if gc.supervise {
		ao.Supervisor = supervisor.New(supervisor.Config{
			Paths: supervisor.DefaultPaths(agent.Product, agent.Version),
			Init: supervisor.AgentInit{
				LogLevel: cfg.LogLevel,
				DiskLogs: cfg.DiskLogs,
				EnvFile:  gc.envFile,
			},
			Token:  cfg.Token,
			Logger: log,
		})
	}

	proc, err := agent.ModuleInit(ctx, ao)
	if err != nil {
		return nil, fmt.Errorf("sinkguard: %w", err)
	}
	return &Guard{proc: proc, log: log.With(zap.String("mod", "sdk")), blockCode: gc.blockCode}, nil
}

// Close flushes statistics and releases the engine.
func (g *Guard) Close(ctx context.Context) {
	g.proc.ModuleShutdown(ctx)
}

// Process exposes the agent state, for hosts driving sessions directly.
func (g *Guard) Process() *agent.ProcessState { return g.proc }

// Run executes fn as one request outside any HTTP server, such as a
// background job. Intercepted calls made with ctx inside fn are guarded.
// A blocking pre-request verdict is returned without running fn.
func (g *Guard) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	sess := g.proc.Pool().Get()
	defer g.proc.Pool().Put(sess)

	err := sess.RequestInit(ctx, model.RequestInfo{}, action.NopHost{})
	defer sess.RequestShutdown(ctx, 0)
	if err != nil {
		g.log.Info("job blocked", zap.Error(err))
		return err
	}
	return fn(withSession(ctx, sess))
}
