package companion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/sinkguard/internal/audit"
	"github.com/ppiankov/sinkguard/internal/config"
	"github.com/ppiankov/sinkguard/internal/supervisor"
)

// RunOptions configures Run.
type RunOptions struct {
	Init    supervisor.AgentInit
	Token   string
	Version string
	// DataDir holds the database and journal. Defaults to the socket's
	// directory.
	DataDir string
	Logger  *zap.Logger
	// SetLevel is called with the log level after an env-file reload.
	SetLevel func(level string)
	// Ready, if set, is called once the socket is accepting.
	Ready func()
}

// Run serves the companion until ctx is cancelled.
func Run(ctx context.Context, opts RunOptions) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("mod", "agent"))

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = filepath.Dir(opts.Init.Socket)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	if opts.Init.PIDFile != "" {
		if err := supervisor.AcquirePIDFile(opts.Init.PIDFile); err != nil {
			return fmt.Errorf("acquire PID lock: %w", err)
		}
		defer func() { _ = os.Remove(opts.Init.PIDFile) }()
	}

	store, err := OpenStore(filepath.Join(dataDir, "agent.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	journal, err := audit.Open(filepath.Join(dataDir, "journal.jsonl"))
	if err != nil {
		return err
	}
	defer journal.Close()

	metrics := NewMetrics()
	srv, err := NewServer(ServerConfig{
		Version: opts.Version,
		Store:   store,
		Journal: journal,
		Metrics: metrics,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	srv.journal(audit.Entry{Kind: audit.KindStarted, Token: audit.Fingerprint(opts.Token), Detail: opts.Version})

	lis, err := Listen(opts.Init.Socket)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(opts.Init.Socket) }()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ServeOn(lis); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if opts.Init.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: opts.Init.Metrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	if opts.Init.EnvFile != "" {
		w, err := config.NewWatcher(config.Options{EnvFile: opts.Init.EnvFile}, func(c *config.Config) {
			if opts.SetLevel != nil {
				opts.SetLevel(c.LogLevel)
			}
		}, log)
		if err != nil {
			log.Warn("env file not watched", zap.String("file", opts.Init.EnvFile), zap.Error(err))
		} else {
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	log.Info("agent serving", zap.String("socket", opts.Init.Socket), zap.Int("pid", os.Getpid()))
	if opts.Ready != nil {
		opts.Ready()
	}

	g.Go(func() error {
		<-ctx.Done()
		srv.GracefulStop()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	err = g.Wait()
	srv.journal(audit.Entry{Kind: audit.KindStopped})
	log.Info("agent stopped")
	return err
}
