package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last write.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the configuration when the .env file changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	opts     Options
	file     string
	debounce time.Duration
	onChange func(*Config)
	log      *zap.Logger

	mu      sync.Mutex
	current *Config
}

// NewWatcher watches the directory holding opts.EnvFile so that editors
// replacing the file by rename are still seen.
func NewWatcher(opts Options, onChange func(*Config), log *zap.Logger) (*Watcher, error) {
	if opts.EnvFile == "" {
		return nil, fmt.Errorf("config: watcher needs an env file")
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := Load(opts)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(opts.EnvFile)
	if _, err := os.Stat(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %q: %w", dir, err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	return &Watcher{
		watcher:  fw,
		opts:     opts,
		file:     filepath.Clean(opts.EnvFile),
		debounce: DefaultDebounce,
		onChange: onChange,
		log:      log.With(zap.String("mod", "config")),
		current:  cfg,
	}, nil
}

// SetDebounce changes the debounce window. Call before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) reload() {
	cfg, err := Load(w.opts)
	if err != nil {
		w.log.Warn("reload failed", zap.Error(err))
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.log.Info("configuration reloaded", zap.String("file", w.file), zap.String("log_level", cfg.LogLevel))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(w.debounce, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error", zap.Error(err))
		}
	}
}
