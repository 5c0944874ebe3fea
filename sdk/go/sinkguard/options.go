package sinkguard

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/astinject"
	"github.com/ppiankov/sinkguard/internal/bridge"
	"github.com/ppiankov/sinkguard/internal/config"
	"github.com/ppiankov/sinkguard/internal/model"
)

// Option configures a Guard at creation time.
type Option func(*guardConfig)

type guardConfig struct {
	cfg       *config.Config
	envFile   string
	platform  bridge.PlatformInfo
	loader    bridge.Loader
	logger    *zap.Logger
	metrics   prometheus.Registerer
	packages  map[string]string
	token     func(model.RequestInfo) string
	supervise bool
	blockCode int
	compile   *astinject.Slot
}

// WithConfig uses cfg instead of resolving the environment.
func WithConfig(cfg *config.Config) Option {
	return func(c *guardConfig) { c.cfg = cfg }
}

// WithEnvFile reads a framework .env file below the process environment.
func WithEnvFile(path string) Option {
	return func(c *guardConfig) { c.envFile = path }
}

// WithPlatform names the host framework reported to the engine.
func WithPlatform(name, version string) Option {
	return func(c *guardConfig) { c.platform.Name, c.platform.Version = name, version }
}

// WithLoader replaces the installed engine plugin, e.g. with a fake in tests.
func WithLoader(l bridge.Loader) Option {
	return func(c *guardConfig) { c.loader = l }
}

// WithLogger sets the zap logger. Defaults to one built from the config.
func WithLogger(l *zap.Logger) Option {
	return func(c *guardConfig) { c.logger = l }
}

// WithMetrics registers the sink statistics mirror on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *guardConfig) { c.metrics = reg }
}

// WithPackages adds entries to the package inventory sent to the engine.
func WithPackages(pkgs map[string]string) Option {
	return func(c *guardConfig) { c.packages = pkgs }
}

// WithTenantToken resolves a per-request token for multi-tenant services.
func WithTenantToken(fn func(model.RequestInfo) string) Option {
	return func(c *guardConfig) { c.token = fn }
}

// WithCompanion makes New ensure the companion process is running.
func WithCompanion() Option {
	return func(c *guardConfig) { c.supervise = true }
}

// WithBlockStatus sets the status written by Blocked for throw verdicts
// that carry no code. Defaults to 403.
func WithBlockStatus(code int) Option {
	return func(c *guardConfig) { c.blockCode = code }
}

// WithCompileHook installs the auto-protect injector into slot, for hosts
// that embed a script runtime with a compile hook.
func WithCompileHook(slot *astinject.Slot) Option {
	return func(c *guardConfig) { c.compile = slot }
}
