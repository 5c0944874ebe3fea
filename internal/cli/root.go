package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/agent"
	"github.com/ppiankov/sinkguard/internal/config"
	"github.com/ppiankov/sinkguard/internal/logging"
	"github.com/ppiankov/sinkguard/internal/supervisor"
)

var (
	envFile  string
	runDir   string
	logLevel string

	// stdout receives command output. Tests swap it.
	stdout io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "sinkguard",
	Short: "Runtime self-protection agent for Go services",
	Long: "Intercepts outgoing requests, process launches, file access and SQL\n" +
		"at run time and enforces the decision engine's verdicts in-process.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Framework env file read below the process environment")
	rootCmd.PersistentFlags().StringVar(&runDir, "run-dir", "", "Override the companion runtime directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override SINKGUARD_LOG_LEVEL")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{EnvFile: envFile})
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	l, err := logging.New(logging.Options{Level: cfg.LogLevel, Debug: cfg.Debug})
	if err != nil {
		return zap.NewNop()
	}
	return l.Logger
}

func companionPaths() supervisor.Paths {
	paths := supervisor.DefaultPaths(agent.Product, agent.Version)
	if runDir != "" {
		paths = paths.Under(runDir)
	}
	return paths
}

func newSupervisor(cfg *config.Config, log *zap.Logger) *supervisor.Supervisor {
	return supervisor.New(supervisor.Config{
		Paths: companionPaths(),
		Init: supervisor.AgentInit{
			LogLevel: cfg.LogLevel,
			DiskLogs: cfg.DiskLogs,
			EnvFile:  envFile,
		},
		Token:  cfg.Token,
		Logger: log,
	})
}

func printf(format string, args ...any) {
	fmt.Fprintf(stdout, format, args...)
}
