package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sinkguard/internal/config"
)

var (
	configFormat string
	configWatch  bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "Output format (yaml|json)")
	configCmd.Flags().BoolVar(&configWatch, "watch", false, "Print the configuration again whenever the env file changes")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved agent configuration",
	Long: "Resolves SINKGUARD_* settings from the process environment and the\n" +
		"--env-file, with defaults for anything unset, and prints the result.\n" +
		"The token is masked.",
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := printConfig(cfg); err != nil {
		return err
	}
	if !configWatch {
		return nil
	}
	if envFile == "" {
		return fmt.Errorf("--watch requires --env-file")
	}

	w, err := config.NewWatcher(config.Options{EnvFile: envFile}, func(c *config.Config) {
		printf("---\n")
		if err := printConfig(c); err != nil {
			printf("error: %v\n", err)
		}
	}, newLogger(cfg))
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return w.Run(ctx)
}

// configView keys the configuration by variable name.
func configView(cfg *config.Config) map[string]string {
	token := ""
	if cfg.Token != "" {
		token = "****"
	}
	b := strconv.FormatBool
	return map[string]string{
		config.Prefix + config.KeyDebug:                     b(cfg.Debug),
		config.Prefix + config.KeyLogLevel:                  cfg.LogLevel,
		config.Prefix + config.KeyBlocking:                  b(cfg.Blocking),
		config.Prefix + config.KeyDisable:                   b(cfg.Disable),
		config.Prefix + config.KeyDiskLogs:                  b(cfg.DiskLogs),
		config.Prefix + config.KeyLocalhostAllowedByDefault: b(cfg.LocalhostAllowedByDefault),
		config.Prefix + config.KeyTrustProxy:                b(cfg.TrustProxy),
		config.Prefix + config.KeyCollectAPISchema:          b(cfg.CollectAPISchema),
		config.Prefix + config.KeyToken:                     token,
		config.Prefix + config.KeyEndpoint:                  cfg.Endpoint,
		config.Prefix + config.KeyRealtimeEndpoint:          cfg.ConfigEndpoint,
		config.Prefix + config.KeyReportStatsInterval:       strconv.Itoa(cfg.ReportStatsInterval),
		config.Prefix + config.KeyMode:                      cfg.Mode,
		config.Prefix + config.KeyInstances:                 cfg.Instances,
	}
}

func printConfig(cfg *config.Config) error {
	view := configView(cfg)
	switch configFormat {
	case "json":
		out, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return err
		}
		printf("%s\n", out)
	default:
		out, err := yaml.Marshal(view)
		if err != nil {
			return err
		}
		printf("%s", out)
	}
	return nil
}
