package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sinkguard/internal/agent"
	"github.com/ppiankov/sinkguard/internal/config"
)

var (
	initDir   string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write the env file and example scenarios into")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default env file and an example scenario",
	Long: `Creates, in --dir:

  sinkguard.env              every SINKGUARD_* setting at its default
  scenarios/example.yaml     a scenario for "sinkguard simulate"

Existing files are left alone unless --force is given.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	var created []string

	envPath := filepath.Join(initDir, agent.Product+".env")
	if wrote, err := writeIfMissing(envPath, defaultEnvFile()); err != nil {
		return err
	} else if wrote {
		created = append(created, envPath)
	}

	scenarioPath := filepath.Join(initDir, "scenarios", "example.yaml")
	if wrote, err := writeIfMissing(scenarioPath, exampleScenario); err != nil {
		return err
	} else if wrote {
		created = append(created, scenarioPath)
	}

	printf("%s init complete.\n\n", agent.Product)
	if len(created) > 0 {
		printf("Created:\n")
		for _, path := range created {
			printf("  %s\n", path)
		}
		printf("\n")
	} else {
		printf("All files already exist (use --force to overwrite).\n\n")
	}

	printf("Verify:\n")
	printf("  %s doctor --env-file %s\n\n", agent.Product, envPath)
	printf("Replay the example scenario:\n")
	printf("  %s simulate %s\n", agent.Product, scenarioPath)
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultEnvFile renders the defaults as a .env file.
func defaultEnvFile() string {
	cfg, err := config.Load(config.Options{Environ: config.MapLookup(nil)})
	if err != nil {
		return ""
	}
	view := configView(cfg)
	view[config.Prefix+config.KeyToken] = ""

	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# sinkguard agent settings. The process environment overrides this file.\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, view[k])
	}
	return b.String()
}

const exampleScenario = `name: example
replies:
  pre-shell-executed: '{"action":"throw","message":"shell injection detected","code":403}'
cases:
  - call: {operation: "exec.Cmd->Run", args: ["ls; cat /etc/shadow"]}
    expect: block
  - call: {operation: os.ReadFile, args: ["/srv/app/config.yaml"]}
    expect: allow
    event: pre-path-accessed
`
