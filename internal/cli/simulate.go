package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sinkguard/internal/scenario"
)

var simFormat string

// errScenarioFailed is returned when any case fails, so the exit code is 1.
var errScenarioFailed = fmt.Errorf("scenario assertions failed")

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml|glob>...",
	Short: "Replay scenario files against a scripted decision engine",
	Long: "Loads scenario YAML files, runs every case through the interception\n" +
		"layer with engine replies scripted by the scenario, and reports\n" +
		"whether each call was allowed, blocked or terminated.\n\n" +
		"Exit code 0 if all cases pass, 1 if any fail.",
	Args: cobra.MinimumNArgs(1),
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	var paths []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid glob pattern: %w", err)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no scenario files match %v", args)
	}

	var results []*scenario.RunResult
	for _, path := range paths {
		r, err := scenario.LoadAndRun(path, nil)
		if err != nil {
			return err
		}
		results = append(results, r)
	}

	switch simFormat {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		printf("%s\n", out)
	default:
		printf("%s", scenario.FormatText(results))
	}

	for _, r := range results {
		if r.Failed > 0 {
			return errScenarioFailed
		}
	}
	return nil
}
