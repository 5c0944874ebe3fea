package cli

import (
	"encoding/json"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sinkguard/internal/agent"
	"github.com/ppiankov/sinkguard/internal/bridge"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := map[string]string{
			"name":    agent.Product,
			"version": agent.Version,
			"engine":  bridge.LibraryPath(agent.Product, agent.Version),
			"agent":   companionPaths().Binary,
			"go":      runtime.Version(),
		}
		out, _ := json.MarshalIndent(info, "", "  ")
		printf("%s\n", out)
	},
}
