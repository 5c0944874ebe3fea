package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sinkguard/internal/companion"
	"github.com/ppiankov/sinkguard/internal/supervisor"
)

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentStatusCmd)
	agentCmd.AddCommand(agentEnsureCmd)
	agentCmd.AddCommand(agentStopCmd)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage the companion agent process",
}

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show companion liveness and, when reachable, its status document",
	RunE:  runAgentStatus,
}

var agentEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Start the companion unless exactly one healthy instance is running",
	RunE:  runAgentEnsure,
}

var agentStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Terminate every companion instance and remove its files",
	RunE:  runAgentStop,
}

type agentReport struct {
	Paths     supervisor.Paths `json:"paths"`
	State     supervisor.State `json:"state"`
	Running   bool             `json:"running"`
	Companion map[string]any   `json:"companion,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func runAgentStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sup := newSupervisor(cfg, newLogger(cfg))
	st := sup.Status()
	report := agentReport{Paths: sup.Paths(), State: st, Running: st.Running()}
	if st.Running() {
		report.Companion, err = companionStatus(contextOf(cmd), sup.Paths().Socket)
		if err != nil {
			report.Error = err.Error()
		}
	}
	return printJSON(report)
}

func runAgentEnsure(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sup := newSupervisor(cfg, newLogger(cfg))
	st, err := sup.Ensure(contextOf(cmd))
	report := agentReport{Paths: sup.Paths(), State: st, Running: st.Running()}
	if err != nil {
		report.Error = err.Error()
	}
	if perr := printJSON(report); perr != nil {
		return perr
	}
	return err
}

func runAgentStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sup := newSupervisor(cfg, newLogger(cfg))
	st := sup.Stop()
	return printJSON(agentReport{Paths: sup.Paths(), State: st, Running: st.Running()})
}

func companionStatus(ctx context.Context, socket string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	c, err := companion.Dial(socket)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Status(ctx)
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	printf("%s\n", out)
	return nil
}
