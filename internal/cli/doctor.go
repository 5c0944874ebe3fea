package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sinkguard/internal/agent"
	"github.com/ppiankov/sinkguard/internal/bridge"
	"github.com/ppiankov/sinkguard/internal/companion"
	"github.com/ppiankov/sinkguard/internal/integrity"
	"github.com/ppiankov/sinkguard/internal/logging"
	"github.com/ppiankov/sinkguard/internal/supervisor"
)

var enginePath string

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&enginePath, "engine", "", "Decision engine library to check (default: the installed one)")
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check installation readiness and diagnose configuration issues",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	// 1. Configuration.
	cfg, err := loadConfig()
	if err != nil {
		checks = append(checks, checkResult{
			label:  "configuration",
			detail: err.Error(),
			fix:    "check SINKGUARD_* variables and --env-file",
		})
		return printChecks(checks)
	}
	detail := fmt.Sprintf("mode=%s blocking=%t log=%s", cfg.Mode, cfg.Blocking, cfg.LogLevel)
	if cfg.Disable {
		detail += " (disabled)"
	}
	checks = append(checks, checkResult{label: "configuration", ok: true, detail: detail})

	if cfg.Token == "" {
		checks = append(checks, checkResult{
			label:  "token",
			ok:     true,
			detail: "not set; the engine runs without cloud config",
		})
	} else {
		checks = append(checks, checkResult{label: "token", ok: true, detail: "set"})
	}

	// 2. Decision engine library.
	lib := enginePath
	if lib == "" {
		lib = bridge.LibraryPath(agent.Product, agent.Version)
	}
	checks = append(checks, checkEngine(lib, cfg.EngineSHA256))

	// 3. Companion binary and runtime directory.
	paths := companionPaths()
	if _, err := os.Stat(paths.Binary); err == nil {
		checks = append(checks, checkResult{label: "agent binary", ok: true, detail: paths.Binary})
	} else {
		checks = append(checks, checkResult{
			label:  "agent binary",
			detail: "missing: " + paths.Binary,
			fix:    "reinstall the " + agent.Product + " package",
		})
	}
	if info, err := os.Stat(paths.RunDir); err == nil && info.IsDir() {
		checks = append(checks, checkResult{label: "run directory", ok: true, detail: paths.RunDir})
	} else {
		checks = append(checks, checkResult{
			label:  "run directory",
			detail: "missing: " + paths.RunDir,
			fix:    agent.Product + " agent ensure",
		})
	}

	// 4. Companion liveness.
	st := newSupervisor(cfg, newLogger(cfg)).Status()
	checks = append(checks, checkCompanion(paths, st))

	// 5. Disk logs.
	if cfg.DiskLogs {
		if info, err := os.Stat(logging.DefaultDir); err == nil && info.IsDir() {
			checks = append(checks, checkResult{label: "disk logs", ok: true, detail: logging.DefaultDir})
		} else {
			checks = append(checks, checkResult{
				label:  "disk logs",
				detail: "missing: " + logging.DefaultDir,
				fix:    "mkdir -p " + logging.DefaultDir,
			})
		}
	}

	return printChecks(checks)
}

func checkEngine(lib, expected string) checkResult {
	if _, err := os.Stat(lib); err != nil {
		return checkResult{
			label:  "decision engine",
			detail: "missing: " + lib,
			fix:    "reinstall the " + agent.Product + " package",
		}
	}
	res, err := integrity.VerifyFile(lib, expected)
	if err != nil {
		return checkResult{
			label:  "decision engine",
			detail: err.Error(),
			fix:    "reinstall the engine or correct SINKGUARD_ENGINE_SHA256",
		}
	}
	if !res.Verified() {
		return checkResult{label: "decision engine", ok: true, detail: lib + " (unverified)"}
	}
	return checkResult{label: "decision engine", ok: true, detail: fmt.Sprintf("%s (sha256 from %s)", lib, res.Source)}
}

func checkCompanion(paths supervisor.Paths, st supervisor.State) checkResult {
	if !st.Running() {
		detail := "not running"
		if st.PID != 0 {
			detail = fmt.Sprintf("pid %d alive=%t socket=%t", st.PID, st.Alive, st.SocketExists)
		}
		return checkResult{label: "companion", detail: detail, fix: agent.Product + " agent ensure"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := companion.Dial(paths.Socket)
	if err != nil {
		return checkResult{label: "companion", detail: err.Error(), fix: agent.Product + " agent stop && " + agent.Product + " agent ensure"}
	}
	defer c.Close()
	version, err := c.Ping(ctx)
	if err != nil {
		return checkResult{label: "companion", detail: "ping: " + err.Error(), fix: agent.Product + " agent stop && " + agent.Product + " agent ensure"}
	}
	return checkResult{label: "companion", ok: true, detail: fmt.Sprintf("pid %d (v%s)", st.PID, version)}
}

func printChecks(checks []checkResult) error {
	allOK := true
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			allOK = false
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		printf("%s\n", line)
	}

	if !allOK {
		printf("\nSome checks failed. Run the suggested commands to fix.\n")
		return fmt.Errorf("doctor found issues")
	}
	printf("\nAll checks passed.\n")
	return nil
}
