// sinkguard-agent is the companion process. Hosts start it with a single
// JSON argument; it re-executes itself in a new session and serves the
// companion socket until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/sinkguard/internal/agent"
	"github.com/ppiankov/sinkguard/internal/companion"
	"github.com/ppiankov/sinkguard/internal/logging"
	"github.com/ppiankov/sinkguard/internal/supervisor"
)

func main() {
	detached, err := supervisor.Detach(os.Args, os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sinkguard-agent: %v\n", err)
		os.Exit(1)
	}
	if !detached {
		return
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "sinkguard-agent <init-json>",
	Short:         "Companion process for the sinkguard runtime agent",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func run(cmd *cobra.Command, args []string) error {
	initArgs, err := supervisor.ParseAgentInit(args[0])
	if err != nil {
		return err
	}

	l, err := logging.New(logging.Options{Level: initArgs.LogLevel, DiskLogs: initArgs.DiskLogs})
	if err != nil {
		return err
	}
	defer l.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	err = companion.Run(ctx, companion.RunOptions{
		Init:     initArgs,
		Token:    os.Getenv(supervisor.TokenEnv),
		Version:  agent.Version,
		Logger:   l.Logger,
		SetLevel: l.SetLevel,
	})
	if err != nil {
		l.Error("agent exited", zap.Error(err))
	}
	return err
}
