// Command fraudctl is the operator tool for the fraud engine. It applies
// migrations, runs one-shot sweeps and checks audit chains against the
// database, and mints caller tokens for local development.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fraudengine/internal/platform/config"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fraudctl",
		Short:         "Operator tooling for the fraud resolution engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("no-color", false, "disable colored output")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if off, _ := cmd.Flags().GetBool("no-color"); off {
			color.NoColor = true
		}
	}
	root.AddCommand(
		migrateCmd(),
		sweepCmd(),
		verifyChainCmd(),
		statsCmd(),
		tokenCmd(),
	)
	return root
}

// loadConfig reads the same environment the server does so both agree on
// database, ledger and signing settings.
func loadConfig() (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := config.LoadPolicyFile(&cfg, cfg.PolicyFile); err != nil {
		return config.Config{}, fmt.Errorf("load policy: %w", err)
	}
	return cfg, nil
}
