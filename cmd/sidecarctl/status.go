package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Start the sidecar and print its merged status",
		Long: `Status starts the sidecar, prints the supervisor's bookkeeping merged with
the engine status reported by the sidecar, and stops it again. Use it to
check that browsers and proxies are configured correctly.`,
		Args: cobra.NoArgs,
		RunE: runStatusCmd,
	}
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := notifyContext(cmd)
	defer stop()

	sup := supervisorFor(cmd)
	defer sup.Close()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sidecar: %w", err)
	}
	if !sup.HealthCheck(ctx) {
		return fmt.Errorf("sidecar started but /health failed")
	}
	return printJSON(cmd, sup.GetStatus(ctx))
}
