package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the sidecar and stream supervisor events",
		Long: `Run starts the sidecar and prints every supervisor event as one JSON line
on stdout until interrupted. The sidecar is stopped on exit.`,
		Args: cobra.NoArgs,
		RunE: runRunCmd,
	}
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := notifyContext(cmd)
	defer stop()

	sup := supervisorFor(cmd)
	defer sup.Close()

	events, unsubscribe := sup.Subscribe(0)
	defer unsubscribe()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sidecar: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-events:
			if err := enc.Encode(evt); err != nil {
				return err
			}
		}
	}
}
