package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/shopcrawl/config"
	"github.com/use-agent/shopcrawl/sidecar"
)

// NewRootCmd creates the root command for sidecarctl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sidecarctl",
		Short: "Run and drive the crawler sidecar",
		Long: `sidecarctl spawns the crawler sidecar, waits for its port handshake and
talks to its control server. Configuration comes from CRAWLER_* environment
variables and an optional .env file.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			initLogger(verbose)
		},
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().String("sidecar-bin", "",
		"Path to the crawler-sidecar binary (default: CRAWLER_SIDECAR_BIN or crawler-sidecar)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewProxiesCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// supervisorFor returns the process-wide supervisor, or an isolated one
// when --sidecar-bin overrides the configured binary.
func supervisorFor(cmd *cobra.Command) *sidecar.Supervisor {
	bin, _ := cmd.Flags().GetString("sidecar-bin")
	if bin == "" {
		return sidecar.Default()
	}
	cfg := config.Load().Supervisor
	cfg.Binary = bin
	return sidecar.New(cfg)
}

// initLogger writes text records to stderr so stdout stays machine readable.
func initLogger(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
