package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gymbot-backend/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	dumpHttp   string
)

var exporters telemetry.Telemetry

var rootCmd = &cobra.Command{
	Use:   "paystatus",
	Short: "paystatus is a CLI for checking whether ClubOS members are current on their payments.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)

		t, err := telemetry.SetupFromEnv(cmd.Context(), "paystatus")
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("no telemetry.json5 found, telemetry export disabled")
		} else if err != nil {
			slog.Warn("failed to setup telemetry", "err", err)
		}
		exporters = t
		telemetry.InstrumentPerfStats(cmd.Context(), 15*time.Second)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := exporters.Shutdown(ctx)
		if err != nil {
			slog.Warn("failed to flush telemetry", "err", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json5", "The config file, a <name>.local.json5 next to it overrides it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug reports.")
	rootCmd.PersistentFlags().StringVar(&dumpHttp, "dump-http", "", "Write every HTTP exchange with ClubOS into this directory, credentials included.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
