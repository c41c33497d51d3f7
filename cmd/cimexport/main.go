package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cimexport",
		Short: "Replicates CIM metric documents into the relational key-value store",
		Long: "cimexport flattens metric documents from the document store into typed\n" +
			"key-value rows and replicates them, idempotently and incrementally, into\n" +
			"PostgreSQL. Run it once for a backfill or as a daemon watching the insert feed.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newExportCmd(), newWatchCmd())
	return root
}

// setupLogger installs the process-wide logger per configuration.
func setupLogger(cfg config.Config) *slog.Logger {
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
