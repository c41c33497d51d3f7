package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/config"
	"github.com/g-uva/GreenDIGIT-CIM/pkg/watch"
)

const (
	adminReadTimeout  = 5 * time.Second
	adminWriteTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the change watcher daemon",
		Long: "Subscribes to the source's insert feed and exports newly inserted metric\n" +
			"documents in time-boxed batches. Drains cleanly on SIGINT/SIGTERM and\n" +
			"exits 0.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)

			ctx := cmd.Context()
			p, err := buildPipeline(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close(context.Background())

			feed, err := p.source.Watch(ctx)
			if err != nil {
				return err
			}
			defer feed.Close(context.Background())

			watcher := watch.New(feed, p.exporter, watch.Config{
				BatchWindow: cfg.BatchWindow,
				Logger:      logger,
			})

			admin := &http.Server{
				Addr:         cfg.AdminAddr,
				Handler:      watcher.Handler(),
				ReadTimeout:  adminReadTimeout,
				WriteTimeout: adminWriteTimeout,
			}
			go func() {
				logger.Info("admin endpoint listening", "addr", cfg.AdminAddr)
				if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("admin server failed", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("received signal, draining", "signal", sig.String())
				watcher.Stop()
			}()

			err = watcher.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = admin.Shutdown(shutdownCtx)
			return err
		},
	}
}
