package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"tollgate-hq/tollgate/pkg/config"
)

var janitorFlags struct {
	once        bool
	metricsAddr string
}

var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Run the retention janitor",
	Long: `Prune expired quota windows and journal entries.

With --once, run a single prune pass and exit. Otherwise the janitor runs
on the cron schedule from configuration until interrupted, watching the
config file for changes and serving Prometheus metrics.

Examples:
  # One prune pass
  tollgate janitor --once

  # Scheduled daemon with metrics on :9090
  tollgate janitor --metrics-addr :9090`,
	RunE: runJanitor,
}

func init() {
	rootCmd.AddCommand(janitorCmd)

	janitorCmd.Flags().BoolVar(&janitorFlags.once, "once", false, "run one prune pass and exit")
	janitorCmd.Flags().StringVar(&janitorFlags.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
}

func runJanitor(cmd *cobra.Command, args []string) error {
	mgr, _, err := loadManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if janitorFlags.once {
		result, err := mgr.Prune(ctx)
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		fmt.Printf("pruned %d daily windows, %d hour windows, %d journal entries\n",
			result.DaysDeleted, result.HoursDeleted, result.EntriesDeleted)
		return nil
	}

	if err := mgr.StartRetention(ctx); err != nil {
		return err
	}

	watcher, err := config.NewWatcher(cfgFile, 500*time.Millisecond)
	if err != nil {
		slog.Warn("config watcher unavailable, hot reload disabled", "error", err)
	} else {
		go func() {
			if err := watcher.Watch(ctx, mgr.ApplyConfig); err != nil {
				slog.Error("config watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	if janitorFlags.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: janitorFlags.metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		slog.Info("metrics server started", "addr", janitorFlags.metricsAddr)
	}

	slog.Info("janitor running, press Ctrl+C to stop")
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}
