// Command dispatch-worker claims due jobs and delivers them through the
// channel providers. With MAINTENANCE_ENABLED it also runs the maintenance
// tasks on their cron schedules; the per-hour job lock keeps several
// instances from running the same task twice.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"herald/internal/bootstrap"
	"herald/internal/config"
	"herald/internal/scheduler"
	"herald/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := bootstrap.NewLogger(cfg.LogLevel, "herald-dispatch-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.NewStack(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building services: %w", err)
	}
	defer stack.Close()

	reg := prometheus.NewRegistry()
	metrics := bootstrap.DeliveryMetrics(cfg, stack.AWS, reg, logger)

	handler := worker.NewHandler(worker.HandlerConfig{
		Provider:        stack.Clients.Provider,
		Outcomes:        stack.DeliveryManager(metrics),
		Metrics:         metrics,
		ProviderTimeout: cfg.Worker.ProviderTimeout,
		Logger:          logger.With("component", "worker"),
	})
	pool := worker.NewPool(stack.Dispatcher, handler, worker.PoolConfig{
		Concurrency:   cfg.Worker.Concurrency,
		BatchSize:     cfg.Worker.BatchSize,
		PollInterval:  cfg.Worker.PollInterval,
		LeaseDuration: cfg.Worker.LeaseDuration,
		LeaseMargin:   config.RenderMargin,
		Logger:        logger.With("component", "pool"),
	})
	logger.Info("dispatch worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"concurrency", cfg.Worker.Concurrency,
		"email_provider", cfg.Email.Provider,
		"messaging_provider", cfg.Messaging.Provider,
		"maintenance", cfg.Maintenance.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })

	if cfg.Maintenance.Enabled {
		runner := stack.MaintenanceRunner(metrics, pool.WorkerID(0))
		cron, err := scheduler.NewCron(runner, bootstrap.MaintenanceSchedules(cfg.Maintenance), logger.With("component", "cron"))
		if err != nil {
			return err
		}
		g.Go(func() error { return cron.Run(gctx) })
	}

	if cfg.Observability.MetricsBackend == "prometheus" {
		g.Go(func() error { return serveMetrics(gctx, ":"+cfg.Server.Port, reg) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("dispatch worker stopped")
	return nil
}

// serveMetrics exposes /metrics for scraping until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
