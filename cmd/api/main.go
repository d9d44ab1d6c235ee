// Command api serves the Herald HTTP API: tenant administration behind the
// admin key and notification intake behind tenant API keys.
//
// Shutdown on SIGINT/SIGTERM drains in-flight requests, then flushes
// pending key last-used updates.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"herald/internal/api/handlers"
	"herald/internal/bootstrap"
	"herald/internal/core"
	"herald/internal/intake"
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
	logger := bootstrap.NewLogger(cfg.LogLevel, "herald-api")
	logger.Info("herald api starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.NewStack(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building services: %w", err)
	}
	defer stack.Close()

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srv.Metrics = core.NewPrometheusMetrics(reg)
	srv.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	srv.HealthProbes = []core.HealthProbe{core.PingProbe{ProbeName: "database", Target: stack.Pool}}

	notifications := intake.NewService(intake.Config{
		Keys:         stack.Keys,
		Applications: stack.Applications,
		Queue:        stack.Dispatcher,
		Attempts:     stack.Attempts,
		Renderer:     stack.Renderer,
		Validator:    srv.Validator,
		Logger:       logger.With("component", "intake"),
	})

	routes := handlers.Routes{
		AdminKey:      cfg.Security.AdminAPIKey,
		Logger:        logger,
		Applications:  handlers.NewApplicationHandler(stack.Tenants, stack.Keys, srv.Validator, logger),
		Keys:          handlers.NewKeyHandler(stack.Keys, srv.Validator, logger),
		Notifications: handlers.NewNotificationHandler(notifications, logger),
		DeadLetters:   handlers.NewDeadLetterHandler(stack.DeadLetters, logger),
	}
	srv.V1RouteRegistrars = []func(chi.Router){routes.Register}
	srv.MountRoutes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stack.Toucher.Run(gctx)
	})
	g.Go(func() error {
		defer stop()
		return srv.ListenAndServe(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("herald api stopped")
	return nil
}
