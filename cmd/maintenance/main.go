// Command maintenance runs one maintenance task per invocation. Deployed as
// a Lambda it is triggered by EventBridge with a MaintenancePayload; locally
// pass -task to run a single task and exit, or -history to print recent
// runs.
//
//	maintenance -task reconcile_orphans
//	maintenance -history 20 -task stale_leases
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"herald/internal/bootstrap"
	notifcore "herald/internal/notifications/core"
	"herald/internal/scheduler"
)

func main() {
	task := flag.String("task", "", "run a single task locally and exit (reconcile_orphans, deadletter_summary, stale_leases)")
	history := flag.Int("history", 0, "print the N most recent runs (of -task, if given) and exit")
	flag.Parse()

	if err := run(*task, *history); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(task string, history int) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := bootstrap.NewLogger(cfg.LogLevel, "herald-maintenance")

	stack, err := bootstrap.NewStack(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("building services: %w", err)
	}
	defer stack.Close()

	if history > 0 {
		return printHistory(stack, task, history)
	}

	// A one-shot process is never scraped, so only CloudWatch applies.
	var metrics notifcore.DeliveryMetrics = notifcore.NoopMetrics{}
	if cfg.Observability.MetricsBackend == "cloudwatch" {
		metrics = bootstrap.DeliveryMetrics(cfg, stack.AWS, nil, logger)
	}
	runner := stack.MaintenanceRunner(metrics, "maintenance-"+uuid.NewString()[:8])

	if task == "" {
		lambda.Start(runner.Handle)
		return nil
	}

	t, err := scheduler.ParseTask(task)
	if err != nil {
		return err
	}
	result, err := runner.Handle(context.Background(), scheduler.MaintenancePayload{Task: t})
	if err != nil {
		return err
	}
	logger.Info("maintenance task finished", "task", t, "result", result)
	return nil
}

func printHistory(stack *bootstrap.Stack, task string, limit int) error {
	if task != "" {
		if _, err := scheduler.ParseTask(task); err != nil {
			return err
		}
	}
	runs, err := stack.History.Recent(context.Background(), task, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}
