package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug(msg, kv...) }
func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append(kv, "error", err)...)
}

// Cron fires Runner tasks on cron schedules inside a long-running process.
type Cron struct {
	c      *cron.Cron
	logger *slog.Logger
}

// NewCron registers one entry per task. Specs accept five or six fields
// and descriptors such as "@every 5m". An overlapping run of the same task
// is skipped.
func NewCron(r *Runner, schedules map[TaskType]string, logger *slog.Logger) (*Cron, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{l: logger.With("component", "cron")}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, task := range AllTasks {
		spec, ok := schedules[task]
		if !ok || spec == "" {
			continue
		}
		task := task
		_, err := c.AddFunc(spec, func() {
			_, _ = r.Handle(context.Background(), MaintenancePayload{Task: task})
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", task, spec, err)
		}
		logger.Info("maintenance task scheduled", "task", string(task), "spec", spec)
	}
	return &Cron{c: c, logger: logger}, nil
}

// Entries reports how many tasks are scheduled.
func (c *Cron) Entries() int { return len(c.c.Entries()) }

// Run starts the scheduler and blocks until ctx is done, then waits for
// running tasks to finish.
func (c *Cron) Run(ctx context.Context) error {
	c.c.Start()
	<-ctx.Done()
	<-c.c.Stop().Done()
	c.logger.Info("maintenance cron stopped")
	return nil
}
