package tenants

import (
	"context"
	"log/slog"
	"time"
)

// compensationTimeout bounds each undo step. Undo runs on a context detached
// from the caller's cancellation so an abandoned request still cleans up.
const compensationTimeout = 10 * time.Second

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// saga records completed steps and undoes them in reverse on failure.
type saga struct {
	name   string
	done   []compensation
	logger *slog.Logger
}

func newSaga(name string, logger *slog.Logger) *saga {
	return &saga{name: name, logger: logger}
}

// completed registers the undo action of a step that succeeded.
func (s *saga) completed(step string, undo func(ctx context.Context) error) {
	s.done = append(s.done, compensation{step: step, undo: undo})
}

type compensationReport struct {
	Compensated []string
	Errors      []string
}

func (r compensationReport) ok() bool { return len(r.Errors) == 0 }

// rollback runs every registered undo, newest first, each on its own bounded
// context. Failures are logged and collected; rollback never stops early.
func (s *saga) rollback(parent context.Context, failedStep string) compensationReport {
	var report compensationReport
	base := context.WithoutCancel(parent)
	for i := len(s.done) - 1; i >= 0; i-- {
		c := s.done[i]
		ctx, cancel := context.WithTimeout(base, compensationTimeout)
		err := c.undo(ctx)
		cancel()
		if err != nil {
			s.logger.ErrorContext(parent, "saga compensation failed",
				"saga", s.name,
				"failed_step", failedStep,
				"compensation", c.step,
				"error", err,
			)
			report.Errors = append(report.Errors, c.step+": "+err.Error())
			continue
		}
		report.Compensated = append(report.Compensated, c.step)
	}
	return report
}
