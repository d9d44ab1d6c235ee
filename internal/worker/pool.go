package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"herald/internal/types"
)

// Claimer leases due jobs for a worker.
type Claimer interface {
	Claim(ctx context.Context, workerID string, batch int, lease time.Duration) ([]*types.ScheduledJob, error)
}

// PoolConfig tunes the claim loop.
type PoolConfig struct {
	Concurrency   int
	BatchSize     int
	PollInterval  time.Duration
	LeaseDuration time.Duration
	// LeaseMargin is the lease time reserved per job beyond the provider
	// timeout, for rendering and recording the outcome.
	LeaseMargin time.Duration
	// InstanceID prefixes worker ids; a random one is generated when empty.
	InstanceID string
	Logger     *slog.Logger
}

// Pool runs Concurrency independent claim loops. Workers in other
// processes may claim from the same queue; leases keep them apart.
type Pool struct {
	claimer Claimer
	handler *Handler
	cfg     PoolConfig
	logger  *slog.Logger
}

func NewPool(claimer Claimer, handler *Handler, cfg PoolConfig) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = time.Minute
	}
	if cfg.LeaseMargin <= 0 {
		cfg.LeaseMargin = 5 * time.Second
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()[:8]
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{claimer: claimer, handler: handler, cfg: cfg, logger: logger}
}

// WorkerID returns the lease owner name of loop i.
func (p *Pool) WorkerID(i int) string {
	return fmt.Sprintf("%s-%d", p.cfg.InstanceID, i)
}

// Run blocks until ctx is cancelled. Claiming stops immediately; attempts
// already in progress finish before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		workerID := p.WorkerID(i)
		g.Go(func() error {
			p.loop(gctx, workerID)
			return nil
		})
	}
	p.logger.InfoContext(ctx, "worker pool started",
		"instance_id", p.cfg.InstanceID,
		"concurrency", p.cfg.Concurrency,
		"batch_size", p.cfg.BatchSize,
	)
	err := g.Wait()
	p.logger.Info("worker pool stopped", "instance_id", p.cfg.InstanceID)
	return err
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0

	for ctx.Err() == nil {
		n, err := p.RunOnce(ctx, workerID)
		if err != nil {
			wait := bo.NextBackOff()
			p.logger.WarnContext(ctx, "claim failed, backing off",
				"worker_id", workerID,
				"backoff", wait,
				"error", err,
			)
			sleep(ctx, wait)
			continue
		}
		bo.Reset()
		if n == 0 {
			sleep(ctx, p.cfg.PollInterval)
		}
	}
}

// RunOnce claims one batch for workerID and handles its jobs in order. It
// returns the number of jobs claimed. Only a claim failure is an error;
// per-job failures are logged by the handler. The batch shares one lease,
// so a job is only started while enough of it remains for a full attempt;
// the rest, and everything left when ctx is cancelled, are reclaimed once
// the lease expires.
func (p *Pool) RunOnce(ctx context.Context, workerID string) (int, error) {
	jobs, err := p.claimer.Claim(ctx, workerID, p.claimSize(), p.cfg.LeaseDuration)
	if err != nil {
		return 0, err
	}
	for i, job := range jobs {
		if ctx.Err() != nil {
			p.logger.InfoContext(ctx, "stopping, claimed jobs left for lease expiry",
				"worker_id", workerID,
				"remaining", len(jobs)-i,
			)
			break
		}
		if job.LeaseUntil != nil && job.LeaseUntil.Sub(p.handler.clock.Now()) < p.attemptBudget() {
			p.logger.WarnContext(ctx, "lease too short for another attempt, job left for reclaim",
				"worker_id", workerID,
				"job_id", job.ID,
				"lease_until", *job.LeaseUntil,
			)
			continue
		}
		_, _ = p.handler.Handle(ctx, workerID, job)
	}
	return len(jobs), nil
}

// attemptBudget is the lease time one attempt may use.
func (p *Pool) attemptBudget() time.Duration {
	return p.handler.timeout + p.cfg.LeaseMargin
}

// claimSize caps the batch at the number of back-to-back attempts that fit
// in one lease. At least one job is always claimed.
func (p *Pool) claimSize() int {
	n := int(p.cfg.LeaseDuration / p.attemptBudget())
	if n < 1 {
		n = 1
	}
	if n > p.cfg.BatchSize {
		n = p.cfg.BatchSize
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
