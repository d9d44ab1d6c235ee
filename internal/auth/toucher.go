package auth

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"herald/internal/types"
)

// TouchRepo persists last-used timestamps in bulk.
type TouchRepo interface {
	TouchLastUsed(ctx context.Context, ids []string, at time.Time) error
}

// ToucherConfig tunes the last-used coalescer.
type ToucherConfig struct {
	Interval  time.Duration
	BatchSize int
	Buffer    int
}

// Toucher coalesces last-used updates off the authentication path. Touch
// never blocks: when the buffer is full the touch is dropped and counted.
type Toucher struct {
	repo     TouchRepo
	in       chan string
	interval time.Duration
	batch    int
	clock    types.Clock
	logger   *slog.Logger
	dropped  atomic.Int64
	flushed  atomic.Int64
}

// NewToucher creates a Toucher. Zero config values default to a 5s interval,
// batches of 100 and a buffer of 1024.
func NewToucher(repo TouchRepo, cfg ToucherConfig, clock types.Clock, logger *slog.Logger) *Toucher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toucher{
		repo:     repo,
		in:       make(chan string, cfg.Buffer),
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		clock:    clock,
		logger:   logger,
	}
}

// Touch queues a key id for the next flush.
func (t *Toucher) Touch(keyID string) {
	select {
	case t.in <- keyID:
	default:
		t.dropped.Add(1)
	}
}

// Dropped returns how many touches were discarded because the buffer was full.
func (t *Toucher) Dropped() int64 { return t.dropped.Load() }

// Flushed returns how many key ids have been written.
func (t *Toucher) Flushed() int64 { return t.flushed.Load() }

// Run flushes until ctx is cancelled, then drains what is already buffered
// and writes it on a fresh short-lived context.
func (t *Toucher) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	pending := make(map[string]struct{}, t.batch)
	for {
		select {
		case id := <-t.in:
			pending[id] = struct{}{}
			if len(pending) >= t.batch {
				t.flush(ctx, pending)
			}
		case <-ticker.C:
			t.flush(ctx, pending)
		case <-ctx.Done():
		drain:
			for {
				select {
				case id := <-t.in:
					pending[id] = struct{}{}
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			t.flush(flushCtx, pending)
			cancel()
			t.logger.Info("key toucher stopped", "flushed", t.Flushed(), "dropped", t.Dropped())
			return nil
		}
	}
}

func (t *Toucher) flush(ctx context.Context, pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	clear(pending)

	if err := t.repo.TouchLastUsed(ctx, ids, t.clock.Now()); err != nil {
		t.logger.Warn("failed to update api key last_used_at", "count", len(ids), "error", err)
		return
	}
	t.flushed.Add(int64(len(ids)))
}
