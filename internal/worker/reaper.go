package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riskforge/riskforge/internal/cache"
	"github.com/riskforge/riskforge/internal/queue"
	"github.com/riskforge/riskforge/internal/store"
	"github.com/riskforge/riskforge/pkg/models"
)

const sweepBatchSize = 100

// ReaperConfig tunes the stale-task sweep.
type ReaperConfig struct {
	Interval           time.Duration
	StalenessThreshold time.Duration
	MaxAttempts        int
}

// Reaper periodically reclaims tasks stuck in processing past the staleness
// threshold — the crashed-worker recovery path. Tasks with attempt budget
// left go back on the queue; exhausted ones are terminally failed.
type Reaper struct {
	cfg   ReaperConfig
	store store.Store
	queue *queue.Queue
	cache cache.Cache
}

// NewReaper creates a Reaper. Run must be called to start sweeping.
func NewReaper(cfg ReaperConfig, st store.Store, q *queue.Queue, ca cache.Cache) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = 5 * time.Minute
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	return &Reaper{cfg: cfg, store: st, queue: q, cache: ca}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.Info("reaper started",
		"interval", r.cfg.Interval,
		"staleness_threshold", r.cfg.StalenessThreshold,
		"max_attempts", r.cfg.MaxAttempts,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopping")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over stale processing tasks.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.cfg.StalenessThreshold)
	stale, err := r.store.ListStaleProcessing(ctx, cutoff, sweepBatchSize)
	if err != nil {
		slog.Error("reaper sweep failed", "error", err)
		return
	}

	for _, task := range stale {
		if task.Attempts >= r.cfg.MaxAttempts {
			r.failTerminal(ctx, task)
			continue
		}
		r.requeue(ctx, task)
	}
}

func (r *Reaper) failTerminal(ctx context.Context, task *models.PredictionTask) {
	msg := fmt.Sprintf("timed out after %d attempts", task.Attempts)
	var durationMs int64
	if task.StartedAt != nil {
		durationMs = time.Since(*task.StartedAt).Milliseconds()
	}

	err := r.store.FailTask(ctx, task.ID, task.Attempts, msg, durationMs)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// The owning worker finished between sweep and update.
			return
		}
		slog.Error("reaper terminal fail errored", "task_id", task.ID, "error", err)
		return
	}
	r.setStatus(ctx, task.ID, models.TaskStatusFailed)
	tasksFailed.Inc()
	slog.Warn("stale task terminally failed", "task_id", task.ID, "attempts", task.Attempts)
}

func (r *Reaper) requeue(ctx context.Context, task *models.PredictionTask) {
	err := r.store.RequeueTask(ctx, task.ID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return
		}
		slog.Error("reaper requeue errored", "task_id", task.ID, "error", err)
		return
	}
	r.setStatus(ctx, task.ID, models.TaskStatusPending)

	if err := r.queue.Enqueue(ctx, task.ID); err != nil {
		// The task is pending again; a restart will pick it up.
		slog.Warn("requeued task not re-enqueued", "task_id", task.ID, "error", err)
		return
	}
	tasksRequeued.Inc()
	slog.Info("stale task requeued", "task_id", task.ID, "attempts", task.Attempts)
}

func (r *Reaper) setStatus(ctx context.Context, taskID, status string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetTaskStatus(ctx, taskID, status, statusCacheTTL); err != nil {
		slog.Debug("status cache update failed", "task_id", taskID, "error", err)
	}
}
