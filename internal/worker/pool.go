// Package worker runs the prediction pipeline: a pool of workers pulling
// task ids off the queue, and a reaper recovering abandoned tasks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/riskforge/riskforge/internal/cache"
	"github.com/riskforge/riskforge/internal/queue"
	"github.com/riskforge/riskforge/internal/registry"
	"github.com/riskforge/riskforge/internal/store"
	"github.com/riskforge/riskforge/pkg/models"
)

const statusCacheTTL = 30 * time.Minute

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers      int
	ModelName    string
	MaxAttempts  int
	BackoffBase  time.Duration
	ScoreTimeout time.Duration
}

// Pool is a fixed set of workers competing for tasks on the queue. Each
// worker claims a task (claim-then-mutate: only the claimer may finish it),
// resolves the active model, scores, and writes the outcome back. No
// store-wide lock is held during scoring.
type Pool struct {
	cfg      PoolConfig
	queue    *queue.Queue
	store    store.Store
	registry *registry.Registry
	scorer   models.Scorer
	cache    cache.Cache

	wg sync.WaitGroup
}

// NewPool creates a worker pool. Start must be called to run it.
func NewPool(cfg PoolConfig, q *queue.Queue, st store.Store, reg *registry.Registry, scorer models.Scorer, ca cache.Cache) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.ScoreTimeout <= 0 {
		cfg.ScoreTimeout = 60 * time.Second
	}
	return &Pool{cfg: cfg, queue: q, store: st, registry: reg, scorer: scorer, cache: ca}
}

// Start launches the workers. They stop dequeuing as soon as ctx is
// cancelled; a task already being scored runs to completion.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
	slog.Info("worker pool started", "workers", p.cfg.Workers, "model", p.cfg.ModelName)
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := slog.With("worker", id)

	for {
		taskID, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) {
				log.Info("worker stopping")
				return
			}
			log.Error("dequeue failed", "error", err)
			return
		}
		p.process(taskID, log)
	}
}

// process runs one task end to end. It deliberately uses a fresh context so
// that pool shutdown does not abort a scoring call already in flight.
func (p *Pool) process(taskID string, log *slog.Logger) {
	ctx := context.Background()

	var claimed *models.PredictionTask
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Error("panic while processing task", "task_id", taskID, "error", r)
		if claimed != nil {
			_ = p.store.FailTask(ctx, claimed.ID, claimed.Attempts, fmt.Sprintf("panic: %v", r), 0)
			p.setStatus(ctx, claimed.ID, models.TaskStatusFailed)
		}
	}()

	task, err := p.store.ClaimTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Another worker owns the task; benign race.
			claimConflicts.Inc()
			log.Debug("claim lost", "task_id", taskID)
			return
		}
		log.Error("claim failed", "task_id", taskID, "error", err)
		return
	}
	claimed = task
	p.setStatus(ctx, taskID, models.TaskStatusProcessing)
	start := time.Now()

	app, err := p.store.GetApplication(ctx, task.ApplicationID)
	if err != nil {
		p.fail(ctx, task, fmt.Sprintf("loading application: %v", err), start, log)
		return
	}

	mv, err := p.registry.ResolveActive(ctx, p.cfg.ModelName)
	if err != nil {
		// No active model is deterministic until an operator activates one;
		// retrying would spin.
		p.fail(ctx, task, err.Error(), start, log)
		return
	}

	result, err := p.score(ctx, *app, *mv, task.Attempts)
	if err != nil {
		p.fail(ctx, task, err.Error(), start, log)
		return
	}

	durationMs := time.Since(start).Milliseconds()
	if err := p.store.CompleteTask(ctx, task.ID, task.Attempts, result, durationMs); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			log.Warn("claim no longer held at completion", "task_id", task.ID)
			return
		}
		log.Error("storing result failed", "task_id", task.ID, "error", err)
		return
	}
	p.setStatus(ctx, task.ID, models.TaskStatusCompleted)
	tasksCompleted.Inc()
	log.Info("task completed",
		"task_id", task.ID,
		"risk_score", result.RiskScore,
		"risk_category", result.RiskCategory,
		"model", result.ModelName,
		"model_version", result.ModelVersion,
		"duration_ms", durationMs,
	)
}

// score invokes the scoring capability, retrying transient failures with
// exponential backoff until the attempt budget is spent. Deterministic
// failures are never retried.
func (p *Pool) score(ctx context.Context, app models.Application, mv models.ModelVersion, attempt int) (models.PredictionResult, error) {
	remaining := p.cfg.MaxAttempts - attempt
	if remaining < 0 {
		remaining = 0
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.BackoffBase

	timer := prometheus.NewTimer(scoringDuration)
	defer timer.ObserveDuration()

	return backoff.RetryWithData(func() (models.PredictionResult, error) {
		scoreCtx, cancel := context.WithTimeout(ctx, p.cfg.ScoreTimeout)
		defer cancel()

		result, err := p.scorer.Score(scoreCtx, models.ScoreRequest{Application: app, Model: mv})
		if err != nil && !models.TransientScoreError(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(remaining)), ctx))
}

func (p *Pool) fail(ctx context.Context, task *models.PredictionTask, msg string, start time.Time, log *slog.Logger) {
	durationMs := time.Since(start).Milliseconds()
	if err := p.store.FailTask(ctx, task.ID, task.Attempts, msg, durationMs); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			log.Warn("claim no longer held at failure", "task_id", task.ID)
			return
		}
		log.Error("storing failure failed", "task_id", task.ID, "error", err)
		return
	}
	p.setStatus(ctx, task.ID, models.TaskStatusFailed)
	tasksFailed.Inc()
	log.Warn("task failed", "task_id", task.ID, "error", msg, "attempt", task.Attempts)
}

func (p *Pool) setStatus(ctx context.Context, taskID, status string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetTaskStatus(ctx, taskID, status, statusCacheTTL); err != nil {
		slog.Debug("status cache update failed", "task_id", taskID, "error", err)
	}
}
