// Package pipeline is the submission and query façade over the job store
// and the task queue.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riskforge/riskforge/internal/cache"
	"github.com/riskforge/riskforge/internal/queue"
	"github.com/riskforge/riskforge/internal/store"
	"github.com/riskforge/riskforge/pkg/models"
)

const statusCacheTTL = 30 * time.Minute

// Service handles submissions and the read path (status + history).
type Service struct {
	store store.Store
	queue *queue.Queue
	cache cache.Cache
}

// NewService creates a pipeline Service.
func NewService(st store.Store, q *queue.Queue, ca cache.Cache) *Service {
	return &Service{store: st, queue: q, cache: ca}
}

// Submit admits one application for scoring. taskID is the optional
// caller-supplied idempotency key; resubmitting an existing key returns the
// stored task unchanged without re-enqueueing work. created reports whether
// this call admitted new work.
func (s *Service) Submit(ctx context.Context, payload map[string]any, userRef, taskID string) (task *models.PredictionTask, created bool, err error) {
	if len(payload) == 0 {
		return nil, false, fmt.Errorf("application payload is required")
	}
	if userRef == "" {
		return nil, false, fmt.Errorf("user_ref is required")
	}
	if taskID == "" {
		taskID = models.NewTaskID()
	}

	now := time.Now().UTC()
	app := &models.Application{
		ID:        uuid.New(),
		UserRef:   userRef,
		Payload:   payload,
		CreatedAt: now,
	}
	task = &models.PredictionTask{
		ID:            taskID,
		ApplicationID: app.ID,
		Status:        models.TaskStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	task, created, err = s.store.CreateSubmission(ctx, app, task)
	if err != nil {
		return nil, false, fmt.Errorf("creating submission: %w", err)
	}
	if !created {
		// A retry of a pending task may mean the first submission died
		// between commit and enqueue. Re-enqueueing is harmless: if the id is
		// already queued, the second delivery loses the claim and is skipped.
		if task.Status == models.TaskStatusPending {
			if err := s.queue.Enqueue(ctx, task.ID); err != nil {
				slog.Warn("duplicate pending task not re-enqueued", "task_id", task.ID, "error", err)
			}
		}
		slog.Info("duplicate submission", "task_id", task.ID, "status", task.Status)
		return task, false, nil
	}

	s.setStatus(ctx, task.ID, models.TaskStatusPending)

	if err := s.queue.Enqueue(ctx, task.ID); err != nil {
		// The task is durable; it will be re-enqueued on the next startup.
		return nil, false, fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}

	slog.Info("task submitted", "task_id", task.ID, "user_ref", userRef)
	return task, true, nil
}

// GetStatus returns the current view of a task. Non-terminal statuses are
// served from the cache mirror when possible; anything terminal (or a cache
// miss) reads the store, which is authoritative.
func (s *Service) GetStatus(ctx context.Context, taskID string) (*models.PredictionTask, error) {
	if s.cache != nil {
		status, found, err := s.cache.GetTaskStatus(ctx, taskID)
		if err == nil && found &&
			(status == models.TaskStatusPending || status == models.TaskStatusProcessing) {
			return &models.PredictionTask{ID: taskID, Status: status}, nil
		}
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.setStatus(ctx, task.ID, task.Status)
	return task, nil
}

// History returns the user's task summaries, newest first.
func (s *Service) History(ctx context.Context, userRef string, page, limit int) ([]*models.TaskSummary, int, error) {
	if userRef == "" {
		return nil, 0, fmt.Errorf("user_ref is required")
	}
	return s.store.ListTasksByUser(ctx, store.TaskFilter{UserRef: userRef, Page: page, Limit: limit})
}

// RecoverPending re-enqueues tasks that were pending when the previous
// process stopped. Called once at startup before workers begin.
func (s *Service) RecoverPending(ctx context.Context) (int, error) {
	tasks, err := s.store.ListPendingTasks(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("listing pending tasks: %w", err)
	}

	recovered := 0
	for _, t := range tasks {
		if err := s.queue.Enqueue(ctx, t.ID); err != nil {
			return recovered, fmt.Errorf("re-enqueue task %s: %w", t.ID, err)
		}
		recovered++
	}
	if recovered > 0 {
		slog.Info("pending tasks recovered", "count", recovered)
	}
	return recovered, nil
}

func (s *Service) setStatus(ctx context.Context, taskID, status string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetTaskStatus(ctx, taskID, status, statusCacheTTL); err != nil {
		slog.Debug("status cache update failed", "task_id", taskID, "error", err)
	}
}
