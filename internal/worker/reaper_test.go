package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/riskforge/riskforge/internal/queue"
	"github.com/riskforge/riskforge/internal/scoring/mock"
	"github.com/riskforge/riskforge/internal/worker"
	"github.com/riskforge/riskforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReaper(ms *memStore, q *queue.Queue, maxAttempts int) *worker.Reaper {
	return worker.NewReaper(worker.ReaperConfig{
		Interval:           time.Minute,
		StalenessThreshold: 5 * time.Minute,
		MaxAttempts:        maxAttempts,
	}, ms, q, nil)
}

func TestReaper_RequeuesStaleTask(t *testing.T) {
	ms := newMemStore()
	q := queue.New(8)

	started := time.Now().UTC().Add(-10 * time.Minute)
	taskID := ms.addTask(models.TaskStatusProcessing, 1, &started)

	newReaper(ms, q, 3).Sweep(context.Background())

	task := ms.getTask(taskID)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Nil(t, task.StartedAt)

	// The task id is back on the queue for a worker to pick up.
	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, taskID, got)
}

func TestReaper_FailsTaskWithExhaustedBudget(t *testing.T) {
	ms := newMemStore()
	q := queue.New(8)

	started := time.Now().UTC().Add(-10 * time.Minute)
	taskID := ms.addTask(models.TaskStatusProcessing, 3, &started)

	newReaper(ms, q, 3).Sweep(context.Background())

	task := ms.getTask(taskID)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Contains(t, *task.ErrorMessage, "timed out after 3 attempts")
	assert.Zero(t, q.Len(), "exhausted task must not be requeued")
}

func TestReaper_IgnoresFreshProcessingTask(t *testing.T) {
	ms := newMemStore()
	q := queue.New(8)

	started := time.Now().UTC().Add(-30 * time.Second)
	taskID := ms.addTask(models.TaskStatusProcessing, 1, &started)

	newReaper(ms, q, 3).Sweep(context.Background())

	task := ms.getTask(taskID)
	assert.Equal(t, models.TaskStatusProcessing, task.Status)
	assert.Zero(t, q.Len())
}

func TestReaper_IgnoresTerminalTasks(t *testing.T) {
	ms := newMemStore()
	q := queue.New(8)

	completedID := ms.addTask(models.TaskStatusCompleted, 1, nil)
	failedID := ms.addTask(models.TaskStatusFailed, 3, nil)

	newReaper(ms, q, 3).Sweep(context.Background())

	assert.Equal(t, models.TaskStatusCompleted, ms.getTask(completedID).Status)
	assert.Equal(t, models.TaskStatusFailed, ms.getTask(failedID).Status)
	assert.Zero(t, q.Len())
}

// A reaped task picked up by a worker completes with attempts accounting for
// the lost first attempt.
func TestReaper_RecoveredTaskCompletesOnSecondAttempt(t *testing.T) {
	ms := newMemStore()
	ms.active = activeModel()
	q := queue.New(8)

	started := time.Now().UTC().Add(-10 * time.Minute)
	taskID := ms.addTask(models.TaskStatusProcessing, 1, &started)

	newReaper(ms, q, 3).Sweep(context.Background())
	require.Equal(t, models.TaskStatusPending, ms.getTask(taskID).Status)

	stop := startPool(t, ms, q, mock.NewMockScorer(), 3)
	defer stop()

	task := waitTerminal(t, ms, taskID)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, 2, task.Attempts)
	require.NotNil(t, task.Result)
	assert.Equal(t, 0.23, task.Result.RiskScore)
}

func TestReaper_RunStopsOnContextCancel(t *testing.T) {
	ms := newMemStore()
	q := queue.New(8)

	r := worker.NewReaper(worker.ReaperConfig{
		Interval:           10 * time.Millisecond,
		StalenessThreshold: 5 * time.Minute,
		MaxAttempts:        3,
	}, ms, q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on cancel")
	}
}
