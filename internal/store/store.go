package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/riskforge/riskforge/pkg/models"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrDuplicateKey      = errors.New("duplicate key violation")
	ErrDuplicateVersion  = errors.New("model version already registered")
	ErrNoActiveModel     = errors.New("no active model version")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// CreateSubmission inserts the application and its pending task in one
	// transaction. If a task with the same id already exists, the existing
	// task is returned unchanged and created is false — submission is
	// idempotent on the task id.
	CreateSubmission(ctx context.Context, app *models.Application, task *models.PredictionTask) (result *models.PredictionTask, created bool, err error)
	GetTask(ctx context.Context, id string) (*models.PredictionTask, error)
	GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error)
	ListTasksByUser(ctx context.Context, filter TaskFilter) ([]*models.TaskSummary, int, error)

	// ClaimTask transitions pending -> processing and increments the attempt
	// counter. Exactly one concurrent caller wins; the rest get
	// ErrInvalidTransition.
	ClaimTask(ctx context.Context, id string) (*models.PredictionTask, error)
	// CompleteTask and FailTask transition processing -> terminal, but only
	// for the caller that still holds the claim: attempt must equal the
	// attempts value observed at claim time. A stale claimant whose task was
	// reaped and re-claimed gets ErrInvalidTransition instead of overwriting
	// the newer attempt.
	CompleteTask(ctx context.Context, id string, attempt int, result models.PredictionResult, durationMs int64) error
	FailTask(ctx context.Context, id string, attempt int, errorMessage string, durationMs int64) error
	// RequeueTask transitions processing -> pending. Reaper use only.
	RequeueTask(ctx context.Context, id string) error
	ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.PredictionTask, error)
	// ListPendingTasks returns pending tasks oldest first, for re-enqueueing
	// after a restart.
	ListPendingTasks(ctx context.Context, limit int) ([]*models.PredictionTask, error)

	CreateModelVersion(ctx context.Context, mv *models.ModelVersion) error
	// ActivateModelVersion atomically deactivates the current active version
	// for the model name and activates the target.
	ActivateModelVersion(ctx context.Context, name, version string) (*models.ModelVersion, error)
	GetActiveModelVersion(ctx context.Context, name string) (*models.ModelVersion, error)
	GetModelVersion(ctx context.Context, name, version string) (*models.ModelVersion, error)
	ListModelVersions(ctx context.Context, name string) ([]*models.ModelVersion, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type TaskFilter struct {
	UserRef string
	Page    int
	Limit   int
}
