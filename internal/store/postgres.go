package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riskforge/riskforge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const taskColumns = `id, application_id, status, attempts, result, error_message, duration_ms,
	 started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.PredictionTask, error) {
	var t models.PredictionTask
	var resultJSON []byte
	err := row.Scan(&t.ID, &t.ApplicationID, &t.Status, &t.Attempts, &resultJSON,
		&t.ErrorMessage, &t.DurationMs, &t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if resultJSON != nil {
		var r models.PredictionResult
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
		t.Result = &r
	}
	return &t, nil
}

// --- Submissions ---

func (s *PostgresStore) CreateSubmission(ctx context.Context, app *models.Application, task *models.PredictionTask) (*models.PredictionTask, bool, error) {
	// Fast path: an existing task with this id means a client retry.
	existing, err := s.GetTask(ctx, task.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin submission: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO applications (id, user_ref, payload, created_at)
		 VALUES ($1, $2, $3, $4)`,
		app.ID, app.UserRef, app.Payload, app.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("create application: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO prediction_tasks (id, application_id, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, $5)`,
		task.ID, task.ApplicationID, models.TaskStatusPending, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			// Lost a race with a concurrent submission carrying the same id.
			_ = tx.Rollback(ctx)
			existing, getErr := s.GetTask(ctx, task.ID)
			if getErr != nil {
				return nil, false, fmt.Errorf("fetch task after duplicate submission: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create prediction task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit submission: %w", err)
	}

	created := *task
	created.Status = models.TaskStatusPending
	return &created, true, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.PredictionTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM prediction_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var a models.Application
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_ref, payload, created_at FROM applications WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserRef, &a.Payload, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) ListTasksByUser(ctx context.Context, filter TaskFilter) ([]*models.TaskSummary, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM prediction_tasks t
		 JOIN applications a ON a.id = t.application_id
		 WHERE a.user_ref = $1`, filter.UserRef,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count tasks by user: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.status, t.result, t.created_at, t.completed_at
		 FROM prediction_tasks t
		 JOIN applications a ON a.id = t.application_id
		 WHERE a.user_ref = $1
		 ORDER BY t.created_at DESC
		 LIMIT $2 OFFSET $3`, filter.UserRef, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks by user: %w", err)
	}
	defer rows.Close()

	var summaries []*models.TaskSummary
	for rows.Next() {
		var sum models.TaskSummary
		var resultJSON []byte
		if err := rows.Scan(&sum.ID, &sum.Status, &resultJSON, &sum.CreatedAt, &sum.CompletedAt); err != nil {
			return nil, 0, fmt.Errorf("scan task summary: %w", err)
		}
		if resultJSON != nil {
			var r models.PredictionResult
			if err := json.Unmarshal(resultJSON, &r); err != nil {
				return nil, 0, fmt.Errorf("decode task result: %w", err)
			}
			sum.RiskScore = &r.RiskScore
			sum.RiskCategory = &r.RiskCategory
		}
		summaries = append(summaries, &sum)
	}
	return summaries, total, rows.Err()
}

// --- Task state machine ---

func (s *PostgresStore) ClaimTask(ctx context.Context, id string) (*models.PredictionTask, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE prediction_tasks
		 SET status = $2, attempts = attempts + 1, started_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $3
		 RETURNING `+taskColumns,
		id, models.TaskStatusProcessing, models.TaskStatusPending)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionError(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) CompleteTask(ctx context.Context, id string, attempt int, result models.PredictionResult, durationMs int64) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode task result: %w", err)
	}

	// The attempts guard fences out a stale claimant: if the reaper requeued
	// this task and another worker re-claimed it, attempts moved on and the
	// slow worker's write matches zero rows.
	tag, err := s.pool.Exec(ctx,
		`UPDATE prediction_tasks
		 SET status = $2, result = $3, duration_ms = $4, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $5 AND attempts = $6`,
		id, models.TaskStatusCompleted, resultJSON, durationMs, models.TaskStatusProcessing, attempt)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *PostgresStore) FailTask(ctx context.Context, id string, attempt int, errorMessage string, durationMs int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prediction_tasks
		 SET status = $2, error_message = $3, duration_ms = $4, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = $5 AND attempts = $6`,
		id, models.TaskStatusFailed, errorMessage, durationMs, models.TaskStatusProcessing, attempt)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *PostgresStore) RequeueTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prediction_tasks
		 SET status = $2, started_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		id, models.TaskStatusPending, models.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *PostgresStore) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.PredictionTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM prediction_tasks
		 WHERE status = $1 AND started_at < $2
		 ORDER BY started_at ASC LIMIT $3`,
		models.TaskStatusProcessing, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale processing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.PredictionTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) ListPendingTasks(ctx context.Context, limit int) ([]*models.PredictionTask, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM prediction_tasks
		 WHERE status = $1
		 ORDER BY created_at ASC LIMIT $2`,
		models.TaskStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.PredictionTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// transitionError distinguishes a missing task from one in the wrong state
// after a conditional update matched no rows.
func (s *PostgresStore) transitionError(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM prediction_tasks WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get task status: %w", err)
	}
	return fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, id, status)
}

// --- Model versions ---

const modelColumns = `id, name, version, artifact_ref, metrics, active, created_at`

func scanModelVersion(row rowScanner) (*models.ModelVersion, error) {
	var mv models.ModelVersion
	err := row.Scan(&mv.ID, &mv.Name, &mv.Version, &mv.ArtifactRef, &mv.Metrics, &mv.Active, &mv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

func (s *PostgresStore) CreateModelVersion(ctx context.Context, mv *models.ModelVersion) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO model_versions (id, name, version, artifact_ref, metrics, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		mv.ID, mv.Name, mv.Version, mv.ArtifactRef, mv.Metrics, mv.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateVersion
		}
		return fmt.Errorf("create model version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActivateModelVersion(ctx context.Context, name, version string) (*models.ModelVersion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin activation: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE model_versions SET active = FALSE WHERE name = $1 AND active`, name)
	if err != nil {
		return nil, fmt.Errorf("deactivate current version: %w", err)
	}

	row := tx.QueryRow(ctx,
		`UPDATE model_versions SET active = TRUE
		 WHERE name = $1 AND version = $2
		 RETURNING `+modelColumns, name, version)
	mv, err := scanModelVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("activate model version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit activation: %w", err)
	}
	return mv, nil
}

func (s *PostgresStore) GetActiveModelVersion(ctx context.Context, name string) (*models.ModelVersion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+modelColumns+` FROM model_versions WHERE name = $1 AND active`, name)
	mv, err := scanModelVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveModel
	}
	if err != nil {
		return nil, fmt.Errorf("get active model version: %w", err)
	}
	return mv, nil
}

func (s *PostgresStore) GetModelVersion(ctx context.Context, name, version string) (*models.ModelVersion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+modelColumns+` FROM model_versions WHERE name = $1 AND version = $2`, name, version)
	mv, err := scanModelVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model version: %w", err)
	}
	return mv, nil
}

func (s *PostgresStore) ListModelVersions(ctx context.Context, name string) ([]*models.ModelVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+modelColumns+` FROM model_versions WHERE name = $1 ORDER BY created_at DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.ModelVersion
	for rows.Next() {
		mv, err := scanModelVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model version: %w", err)
		}
		versions = append(versions, mv)
	}
	return versions, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
