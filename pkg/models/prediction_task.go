package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// NewTaskID generates a pipeline-assigned task identifier. Callers may
// supply their own id instead; it then doubles as the idempotency key.
func NewTaskID() string {
	return fmt.Sprintf("pred_%s", uuid.New())
}

// PredictionTask tracks one scoring attempt for an Application through the
// pending -> processing -> completed|failed state machine. The API returns
// the task id on POST /api/v1/predictions; the client polls
// GET /api/v1/predictions/{task_id} until the status is terminal.
type PredictionTask struct {
	ID            string            `db:"id"             json:"id"`
	ApplicationID uuid.UUID         `db:"application_id" json:"application_id"`
	Status        string            `db:"status"         json:"status"`
	Attempts      int               `db:"attempts"       json:"attempts"`
	Result        *PredictionResult `db:"result"         json:"result,omitempty"`
	ErrorMessage  *string           `db:"error_message"  json:"error_message,omitempty"`
	DurationMs    *int64            `db:"duration_ms"    json:"duration_ms,omitempty"`
	StartedAt     *time.Time        `db:"started_at"     json:"started_at,omitempty"`
	CompletedAt   *time.Time        `db:"completed_at"   json:"completed_at,omitempty"`
	CreatedAt     time.Time         `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at"     json:"updated_at"`
}

// Terminal reports whether the task has reached a final state.
func (t *PredictionTask) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// PredictionResult is the scoring outcome persisted on a completed task.
type PredictionResult struct {
	RiskScore    float64 `json:"risk_score"`
	RiskCategory string  `json:"risk_category"`
	Confidence   float64 `json:"confidence"`
	ModelName    string  `json:"model_name"`
	ModelVersion string  `json:"model_version"`
}

// TaskSummary is the compact shape returned by the history endpoint.
type TaskSummary struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	RiskScore    *float64   `json:"risk_score,omitempty"`
	RiskCategory *string    `json:"risk_category,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
