package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/riskforge/riskforge/internal/api/response"
	"github.com/riskforge/riskforge/internal/queue"
	"github.com/riskforge/riskforge/internal/store"
	"github.com/riskforge/riskforge/pkg/models"
)

// PredictionService defines the pipeline operations the handlers depend on.
type PredictionService interface {
	Submit(ctx context.Context, payload map[string]any, userRef, taskID string) (*models.PredictionTask, bool, error)
	GetStatus(ctx context.Context, taskID string) (*models.PredictionTask, error)
	History(ctx context.Context, userRef string, page, limit int) ([]*models.TaskSummary, int, error)
}

type submitResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/predictions.
func NewSubmitHandler(svc PredictionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserRef string         `json:"user_ref"`
			TaskID  string         `json:"task_id"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.UserRef == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_ref is required", nil)
			return
		}
		if len(req.Payload) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "payload is required", nil)
			return
		}

		task, created, err := svc.Submit(r.Context(), req.Payload, req.UserRef, req.TaskID)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				response.Error(w, http.StatusServiceUnavailable, "QUEUE_CLOSED",
					"The pipeline is shutting down; retry later", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to submit prediction", nil)
			return
		}

		body := submitResponse{TaskID: task.ID, Status: task.Status, Duplicate: !created}
		if created {
			response.Accepted(w, body)
			return
		}
		// Idempotent resubmission: same task, no new work.
		response.JSON(w, body)
	}
}

type statusResponse struct {
	TaskID      string                   `json:"task_id"`
	Status      string                   `json:"status"`
	Attempts    int                      `json:"attempts,omitempty"`
	Result      *models.PredictionResult `json:"result,omitempty"`
	Error       *string                  `json:"error,omitempty"`
	Message     string                   `json:"message,omitempty"`
	DurationMs  *int64                   `json:"duration_ms,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/predictions/{taskID}.
func NewStatusHandler(svc PredictionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := chi.URLParam(r, "taskID")
		if taskID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "task id is required", nil)
			return
		}

		task, err := svc.GetStatus(r.Context(), taskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Task not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch task", nil)
			return
		}

		// Non-terminal views may be served from the cache mirror, which only
		// carries the status. Keep the shape identical either way: compact
		// while in flight, full record once terminal.
		body := statusResponse{TaskID: task.ID, Status: task.Status}
		switch task.Status {
		case models.TaskStatusPending:
			body.Message = "Task is waiting to be processed"
		case models.TaskStatusProcessing:
			body.Message = "Task is being scored"
		default:
			body.Attempts = task.Attempts
			body.Result = task.Result
			body.Error = task.ErrorMessage
			body.DurationMs = task.DurationMs
			body.CompletedAt = task.CompletedAt
		}
		response.JSON(w, body)
	}
}

// NewHistoryHandler returns an http.HandlerFunc for GET /api/v1/history/{userRef}.
func NewHistoryHandler(svc PredictionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userRef := chi.URLParam(r, "userRef")
		if userRef == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user ref is required", nil)
			return
		}

		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", 20)

		summaries, total, err := svc.History(r.Context(), userRef, page, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to fetch history", nil)
			return
		}
		if summaries == nil {
			summaries = []*models.TaskSummary{}
		}

		response.Collection(w, summaries, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
