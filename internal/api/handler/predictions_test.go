package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/riskforge/riskforge/internal/queue"
	"github.com/riskforge/riskforge/internal/store"
	"github.com/riskforge/riskforge/pkg/models"
)

// --- mock PredictionService ---

type mockPredictionService struct {
	submitFn  func(ctx context.Context, payload map[string]any, userRef, taskID string) (*models.PredictionTask, bool, error)
	statusFn  func(ctx context.Context, taskID string) (*models.PredictionTask, error)
	historyFn func(ctx context.Context, userRef string, page, limit int) ([]*models.TaskSummary, int, error)
}

func (m *mockPredictionService) Submit(ctx context.Context, payload map[string]any, userRef, taskID string) (*models.PredictionTask, bool, error) {
	return m.submitFn(ctx, payload, userRef, taskID)
}

func (m *mockPredictionService) GetStatus(ctx context.Context, taskID string) (*models.PredictionTask, error) {
	return m.statusFn(ctx, taskID)
}

func (m *mockPredictionService) History(ctx context.Context, userRef string, page, limit int) ([]*models.TaskSummary, int, error) {
	return m.historyFn(ctx, userRef, page, limit)
}

// --- helpers ---

func jsonReq(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

func parseData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func parseErrCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Error.Code
}

// predictionRouter mounts the prediction handlers so chi URL params resolve.
func predictionRouter(svc PredictionService) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/predictions", NewSubmitHandler(svc))
	r.Get("/api/v1/predictions/{taskID}", NewStatusHandler(svc))
	r.Get("/api/v1/history/{userRef}", NewHistoryHandler(svc))
	return r
}

// --- submit tests ---

func TestSubmitHandler_Accepted(t *testing.T) {
	svc := &mockPredictionService{
		submitFn: func(_ context.Context, payload map[string]any, userRef, taskID string) (*models.PredictionTask, bool, error) {
			if userRef != "user-1" {
				t.Errorf("unexpected user_ref: %s", userRef)
			}
			return &models.PredictionTask{ID: "pred_abc", Status: models.TaskStatusPending}, true, nil
		},
	}
	router := predictionRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/predictions", map[string]any{
		"user_ref": "user-1",
		"payload":  map[string]any{"income": 50000, "debt": 10000},
	}))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	data := parseData(t, rec)
	if data["task_id"] != "pred_abc" {
		t.Errorf("unexpected task_id: %v", data["task_id"])
	}
	if data["status"] != models.TaskStatusPending {
		t.Errorf("unexpected status: %v", data["status"])
	}
}

func TestSubmitHandler_DuplicateReturns200(t *testing.T) {
	svc := &mockPredictionService{
		submitFn: func(_ context.Context, _ map[string]any, _, taskID string) (*models.PredictionTask, bool, error) {
			return &models.PredictionTask{ID: taskID, Status: models.TaskStatusCompleted}, false, nil
		},
	}
	router := predictionRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/predictions", map[string]any{
		"user_ref": "user-1",
		"task_id":  "pred_dup",
		"payload":  map[string]any{"income": 1},
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", rec.Code)
	}
	data := parseData(t, rec)
	if data["duplicate"] != true {
		t.Errorf("expected duplicate flag, got %v", data["duplicate"])
	}
}

func TestSubmitHandler_MissingUserRef(t *testing.T) {
	router := predictionRouter(&mockPredictionService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/predictions", map[string]any{
		"payload": map[string]any{"income": 1},
	}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := parseErrCode(t, rec); code != "INVALID_REQUEST" {
		t.Errorf("unexpected error code: %s", code)
	}
}

func TestSubmitHandler_MissingPayload(t *testing.T) {
	router := predictionRouter(&mockPredictionService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/predictions", map[string]any{
		"user_ref": "user-1",
	}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitHandler_InvalidJSON(t *testing.T) {
	router := predictionRouter(&mockPredictionService{})

	r := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitHandler_QueueClosed(t *testing.T) {
	svc := &mockPredictionService{
		submitFn: func(_ context.Context, _ map[string]any, _, _ string) (*models.PredictionTask, bool, error) {
			return nil, false, queue.ErrClosed
		},
	}
	router := predictionRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/predictions", map[string]any{
		"user_ref": "user-1",
		"payload":  map[string]any{"income": 1},
	}))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if code := parseErrCode(t, rec); code != "QUEUE_CLOSED" {
		t.Errorf("unexpected error code: %s", code)
	}
}

// --- status tests ---

func TestStatusHandler_Pending(t *testing.T) {
	svc := &mockPredictionService{
		statusFn: func(_ context.Context, taskID string) (*models.PredictionTask, error) {
			return &models.PredictionTask{ID: taskID, Status: models.TaskStatusPending}, nil
		},
	}
	router := predictionRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predictions/pred_abc", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := parseData(t, rec)
	if data["status"] != models.TaskStatusPending {
		t.Errorf("unexpected status: %v", data["status"])
	}
	if data["message"] == nil {
		t.Error("expected a progress message for pending tasks")
	}
	if _, present := data["result"]; present {
		t.Error("pending task must not carry a result")
	}
}

// In-flight tasks get the same compact body whether the service served them
// from the cache mirror (status only) or from the store (full record).
func TestStatusHandler_ProcessingShapeIsSourceIndependent(t *testing.T) {
	started := map[string]*models.PredictionTask{
		"from cache": {ID: "pred_abc", Status: models.TaskStatusProcessing},
		"from store": {ID: "pred_abc", Status: models.TaskStatusProcessing, Attempts: 2},
	}

	var bodies []string
	for name, task := range started {
		task := task
		svc := &mockPredictionService{
			statusFn: func(_ context.Context, _ string) (*models.PredictionTask, error) {
				return task, nil
			},
		}
		rec := httptest.NewRecorder()
		predictionRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predictions/pred_abc", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", name, rec.Code)
		}

		data := parseData(t, rec)
		if _, present := data["attempts"]; present {
			t.Errorf("%s: in-flight response must not expose attempts", name)
		}
		if data["message"] != "Task is being scored" {
			t.Errorf("%s: unexpected message: %v", name, data["message"])
		}
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		bodies = append(bodies, string(raw))
	}
	if bodies[0] != bodies[1] {
		t.Errorf("response bodies differ by source:\n%s\n%s", bodies[0], bodies[1])
	}
}

func TestStatusHandler_Completed(t *testing.T) {
	svc := &mockPredictionService{
		statusFn: func(_ context.Context, taskID string) (*models.PredictionTask, error) {
			return &models.PredictionTask{
				ID:       taskID,
				Status:   models.TaskStatusCompleted,
				Attempts: 1,
				Result: &models.PredictionResult{
					RiskScore:    0.23,
					RiskCategory: "low",
					Confidence:   0.91,
					ModelName:    "credit_default",
					ModelVersion: "v3",
				},
			}, nil
		},
	}
	router := predictionRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predictions/pred_abc", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := parseData(t, rec)
	result := data["result"].(map[string]any)
	if result["risk_score"] != 0.23 {
		t.Errorf("unexpected risk_score: %v", result["risk_score"])
	}
	if result["risk_category"] != "low" {
		t.Errorf("unexpected risk_category: %v", result["risk_category"])
	}
	if result["model_version"] != "v3" {
		t.Errorf("unexpected model_version: %v", result["model_version"])
	}
}

func TestStatusHandler_Failed(t *testing.T) {
	msg := "scoring backend unavailable"
	svc := &mockPredictionService{
		statusFn: func(_ context.Context, taskID string) (*models.PredictionTask, error) {
			return &models.PredictionTask{
				ID:           taskID,
				Status:       models.TaskStatusFailed,
				Attempts:     3,
				ErrorMessage: &msg,
			}, nil
		},
	}
	router := predictionRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predictions/pred_abc", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := parseData(t, rec)
	if data["error"] != msg {
		t.Errorf("unexpected error message: %v", data["error"])
	}
}

func TestStatusHandler_NotFound(t *testing.T) {
	svc := &mockPredictionService{
		statusFn: func(_ context.Context, _ string) (*models.PredictionTask, error) {
			return nil, store.ErrNotFound
		},
	}
	router := predictionRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predictions/pred_missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := parseErrCode(t, rec); code != "NOT_FOUND" {
		t.Errorf("unexpected error code: %s", code)
	}
}

// --- history tests ---

func TestHistoryHandler_Paginated(t *testing.T) {
	svc := &mockPredictionService{
		historyFn: func(_ context.Context, userRef string, page, limit int) ([]*models.TaskSummary, int, error) {
			if userRef != "user-1" {
				t.Errorf("unexpected user_ref: %s", userRef)
			}
			if page != 2 || limit != 5 {
				t.Errorf("unexpected pagination: page=%d limit=%d", page, limit)
			}
			return []*models.TaskSummary{
				{ID: "pred_a", Status: models.TaskStatusCompleted},
				{ID: "pred_b", Status: models.TaskStatusFailed},
			}, 12, nil
		},
	}
	router := predictionRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/user-1?page=2&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Page    int  `json:"page"`
			Limit   int  `json:"limit"`
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(env.Data))
	}
	if env.Meta.Total != 12 || !env.Meta.HasNext {
		t.Errorf("unexpected meta: %+v", env.Meta)
	}
}

func TestHistoryHandler_Empty(t *testing.T) {
	svc := &mockPredictionService{
		historyFn: func(_ context.Context, _ string, _, _ int) ([]*models.TaskSummary, int, error) {
			return nil, 0, nil
		},
	}
	router := predictionRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/nobody", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data == nil {
		t.Error("expected empty array, got null")
	}
}

func TestHistoryHandler_BadPaginationFallsBack(t *testing.T) {
	svc := &mockPredictionService{
		historyFn: func(_ context.Context, _ string, page, limit int) ([]*models.TaskSummary, int, error) {
			if page != 1 || limit != 20 {
				t.Errorf("expected defaults, got page=%d limit=%d", page, limit)
			}
			return nil, 0, nil
		},
	}
	router := predictionRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/user-1?page=zero&limit=-4", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
