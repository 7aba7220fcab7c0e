package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/riskforge/riskforge/internal/store"
	"github.com/riskforge/riskforge/pkg/models"
)

// --- mock ModelRegistry ---

type mockRegistry struct {
	registerFn func(ctx context.Context, name, version, artifactRef string, metrics map[string]float64) (*models.ModelVersion, error)
	activateFn func(ctx context.Context, name, version string) (*models.ModelVersion, error)
	listFn     func(ctx context.Context, name string) ([]*models.ModelVersion, error)
}

func (m *mockRegistry) Register(ctx context.Context, name, version, artifactRef string, metrics map[string]float64) (*models.ModelVersion, error) {
	return m.registerFn(ctx, name, version, artifactRef, metrics)
}

func (m *mockRegistry) Activate(ctx context.Context, name, version string) (*models.ModelVersion, error) {
	return m.activateFn(ctx, name, version)
}

func (m *mockRegistry) List(ctx context.Context, name string) ([]*models.ModelVersion, error) {
	return m.listFn(ctx, name)
}

func jsonDecode(rec *httptest.ResponseRecorder, v any) error {
	return json.NewDecoder(rec.Body).Decode(v)
}

func modelRouter(reg ModelRegistry) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/admin/models", NewRegisterModelHandler(reg))
	r.Get("/api/v1/admin/models/{name}", NewListModelsHandler(reg))
	r.Post("/api/v1/admin/models/{name}/versions/{version}/activate", NewActivateModelHandler(reg))
	return r
}

// --- register tests ---

func TestRegisterModelHandler_Created(t *testing.T) {
	reg := &mockRegistry{
		registerFn: func(_ context.Context, name, version, artifactRef string, metrics map[string]float64) (*models.ModelVersion, error) {
			return &models.ModelVersion{
				ID:          uuid.New(),
				Name:        name,
				Version:     version,
				ArtifactRef: artifactRef,
				Metrics:     metrics,
				CreatedAt:   time.Now().UTC(),
			}, nil
		},
	}
	router := modelRouter(reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/admin/models", map[string]any{
		"name":         "credit_default",
		"version":      "v3",
		"artifact_ref": "s3://models/credit_default/v3",
		"metrics":      map[string]float64{"auc": 0.78},
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := parseData(t, rec)
	if data["name"] != "credit_default" || data["version"] != "v3" {
		t.Errorf("unexpected model version: %v", data)
	}
	if data["active"] != false {
		t.Error("registered version must start inactive")
	}
}

func TestRegisterModelHandler_MissingFields(t *testing.T) {
	router := modelRouter(&mockRegistry{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/admin/models", map[string]any{
		"name": "credit_default",
	}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRegisterModelHandler_DuplicateVersion(t *testing.T) {
	reg := &mockRegistry{
		registerFn: func(_ context.Context, _, _, _ string, _ map[string]float64) (*models.ModelVersion, error) {
			return nil, store.ErrDuplicateVersion
		},
	}
	router := modelRouter(reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/admin/models", map[string]any{
		"name":    "credit_default",
		"version": "v3",
	}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := parseErrCode(t, rec); code != "DUPLICATE_VERSION" {
		t.Errorf("unexpected error code: %s", code)
	}
}

// --- activate tests ---

func TestActivateModelHandler_Activated(t *testing.T) {
	reg := &mockRegistry{
		activateFn: func(_ context.Context, name, version string) (*models.ModelVersion, error) {
			return &models.ModelVersion{
				ID: uuid.New(), Name: name, Version: version, Active: true,
			}, nil
		},
	}
	router := modelRouter(reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/v1/admin/models/credit_default/versions/v3/activate", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := parseData(t, rec)
	if data["active"] != true {
		t.Error("activated version must report active")
	}
	if data["version"] != "v3" {
		t.Errorf("unexpected version: %v", data["version"])
	}
}

func TestActivateModelHandler_UnknownVersion(t *testing.T) {
	reg := &mockRegistry{
		activateFn: func(_ context.Context, _, _ string) (*models.ModelVersion, error) {
			return nil, store.ErrNotFound
		},
	}
	router := modelRouter(reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/v1/admin/models/credit_default/versions/v99/activate", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := parseErrCode(t, rec); code != "NOT_FOUND" {
		t.Errorf("unexpected error code: %s", code)
	}
}

// --- list tests ---

func TestListModelsHandler_ReturnsVersions(t *testing.T) {
	reg := &mockRegistry{
		listFn: func(_ context.Context, name string) ([]*models.ModelVersion, error) {
			return []*models.ModelVersion{
				{ID: uuid.New(), Name: name, Version: "v2", Active: true},
				{ID: uuid.New(), Name: name, Version: "v1"},
			}, nil
		},
	}
	router := modelRouter(reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/models/credit_default", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Data []map[string]any `json:"data"`
	}
	if err := jsonDecode(rec, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(env.Data))
	}
}

func TestListModelsHandler_EmptyList(t *testing.T) {
	reg := &mockRegistry{
		listFn: func(_ context.Context, _ string) ([]*models.ModelVersion, error) {
			return nil, nil
		},
	}
	router := modelRouter(reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/models/unknown", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Data []map[string]any `json:"data"`
	}
	if err := jsonDecode(rec, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data == nil {
		t.Error("expected empty array, got null")
	}
}
