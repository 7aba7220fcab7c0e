package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/riskforge/riskforge/internal/api/response"
	"github.com/riskforge/riskforge/internal/store"
	"github.com/riskforge/riskforge/pkg/models"
)

// ModelRegistry defines the registry operations the admin handlers depend on.
type ModelRegistry interface {
	Register(ctx context.Context, name, version, artifactRef string, metrics map[string]float64) (*models.ModelVersion, error)
	Activate(ctx context.Context, name, version string) (*models.ModelVersion, error)
	List(ctx context.Context, name string) ([]*models.ModelVersion, error)
}

// NewRegisterModelHandler returns an http.HandlerFunc for POST /api/v1/admin/models.
func NewRegisterModelHandler(reg ModelRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string             `json:"name"`
			Version     string             `json:"version"`
			ArtifactRef string             `json:"artifact_ref"`
			Metrics     map[string]float64 `json:"metrics"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Name == "" || req.Version == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"name and version are required", nil)
			return
		}

		mv, err := reg.Register(r.Context(), req.Name, req.Version, req.ArtifactRef, req.Metrics)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateVersion) {
				response.Error(w, http.StatusConflict, "DUPLICATE_VERSION",
					"Model version already registered", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to register model version", nil)
			return
		}
		response.Created(w, mv)
	}
}

// NewActivateModelHandler returns an http.HandlerFunc for
// POST /api/v1/admin/models/{name}/versions/{version}/activate.
func NewActivateModelHandler(reg ModelRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		version := chi.URLParam(r, "version")
		if name == "" || version == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"name and version are required", nil)
			return
		}

		mv, err := reg.Activate(r.Context(), name, version)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND",
					"Model version not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to activate model version", nil)
			return
		}
		response.JSON(w, mv)
	}
}

// NewListModelsHandler returns an http.HandlerFunc for GET /api/v1/admin/models/{name}.
func NewListModelsHandler(reg ModelRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}

		versions, err := reg.List(r.Context(), name)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list model versions", nil)
			return
		}
		if versions == nil {
			versions = []*models.ModelVersion{}
		}
		response.JSON(w, versions)
	}
}
