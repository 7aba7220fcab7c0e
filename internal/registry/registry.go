// Package registry tracks known model versions and which one is active.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riskforge/riskforge/internal/store"
	"github.com/riskforge/riskforge/pkg/models"
)

// Registry serves the active-version pointer for each model name. Writes go
// through the store (the activation transaction is the linearization point);
// reads are served from an in-memory snapshot refreshed under the same lock
// that guards activation, so two racing Activate calls cannot leave the
// snapshot pointing at a loser.
type Registry struct {
	store store.Store

	mu     sync.RWMutex
	active map[string]*models.ModelVersion
}

// New creates a Registry backed by the given store.
func New(s store.Store) *Registry {
	return &Registry{
		store:  s,
		active: make(map[string]*models.ModelVersion),
	}
}

// Warm loads the active version for name from durable storage at startup.
// A model with no active version yet is not an error.
func (r *Registry) Warm(ctx context.Context, name string) error {
	mv, err := r.store.GetActiveModelVersion(ctx, name)
	if errors.Is(err, store.ErrNoActiveModel) {
		slog.Warn("no active model version at startup", "model", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("warm registry for %s: %w", name, err)
	}

	r.mu.Lock()
	r.active[name] = mv
	r.mu.Unlock()

	slog.Info("active model loaded", "model", name, "version", mv.Version)
	return nil
}

// Register adds a model version in inactive state. Fails with
// store.ErrDuplicateVersion if (name, version) already exists.
func (r *Registry) Register(ctx context.Context, name, version, artifactRef string, metrics map[string]float64) (*models.ModelVersion, error) {
	if name == "" || version == "" {
		return nil, fmt.Errorf("model name and version are required")
	}
	if metrics == nil {
		metrics = map[string]float64{}
	}

	mv := &models.ModelVersion{
		ID:          uuid.New(),
		Name:        name,
		Version:     version,
		ArtifactRef: artifactRef,
		Metrics:     metrics,
		Active:      false,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.store.CreateModelVersion(ctx, mv); err != nil {
		return nil, err
	}
	return mv, nil
}

// Activate atomically swaps the active version for name to the target
// version. Concurrent activations for the same name serialize here; the
// loser observes the winner's result in the snapshot.
func (r *Registry) Activate(ctx context.Context, name, version string) (*models.ModelVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mv, err := r.store.ActivateModelVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}
	r.active[name] = mv

	slog.Info("model version activated", "model", name, "version", version)
	return mv, nil
}

// ResolveActive returns the current active version for name, falling back to
// the store when the snapshot is cold. Fails with store.ErrNoActiveModel.
func (r *Registry) ResolveActive(ctx context.Context, name string) (*models.ModelVersion, error) {
	r.mu.RLock()
	mv, ok := r.active[name]
	r.mu.RUnlock()
	if ok {
		return mv, nil
	}

	mv, err := r.store.GetActiveModelVersion(ctx, name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.active[name] = mv
	r.mu.Unlock()
	return mv, nil
}

// List returns all registered versions for name, newest first.
func (r *Registry) List(ctx context.Context, name string) ([]*models.ModelVersion, error) {
	return r.store.ListModelVersions(ctx, name)
}
