// Package scoring provides the scoring capability behind the worker pool.
package scoring

import (
	"fmt"

	"github.com/riskforge/riskforge/internal/config"
	"github.com/riskforge/riskforge/internal/scoring/heuristic"
	"github.com/riskforge/riskforge/internal/scoring/remote"
	"github.com/riskforge/riskforge/pkg/models"
)

// NewScorer constructs the appropriate scorer based on config.
// Called once at server startup.
func NewScorer(cfg config.ScoringConfig) (models.Scorer, error) {
	switch cfg.Provider {
	case "heuristic":
		return heuristic.NewScorer(), nil
	case "remote":
		return remote.NewScorer(cfg.Remote, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown scorer provider %q: must be one of heuristic, remote", cfg.Provider)
	}
}
