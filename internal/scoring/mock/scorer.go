// Package mock provides a models.Scorer for testing.
package mock

import (
	"context"

	"github.com/riskforge/riskforge/pkg/models"
)

// MockScorer satisfies models.Scorer for testing.
type MockScorer struct {
	Name_     string
	ScoreFunc func(ctx context.Context, req models.ScoreRequest) (models.PredictionResult, error)
}

func (m *MockScorer) Name() string { return m.Name_ }

func (m *MockScorer) Score(ctx context.Context, req models.ScoreRequest) (models.PredictionResult, error) {
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, req)
	}
	return models.PredictionResult{}, nil
}

// NewMockScorer returns a MockScorer with a sensible default response.
func NewMockScorer() *MockScorer {
	return &MockScorer{
		Name_: "mock",
		ScoreFunc: func(_ context.Context, req models.ScoreRequest) (models.PredictionResult, error) {
			return models.PredictionResult{
				RiskScore:    0.23,
				RiskCategory: "low",
				Confidence:   0.91,
				ModelName:    req.Model.Name,
				ModelVersion: req.Model.Version,
			}, nil
		},
	}
}

// NewFailingScorer returns a MockScorer that always returns the given error.
func NewFailingScorer(err error) *MockScorer {
	return &MockScorer{
		Name_: "mock-failing",
		ScoreFunc: func(_ context.Context, _ models.ScoreRequest) (models.PredictionResult, error) {
			return models.PredictionResult{}, err
		},
	}
}

// Compile-time check that MockScorer implements Scorer.
var _ models.Scorer = (*MockScorer)(nil)
