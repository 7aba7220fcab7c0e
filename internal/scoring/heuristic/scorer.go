// Package heuristic scores applications with a deterministic in-process
// model. It exists so the pipeline runs end to end without an inference
// service; the remote provider replaces it in production.
package heuristic

import (
	"context"
	"fmt"
	"math"

	"github.com/riskforge/riskforge/pkg/models"
)

// Scorer implements models.Scorer with a debt-to-income heuristic.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

func (s *Scorer) Name() string { return "heuristic" }

func (s *Scorer) Score(_ context.Context, req models.ScoreRequest) (models.PredictionResult, error) {
	income, err := numericField(req.Application.Payload, "income", "AMT_INCOME_TOTAL")
	if err != nil {
		return models.PredictionResult{}, err
	}
	debt, err := numericField(req.Application.Payload, "debt", "AMT_CREDIT")
	if err != nil {
		return models.PredictionResult{}, err
	}
	if income <= 0 {
		return models.PredictionResult{}, fmt.Errorf("%w: income must be positive", models.ErrScorerInvalidPayload)
	}
	if debt < 0 {
		return models.PredictionResult{}, fmt.Errorf("%w: debt must not be negative", models.ErrScorerInvalidPayload)
	}

	// Probability of default rises with the debt-to-income ratio, squashed
	// into (0, 1). The constants put a 0.2 ratio at roughly 0.23.
	ratio := debt / income
	risk := 1 / (1 + math.Exp(-4.5*(ratio-0.47)))
	confidence := math.Max(risk, 1-risk)

	return models.PredictionResult{
		RiskScore:    round4(risk),
		RiskCategory: Categorize(risk),
		Confidence:   round4(confidence),
		ModelName:    req.Model.Name,
		ModelVersion: req.Model.Version,
	}, nil
}

// Categorize maps a default probability to a risk band.
func Categorize(risk float64) string {
	switch {
	case risk <= 0.3:
		return "low"
	case risk <= 0.7:
		return "medium"
	default:
		return "high"
	}
}

func numericField(payload map[string]any, names ...string) (float64, error) {
	for _, name := range names {
		v, ok := payload[name]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return 0, fmt.Errorf("%w: field %s is not numeric", models.ErrScorerInvalidPayload, name)
		}
	}
	return 0, fmt.Errorf("%w: missing required field %s", models.ErrScorerInvalidPayload, names[0])
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

var _ models.Scorer = (*Scorer)(nil)
