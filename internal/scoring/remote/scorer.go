// Package remote scores applications against an HTTP inference service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/riskforge/riskforge/internal/config"
	"github.com/riskforge/riskforge/pkg/models"
)

// Scorer implements models.Scorer against an inference service's HTTP API.
type Scorer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewScorer creates a new remote Scorer.
func NewScorer(cfg config.RemoteScorerConfig, timeout time.Duration) *Scorer {
	return &Scorer{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *Scorer) Name() string { return "remote" }

type scoreRequest struct {
	Payload      map[string]any `json:"payload"`
	ModelName    string         `json:"model_name"`
	ModelVersion string         `json:"model_version"`
	ArtifactRef  string         `json:"artifact_ref"`
}

type scoreResponse struct {
	RiskScore    float64 `json:"risk_score"`
	RiskCategory string  `json:"risk_category"`
	Confidence   float64 `json:"confidence"`
}

func (s *Scorer) Score(ctx context.Context, req models.ScoreRequest) (models.PredictionResult, error) {
	body, err := json.Marshal(scoreRequest{
		Payload:      req.Application.Payload,
		ModelName:    req.Model.Name,
		ModelVersion: req.Model.Version,
		ArtifactRef:  req.Model.ArtifactRef,
	})
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("encoding score request: %w", err)
	}

	u := s.baseURL + "/v1/score"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return models.PredictionResult{}, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return models.PredictionResult{}, fmt.Errorf("%w: status %d", models.ErrScorerInvalidPayload, resp.StatusCode)
	default:
		return models.PredictionResult{}, fmt.Errorf("%w: status %d", models.ErrScorerUnavailable, resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.PredictionResult{}, fmt.Errorf("%w: %v", models.ErrScorerInvalidResponse, err)
	}
	if out.RiskScore < 0 || out.RiskScore > 1 {
		return models.PredictionResult{}, fmt.Errorf("%w: risk_score %f out of range", models.ErrScorerInvalidResponse, out.RiskScore)
	}

	return models.PredictionResult{
		RiskScore:    out.RiskScore,
		RiskCategory: out.RiskCategory,
		Confidence:   out.Confidence,
		ModelName:    req.Model.Name,
		ModelVersion: req.Model.Version,
	}, nil
}

// classifyError maps transport failures onto the scoring error taxonomy.
func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", models.ErrScorerUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout: %v", models.ErrScorerUnavailable, err)
	}
	return fmt.Errorf("%w: %v", models.ErrScorerUnavailable, err)
}

var _ models.Scorer = (*Scorer)(nil)
