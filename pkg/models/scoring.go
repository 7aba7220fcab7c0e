package models

import (
	"context"
	"errors"
)

// Scorer is the core interface every scoring integration must implement.
// Never call a concrete scorer directly — always inject this interface.
type Scorer interface {
	// Score evaluates one application payload against a specific model
	// version and returns the risk outcome.
	Score(ctx context.Context, req ScoreRequest) (PredictionResult, error)
	// Name returns the scorer identifier (e.g., "heuristic", "remote").
	Name() string
}

// ScoreRequest is the input to a scoring operation. Model identifies which
// registered version the worker resolved as active at claim time.
type ScoreRequest struct {
	Application Application
	Model       ModelVersion
}

// Sentinel errors for scorer failures. They live next to Scorer so every
// provider can wrap them without depending on the factory package.
// ErrScorerUnavailable is transient and retried by the worker pool;
// the other two are deterministic and terminal.
var (
	ErrScorerUnavailable     = errors.New("scorer unavailable")
	ErrScorerInvalidPayload  = errors.New("application payload rejected by scorer")
	ErrScorerInvalidResponse = errors.New("scorer returned invalid response")
)

// TransientScoreError reports whether err is worth retrying.
func TransientScoreError(err error) bool {
	return errors.Is(err, ErrScorerUnavailable)
}
