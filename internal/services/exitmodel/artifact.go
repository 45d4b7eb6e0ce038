package exitmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	domsvc "Genesis/internal/domain/service"
)

// SchemaVersion is the artifact layout understood by this package.
const SchemaVersion = 1

// Purpose selects which model of a symbol/timeframe is used.
type Purpose string

const (
	PurposeExit Purpose = "exit"
	PurposeRR   Purpose = "rr"
)

// Kind is the model family stored in an artifact.
type Kind string

const (
	KindLogistic Kind = "logistic"
	KindLinear   Kind = "linear"
)

var errMissingFeature = errors.New("missing feature")

// Artifact is a serialized linear model with optional standardisation.
type Artifact struct {
	SchemaVersion int       `json:"schema_version"`
	Kind          Kind      `json:"kind"`
	Features      []string  `json:"features"`
	Coef          []float64 `json:"coef"`
	Intercept     float64   `json:"intercept"`
	Means         []float64 `json:"means,omitempty"`
	Scales        []float64 `json:"scales,omitempty"`
	TrainedAt     string    `json:"trained_at,omitempty"`
}

// ParseArtifact decodes and validates an artifact.
func ParseArtifact(b []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks version and shape.
func (a *Artifact) Validate() error {
	if a.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", a.SchemaVersion)
	}
	if a.Kind != KindLogistic && a.Kind != KindLinear {
		return fmt.Errorf("unknown model kind %q", a.Kind)
	}
	n := len(a.Features)
	if n == 0 || len(a.Coef) != n {
		return fmt.Errorf("feature/coefficient mismatch: %d features, %d coefficients", n, len(a.Coef))
	}
	if (len(a.Means) != 0 && len(a.Means) != n) || (len(a.Scales) != 0 && len(a.Scales) != n) {
		return fmt.Errorf("standardisation vectors do not match %d features", n)
	}
	return nil
}

// Predict evaluates the model on f. Logistic models return a probability.
func (a *Artifact) Predict(f domsvc.Features) (float64, error) {
	z := a.Intercept
	for i, name := range a.Features {
		x, ok := f[name]
		if !ok {
			return 0, fmt.Errorf("%w: %s", errMissingFeature, name)
		}
		if len(a.Means) > 0 {
			x -= a.Means[i]
		}
		if len(a.Scales) > 0 && a.Scales[i] != 0 {
			x /= a.Scales[i]
		}
		z += a.Coef[i] * x
	}
	if a.Kind == KindLogistic {
		z = 1 / (1 + math.Exp(-z))
	}
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0, errors.New("non-finite prediction")
	}
	return z, nil
}
