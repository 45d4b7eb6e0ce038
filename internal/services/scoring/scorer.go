package scoring

import (
	"context"
	"encoding/json"
	"time"

	"Genesis/internal/domain/models"
	"Genesis/internal/services/tables"
	"Genesis/pkg/logger"
)

// Decision reasons. Downstream consumers branch on these values.
const (
	ReasonFailedTechnical  = "failed_technical_analysis"
	ReasonLowConfidence    = "confidence_below_threshold"
	ReasonCorrelationGuard = "correlation_guard_triggered"
	ReasonAllChecksPassed  = "all_checks_passed"
)

// DefaultBaseConfidence is the confidence bar before the performance multiplier.
const DefaultBaseConfidence = 0.70

type technicalLayer interface {
	Evaluate(ctx context.Context, symbol string, action models.Action, entry *float64) (float64, TechnicalDetails)
}

type performanceLayer interface {
	Evaluate(ctx context.Context, symbol string, action models.Action) (float64, PerformanceDetails)
}

type correlationLayer interface {
	Evaluate(ctx context.Context, symbol string, action models.Action) (bool, CorrelationDetails)
}

// Decision is the outcome of ShouldExecute with every layer's audit record.
type Decision struct {
	Execute               bool                `json:"execute"`
	Reason                string              `json:"reason"`
	TechnicalScore        float64             `json:"technical_score"`
	MinTechnical          float64             `json:"min_technical"`
	ThresholdsVersion     string              `json:"thresholds_version,omitempty"`
	PerformanceMultiplier float64             `json:"performance_multiplier,omitempty"`
	AdjustedThreshold     float64             `json:"adjusted_threshold,omitempty"`
	Confidence            float64             `json:"confidence"`
	Technical             *TechnicalDetails   `json:"technical,omitempty"`
	Performance           *PerformanceDetails `json:"performance,omitempty"`
	Correlation           *CorrelationDetails `json:"correlation,omitempty"`
	EvaluatedAt           time.Time           `json:"evaluated_at"`
}

// AsContext converts the decision into a generic map for the signal context.
func (d Decision) AsContext() map[string]any {
	b, err := json.Marshal(d)
	if err != nil {
		return map[string]any{"reason": d.Reason}
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{"reason": d.Reason}
	}
	return out
}

// Scorer gates a signal through technical, confidence and correlation checks in that order.
type Scorer struct {
	technical      technicalLayer
	performance    performanceLayer
	correlation    correlationLayer
	thresholds     tables.Source[tables.ThresholdTable]
	baseConfidence float64
	log            *logger.Logger
}

// NewScorer wires the scoring layers. A non-positive baseConfidence means DefaultBaseConfidence.
func NewScorer(technical technicalLayer, performance performanceLayer, correlation correlationLayer,
	thresholds tables.Source[tables.ThresholdTable], baseConfidence float64, log *logger.Logger) *Scorer {
	if baseConfidence <= 0 {
		baseConfidence = DefaultBaseConfidence
	}
	if thresholds == nil {
		thresholds = tables.NewStatic(tables.DefaultThresholds())
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scorer{
		technical:      technical,
		performance:    performance,
		correlation:    correlation,
		thresholds:     thresholds,
		baseConfidence: baseConfidence,
		log:            log,
	}
}

// ShouldExecute evaluates s and reports whether it should be executed.
// Gates short-circuit: a failed technical check skips the others.
func (sc *Scorer) ShouldExecute(ctx context.Context, s *models.Signal) (bool, Decision) {
	d := Decision{Confidence: s.Confidence, EvaluatedAt: time.Now().UTC()}

	th := sc.thresholds.Get()
	d.ThresholdsVersion = th.Version
	d.MinTechnical = th.Min(s.Symbol)

	score, td := sc.technical.Evaluate(ctx, s.Symbol, s.Action, s.Entry)
	d.TechnicalScore = score
	d.Technical = &td
	if score < d.MinTechnical {
		return sc.finish(s, d, ReasonFailedTechnical)
	}

	mult, pd := sc.performance.Evaluate(ctx, s.Symbol, s.Action)
	d.PerformanceMultiplier = mult
	d.AdjustedThreshold = sc.baseConfidence * mult
	d.Performance = &pd
	if s.Confidence < d.AdjustedThreshold {
		return sc.finish(s, d, ReasonLowConfidence)
	}

	ok, cd := sc.correlation.Evaluate(ctx, s.Symbol, s.Action)
	d.Correlation = &cd
	if !ok {
		return sc.finish(s, d, ReasonCorrelationGuard)
	}

	d.Execute = true
	return sc.finish(s, d, ReasonAllChecksPassed)
}

func (sc *Scorer) finish(s *models.Signal, d Decision, reason string) (bool, Decision) {
	d.Reason = reason
	sc.log.Info("signal scored",
		logger.Int64("signal_id", s.ID),
		logger.String("symbol", s.Symbol),
		logger.String("action", string(s.Action)),
		logger.String("reason", reason),
		logger.Float64("technical_score", d.TechnicalScore),
		logger.Float64("confidence", s.Confidence),
		logger.Bool("execute", d.Execute),
	)
	return d.Execute, d
}
