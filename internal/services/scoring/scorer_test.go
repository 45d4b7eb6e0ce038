package scoring

import (
	"context"
	"testing"

	"Genesis/internal/domain/models"
	"Genesis/internal/services/tables"
)

type stubTechnical struct {
	score float64
	calls int
}

func (s *stubTechnical) Evaluate(context.Context, string, models.Action, *float64) (float64, TechnicalDetails) {
	s.calls++
	return s.score, TechnicalDetails{Score: s.score}
}

type stubPerformance struct {
	mult  float64
	calls int
}

func (s *stubPerformance) Evaluate(context.Context, string, models.Action) (float64, PerformanceDetails) {
	s.calls++
	return s.mult, PerformanceDetails{Multiplier: s.mult}
}

type stubCorrelation struct {
	proceed bool
	calls   int
}

func (s *stubCorrelation) Evaluate(context.Context, string, models.Action) (bool, CorrelationDetails) {
	s.calls++
	return s.proceed, CorrelationDetails{}
}

func TestScorerTechnicalGateShortCircuits(t *testing.T) {
	tech := &stubTechnical{score: 0.50}
	perf := &stubPerformance{mult: 1}
	corr := &stubCorrelation{proceed: false}
	sc := NewScorer(tech, perf, corr, nil, 0, nil)

	ok, d := sc.ShouldExecute(context.Background(), &models.Signal{Symbol: "EUR_USD", Action: models.ActionBuyNow, Confidence: 0.99})
	if ok || d.Reason != ReasonFailedTechnical {
		t.Fatalf("expected %s, got %v %s", ReasonFailedTechnical, ok, d.Reason)
	}
	if perf.calls != 0 || corr.calls != 0 {
		t.Fatalf("later gates evaluated: perf=%d corr=%d", perf.calls, corr.calls)
	}
}

func TestScorerGates(t *testing.T) {
	tests := []struct {
		name       string
		score      float64
		mult       float64
		proceed    bool
		confidence float64
		thresholds tables.ThresholdTable
		want       string
		execute    bool
	}{
		{"all checks pass", 0.65, 1.0, true, 0.75, tables.DefaultThresholds(), ReasonAllChecksPassed, true},
		{"low confidence", 0.65, 1.0, true, 0.69, tables.DefaultThresholds(), ReasonLowConfidence, false},
		{"poor history raises bar", 0.65, 1.2, true, 0.80, tables.DefaultThresholds(), ReasonLowConfidence, false},
		{"good history lowers bar", 0.65, 0.8, true, 0.57, tables.DefaultThresholds(), ReasonAllChecksPassed, true},
		{"correlation blocks", 0.65, 1.0, false, 0.9, tables.DefaultThresholds(), ReasonCorrelationGuard, false},
		{
			"symbol override raises minimum", 0.65, 1.0, true, 0.9,
			tables.ThresholdTable{Default: 0.6, Overrides: map[string]float64{"EUR_USD": 0.7}},
			ReasonFailedTechnical, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := NewScorer(&stubTechnical{score: tt.score}, &stubPerformance{mult: tt.mult},
				&stubCorrelation{proceed: tt.proceed}, tables.NewStatic(tt.thresholds), 0, nil)
			ok, d := sc.ShouldExecute(context.Background(), &models.Signal{Symbol: "EUR_USD", Action: models.ActionBuyNow, Confidence: tt.confidence})
			if ok != tt.execute || d.Reason != tt.want {
				t.Fatalf("got %v %s, want %v %s", ok, d.Reason, tt.execute, tt.want)
			}
		})
	}
}

func TestScorerAcceptsCleanEURUSDSignal(t *testing.T) {
	sc := NewScorer(&stubTechnical{score: 0.65}, NewPerformance(&fakeTrades{}, nil),
		NewCorrelationGuard(&fakeTrades{}, nil, 0, nil), nil, 0, nil)
	ok, d := sc.ShouldExecute(context.Background(), &models.Signal{Symbol: "EUR_USD", Action: models.ActionBuyNow, Confidence: 0.75})
	if !ok || d.Reason != ReasonAllChecksPassed {
		t.Fatalf("expected acceptance, got %v %s", ok, d.Reason)
	}
	if d.MinTechnical != 0.60 || d.PerformanceMultiplier != 1.0 || d.AdjustedThreshold != 0.70 {
		t.Fatalf("unexpected thresholds %+v", d)
	}
	ctxMap := d.AsContext()
	if ctxMap["reason"] != ReasonAllChecksPassed {
		t.Fatalf("context map missing reason: %v", ctxMap)
	}
}
