package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"Genesis/internal/domain/models"
	"Genesis/internal/services/tables"
)

func onlyWeight(factor string) tables.Source[tables.WeightTable] {
	return tables.NewStatic(tables.WeightTable{Version: "test", Default: 0, Weights: map[string]float64{factor: 1}})
}

func TestTechnicalNeutralOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		market *fakeMarket
		symbol string
	}{
		{"fetch error", &fakeMarket{err: errors.New("timeout")}, "EUR_USD"},
		{"no candles", &fakeMarket{}, "EUR_USD"},
		{"empty symbol", &fakeMarket{candles: risingCandles(5, 1, 0.01)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := NewTechnical(tt.market, nil, TechnicalConfig{}, nil)
			score, d := te.Evaluate(context.Background(), tt.symbol, models.ActionBuyNow, nil)
			if score != NeutralScore || d.Error == "" {
				t.Fatalf("expected neutral score with error, got %v %+v", score, d)
			}
		})
	}
}

func TestTechnicalWeightedAverage(t *testing.T) {
	candles := risingCandles(60, 1.1, 0.001)
	last := candles[len(candles)-1].Close
	te := NewTechnical(&fakeMarket{candles: candles}, onlyWeight(tables.FactorEntryPrice), TechnicalConfig{}, nil)

	score, d := te.Evaluate(context.Background(), "EUR_USD", models.ActionBuyNow, ptr(last))
	if score != 1.0 {
		t.Fatalf("entry at close with entry-only weights = %v, want 1.0 (%+v)", score, d.Factors)
	}
	score, _ = te.Evaluate(context.Background(), "EUR_USD", models.ActionBuyNow, nil)
	if score != 0.5 {
		t.Fatalf("nil entry factor = %v, want 0.5", score)
	}
}

func TestTechnicalZeroWeightsFallBackToEqual(t *testing.T) {
	candles := risingCandles(60, 1.1, 0.001)
	zero := tables.NewStatic(tables.WeightTable{Version: "zero", Default: 0})
	te := NewTechnical(&fakeMarket{candles: candles}, zero, TechnicalConfig{}, nil)
	score, d := te.Evaluate(context.Background(), "EUR_USD", models.ActionBuyNow, nil)
	sum := 0.0
	for _, f := range tables.Factors {
		sum += d.Factors[f]
	}
	if want := sum / float64(len(tables.Factors)); score != want {
		t.Fatalf("score = %v, want equal-weight mean %v", score, want)
	}
}

func TestTechnicalSingleCandleHasNoCrossover(t *testing.T) {
	te := NewTechnical(&fakeMarket{candles: risingCandles(1, 1.1, 0.001)}, onlyWeight(tables.FactorMACD), TechnicalConfig{}, nil)
	score, _ := te.Evaluate(context.Background(), "EUR_USD", models.ActionBuyNow, nil)
	if score != 0.35 {
		t.Fatalf("single candle macd factor = %v, want 0.35", score)
	}
}

func TestTechnicalUptrendFavoursLongs(t *testing.T) {
	candles := risingCandles(120, 1.1, 0.001)
	te := NewTechnical(&fakeMarket{candles: candles}, onlyWeight(tables.FactorTrend), TechnicalConfig{}, nil)
	long, _ := te.Evaluate(context.Background(), "EUR_USD", models.ActionBuyNow, nil)
	short, _ := te.Evaluate(context.Background(), "EUR_USD", models.ActionSellNow, nil)
	if long != 1.0 || short != 0.3 {
		t.Fatalf("trend long=%v short=%v, want 1.0 and 0.3", long, short)
	}
}

func TestEvaluateAtForwardsTime(t *testing.T) {
	m := &fakeMarket{candles: risingCandles(10, 1.1, 0.001)}
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	te := NewTechnical(m, nil, TechnicalConfig{CandleCount: 50}, nil)
	te.EvaluateAt(context.Background(), "EUR_USD", models.ActionBuyNow, nil, at)
	if len(m.queries) != 1 || !m.queries[0].Until.Equal(at) || m.queries[0].Count != 50 || m.queries[0].Timeframe != "H1" {
		t.Fatalf("unexpected query %+v", m.queries)
	}
}

func TestFactorLadders(t *testing.T) {
	t.Run("rsi", func(t *testing.T) {
		cases := []struct {
			rsi  float64
			long bool
			want float64
		}{
			{25, true, 1.0}, {40, true, 0.8}, {50, true, 0.6}, {65, true, 0.45}, {80, true, 0.3},
			{80, false, 1.0}, {60, false, 0.8}, {50, false, 0.6}, {35, false, 0.45}, {20, false, 0.3},
		}
		for _, c := range cases {
			if got := rsiScore(c.rsi, c.long); got != c.want {
				t.Errorf("rsiScore(%v, %v) = %v, want %v", c.rsi, c.long, got, c.want)
			}
		}
	})
	t.Run("macd", func(t *testing.T) {
		cases := []struct {
			name string
			m    macdState
			long bool
			want float64
		}{
			{"bull cross", macdState{line: 1, signal: 0.5, prevLine: 0.4, prevSignal: 0.5}, true, 1.0},
			{"above rising", macdState{line: 1, signal: 0.5, hist: 0.5, prevLine: 0.9, prevSignal: 0.5, prevHist: 0.4}, true, 0.8},
			{"above flat", macdState{line: 1, signal: 0.5, hist: 0.5, prevLine: 1, prevSignal: 0.5, prevHist: 0.5}, true, 0.65},
			{"bear cross", macdState{line: 0.4, signal: 0.5, prevLine: 0.6, prevSignal: 0.5}, true, 0.2},
			{"below", macdState{line: 0.4, signal: 0.5, prevLine: 0.4, prevSignal: 0.5}, true, 0.35},
			{"bear cross for short", macdState{line: 0.4, signal: 0.5, prevLine: 0.6, prevSignal: 0.5}, false, 1.0},
		}
		for _, c := range cases {
			if got := macdScore(c.m, c.long); got != c.want {
				t.Errorf("%s: macdScore = %v, want %v", c.name, got, c.want)
			}
		}
	})
	t.Run("trend", func(t *testing.T) {
		if trendScore(4, 3, 2, 1, true) != 1.0 || trendScore(3, 2.5, 2, 4, true) != 0.75 ||
			trendScore(3, 2, 2.5, 1, true) != 0.55 || trendScore(1, 2, 3, 4, true) != 0.3 ||
			trendScore(1, 2, 3, 4, false) != 1.0 {
			t.Error("unexpected trend ladder")
		}
	})
	t.Run("entry", func(t *testing.T) {
		if entryScore(ptr(1.0005), 1.0) != 1.0 || entryScore(ptr(1.002), 1.0) != 0.8 ||
			entryScore(ptr(0.996), 1.0) != 0.6 || entryScore(ptr(1.01), 1.0) != 0.3 || entryScore(nil, 1.0) != 0.5 {
			t.Error("unexpected entry ladder")
		}
	})
	t.Run("support resistance", func(t *testing.T) {
		if rangeScore(10.1, 11, 10, true) != 1.0 || rangeScore(10.3, 11, 10, true) != 0.75 ||
			rangeScore(10.5, 11, 10, true) != 0.5 || rangeScore(10.9, 11, 10, true) != 0.3 ||
			rangeScore(10.9, 11, 10, false) != 1.0 || rangeScore(10, 10, 10, true) != 0.5 {
			t.Error("unexpected support/resistance ladder")
		}
	})
}
