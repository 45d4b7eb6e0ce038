package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"Genesis/internal/domain/models"
	"Genesis/internal/domain/repository"
	"Genesis/internal/services/features"
	"Genesis/internal/services/tables"
	"Genesis/pkg/logger"
)

// NeutralScore is returned when the technical layer cannot evaluate a signal.
const NeutralScore = 0.5

// Indicator periods.
const (
	rsiPeriod     = 14
	macdFast      = 12
	macdSlow      = 26
	macdSignal    = 9
	emaShort      = 20
	emaMid        = 50
	emaLong       = 200
	rangeLookback = 20
)

// TechnicalConfig bounds candle fetching.
type TechnicalConfig struct {
	Timeframe   repository.Timeframe
	CandleCount int
	Timeout     time.Duration
}

// TechnicalDetails is the audit record of one technical evaluation.
type TechnicalDetails struct {
	Score          float64            `json:"score"`
	Factors        map[string]float64 `json:"factors,omitempty"`
	Weights        map[string]float64 `json:"weights,omitempty"`
	WeightsVersion string             `json:"weights_version,omitempty"`
	Candles        int                `json:"candles"`
	Close          float64            `json:"close,omitempty"`
	RSI            float64            `json:"rsi,omitempty"`
	MACD           float64            `json:"macd,omitempty"`
	MACDSignal     float64            `json:"macd_signal,omitempty"`
	MACDHistogram  float64            `json:"macd_histogram,omitempty"`
	EMA20          float64            `json:"ema20,omitempty"`
	EMA50          float64            `json:"ema50,omitempty"`
	EMA200         float64            `json:"ema200,omitempty"`
	RangeHigh      float64            `json:"range_high,omitempty"`
	RangeLow       float64            `json:"range_low,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// Technical scores a signal against recent candles with weighted indicator factors.
type Technical struct {
	market  repository.MarketData
	weights tables.Source[tables.WeightTable]
	cfg     TechnicalConfig
	log     *logger.Logger
}

// NewTechnical creates the technical evaluator.
func NewTechnical(market repository.MarketData, weights tables.Source[tables.WeightTable], cfg TechnicalConfig, log *logger.Logger) *Technical {
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = 100
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = repository.DefaultTimeframe()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Technical{market: market, weights: weights, cfg: cfg, log: log}
}

// Evaluate scores the signal against the latest candles.
func (t *Technical) Evaluate(ctx context.Context, symbol string, action models.Action, entry *float64) (float64, TechnicalDetails) {
	return t.EvaluateAt(ctx, symbol, action, entry, time.Time{})
}

// EvaluateAt scores the signal against candles closed at or before at. A zero at means now.
func (t *Technical) EvaluateAt(ctx context.Context, symbol string, action models.Action, entry *float64, at time.Time) (float64, TechnicalDetails) {
	score, d, err := t.evaluate(ctx, symbol, action, entry, at)
	if err != nil {
		t.log.Warn("technical evaluation degraded to neutral",
			logger.String("symbol", symbol), logger.String("action", string(action)), logger.Error(err))
		d.Score = NeutralScore
		d.Error = err.Error()
		return NeutralScore, d
	}
	return score, d
}

func (t *Technical) evaluate(ctx context.Context, symbol string, action models.Action, entry *float64, at time.Time) (float64, TechnicalDetails, error) {
	var d TechnicalDetails
	if symbol == "" {
		return 0, d, errors.New("empty symbol")
	}
	if t.market == nil {
		return 0, d, errors.New("market data unavailable")
	}
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}
	candles, err := t.market.FetchCandles(ctx, repository.CandleQuery{
		Symbol:    symbol,
		Timeframe: t.cfg.Timeframe,
		Count:     t.cfg.CandleCount,
		Until:     at,
	})
	if err != nil {
		return 0, d, fmt.Errorf("fetch candles: %w", err)
	}
	d.Candles = len(candles)
	if len(candles) == 0 {
		return 0, d, errors.New("no candles")
	}

	closes := models.Closes(candles)
	last := closes[len(closes)-1]
	m := features.MACD(closes, macdFast, macdSlow, macdSignal)
	e20 := features.EMA(closes, emaShort)
	e50 := features.EMA(closes, emaMid)
	e200 := features.EMA(closes, emaLong)
	hi, lo := features.HighLow(candles, rangeLookback)

	d.Close = last
	d.RSI = features.RSI(closes, rsiPeriod)
	d.MACD = features.Last(m.Line)
	d.MACDSignal = features.Last(m.Signal)
	d.MACDHistogram = features.Last(m.Histogram)
	d.EMA20, d.EMA50, d.EMA200 = features.Last(e20), features.Last(e50), features.Last(e200)
	d.RangeHigh, d.RangeLow = hi, lo

	long := action.IsLong()
	macd := macdScore(macdState{
		line: d.MACD, signal: d.MACDSignal, hist: d.MACDHistogram,
		prevLine: features.Prev(m.Line), prevSignal: features.Prev(m.Signal), prevHist: features.Prev(m.Histogram),
	}, long)
	d.Factors = map[string]float64{
		tables.FactorRSI:               rsiScore(d.RSI, long),
		tables.FactorMACD:              macd,
		tables.FactorTrend:             trendScore(last, d.EMA20, d.EMA50, d.EMA200, long),
		tables.FactorEntryPrice:        entryScore(entry, last),
		tables.FactorSupportResistance: rangeScore(last, hi, lo, long),
	}

	w := tables.DefaultWeights()
	if t.weights != nil {
		w = t.weights.Get()
	}
	d.WeightsVersion = w.Version
	d.Weights = make(map[string]float64, len(tables.Factors))
	var num, den, plain float64
	for _, f := range tables.Factors {
		s := d.Factors[f]
		wt := w.Weight(f)
		d.Weights[f] = wt
		num += wt * s
		den += wt
		plain += s
	}
	score := plain / float64(len(tables.Factors))
	if den > 0 {
		score = num / den
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, d, errors.New("non-finite technical score")
	}
	d.Score = score
	return score, d, nil
}

func rsiScore(rsi float64, long bool) float64 {
	if !long {
		rsi = 100 - rsi
	}
	switch {
	case rsi < 30:
		return 1.0
	case rsi < 45:
		return 0.8
	case rsi < 55:
		return 0.6
	case rsi < 70:
		return 0.45
	default:
		return 0.3
	}
}

type macdState struct {
	line, signal, hist             float64
	prevLine, prevSignal, prevHist float64
}

func (m macdState) mirrored() macdState {
	return macdState{
		line: -m.line, signal: -m.signal, hist: -m.hist,
		prevLine: -m.prevLine, prevSignal: -m.prevSignal, prevHist: -m.prevHist,
	}
}

func macdScore(m macdState, long bool) float64 {
	if !long {
		m = m.mirrored()
	}
	bullCross := m.prevLine <= m.prevSignal && m.line > m.signal
	bearCross := m.prevLine >= m.prevSignal && m.line < m.signal
	switch {
	case bullCross:
		return 1.0
	case m.line > m.signal && m.hist > m.prevHist:
		return 0.8
	case m.line > m.signal:
		return 0.65
	case bearCross:
		return 0.2
	default:
		return 0.35
	}
}

func trendScore(close, e20, e50, e200 float64, long bool) float64 {
	if !long {
		close, e20, e50, e200 = -close, -e20, -e50, -e200
	}
	switch {
	case close > e20 && e20 > e50 && e50 > e200:
		return 1.0
	case close > e50 && e20 > e50:
		return 0.75
	case close > e200:
		return 0.55
	default:
		return 0.3
	}
}

func entryScore(entry *float64, close float64) float64 {
	if entry == nil || close == 0 {
		return 0.5
	}
	dist := math.Abs(*entry-close) / close
	switch {
	case dist <= 0.001:
		return 1.0
	case dist <= 0.0025:
		return 0.8
	case dist <= 0.005:
		return 0.6
	default:
		return 0.3
	}
}

// rangeScore favours longs near support and shorts near resistance.
func rangeScore(close, high, low float64, long bool) float64 {
	span := high - low
	if span <= 0 {
		return 0.5
	}
	pos := (close - low) / span
	if !long {
		pos = (high - close) / span
	}
	switch {
	case pos <= 0.2:
		return 1.0
	case pos <= 0.4:
		return 0.75
	case pos <= 0.6:
		return 0.5
	default:
		return 0.3
	}
}
