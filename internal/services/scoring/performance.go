package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Genesis/internal/domain/models"
	"Genesis/internal/domain/repository"
	"Genesis/pkg/cache"
	"Genesis/pkg/logger"
)

// ReasonNoHistory is reported when no closed trade with PnL exists in the lookback window.
const ReasonNoHistory = "no_history"

// DefaultLookback is the performance history window.
const DefaultLookback = 90 * 24 * time.Hour

// PerformanceDetails is the audit record of the performance layer.
type PerformanceDetails struct {
	Multiplier float64 `json:"multiplier"`
	WinRate    float64 `json:"win_rate"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	Side       string  `json:"side"`
	Reason     string  `json:"reason,omitempty"`
	Cached     bool    `json:"cached,omitempty"`
}

// Performance adjusts the confidence threshold from the recent win rate of a symbol and side.
type Performance struct {
	trades   repository.TradeStore
	cache    cache.Service
	lookback time.Duration
	ttl      time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// PerformanceOption configures Performance.
type PerformanceOption func(*Performance)

// WithPerformanceCache caches results for ttl.
func WithPerformanceCache(c cache.Service, ttl time.Duration) PerformanceOption {
	return func(p *Performance) {
		p.cache = c
		p.ttl = ttl
	}
}

// WithLookback sets the history window.
func WithLookback(d time.Duration) PerformanceOption {
	return func(p *Performance) {
		if d > 0 {
			p.lookback = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) PerformanceOption {
	return func(p *Performance) { p.now = now }
}

// NewPerformance creates the performance evaluator.
func NewPerformance(trades repository.TradeStore, log *logger.Logger, opts ...PerformanceOption) *Performance {
	if log == nil {
		log = logger.NewNop()
	}
	p := &Performance{trades: trades, lookback: DefaultLookback, now: time.Now, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate returns the threshold multiplier for symbol and the side implied by action.
func (p *Performance) Evaluate(ctx context.Context, symbol string, action models.Action) (float64, PerformanceDetails) {
	side := action.Side()
	key := cache.Key("perf", symbol, string(side))
	if p.cache != nil {
		var cached PerformanceDetails
		if err := p.cache.Get(ctx, key, &cached); err == nil {
			cached.Cached = true
			return cached.Multiplier, cached
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			p.log.Debug("performance cache read failed", logger.String("key", key), logger.Error(err))
		}
	}

	d := PerformanceDetails{Multiplier: 1.0, Side: string(side)}
	if p.trades == nil {
		d.Reason = "trade store unavailable"
		return d.Multiplier, d
	}
	trades, err := p.trades.ListClosed(ctx, symbol, side, p.now().Add(-p.lookback))
	if err != nil {
		err = fmt.Errorf("list closed trades: %w", err)
		p.log.Warn("performance evaluation degraded to neutral", logger.String("symbol", symbol), logger.Error(err))
		d.Reason = err.Error()
		return d.Multiplier, d
	}
	for _, t := range trades {
		if t.PnL == nil {
			continue
		}
		if *t.PnL > 0 {
			d.Wins++
		} else {
			d.Losses++
		}
	}
	if n := d.Wins + d.Losses; n == 0 {
		d.Reason = ReasonNoHistory
	} else {
		d.WinRate = float64(d.Wins) / float64(n)
		d.Multiplier = WinRateMultiplier(d.WinRate)
	}

	if p.cache != nil && p.ttl > 0 {
		if err := p.cache.Set(ctx, key, d, p.ttl); err != nil {
			p.log.Debug("performance cache write failed", logger.String("key", key), logger.Error(err))
		}
	}
	return d.Multiplier, d
}

// WinRateMultiplier maps a win rate to a discrete threshold multiplier.
// Strong histories lower the bar, weak ones raise it.
func WinRateMultiplier(winRate float64) float64 {
	switch {
	case winRate >= 0.70:
		return 0.8
	case winRate >= 0.55:
		return 0.9
	case winRate >= 0.45:
		return 1.0
	case winRate >= 0.30:
		return 1.1
	default:
		return 1.2
	}
}
