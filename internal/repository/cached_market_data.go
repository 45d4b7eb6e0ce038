package repository

import (
	"context"
	"errors"
	"time"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	"Genesis/pkg/cache"
	applogger "Genesis/pkg/logger"
)

// CachedMarketData memoises candle fetches per symbol, timeframe, count and bar bucket.
type CachedMarketData struct {
	next  domrepo.MarketData
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger
	now   func() time.Time
}

func NewCachedMarketData(next domrepo.MarketData, c cache.Service, ttl time.Duration, l *applogger.Logger) *CachedMarketData {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &CachedMarketData{next: next, cache: c, ttl: ttl, l: l, now: time.Now}
}

func (m *CachedMarketData) FetchCandles(ctx context.Context, q domrepo.CandleQuery) ([]models.Candle, error) {
	tf := domrepo.NormalizeTimeframe(string(q.Timeframe))
	until := q.Until
	if until.IsZero() {
		until = m.now()
	}
	key := cache.Key("candles", q.Symbol, string(tf), q.Count, tf.Align(until.UTC()).Unix())

	var cached []models.Candle
	err := m.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		m.l.Debug("candle cache read failed", applogger.String("key", key), applogger.Error(err))
	}

	candles, err := m.next.FetchCandles(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		if err := m.cache.Set(ctx, key, candles, m.ttl); err != nil {
			m.l.Debug("candle cache write failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return candles, nil
}

var _ domrepo.MarketData = (*CachedMarketData)(nil)
