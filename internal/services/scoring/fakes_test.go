package scoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"Genesis/internal/domain/models"
	"Genesis/internal/domain/repository"
)

type fakeMarket struct {
	candles []models.Candle
	err     error
	queries []repository.CandleQuery
}

func (f *fakeMarket) FetchCandles(_ context.Context, q repository.CandleQuery) ([]models.Candle, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

type fakeTrades struct {
	mu     sync.Mutex
	open   []*models.Trade
	closed []*models.Trade
	err    error
	calls  int
}

func (f *fakeTrades) Upsert(context.Context, *models.Trade) error { return nil }
func (f *fakeTrades) Update(context.Context, *models.Trade) error { return nil }

func (f *fakeTrades) ListOpen(context.Context) ([]*models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.open, f.err
}

func (f *fakeTrades) ListClosed(_ context.Context, symbol string, side models.TradeSide, since time.Time) ([]*models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Trade
	for _, t := range f.closed {
		if t.Symbol == symbol && t.Side == side && !t.OpenedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTrades) ListClosedSince(context.Context, time.Time) ([]*models.Trade, error) {
	return f.closed, f.err
}

type fakeSignals struct {
	byID      map[int64]*models.Signal
	updateErr error
	failFor   map[int64]error
	updates   int
}

func newFakeSignals(signals ...*models.Signal) *fakeSignals {
	f := &fakeSignals{byID: map[int64]*models.Signal{}}
	for _, s := range signals {
		f.byID[s.ID] = s
	}
	return f
}

func (f *fakeSignals) Create(_ context.Context, s *models.Signal) error {
	f.byID[s.ID] = s
	return nil
}

func (f *fakeSignals) Update(_ context.Context, s *models.Signal) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if err := f.failFor[s.ID]; err != nil {
		return err
	}
	f.updates++
	f.byID[s.ID] = s
	return nil
}

func (f *fakeSignals) Get(_ context.Context, id int64) (*models.Signal, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

func (f *fakeSignals) FindLive(_ context.Context, symbol string, action models.Action, excludeID int64) ([]*models.Signal, error) {
	var out []*models.Signal
	for _, s := range f.byID {
		if s.ID != excludeID && s.Symbol == symbol && s.Action == action && s.Status.Live() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSignals) ListSince(context.Context, time.Time) ([]*models.Signal, error) {
	return nil, nil
}

func ptr(v float64) *float64 { return &v }

func pnlTrade(symbol string, side models.TradeSide, pnl float64) *models.Trade {
	return &models.Trade{Symbol: symbol, Side: side, Status: models.TradeClosed, PnL: ptr(pnl), OpenedAt: time.Now()}
}

func risingCandles(n int, start, step float64) []models.Candle {
	out := make([]models.Candle, n)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		c := start + float64(i)*step
		out[i] = models.Candle{Bucket: t0.Add(time.Duration(i) * time.Hour), Open: c - step/2, High: c + step, Low: c - step, Close: c}
	}
	return out
}
