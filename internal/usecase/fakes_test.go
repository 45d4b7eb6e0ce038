package usecase

import (
	"context"
	"sync"
	"time"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	domsvc "Genesis/internal/domain/service"
	"Genesis/internal/services/scoring"
)

func ptr(v float64) *float64 { return &v }

type stubScorer struct {
	execute bool
	reason  string
	calls   int
}

func (s *stubScorer) ShouldExecute(_ context.Context, sig *models.Signal) (bool, scoring.Decision) {
	s.calls++
	return s.execute, scoring.Decision{Execute: s.execute, Reason: s.reason, Confidence: sig.Confidence, TechnicalScore: 0.7}
}

type stubModel struct {
	hold float64
	rr   float64
}

func (m stubModel) PredictExitProb(context.Context, string, string, domsvc.Features) float64 {
	return m.hold
}

func (m stubModel) PredictRR(context.Context, string, string, domsvc.Features) float64 {
	return m.rr
}

type brokerCall struct {
	kind   string
	ticket string
	reason string
	sl     *float64
}

type recordingBroker struct {
	mu       sync.Mutex
	calls    []brokerCall
	closeErr error
}

func (b *recordingBroker) ClosePosition(_ context.Context, ticket, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, brokerCall{kind: "close", ticket: ticket, reason: reason})
	return b.closeErr
}

func (b *recordingBroker) count(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func (b *recordingBroker) ModifyPosition(_ context.Context, ticket string, sl, _ *float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, brokerCall{kind: "modify", ticket: ticket, sl: sl})
	return nil
}

func (b *recordingBroker) Close() error { return nil }

type lastCloseMarket struct {
	closes     map[string]float64
	calls      int
	timeframes []domrepo.Timeframe
}

func (m *lastCloseMarket) FetchCandles(_ context.Context, q domrepo.CandleQuery) ([]models.Candle, error) {
	m.calls++
	m.timeframes = append(m.timeframes, q.Timeframe)
	c, ok := m.closes[q.Symbol]
	if !ok {
		return nil, nil
	}
	return []models.Candle{{Symbol: q.Symbol, Close: c, High: c, Low: c, Bucket: time.Now().UTC()}}, nil
}

type staticQuotes map[string]models.Quote

func (q staticQuotes) Latest(symbol string) (models.Quote, bool) {
	v, ok := q[symbol]
	return v, ok
}

type heldLock struct{}

func (heldLock) TryLock(context.Context, string, time.Duration) (bool, error) { return false, nil }
func (heldLock) Unlock(context.Context, string) error                         { return nil }

// blockingMarket parks FetchCandles until release is closed.
type blockingMarket struct {
	entered chan struct{}
	release chan struct{}
	price   float64
}

func (m *blockingMarket) FetchCandles(ctx context.Context, q domrepo.CandleQuery) ([]models.Candle, error) {
	select {
	case m.entered <- struct{}{}:
	default:
	}
	select {
	case <-m.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []models.Candle{{Symbol: q.Symbol, Close: m.price, High: m.price, Low: m.price, Bucket: time.Now().UTC()}}, nil
}
