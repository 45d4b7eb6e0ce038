package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
)

// MemoryStore keeps signals and trades in process. Records are copied on
// the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	signals   map[int64]*models.Signal
	trades    map[int64]*models.Trade
	nextSig   int64
	nextTrade int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals: make(map[int64]*models.Signal),
		trades:  make(map[int64]*models.Trade),
	}
}

// Signals adapts the store to domrepo.SignalStore.
func (m *MemoryStore) Signals() *MemorySignalStore { return &MemorySignalStore{m} }

// Trades adapts the store to domrepo.TradeStore.
func (m *MemoryStore) Trades() *MemoryTradeStore { return &MemoryTradeStore{m} }

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneSignal(s *models.Signal) *models.Signal {
	c := *s
	c.Context = copyMap(s.Context)
	return &c
}

func cloneTrade(t *models.Trade) *models.Trade {
	c := *t
	c.Context = copyMap(t.Context)
	return &c
}

type MemorySignalStore struct{ m *MemoryStore }

func (s *MemorySignalStore) Create(_ context.Context, sig *models.Signal) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.nextSig++
	sig.ID = s.m.nextSig
	now := time.Now().UTC()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	sig.UpdatedAt = now
	if sig.Status == "" {
		sig.Status = models.StatusPending
	}
	s.m.signals[sig.ID] = cloneSignal(sig)
	return nil
}

func (s *MemorySignalStore) Update(_ context.Context, sig *models.Signal) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.signals[sig.ID]; !ok {
		return domrepo.ErrNotFound
	}
	sig.UpdatedAt = time.Now().UTC()
	s.m.signals[sig.ID] = cloneSignal(sig)
	return nil
}

func (s *MemorySignalStore) Get(_ context.Context, id int64) (*models.Signal, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	sig, ok := s.m.signals[id]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return cloneSignal(sig), nil
}

func (s *MemorySignalStore) FindLive(_ context.Context, symbol string, action models.Action, excludeID int64) ([]*models.Signal, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*models.Signal
	for _, sig := range s.m.signals {
		if sig.ID == excludeID || sig.Symbol != symbol || sig.Action != action || !sig.Status.Live() {
			continue
		}
		out = append(out, cloneSignal(sig))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemorySignalStore) ListSince(_ context.Context, since time.Time) ([]*models.Signal, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*models.Signal
	for _, sig := range s.m.signals {
		if !sig.CreatedAt.Before(since) {
			out = append(out, cloneSignal(sig))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type MemoryTradeStore struct{ m *MemoryStore }

func (s *MemoryTradeStore) Upsert(_ context.Context, t *models.Trade) error {
	if t.Ticket == "" {
		return fmt.Errorf("trade ticket is required")
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if t.Status == "" {
		t.Status = models.TradeOpen
	}
	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now().UTC()
	}
	for id, existing := range s.m.trades {
		if existing.Ticket != t.Ticket || existing.Status != models.TradeOpen {
			continue
		}
		merged := copyMap(existing.Context)
		for k, v := range t.Context {
			if merged == nil {
				merged = make(map[string]any)
			}
			merged[k] = v
		}
		t.ID = id
		t.OpenedAt = existing.OpenedAt
		t.Context = merged
		s.m.trades[id] = cloneTrade(t)
		return nil
	}
	s.m.nextTrade++
	t.ID = s.m.nextTrade
	s.m.trades[t.ID] = cloneTrade(t)
	return nil
}

func (s *MemoryTradeStore) Update(_ context.Context, t *models.Trade) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.trades[t.ID]; !ok {
		return domrepo.ErrNotFound
	}
	s.m.trades[t.ID] = cloneTrade(t)
	return nil
}

func (s *MemoryTradeStore) list(keep func(*models.Trade) bool, at func(*models.Trade) time.Time) []*models.Trade {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []*models.Trade
	for _, t := range s.m.trades {
		if keep(t) {
			out = append(out, cloneTrade(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return at(out[i]).Before(at(out[j])) })
	return out
}

func closedAt(t *models.Trade) time.Time {
	if t.ClosedAt == nil {
		return time.Time{}
	}
	return *t.ClosedAt
}

func (s *MemoryTradeStore) ListOpen(_ context.Context) ([]*models.Trade, error) {
	return s.list(func(t *models.Trade) bool { return t.Status == models.TradeOpen },
		func(t *models.Trade) time.Time { return t.OpenedAt }), nil
}

func (s *MemoryTradeStore) ListClosed(_ context.Context, symbol string, side models.TradeSide, since time.Time) ([]*models.Trade, error) {
	return s.list(func(t *models.Trade) bool {
		return t.Status == models.TradeClosed && t.Symbol == symbol && t.Side == side && !closedAt(t).Before(since)
	}, closedAt), nil
}

func (s *MemoryTradeStore) ListClosedSince(_ context.Context, since time.Time) ([]*models.Trade, error) {
	return s.list(func(t *models.Trade) bool {
		return t.Status == models.TradeClosed && !closedAt(t).Before(since)
	}, closedAt), nil
}

var (
	_ domrepo.SignalStore = (*MemorySignalStore)(nil)
	_ domrepo.TradeStore  = (*MemoryTradeStore)(nil)
)
