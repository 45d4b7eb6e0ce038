package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
)

func TestMemorySignalStoreFindLive(t *testing.T) {
	store := NewMemoryStore().Signals()
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	mk := func(symbol string, action models.Action, status models.SignalStatus, at time.Time) *models.Signal {
		s := &models.Signal{Symbol: symbol, Action: action, Status: status, CreatedAt: at}
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
		return s
	}
	older := mk("EUR_USD", models.ActionBuyNow, models.StatusActive, base)
	newer := mk("EUR_USD", models.ActionBuyNow, models.StatusPending, base.Add(time.Minute))
	mk("EUR_USD", models.ActionBuyNow, models.StatusCancelled, base.Add(2*time.Minute))
	mk("EUR_USD", models.ActionSellNow, models.StatusActive, base.Add(3*time.Minute))
	mk("GBP_USD", models.ActionBuyNow, models.StatusActive, base.Add(4*time.Minute))
	self := mk("EUR_USD", models.ActionBuyNow, models.StatusPending, base.Add(5*time.Minute))

	got, err := store.FindLive(ctx, "EUR_USD", models.ActionBuyNow, self.ID)
	if err != nil {
		t.Fatalf("find live: %v", err)
	}
	if len(got) != 2 || got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Fatalf("unexpected live siblings %+v", got)
	}
}

func TestMemorySignalStoreIsolation(t *testing.T) {
	store := NewMemoryStore().Signals()
	ctx := context.Background()
	s := &models.Signal{Symbol: "EUR_USD", Action: models.ActionBuyNow}
	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Status != models.StatusPending || s.ID == 0 {
		t.Fatalf("create did not fill defaults: %+v", s)
	}
	s.SetContext("note", "local only")

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := got.Context["note"]; ok {
		t.Fatalf("store shares context map with caller")
	}
	if _, err := store.Get(ctx, 999); !errors.Is(err, domrepo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Update(ctx, &models.Signal{ID: 999}); !errors.Is(err, domrepo.ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}

func TestMemoryTradeStoreUpsertByOpenTicket(t *testing.T) {
	store := NewMemoryStore().Trades()
	ctx := context.Background()
	sl := 1.08

	first := &models.Trade{Ticket: "42", Symbol: "EUR_USD", Side: models.SideBuy, EntryPrice: 1.09, StopLoss: &sl}
	first.SetContext(models.TradeCtxBarsOpen, 3.0)
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	newSL := 1.09
	second := &models.Trade{Ticket: "42", Symbol: "EUR_USD", Side: models.SideBuy, EntryPrice: 1.09, StopLoss: &newSL}
	second.SetContext(models.TradeCtxBreakevenMoved, true)
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same record, got ids %d and %d", first.ID, second.ID)
	}

	open, _ := store.ListOpen(ctx)
	if len(open) != 1 {
		t.Fatalf("expected one open trade, got %d", len(open))
	}
	got := open[0]
	if *got.StopLoss != 1.09 || !got.ContextBool(models.TradeCtxBreakevenMoved) {
		t.Fatalf("unexpected merged trade %+v", got)
	}
	if bars, _ := got.ContextFloat(models.TradeCtxBarsOpen); bars != 3 {
		t.Fatalf("context was not merged, bars_open=%v", bars)
	}

	closed := time.Now().UTC()
	got.Status = models.TradeClosed
	got.ClosedAt = &closed
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	reopened := &models.Trade{Ticket: "42", Symbol: "EUR_USD", Side: models.SideBuy, EntryPrice: 1.1}
	if err := store.Upsert(ctx, reopened); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if reopened.ID == got.ID {
		t.Fatalf("closed ticket must not be reused")
	}

	buys, _ := store.ListClosed(ctx, "EUR_USD", models.SideBuy, closed.Add(-time.Minute))
	sells, _ := store.ListClosed(ctx, "EUR_USD", models.SideSell, closed.Add(-time.Minute))
	if len(buys) != 1 || len(sells) != 0 {
		t.Fatalf("unexpected closed lists buys=%d sells=%d", len(buys), len(sells))
	}
	all, _ := store.ListClosedSince(ctx, closed.Add(time.Minute))
	if len(all) != 0 {
		t.Fatalf("expected since filter to exclude older trades")
	}
}
