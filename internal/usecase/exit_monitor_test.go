package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	"Genesis/internal/repository"
	"Genesis/internal/services/positions"
	"Genesis/pkg/cache"
	"Genesis/pkg/metrics"
)

func seedTrade(t *testing.T, store *repository.MemoryTradeStore, ticket string, side models.TradeSide, entry, sl, tp float64) {
	t.Helper()
	tr := &models.Trade{Ticket: ticket, Symbol: "EUR_USD", Side: side, Lots: 1, EntryPrice: entry, StopLoss: ptr(sl), TakeProfit: ptr(tp)}
	if err := store.Upsert(context.Background(), tr); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newMonitor(trades *repository.MemoryTradeStore, market *lastCloseMarket, quotes quoteSource, broker *recordingBroker,
	model stubModel, lock passLock) *ExitMonitor {
	mgr := positions.NewManager(model, positions.DefaultConfig(), nil)
	return NewExitMonitor(trades, market, quotes, broker, mgr, lock, metrics.Nop{}, nil, ExitMonitorConfig{Interval: time.Minute})
}

func TestRunPassRatchetsAndPersists(t *testing.T) {
	trades := repository.NewMemoryStore().Trades()
	seedTrade(t, trades, "T1", models.SideBuy, 100, 99, 102)
	broker := &recordingBroker{}
	market := &lastCloseMarket{closes: map[string]float64{"EUR_USD": 101}}
	lock := cache.NewMemoryCache()
	defer lock.Close()

	mon := newMonitor(trades, market, nil, broker, stubModel{hold: 0.9, rr: 2}, lock)
	snap, err := mon.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(snap.Ratchets) != 1 || len(snap.Exits) != 0 {
		t.Fatalf("unexpected pass %+v", snap.PassResult)
	}
	if len(broker.calls) != 1 || broker.calls[0].kind != "modify" || *broker.calls[0].sl != 100 {
		t.Fatalf("expected breakeven modify, got %+v", broker.calls)
	}

	open, _ := trades.ListOpen(context.Background())
	got := open[0]
	if *got.StopLoss != 100 || !got.ContextBool(models.TradeCtxBreakevenMoved) {
		t.Fatalf("ratchet not persisted: %+v", got)
	}
	if bars, _ := got.ContextFloat(models.TradeCtxBarsOpen); bars != 1 {
		t.Fatalf("bars_open = %v, want 1", bars)
	}

	// The stop only moves once.
	if _, err := mon.RunPass(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(broker.calls) != 1 {
		t.Fatalf("ratchet repeated: %+v", broker.calls)
	}
	if mon.Last() == nil || len(mon.Last().Curve) != 2 {
		t.Fatalf("expected equity curve of two passes")
	}
}

func TestRunPassModelExitRequestsClose(t *testing.T) {
	trades := repository.NewMemoryStore().Trades()
	seedTrade(t, trades, "T2", models.SideBuy, 100, 99, 102)
	broker := &recordingBroker{}
	market := &lastCloseMarket{closes: map[string]float64{"EUR_USD": 100.5}}

	mon := newMonitor(trades, market, nil, broker, stubModel{hold: 0.35, rr: 2}, nil)
	snap, err := mon.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(snap.Exits) != 1 || snap.Exits[0].Reason != positions.ReasonModelExit {
		t.Fatalf("expected model exit, got %+v", snap.Exits)
	}
	if len(broker.calls) != 1 || broker.calls[0].kind != "close" || broker.calls[0].reason != positions.ReasonModelExit {
		t.Fatalf("unexpected broker calls %+v", broker.calls)
	}
	open, _ := trades.ListOpen(context.Background())
	if !open[0].ContextBool(models.TradeCtxExitRequested) || open[0].ContextString(models.TradeCtxExitReason) != positions.ReasonModelExit {
		t.Fatalf("exit request not persisted: %+v", open[0].Context)
	}

	// Trades awaiting a broker close are not evaluated again.
	if _, err := mon.RunPass(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(broker.calls) != 1 {
		t.Fatalf("close requested twice: %+v", broker.calls)
	}
}

func TestRunPassPrefersFreshQuote(t *testing.T) {
	trades := repository.NewMemoryStore().Trades()
	seedTrade(t, trades, "T3", models.SideSell, 100, 101, 98)
	broker := &recordingBroker{}
	market := &lastCloseMarket{closes: map[string]float64{"EUR_USD": 100}}
	quotes := staticQuotes{"EUR_USD": {Symbol: "EUR_USD", Price: 97.5, Time: time.Now()}}

	mon := newMonitor(trades, market, quotes, broker, stubModel{hold: 0.9, rr: 2}, nil)
	snap, err := mon.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if market.calls != 0 {
		t.Fatalf("fresh quote should avoid candle fetch, calls=%d", market.calls)
	}
	if len(snap.Exits) != 1 || snap.Exits[0].Reason != positions.ReasonTakeProfit || snap.Exits[0].PnL != 2 {
		t.Fatalf("expected short take profit with pnl 2, got %+v", snap.Exits)
	}
}

func TestRunPassStaleQuoteFallsBackToCandle(t *testing.T) {
	trades := repository.NewMemoryStore().Trades()
	seedTrade(t, trades, "T4", models.SideBuy, 100, 99, 102)
	market := &lastCloseMarket{closes: map[string]float64{"EUR_USD": 100.2}}
	quotes := staticQuotes{"EUR_USD": {Symbol: "EUR_USD", Price: 150, Time: time.Now().Add(-time.Hour)}}

	mon := newMonitor(trades, market, quotes, &recordingBroker{}, stubModel{hold: 0.9, rr: 2}, nil)
	snap, err := mon.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if market.calls != 1 || len(snap.Exits) != 0 || snap.Evaluated != 1 {
		t.Fatalf("expected candle fallback and hold, calls=%d pass=%+v", market.calls, snap.PassResult)
	}
}

func TestRunPassLockHeld(t *testing.T) {
	trades := repository.NewMemoryStore().Trades()
	mon := newMonitor(trades, &lastCloseMarket{}, nil, &recordingBroker{}, stubModel{hold: 0.9, rr: 2}, heldLock{})
	if _, err := mon.RunPass(context.Background()); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("expected ErrPassInProgress, got %v", err)
	}
}

func TestRunPassDefaultsToHourlyCandles(t *testing.T) {
	trades := repository.NewMemoryStore().Trades()
	seedTrade(t, trades, "T7", models.SideBuy, 100, 99, 102)
	market := &lastCloseMarket{closes: map[string]float64{"EUR_USD": 100.2}}
	mon := newMonitor(trades, market, nil, &recordingBroker{}, stubModel{hold: 0.9, rr: 2}, nil)

	if _, err := mon.RunPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(market.timeframes) != 1 || market.timeframes[0] != domrepo.TFH1 {
		t.Fatalf("expected one H1 fetch, got %v", market.timeframes)
	}
}

func TestRunPassSkipsSymbolsWithoutPrice(t *testing.T) {
	trades := repository.NewMemoryStore().Trades()
	seedTrade(t, trades, "T5", models.SideBuy, 100, 99, 102)
	broker := &recordingBroker{}
	mon := newMonitor(trades, &lastCloseMarket{closes: map[string]float64{}}, nil, broker, stubModel{hold: 0.1, rr: 2}, nil)
	snap, err := mon.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if snap.Skipped != 1 || len(broker.calls) != 0 {
		t.Fatalf("position without a price must be held, pass=%+v calls=%+v", snap.PassResult, broker.calls)
	}
}

func TestRunPassRejectedCloseKeepsPositionAndRatchet(t *testing.T) {
	trades := repository.NewMemoryStore().Trades()
	seedTrade(t, trades, "T6", models.SideBuy, 100, 99, 102)
	broker := &recordingBroker{closeErr: errors.New("broker offline")}
	market := &lastCloseMarket{closes: map[string]float64{"EUR_USD": 101}}

	mon := newMonitor(trades, market, nil, broker, stubModel{hold: 0.35, rr: 2}, nil)
	for i := 0; i < 3; i++ {
		snap, err := mon.RunPass(context.Background())
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		if snap.Equity != 0 || len(snap.Exits) != 0 {
			t.Fatalf("pass %d: rejected close must not realise pnl, equity=%v exits=%+v", i, snap.Equity, snap.Exits)
		}
		open, _ := trades.ListOpen(context.Background())
		if len(open) != 1 {
			t.Fatalf("pass %d: trade should stay open", i)
		}
		got := open[0]
		if *got.StopLoss != 100 || !got.ContextBool(models.TradeCtxBreakevenMoved) {
			t.Fatalf("pass %d: breakeven lost, sl=%v ctx=%+v", i, *got.StopLoss, got.Context)
		}
		if got.ContextBool(models.TradeCtxExitRequested) {
			t.Fatalf("pass %d: exit_requested set for a rejected close", i)
		}
	}
	if n := broker.count("close"); n != 3 {
		t.Fatalf("close attempts = %d, want one per pass", n)
	}
	if n := broker.count("modify"); n != 1 {
		t.Fatalf("breakeven modify sent %d times, want 1", n)
	}
	if curve := mon.Last().Curve; len(curve) != 3 || curve[2].Equity != 0 {
		t.Fatalf("unexpected equity curve %+v", curve)
	}
}

func TestRunPassSerialisesConcurrentPasses(t *testing.T) {
	trades := repository.NewMemoryStore().Trades()
	seedTrade(t, trades, "T7", models.SideBuy, 100, 99, 102)
	broker := &recordingBroker{}
	market := &blockingMarket{entered: make(chan struct{}, 1), release: make(chan struct{}), price: 100.5}
	mgr := positions.NewManager(stubModel{hold: 0.35, rr: 2}, positions.DefaultConfig(), nil)
	mon := NewExitMonitor(trades, market, nil, broker, mgr, nil, metrics.Nop{}, nil, ExitMonitorConfig{Interval: time.Minute})

	done := make(chan error, 1)
	go func() {
		_, err := mon.RunPass(context.Background())
		done <- err
	}()
	<-market.entered

	if _, err := mon.RunPass(context.Background()); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("overlapping pass: expected ErrPassInProgress, got %v", err)
	}
	close(market.release)
	if err := <-done; err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if n := broker.count("close"); n != 1 {
		t.Fatalf("close sent %d times, want 1", n)
	}
}
