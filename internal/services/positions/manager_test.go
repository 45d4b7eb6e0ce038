package positions

import (
	"context"
	"math"
	"testing"
	"time"

	"Genesis/internal/domain/models"
	domsvc "Genesis/internal/domain/service"
)

type stubModel struct {
	hold     float64
	rr       float64
	panicFor string
	seen     []domsvc.Features
}

func (s *stubModel) PredictExitProb(_ context.Context, symbol, _ string, f domsvc.Features) float64 {
	if symbol == s.panicFor {
		panic("corrupt model")
	}
	s.seen = append(s.seen, f)
	return s.hold
}

func (s *stubModel) PredictRR(context.Context, string, string, domsvc.Features) float64 { return s.rr }

func bar(price float64) Bar {
	return Bar{Price: price, High: price + 0.25, Low: price - 0.25, Time: time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)}
}

func TestOpenSizesTargetFromModel(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.5, rr: 2.0}, Config{}, nil)
	p := m.Open(context.Background(), "EUR_USD", 100, 1, "H1", nil)
	if p.SL != 99 || p.TP != 102 || p.RRHat != 2.0 || p.Side != models.SideBuy || p.Qty != 1 {
		t.Fatalf("unexpected position %+v", p)
	}
	if len(m.Positions()) != 1 {
		t.Fatal("position not added to working set")
	}
}

func TestBreakevenThenStopAtEntry(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.5, rr: 2.0}, Config{}, nil)
	m.Open(context.Background(), "EUR_USD", 100, 1, "H1", nil)

	res := m.Pass(context.Background(), map[string]Bar{"EUR_USD": bar(101)})
	if len(res.Ratchets) != 1 || res.Ratchets[0].OldSL != 99 || res.Ratchets[0].NewSL != 100 {
		t.Fatalf("expected ratchet 99->100, got %+v", res.Ratchets)
	}
	if len(res.Exits) != 0 {
		t.Fatalf("unexpected exits %+v", res.Exits)
	}
	p := m.Positions()[0]
	if !p.BreakevenMoved || p.SL != 100 || p.BarsOpen != 1 {
		t.Fatalf("unexpected state after ratchet %+v", p)
	}

	exits := m.UpdatePrices(context.Background(), map[string]Bar{"EUR_USD": bar(100)})
	if len(exits) != 1 || exits[0].Reason != ReasonStopLoss || exits[0].PnL != 0 {
		t.Fatalf("expected breakeven stop, got %+v", exits)
	}
	if len(m.Positions()) != 0 {
		t.Fatal("closed position still in working set")
	}
}

func TestPriceAtStopIsFinite(t *testing.T) {
	model := &stubModel{hold: 0.5, rr: 2.0}
	m := NewManager(model, Config{}, nil)
	m.Load([]Position{{Symbol: "EUR_USD", Side: models.SideBuy, Entry: 100, SL: 100, TP: 102, Qty: 1, BreakevenMoved: true, Timeframe: "H1"}})

	exits := m.UpdatePrices(context.Background(), map[string]Bar{"EUR_USD": bar(100)})
	if len(model.seen) != 1 {
		t.Fatalf("model not queried")
	}
	rr := model.seen[0][domsvc.FeatUnrealisedRR]
	if math.IsInf(rr, 0) || math.IsNaN(rr) || rr <= 0 {
		t.Fatalf("unrealised_rr not finite: %v", rr)
	}
	if len(exits) != 1 || exits[0].Reason != ReasonStopLoss {
		t.Fatalf("expected stop loss, got %+v", exits)
	}
}

func TestRatchetIsOneWay(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.9, rr: 2.0}, Config{}, nil)
	m.Load([]Position{{Symbol: "EUR_USD", Side: models.SideBuy, Entry: 100, SL: 99, TP: 110, Qty: 1, Timeframe: "H1"}})

	prices := []float64{101, 100.5, 102, 100.2, 103}
	for _, px := range prices {
		m.UpdatePrices(context.Background(), map[string]Bar{"EUR_USD": bar(px)})
		ps := m.Positions()
		if len(ps) != 1 {
			t.Fatalf("position closed unexpectedly at %v", px)
		}
		if !ps[0].BreakevenMoved || ps[0].SL != 100 {
			t.Fatalf("ratchet reverted at %v: %+v", px, ps[0])
		}
	}
}

func TestModelOverridesStaticLevels(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.35, rr: 2.0}, Config{}, nil)
	m.Load([]Position{{Symbol: "EUR_USD", Ticket: "42", Side: models.SideBuy, Entry: 100, SL: 99, TP: 102, Qty: 2, Timeframe: "H1"}})

	exits := m.UpdatePrices(context.Background(), map[string]Bar{"EUR_USD": bar(100.5)})
	if len(exits) != 1 || exits[0].Reason != ReasonModelExit || exits[0].PHold != 0.35 {
		t.Fatalf("expected model exit, got %+v", exits)
	}
	if exits[0].PnL != 1.0 || exits[0].Price != 100.5 {
		t.Fatalf("unexpected pnl %+v", exits[0])
	}
	if m.Realised() != 1.0 {
		t.Fatalf("realised = %v, want 1.0", m.Realised())
	}
}

func TestTakeProfit(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.6, rr: 2.0}, Config{}, nil)
	m.Load([]Position{{Symbol: "EUR_USD", Side: models.SideBuy, Entry: 100, SL: 99, TP: 102, Qty: 1, BreakevenMoved: true}})
	exits := m.UpdatePrices(context.Background(), map[string]Bar{"EUR_USD": bar(102.4)})
	if len(exits) != 1 || exits[0].Reason != ReasonTakeProfit || exits[0].PnL != 2 || exits[0].Price != 102 {
		t.Fatalf("expected take profit at 102, got %+v", exits)
	}
}

func TestSellPositionsAreMirrored(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.6, rr: 2.0}, Config{}, nil)
	m.Load([]Position{{Symbol: "GBP_USD", Side: models.SideSell, Entry: 100, SL: 101, TP: 98, Qty: 1}})

	res := m.Pass(context.Background(), map[string]Bar{"GBP_USD": bar(99)})
	if len(res.Ratchets) != 1 || m.Positions()[0].SL != 100 {
		t.Fatalf("short ratchet not applied: %+v", res)
	}
	exits := m.UpdatePrices(context.Background(), map[string]Bar{"GBP_USD": bar(97.5)})
	if len(exits) != 1 || exits[0].Reason != ReasonTakeProfit || exits[0].PnL != 2 {
		t.Fatalf("expected short take profit pnl 2, got %+v", exits)
	}
}

func TestPositionsWithoutBarAreUntouched(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.1, rr: 2.0}, Config{}, nil)
	orig := Position{Symbol: "USD_JPY", Side: models.SideBuy, Entry: 150, SL: 149, TP: 152, Qty: 1, BarsOpen: 4}
	m.Load([]Position{orig})
	res := m.Pass(context.Background(), map[string]Bar{"EUR_USD": bar(1)})
	if res.Skipped != 1 || len(res.Exits) != 0 || m.Positions()[0] != orig {
		t.Fatalf("position without bar changed: %+v", m.Positions())
	}
}

func TestFailingPositionDoesNotAbortPass(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.35, rr: 2.0, panicFor: "XAU_USD"}, Config{}, nil)
	gold := Position{Symbol: "XAU_USD", Side: models.SideBuy, Entry: 2300, SL: 2290, TP: 2320, Qty: 1}
	m.Load([]Position{
		gold,
		{Symbol: "EUR_USD", Side: models.SideBuy, Entry: 100, SL: 99, TP: 102, Qty: 1},
	})
	res := m.Pass(context.Background(), map[string]Bar{"XAU_USD": bar(2305), "EUR_USD": bar(100.5)})
	if res.Failed != 1 || len(res.Exits) != 1 || res.Exits[0].Position.Symbol != "EUR_USD" {
		t.Fatalf("unexpected pass result %+v", res)
	}
	if ps := m.Positions(); len(ps) != 1 || ps[0] != gold {
		t.Fatalf("failing position not held unchanged: %+v", ps)
	}
}

func TestEquityCurveAppendedEveryPass(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.6, rr: 2.0}, Config{}, nil)
	m.Load([]Position{{Symbol: "EUR_USD", Side: models.SideBuy, Entry: 100, SL: 99, TP: 102, Qty: 1, BreakevenMoved: true}})
	m.UpdatePrices(context.Background(), map[string]Bar{"EUR_USD": bar(100.5)})
	m.UpdatePrices(context.Background(), map[string]Bar{"EUR_USD": bar(103)})
	eq := m.Equity()
	if len(eq) != 2 || eq[0].Equity != 0 || eq[1].Equity != 2 {
		t.Fatalf("unexpected equity curve %+v", eq)
	}
}

func TestExitFeatures(t *testing.T) {
	model := &stubModel{hold: 0.6, rr: 2.0}
	m := NewManager(model, Config{}, nil)
	m.Load([]Position{{Symbol: "EUR_USD", Side: models.SideBuy, Entry: 100, SL: 99, TP: 102, Qty: 1, BarsOpen: 3, RRHat: 2, BreakevenMoved: true}})
	m.UpdatePrices(context.Background(), map[string]Bar{"EUR_USD": bar(100.5)})
	f := model.seen[0]
	if f[domsvc.FeatBarsOpen] != 3 || f[domsvc.FeatATR] != 3 || f[domsvc.FeatRange] != 0.5 ||
		f[domsvc.FeatSessionHour] != 14 || f[domsvc.FeatEntryRRHat] != 2 {
		t.Fatalf("unexpected features %v", f)
	}
	// risk = 100.5-99 = 1.5, reward = 1.5
	if math.Abs(f[domsvc.FeatUnrealisedRR]-1) > 1e-12 {
		t.Fatalf("unrealised_rr = %v, want 1", f[domsvc.FeatUnrealisedRR])
	}
}

func TestInvalidHoldProbability(t *testing.T) {
	tests := []struct {
		name     string
		hold     float64
		wantExit bool
	}{
		{"nan uses fallback and holds", math.NaN(), false},
		{"inf uses fallback and holds", math.Inf(-1), false},
		{"negative clamps to zero and exits", -0.2, true},
		{"above one clamps and holds", 1.7, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(&stubModel{hold: tt.hold, rr: 2.0}, Config{}, nil)
			m.Load([]Position{{Symbol: "EUR_USD", Ticket: "T1", Side: models.SideBuy, Entry: 100, SL: 99, TP: 102, Qty: 1}})
			res := m.Pass(context.Background(), map[string]Bar{"EUR_USD": bar(100.5)})
			if got := len(res.Exits) == 1; got != tt.wantExit {
				t.Fatalf("exit = %v, want %v (%+v)", got, tt.wantExit, res.Exits)
			}
			if tt.wantExit && res.Exits[0].PHold != 0 {
				t.Fatalf("p_hold = %v, want clamped 0", res.Exits[0].PHold)
			}
		})
	}
}

func TestInvalidRRUsesFallback(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.5, rr: math.NaN()}, Config{}, nil)
	p := m.Open(context.Background(), "EUR_USD", 100, 1, "H1", nil)
	if p.RRHat != 1.5 || p.TP != 101.5 {
		t.Fatalf("expected fallback rr 1.5, got %+v", p)
	}
}

func TestEvaluateDefersPnLUntilSettle(t *testing.T) {
	m := NewManager(&stubModel{hold: 0.35, rr: 2.0}, Config{}, nil)
	m.Load([]Position{{Symbol: "EUR_USD", Ticket: "T1", Side: models.SideBuy, Entry: 100, SL: 99, TP: 102, Qty: 1}})
	res := m.Evaluate(context.Background(), map[string]Bar{"EUR_USD": bar(100.5)})
	if len(res.Exits) != 1 || res.Equity != 0 || m.Realised() != 0 {
		t.Fatalf("evaluate must not realise pnl: %+v realised=%v", res, m.Realised())
	}
	if len(m.Equity()) != 0 {
		t.Fatalf("evaluate must not record equity")
	}
	if eq := m.Settle(nil); eq != 0 {
		t.Fatalf("settle with no accepted exits = %v, want 0", eq)
	}
	if eq := m.Settle(res.Exits); eq != 0.5 {
		t.Fatalf("settle = %v, want 0.5", eq)
	}
	if len(m.Equity()) != 2 {
		t.Fatalf("expected one equity point per settle, got %d", len(m.Equity()))
	}
}
