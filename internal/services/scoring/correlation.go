package scoring

import (
	"context"
	"fmt"
	"strings"

	"Genesis/internal/domain/models"
	"Genesis/internal/domain/repository"
	"Genesis/pkg/logger"
)

// DefaultCorrelationThreshold is the absolute correlation above which exposure is doubled.
const DefaultCorrelationThreshold = 0.75

// CorrelationPair is one symmetric table entry.
type CorrelationPair struct {
	A     string
	B     string
	Value float64
}

// DefaultCorrelations is the built-in FX and metals table.
var DefaultCorrelations = []CorrelationPair{
	{"EURUSD", "GBPUSD", 0.85},
	{"EURUSD", "USDCHF", -0.92},
	{"EURUSD", "AUDUSD", 0.70},
	{"EURUSD", "NZDUSD", 0.68},
	{"EURUSD", "USDCAD", -0.55},
	{"GBPUSD", "USDCHF", -0.80},
	{"GBPUSD", "AUDUSD", 0.62},
	{"AUDUSD", "NZDUSD", 0.90},
	{"AUDUSD", "USDCAD", -0.60},
	{"USDJPY", "USDCHF", 0.60},
	{"USDJPY", "EURJPY", 0.78},
	{"EURJPY", "GBPJPY", 0.88},
	{"XAUUSD", "XAGUSD", 0.80},
	{"XAUUSD", "EURUSD", 0.40},
	{"XAUUSD", "USDCHF", -0.45},
}

// CorrelationTable is a symmetric lookup of pairwise correlations.
type CorrelationTable struct {
	values map[[2]string]float64
}

// NewCorrelationTable builds the built-in table with overrides applied on top.
func NewCorrelationTable(overrides []CorrelationPair) *CorrelationTable {
	t := &CorrelationTable{values: make(map[[2]string]float64, len(DefaultCorrelations)+len(overrides))}
	for _, p := range DefaultCorrelations {
		t.Set(p.A, p.B, p.Value)
	}
	for _, p := range overrides {
		t.Set(p.A, p.B, p.Value)
	}
	return t
}

// NormalizeSymbol upper-cases s and strips separators, so EUR_USD, eur/usd and EURUSD match.
func NormalizeSymbol(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '/', '-', '.', ' ':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, s)
}

func pairKey(a, b string) [2]string {
	a, b = NormalizeSymbol(a), NormalizeSymbol(b)
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Set stores the correlation of a and b.
func (t *CorrelationTable) Set(a, b string, v float64) {
	t.values[pairKey(a, b)] = v
}

// Get returns the correlation of a and b in either order, or 0 when unknown.
func (t *CorrelationTable) Get(a, b string) float64 {
	if t == nil {
		return 0
	}
	return t.values[pairKey(a, b)]
}

// FlaggedPair is an open trade that would compound the new signal's exposure.
type FlaggedPair struct {
	Symbol      string  `json:"symbol"`
	Ticket      string  `json:"ticket"`
	Side        string  `json:"side"`
	Correlation float64 `json:"correlation"`
	Relation    string  `json:"relation"`
}

// CorrelationDetails is the audit record of the correlation guard.
type CorrelationDetails struct {
	Checked   int           `json:"checked"`
	Threshold float64       `json:"threshold"`
	Flagged   []FlaggedPair `json:"flagged,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// CorrelationGuard blocks signals that duplicate exposure of open trades on correlated symbols.
type CorrelationGuard struct {
	trades    repository.TradeStore
	table     *CorrelationTable
	threshold float64
	log       *logger.Logger
}

// NewCorrelationGuard creates the guard. A non-positive threshold means DefaultCorrelationThreshold.
func NewCorrelationGuard(trades repository.TradeStore, table *CorrelationTable, threshold float64, log *logger.Logger) *CorrelationGuard {
	if threshold <= 0 {
		threshold = DefaultCorrelationThreshold
	}
	if table == nil {
		table = NewCorrelationTable(nil)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &CorrelationGuard{trades: trades, table: table, threshold: threshold, log: log}
}

// Evaluate reports whether the signal may proceed.
func (g *CorrelationGuard) Evaluate(ctx context.Context, symbol string, action models.Action) (bool, CorrelationDetails) {
	d := CorrelationDetails{Threshold: g.threshold}
	if g.trades == nil {
		return true, d
	}
	open, err := g.trades.ListOpen(ctx)
	if err != nil {
		err = fmt.Errorf("list open trades: %w", err)
		g.log.Warn("correlation guard degraded to neutral", logger.String("symbol", symbol), logger.Error(err))
		d.Error = err.Error()
		return true, d
	}
	side := action.Side()
	self := NormalizeSymbol(symbol)
	for _, t := range open {
		if NormalizeSymbol(t.Symbol) == self {
			continue
		}
		d.Checked++
		corr := g.table.Get(symbol, t.Symbol)
		switch {
		case t.Side == side && corr > g.threshold:
			d.Flagged = append(d.Flagged, FlaggedPair{t.Symbol, t.Ticket, string(t.Side), corr, "same_direction"})
		case t.Side != side && corr < -g.threshold:
			d.Flagged = append(d.Flagged, FlaggedPair{t.Symbol, t.Ticket, string(t.Side), corr, "opposite_direction"})
		}
	}
	return len(d.Flagged) == 0, d
}
