package positions

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"Genesis/internal/domain/models"
	domsvc "Genesis/internal/domain/service"
	"Genesis/internal/services/exitmodel"
	"Genesis/pkg/logger"
)

// Exit reasons.
const (
	ReasonModelExit  = "model_exit"
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
)

// Policy defaults.
const (
	DefaultHoldThreshold  = 0.40
	DefaultBreakevenRatio = 1.0
	DefaultEpsilon        = 1e-9
)

// Config holds the exit policy constants.
type Config struct {
	HoldThreshold  float64
	BreakevenRatio float64
	Epsilon        float64
}

// DefaultConfig returns the standard exit policy.
func DefaultConfig() Config {
	return Config{HoldThreshold: DefaultHoldThreshold, BreakevenRatio: DefaultBreakevenRatio, Epsilon: DefaultEpsilon}
}

// Position is the in-memory state of one open position.
type Position struct {
	Symbol         string           `json:"symbol"`
	Ticket         string           `json:"ticket,omitempty"`
	Side           models.TradeSide `json:"side"`
	Entry          float64          `json:"entry"`
	SL             float64          `json:"sl"`
	TP             float64          `json:"tp"`
	Qty            float64          `json:"qty"`
	OpenTime       time.Time        `json:"open_time"`
	BarsOpen       int              `json:"bars_open"`
	BreakevenMoved bool             `json:"breakeven_moved"`
	RRHat          float64          `json:"rr_hat"`
	Timeframe      string           `json:"timeframe"`
}

func (p Position) dir() float64 { return p.Side.Direction() }

// Bar is the latest price information for a symbol.
type Bar struct {
	Price float64
	High  float64
	Low   float64
	Time  time.Time
}

// Exit is a close decision produced by a pass.
type Exit struct {
	Position Position `json:"position"`
	Reason   string   `json:"reason"`
	Price    float64  `json:"price"`
	PnL      float64  `json:"pnl"`
	PHold    float64  `json:"p_hold"`
}

// Ratchet records a stop loss moved to breakeven.
type Ratchet struct {
	Position Position `json:"position"`
	OldSL    float64  `json:"old_sl"`
	NewSL    float64  `json:"new_sl"`
}

// EquityPoint is one sample of the cumulative realised PnL.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// PassResult summarises one UpdatePrices pass.
type PassResult struct {
	Exits     []Exit     `json:"exits"`
	Ratchets  []Ratchet  `json:"ratchets"`
	Evaluated int        `json:"evaluated"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	Equity    float64    `json:"equity"`
	Positions []Position `json:"positions"`
}

// Manager applies the exit policy to a working set of positions.
type Manager struct {
	model domsvc.ExitModel
	cfg   Config
	log   *logger.Logger
	now   func() time.Time

	mu        sync.Mutex
	positions []Position
	realised  float64
	equity    []EquityPoint
}

// NewManager creates a position manager. Zero config fields take the defaults.
func NewManager(model domsvc.ExitModel, cfg Config, log *logger.Logger) *Manager {
	def := DefaultConfig()
	if cfg.HoldThreshold <= 0 {
		cfg.HoldThreshold = def.HoldThreshold
	}
	if cfg.BreakevenRatio <= 0 {
		cfg.BreakevenRatio = def.BreakevenRatio
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{model: model, cfg: cfg, log: log, now: time.Now}
}

// Open adds a long position at price with a stop one atr below and a model-sized target.
func (m *Manager) Open(ctx context.Context, symbol string, price, atr float64, tf string, f domsvc.Features) *Position {
	sl := price - atr
	rr := m.model.PredictRR(ctx, symbol, tf, f)
	if math.IsNaN(rr) || math.IsInf(rr, 0) || rr <= 0 {
		m.log.Warn("rr model returned invalid value, using fallback",
			logger.String("symbol", symbol), logger.Float64("rr_hat", rr))
		rr = exitmodel.FallbackRR
	}
	p := Position{
		Symbol:    symbol,
		Side:      models.SideBuy,
		Entry:     price,
		SL:        sl,
		TP:        price + rr*(price-sl),
		Qty:       1,
		OpenTime:  m.now().UTC(),
		RRHat:     rr,
		Timeframe: tf,
	}
	m.mu.Lock()
	m.positions = append(m.positions, p)
	m.mu.Unlock()
	m.log.Info("position opened",
		logger.String("symbol", symbol), logger.Float64("entry", price),
		logger.Float64("sl", p.SL), logger.Float64("tp", p.TP), logger.Float64("rr_hat", rr))
	return &p
}

// Load replaces the working set.
func (m *Manager) Load(positions []Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append(m.positions[:0:0], positions...)
}

// Positions returns a copy of the working set.
func (m *Manager) Positions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Position(nil), m.positions...)
}

// Equity returns a copy of the equity curve.
func (m *Manager) Equity() []EquityPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EquityPoint(nil), m.equity...)
}

// Realised returns the cumulative realised PnL.
func (m *Manager) Realised() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realised
}

// UpdatePrices runs one pass and returns the positions closed by it.
func (m *Manager) UpdatePrices(ctx context.Context, bars map[string]Bar) []Exit {
	return m.Pass(ctx, bars).Exits
}

// Pass evaluates every position and settles all of its exits.
func (m *Manager) Pass(ctx context.Context, bars map[string]Bar) PassResult {
	res := m.Evaluate(ctx, bars)
	res.Equity = m.Settle(res.Exits)
	return res
}

// Evaluate applies the policy to every position with a bar for its symbol.
// Closed positions leave the working set; the others are aged by one bar.
// Exit PnL is not realised until the exits are passed to Settle.
func (m *Manager) Evaluate(ctx context.Context, bars map[string]Bar) PassResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res PassResult
	kept := m.positions[:0:0]
	for _, p := range m.positions {
		bar, ok := bars[p.Symbol]
		if !ok {
			res.Skipped++
			kept = append(kept, p)
			continue
		}
		res.Evaluated++
		next, exit, ratchet, err := m.evaluate(ctx, p, bar)
		if err != nil {
			res.Failed++
			m.log.Error("position evaluation failed, holding unchanged",
				logger.String("symbol", p.Symbol), logger.String("ticket", p.Ticket), logger.Error(err))
			kept = append(kept, p)
			continue
		}
		if ratchet != nil {
			res.Ratchets = append(res.Ratchets, *ratchet)
		}
		if exit != nil {
			res.Exits = append(res.Exits, *exit)
			m.log.Info("position closed",
				logger.String("symbol", p.Symbol), logger.String("ticket", p.Ticket),
				logger.String("reason", exit.Reason), logger.Float64("price", exit.Price),
				logger.Float64("pnl", exit.PnL), logger.Float64("p_hold", exit.PHold))
			continue
		}
		kept = append(kept, next)
	}
	m.positions = kept

	res.Equity = m.realised
	res.Positions = append([]Position(nil), kept...)
	return res
}

// Settle realises the PnL of accepted exits, records an equity point and returns the new equity.
func (m *Manager) Settle(accepted []Exit) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range accepted {
		m.realised += e.PnL
	}
	m.equity = append(m.equity, EquityPoint{Time: m.now().UTC(), Equity: m.realised})
	return m.realised
}

// evaluate applies the policy steps to a copy of p in order:
// breakeven ratchet, live RR, model query, early exit, static levels, aging.
func (m *Manager) evaluate(ctx context.Context, p Position, bar Bar) (next Position, exit *Exit, ratchet *Ratchet, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, exit, ratchet, err = p, nil, nil, fmt.Errorf("panic: %v", r)
		}
	}()
	price := bar.Price
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return p, nil, nil, fmt.Errorf("invalid price %v", price)
	}
	next = p
	dir := p.dir()

	initialRisk := (next.Entry - next.SL) * dir
	if !next.BreakevenMoved && initialRisk > 0 && (price-next.Entry)*dir >= m.cfg.BreakevenRatio*initialRisk {
		ratchet = &Ratchet{OldSL: next.SL, NewSL: next.Entry}
		next.SL = next.Entry
		next.BreakevenMoved = true
		ratchet.Position = next
		m.log.Info("stop moved to breakeven",
			logger.String("symbol", next.Symbol), logger.String("ticket", next.Ticket),
			logger.Float64("old_sl", ratchet.OldSL), logger.Float64("new_sl", ratchet.NewSL))
	}

	risk := math.Max((price-next.SL)*dir, m.cfg.Epsilon)
	rrLive := (next.TP - price) * dir / risk

	at := bar.Time
	if at.IsZero() {
		at = m.now()
	}
	f := domsvc.Features{
		domsvc.FeatBarsOpen:     float64(next.BarsOpen),
		domsvc.FeatATR:          math.Abs(next.TP - next.SL),
		domsvc.FeatRange:        math.Abs(bar.High - bar.Low),
		domsvc.FeatSessionHour:  float64(at.UTC().Hour()),
		domsvc.FeatEntryRRHat:   next.RRHat,
		domsvc.FeatUnrealisedRR: rrLive,
	}
	pHold := m.model.PredictExitProb(ctx, next.Symbol, next.Timeframe, f)
	switch {
	case math.IsNaN(pHold) || math.IsInf(pHold, 0):
		m.log.Warn("exit model returned invalid probability, using fallback",
			logger.String("symbol", next.Symbol), logger.String("ticket", next.Ticket))
		pHold = exitmodel.FallbackHoldProb
	case pHold < 0 || pHold > 1:
		pHold = math.Min(1, math.Max(0, pHold))
	}

	if pHold < m.cfg.HoldThreshold {
		return next, m.closeAt(next, ReasonModelExit, price, pHold), ratchet, nil
	}
	if (price-next.SL)*dir <= 0 {
		return next, m.closeAt(next, ReasonStopLoss, next.SL, pHold), ratchet, nil
	}
	if (price-next.TP)*dir >= 0 {
		return next, m.closeAt(next, ReasonTakeProfit, next.TP, pHold), ratchet, nil
	}

	next.BarsOpen++
	return next, nil, ratchet, nil
}

func (m *Manager) closeAt(p Position, reason string, price, pHold float64) *Exit {
	qty := p.Qty
	if qty <= 0 {
		qty = 1
	}
	return &Exit{
		Position: p,
		Reason:   reason,
		Price:    price,
		PnL:      (price - p.Entry) * p.dir() * qty,
		PHold:    pHold,
	}
}
