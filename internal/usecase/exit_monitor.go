package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	"Genesis/internal/services/positions"
	applogger "Genesis/pkg/logger"
)

// ErrPassInProgress is returned when another replica holds the pass lock.
var ErrPassInProgress = errors.New("exit pass already in progress")

type quoteSource interface {
	Latest(symbol string) (models.Quote, bool)
}

type passLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// ExitMonitorConfig controls the monitoring cycle.
type ExitMonitorConfig struct {
	Interval     time.Duration
	Timeframe    string
	PassTimeout  time.Duration
	FetchTimeout time.Duration
	QuoteMaxAge  time.Duration
	LockKey      string
}

// PassSnapshot is the outcome of the latest completed pass.
type PassSnapshot struct {
	positions.PassResult
	StartedAt time.Time               `json:"started_at"`
	Duration  time.Duration           `json:"duration"`
	Curve     []positions.EquityPoint `json:"equity_curve"`
}

// ExitMonitor rebuilds positions from open trades every cycle and applies the exit policy.
type ExitMonitor struct {
	trades  domrepo.TradeStore
	market  domrepo.MarketData
	quotes  quoteSource
	broker  domrepo.Broker
	manager *positions.Manager
	lock    passLock
	metrics domrepo.Metrics
	log     *applogger.Logger
	cfg     ExitMonitorConfig
	now     func() time.Time

	// running serialises passes within the process; lock covers other replicas.
	running sync.Mutex

	mu   sync.RWMutex
	last *PassSnapshot
}

func NewExitMonitor(trades domrepo.TradeStore, market domrepo.MarketData, quotes quoteSource, broker domrepo.Broker,
	manager *positions.Manager, lock passLock, metrics domrepo.Metrics, log *applogger.Logger, cfg ExitMonitorConfig) *ExitMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = string(domrepo.DefaultTimeframe())
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 2 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.QuoteMaxAge <= 0 {
		cfg.QuoteMaxAge = 30 * time.Second
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "lock:exit_pass"
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &ExitMonitor{
		trades: trades, market: market, quotes: quotes, broker: broker, manager: manager,
		lock: lock, metrics: metrics, log: log, cfg: cfg, now: time.Now,
	}
}

// Run executes a pass every interval until ctx is cancelled.
func (m *ExitMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	m.log.Info("exit monitor started", applogger.Duration("interval_ms", m.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			m.log.Info("exit monitor stopped")
			return
		case <-ticker.C:
			if _, err := m.RunPass(ctx); err != nil && !errors.Is(err, ErrPassInProgress) {
				m.log.Error("exit pass failed", applogger.Error(err))
			}
		}
	}
}

// Last returns the most recent pass snapshot, or nil before the first pass.
func (m *ExitMonitor) Last() *PassSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// RunPass performs one monitoring cycle.
func (m *ExitMonitor) RunPass(ctx context.Context) (*PassSnapshot, error) {
	if !m.running.TryLock() {
		return nil, ErrPassInProgress
	}
	defer m.running.Unlock()

	if m.lock != nil {
		ok, err := m.lock.TryLock(ctx, m.cfg.LockKey, m.cfg.Interval)
		if err != nil {
			m.log.Warn("pass lock unavailable, running unlocked", applogger.Error(err))
		} else if !ok {
			return nil, ErrPassInProgress
		} else {
			defer func() { _ = m.lock.Unlock(context.Background(), m.cfg.LockKey) }()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.PassTimeout)
	defer cancel()
	start := m.now()

	open, err := m.trades.ListOpen(ctx)
	if err != nil {
		m.metrics.RecordError("list_open_trades")
		return nil, err
	}

	byTicket := make(map[string]*models.Trade, len(open))
	working := make([]positions.Position, 0, len(open))
	symbols := map[string]struct{}{}
	for _, t := range open {
		if t.ContextBool(models.TradeCtxExitRequested) {
			continue
		}
		p, ok := m.positionFromTrade(t)
		if !ok {
			m.log.Warn("open trade without protective levels, skipping",
				applogger.String("ticket", t.Ticket), applogger.String("symbol", t.Symbol))
			continue
		}
		byTicket[t.Ticket] = t
		working = append(working, p)
		symbols[t.Symbol] = struct{}{}
	}

	bars := m.latestBars(ctx, symbols)
	m.manager.Load(working)
	res := m.manager.Evaluate(ctx, bars)

	// A rejected close leaves the trade open: its ratchet still applies and its state is persisted below.
	closed := make(map[string]struct{}, len(res.Exits))
	accepted := make([]positions.Exit, 0, len(res.Exits))
	for _, ex := range res.Exits {
		if !m.applyExit(ctx, byTicket[ex.Position.Ticket], ex) {
			res.Positions = append(res.Positions, ex.Position)
			continue
		}
		closed[ex.Position.Ticket] = struct{}{}
		accepted = append(accepted, ex)
	}
	res.Exits = accepted
	for _, r := range res.Ratchets {
		if _, gone := closed[r.Position.Ticket]; gone {
			continue
		}
		m.applyRatchet(ctx, r)
	}
	for _, p := range res.Positions {
		t := byTicket[p.Ticket]
		if t == nil {
			continue
		}
		m.persistState(ctx, t, p)
	}

	res.Equity = m.manager.Settle(accepted)
	m.metrics.RecordEquity(res.Equity)
	dur := m.now().Sub(start)
	m.metrics.RecordLatency("exit_pass", dur.Seconds())
	snap := &PassSnapshot{PassResult: res, StartedAt: start.UTC(), Duration: dur, Curve: m.manager.Equity()}
	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	m.log.Info("exit pass completed",
		applogger.Int("open", len(open)),
		applogger.Int("evaluated", res.Evaluated),
		applogger.Int("skipped", res.Skipped),
		applogger.Int("failed", res.Failed),
		applogger.Int("exits", len(res.Exits)),
		applogger.Int("ratchets", len(res.Ratchets)),
		applogger.Float64("equity", res.Equity),
		applogger.Duration("duration_ms", dur),
	)
	return snap, nil
}

func (m *ExitMonitor) positionFromTrade(t *models.Trade) (positions.Position, bool) {
	if t.StopLoss == nil || t.TakeProfit == nil {
		return positions.Position{}, false
	}
	bars, _ := t.ContextFloat(models.TradeCtxBarsOpen)
	rr, _ := t.ContextFloat(models.TradeCtxRRHat)
	tf := t.ContextString(models.TradeCtxTimeframe)
	if tf == "" {
		tf = m.cfg.Timeframe
	}
	qty := t.Lots
	if qty <= 0 {
		qty = 1
	}
	return positions.Position{
		Symbol:         t.Symbol,
		Ticket:         t.Ticket,
		Side:           t.Side,
		Entry:          t.EntryPrice,
		SL:             *t.StopLoss,
		TP:             *t.TakeProfit,
		Qty:            qty,
		OpenTime:       t.OpenedAt,
		BarsOpen:       int(bars),
		BreakevenMoved: t.ContextBool(models.TradeCtxBreakevenMoved),
		RRHat:          rr,
		Timeframe:      tf,
	}, true
}

// latestBars prefers a fresh streamed quote and falls back to the last candle.
// Symbols without either are left out of the pass.
func (m *ExitMonitor) latestBars(ctx context.Context, symbols map[string]struct{}) map[string]positions.Bar {
	out := make(map[string]positions.Bar, len(symbols))
	now := m.now()
	for sym := range symbols {
		if m.quotes != nil {
			if q, ok := m.quotes.Latest(sym); ok && now.Sub(q.Time) <= m.cfg.QuoteMaxAge {
				out[sym] = positions.Bar{Price: q.Price, High: q.Price, Low: q.Price, Time: q.Time}
				continue
			}
		}
		fctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
		candles, err := m.market.FetchCandles(fctx, domrepo.CandleQuery{
			Symbol: sym, Timeframe: domrepo.NormalizeTimeframe(m.cfg.Timeframe), Count: 2,
		})
		cancel()
		if err != nil || len(candles) == 0 {
			m.metrics.RecordError("exit_price")
			m.log.Warn("no price for symbol, positions held",
				applogger.String("symbol", sym), applogger.Error(err))
			continue
		}
		c := candles[len(candles)-1]
		out[sym] = positions.Bar{Price: c.Close, High: c.High, Low: c.Low, Time: c.Bucket}
		m.metrics.RecordLastPrice(sym, c.Close)
	}
	return out
}

// applyExit requests the close and reports whether the broker accepted it.
func (m *ExitMonitor) applyExit(ctx context.Context, t *models.Trade, ex positions.Exit) bool {
	if err := m.broker.ClosePosition(ctx, ex.Position.Ticket, ex.Reason); err != nil {
		m.metrics.RecordError("broker_close")
		m.log.Error("close request failed, position held",
			applogger.String("ticket", ex.Position.Ticket), applogger.String("reason", ex.Reason), applogger.Error(err))
		return false
	}
	m.metrics.RecordExit(ex.Position.Symbol, ex.Reason)
	if t == nil {
		return true
	}
	t.SetContext(models.TradeCtxExitRequested, true)
	t.SetContext(models.TradeCtxExitReason, ex.Reason)
	m.persistState(ctx, t, ex.Position)
	return true
}

func (m *ExitMonitor) applyRatchet(ctx context.Context, r positions.Ratchet) {
	m.metrics.RecordRatchet(r.Position.Symbol)
	sl := r.NewSL
	if err := m.broker.ModifyPosition(ctx, r.Position.Ticket, &sl, nil); err != nil {
		m.metrics.RecordError("broker_modify")
		m.log.Error("stop modify request failed",
			applogger.String("ticket", r.Position.Ticket), applogger.Float64("new_sl", sl), applogger.Error(err))
	}
}

func (m *ExitMonitor) persistState(ctx context.Context, t *models.Trade, p positions.Position) {
	sl := p.SL
	t.StopLoss = &sl
	t.SetContext(models.TradeCtxBarsOpen, p.BarsOpen)
	t.SetContext(models.TradeCtxBreakevenMoved, p.BreakevenMoved)
	t.SetContext(models.TradeCtxTimeframe, p.Timeframe)
	if p.RRHat > 0 {
		t.SetContext(models.TradeCtxRRHat, p.RRHat)
	}
	if err := m.trades.Update(ctx, t); err != nil {
		m.metrics.RecordError("trade_update")
		m.log.Warn("persisting position state failed", applogger.String("ticket", t.Ticket), applogger.Error(err))
	}
}
