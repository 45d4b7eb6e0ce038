package models

import "time"

// TradeSide is the direction of an executed trade.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Direction returns +1 for BUY and -1 for SELL.
func (s TradeSide) Direction() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// TradeStatus is the lifecycle state of a trade record.
type TradeStatus string

const (
	TradeOpen            TradeStatus = "OPEN"
	TradeClosed          TradeStatus = "CLOSED"
	TradeCancelled       TradeStatus = "CANCELLED"
	TradePartiallyClosed TradeStatus = "PARTIALLY_CLOSED"
)

// Trade context keys carrying exit-policy state between monitoring passes.
const (
	TradeCtxBarsOpen       = "bars_open"
	TradeCtxBreakevenMoved = "breakeven_moved"
	TradeCtxRRHat          = "rr_hat"
	TradeCtxTimeframe      = "timeframe"
	TradeCtxExitRequested  = "exit_requested"
	TradeCtxExitReason     = "exit_reason"
)

// Trade is an executed position as reported by the broker.
type Trade struct {
	ID         int64          `json:"id"`
	SignalID   *int64         `json:"signal_id,omitempty"`
	Ticket     string         `json:"ticket"`
	Symbol     string         `json:"symbol"`
	Side       TradeSide      `json:"side"`
	Lots       float64        `json:"lots"`
	EntryPrice float64        `json:"entry_price"`
	ExitPrice  *float64       `json:"exit_price,omitempty"`
	StopLoss   *float64       `json:"stop_loss,omitempty"`
	TakeProfit *float64       `json:"take_profit,omitempty"`
	PnL        *float64       `json:"pnl,omitempty"`
	Status     TradeStatus    `json:"status"`
	OpenedAt   time.Time      `json:"opened_at"`
	ClosedAt   *time.Time     `json:"closed_at,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// ContextFloat reads a numeric context value, tolerating JSON-decoded numbers.
func (t *Trade) ContextFloat(key string) (float64, bool) {
	switch v := t.Context[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// ContextBool reads a boolean context value.
func (t *Trade) ContextBool(key string) bool {
	b, _ := t.Context[key].(bool)
	return b
}

// ContextString reads a string context value.
func (t *Trade) ContextString(key string) string {
	s, _ := t.Context[key].(string)
	return s
}

// SetContext stores v under key, allocating the map on first use.
func (t *Trade) SetContext(key string, v any) {
	if t.Context == nil {
		t.Context = make(map[string]any)
	}
	t.Context[key] = v
}
