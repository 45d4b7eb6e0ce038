package models

// Requests for the scoring HTTP endpoints. Defined in domain for consistency and reuse.

type SignalRequest struct {
	Symbol     string         `json:"symbol" validate:"required,min=3,max=20"`
	Action     string         `json:"action" validate:"required,oneof=BUY_NOW SELL_NOW ANTICIPATED_LONG ANTICIPATED_SHORT"`
	Entry      *float64       `json:"entry" validate:"omitempty,gt=0"`
	StopLoss   *float64       `json:"stop_loss" validate:"omitempty,gt=0"`
	TakeProfit *float64       `json:"take_profit" validate:"omitempty,gt=0"`
	Confidence float64        `json:"confidence" validate:"gte=0,lte=1"`
	Context    map[string]any `json:"context"`
}

// ToSignal builds a PENDING signal from the request.
func (r SignalRequest) ToSignal() *Signal {
	return &Signal{
		Symbol:     r.Symbol,
		Action:     Action(r.Action),
		Entry:      r.Entry,
		StopLoss:   r.StopLoss,
		TakeProfit: r.TakeProfit,
		Confidence: r.Confidence,
		Status:     StatusPending,
		Context:    r.Context,
	}
}

// PositionsRequest filters the last pass snapshot and caps the equity curve length.
type PositionsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"omitempty,max=20"`
	Points int    `query:"points" json:"points" default:"200" validate:"gte=0,lte=10000"`
}

type CandlesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	N      int    `query:"n" json:"n" default:"100" validate:"gte=1,lte=5000"`
	TF     string `query:"tf" json:"tf" default:"H1" validate:"oneof=M1 M5 M15 M30 H1 H4 D"`
}
