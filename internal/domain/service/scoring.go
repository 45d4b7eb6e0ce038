package service

import "context"

// Features is a named feature vector passed to exit models.
type Features map[string]float64

// Exit model feature names.
const (
	FeatBarsOpen     = "bars_open"
	FeatATR          = "atr"
	FeatRange        = "range"
	FeatSessionHour  = "session_hour"
	FeatEntryRRHat   = "entry_rr_hat"
	FeatUnrealisedRR = "unrealised_rr"
)

// ExitModel estimates exit probability and expected reward-to-risk.
// Implementations never fail: unavailable models yield neutral values.
type ExitModel interface {
	// PredictExitProb returns the probability in [0,1] that the position should still be held.
	PredictExitProb(ctx context.Context, symbol, timeframe string, f Features) float64
	// PredictRR returns the expected reward-to-risk ratio, at least 1.0.
	PredictRR(ctx context.Context, symbol, timeframe string, f Features) float64
}
