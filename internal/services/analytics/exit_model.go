package analytics

import (
	"context"
	"math"

	domsvc "Genesis/internal/domain/service"
	"Genesis/internal/services/exitmodel"
	"Genesis/pkg/logger"
)

// HTTPExitModel queries a remote inference service and degrades to the neutral fallbacks.
type HTTPExitModel struct {
	base *HTTPServiceBase
	log  *logger.Logger
}

func NewHTTPExitModel(cfg ServiceConfig, log *logger.Logger) *HTTPExitModel {
	if log == nil {
		log = logger.NewNop()
	}
	return &HTTPExitModel{base: NewHTTPServiceBase(cfg), log: log}
}

type predictReq struct {
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe"`
	Features  map[string]float64 `json:"features"`
}

type exitResp struct {
	HoldProb float64 `json:"hold_prob"`
}

type rrResp struct {
	RR float64 `json:"rr"`
}

func (m *HTTPExitModel) PredictExitProb(ctx context.Context, symbol, timeframe string, f domsvc.Features) float64 {
	var r exitResp
	if err := m.base.PostJSONWithRetry(ctx, "/exit/predict", predictReq{symbol, timeframe, f}, &r); err != nil {
		m.log.Warn("remote exit model failed, using fallback", logger.String("symbol", symbol), logger.Error(err))
		return exitmodel.FallbackHoldProb
	}
	if math.IsNaN(r.HoldProb) || r.HoldProb < 0 || r.HoldProb > 1 {
		m.log.Warn("remote exit model returned invalid probability", logger.String("symbol", symbol), logger.Float64("hold_prob", r.HoldProb))
		return exitmodel.FallbackHoldProb
	}
	return r.HoldProb
}

func (m *HTTPExitModel) PredictRR(ctx context.Context, symbol, timeframe string, f domsvc.Features) float64 {
	var r rrResp
	if err := m.base.PostJSONWithRetry(ctx, "/rr/predict", predictReq{symbol, timeframe, f}, &r); err != nil {
		m.log.Warn("remote rr model failed, using fallback", logger.String("symbol", symbol), logger.Error(err))
		return exitmodel.FallbackRR
	}
	if math.IsNaN(r.RR) || math.IsInf(r.RR, 0) {
		return exitmodel.FallbackRR
	}
	return math.Max(exitmodel.MinRR, r.RR)
}

var _ domsvc.ExitModel = (*HTTPExitModel)(nil)
