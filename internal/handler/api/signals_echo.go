package api

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	models "Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	"Genesis/internal/services/tables"
	"Genesis/internal/usecase"
	xhttp "Genesis/pkg/http"
	xlogger "Genesis/pkg/logger"
)

// SignalsEchoHandler serves signal intake, dry-run scoring and the lookup tables.
type SignalsEchoHandler struct {
	logger     *xlogger.Logger
	intake     *usecase.SignalIntake
	signals    domrepo.SignalStore
	market     domrepo.MarketData
	weights    tables.Source[tables.WeightTable]
	thresholds tables.Source[tables.ThresholdTable]
}

func NewSignalsEchoHandler(logger *xlogger.Logger, intake *usecase.SignalIntake, signals domrepo.SignalStore,
	market domrepo.MarketData, weights tables.Source[tables.WeightTable], thresholds tables.Source[tables.ThresholdTable]) *SignalsEchoHandler {
	return &SignalsEchoHandler{logger: logger, intake: intake, signals: signals, market: market, weights: weights, thresholds: thresholds}
}

func (h *SignalsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/signals/evaluate", h.Evaluate)
	g.POST("/signals", h.Submit)
	g.GET("/signals/:id", h.Get)
	g.GET("/candles", h.Candles)
	g.GET("/tables", h.Tables)
}

func (h *SignalsEchoHandler) Evaluate(c echo.Context) error {
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	d := h.intake.Evaluate(c.Request().Context(), req.ToSignal())
	return xhttp.SuccessResponse(c, d)
}

func (h *SignalsEchoHandler) Submit(c echo.Context) error {
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.intake.Submit(c.Request().Context(), req.ToSignal())
	if err != nil {
		h.logger.Error("signal intake error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("signal intake failed").WithError(err))
	}
	return xhttp.CreatedResponse(c, res)
}

func (h *SignalsEchoHandler) Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("id must be a positive integer"))
	}
	s, err := h.signals.Get(c.Request().Context(), id)
	if errors.Is(err, domrepo.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("signal %d not found", id))
	}
	if err != nil {
		h.logger.Error("signal lookup error", xlogger.Int64("id", id), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("signal lookup failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *SignalsEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	candles, err := h.market.FetchCandles(c.Request().Context(), domrepo.CandleQuery{
		Symbol: req.Symbol, Timeframe: domrepo.NormalizeTimeframe(req.TF), Count: req.N,
	})
	if err != nil {
		h.logger.Error("candles fetch error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("market data unavailable").WithError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.ListResponse(c, candles, int64(len(candles)))
}

type tablesResponse struct {
	Weights    tables.WeightTable    `json:"weights"`
	Thresholds tables.ThresholdTable `json:"thresholds"`
}

func (h *SignalsEchoHandler) Tables(c echo.Context) error {
	return xhttp.SuccessResponse(c, tablesResponse{Weights: h.weights.Get(), Thresholds: h.thresholds.Get()})
}
