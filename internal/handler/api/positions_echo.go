package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	models "Genesis/internal/domain/models"
	"Genesis/internal/services/positions"
	"Genesis/internal/usecase"
	xhttp "Genesis/pkg/http"
	xlogger "Genesis/pkg/logger"
)

// PositionsEchoHandler exposes the exit monitor.
type PositionsEchoHandler struct {
	logger  *xlogger.Logger
	monitor *usecase.ExitMonitor
}

func NewPositionsEchoHandler(logger *xlogger.Logger, monitor *usecase.ExitMonitor) *PositionsEchoHandler {
	return &PositionsEchoHandler{logger: logger, monitor: monitor}
}

func (h *PositionsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/positions", h.Positions)
	g.POST("/exit/pass", h.Pass)
}

type positionsResponse struct {
	Positions []positions.Position    `json:"positions"`
	Exits     []positions.Exit        `json:"exits"`
	Equity    float64                 `json:"equity"`
	Curve     []positions.EquityPoint `json:"equity_curve"`
	PassAt    string                  `json:"pass_at,omitempty"`
}

func (h *PositionsEchoHandler) Positions(c echo.Context) error {
	req := &models.PositionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap := h.monitor.Last()
	if snap == nil {
		return xhttp.SuccessResponse(c, positionsResponse{Positions: []positions.Position{}, Exits: []positions.Exit{}})
	}
	res := positionsResponse{Equity: snap.Equity, PassAt: snap.StartedAt.Format(time.RFC3339)}
	for _, p := range snap.Positions {
		if req.Symbol == "" || p.Symbol == req.Symbol {
			res.Positions = append(res.Positions, p)
		}
	}
	for _, ex := range snap.Exits {
		if req.Symbol == "" || ex.Position.Symbol == req.Symbol {
			res.Exits = append(res.Exits, ex)
		}
	}
	res.Curve = snap.Curve
	if req.Points > 0 && len(res.Curve) > req.Points {
		res.Curve = res.Curve[len(res.Curve)-req.Points:]
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PositionsEchoHandler) Pass(c echo.Context) error {
	snap, err := h.monitor.RunPass(c.Request().Context())
	if errors.Is(err, usecase.ErrPassInProgress) {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()))
	}
	if err != nil {
		h.logger.Error("manual exit pass failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("exit pass failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, snap)
}
