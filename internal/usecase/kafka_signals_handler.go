package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	pkgkafka "Genesis/pkg/kafka"
	applogger "Genesis/pkg/logger"
)

// SignalsHandler consumes candidate signals from Kafka and submits them for scoring.
type SignalsHandler struct {
	topic    string
	intake   *SignalIntake
	metrics  domrepo.Metrics
	log      *applogger.Logger
	validate *validator.Validate
}

func NewSignalsHandler(topic string, intake *SignalIntake, metrics domrepo.Metrics, log *applogger.Logger) *SignalsHandler {
	if log == nil {
		log = applogger.NewNop()
	}
	return &SignalsHandler{topic: topic, intake: intake, metrics: metrics, log: log, validate: validator.New()}
}

func (h *SignalsHandler) Topic() string { return h.topic }

// incoming message schema: models.SignalRequest
func (h *SignalsHandler) Handle(ctx context.Context, b []byte) error {
	var req models.SignalRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode signal: %w", err)
	}
	if err := h.validate.Struct(req); err != nil {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("invalid signal: %w", err)
	}
	res, err := h.intake.Submit(ctx, req.ToSignal())
	if err != nil {
		return err
	}
	h.log.Debug("signal consumed",
		applogger.Int64("signal_id", res.Signal.ID),
		applogger.String("symbol", res.Signal.Symbol),
		applogger.String("status", string(res.Signal.Status)),
		applogger.Bool("merged", res.Merged),
		applogger.String("trace_id", pkgkafka.TraceID(ctx)),
	)
	return nil
}

var _ pkgkafka.MessageHandler = (*SignalsHandler)(nil)
