package repository

import (
	"context"
	"errors"
	"time"

	"Genesis/internal/domain/models"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// CandleQuery selects the most recent Count candles at or before Until.
// A zero Until means now.
type CandleQuery struct {
	Symbol    string
	Timeframe Timeframe
	Count     int
	Until     time.Time
}

// MarketData provides OHLCV candles, ascending by time.
type MarketData interface {
	FetchCandles(ctx context.Context, q CandleQuery) ([]models.Candle, error)
}

type SignalStore interface {
	Create(ctx context.Context, s *models.Signal) error
	Update(ctx context.Context, s *models.Signal) error
	Get(ctx context.Context, id int64) (*models.Signal, error)
	// FindLive returns signals with the same symbol and action in a live status, excluding excludeID.
	FindLive(ctx context.Context, symbol string, action models.Action, excludeID int64) ([]*models.Signal, error)
	ListSince(ctx context.Context, since time.Time) ([]*models.Signal, error)
}

type TradeStore interface {
	// Upsert inserts a trade or updates the OPEN record with the same ticket.
	Upsert(ctx context.Context, t *models.Trade) error
	Update(ctx context.Context, t *models.Trade) error
	ListOpen(ctx context.Context) ([]*models.Trade, error)
	ListClosed(ctx context.Context, symbol string, side models.TradeSide, since time.Time) ([]*models.Trade, error)
	ListClosedSince(ctx context.Context, since time.Time) ([]*models.Trade, error)
}

// Broker receives position management requests. Delivery is asynchronous:
// a nil error means the request was accepted by the transport.
type Broker interface {
	ClosePosition(ctx context.Context, ticket, reason string) error
	ModifyPosition(ctx context.Context, ticket string, sl, tp *float64) error
	Close() error
}

// QuoteStream delivers live prices from a streaming provider.
type QuoteStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan models.Quote, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Metrics interface {
	RecordDecision(symbol, reason string)
	RecordExit(symbol, reason string)
	RecordRatchet(symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordEquity(value float64)
	RecordLatency(op string, seconds float64)
}
