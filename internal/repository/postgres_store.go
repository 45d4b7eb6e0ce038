package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	applogger "Genesis/pkg/logger"
)

// PostgresSchema is applied by Client.Migrate at startup.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS signals (
		id          BIGSERIAL PRIMARY KEY,
		symbol      TEXT NOT NULL,
		action      TEXT NOT NULL,
		entry       DOUBLE PRECISION,
		stop_loss   DOUBLE PRECISION,
		take_profit DOUBLE PRECISION,
		confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
		status      TEXT NOT NULL,
		context     JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS signals_symbol_action_status_idx ON signals (symbol, action, status)`,
	`CREATE INDEX IF NOT EXISTS signals_created_at_idx ON signals (created_at)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id          BIGSERIAL PRIMARY KEY,
		signal_id   BIGINT REFERENCES signals(id),
		ticket      TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		lots        DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price  DOUBLE PRECISION,
		stop_loss   DOUBLE PRECISION,
		take_profit DOUBLE PRECISION,
		pnl         DOUBLE PRECISION,
		status      TEXT NOT NULL,
		opened_at   TIMESTAMPTZ NOT NULL,
		closed_at   TIMESTAMPTZ,
		context     JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS trades_open_ticket_uidx ON trades (ticket) WHERE status = 'OPEN'`,
	`CREATE INDEX IF NOT EXISTS trades_symbol_side_closed_idx ON trades (symbol, side, closed_at)`,
}

const signalColumns = `id, symbol, action, entry, stop_loss, take_profit, confidence, status, context, created_at, updated_at`

const tradeColumns = `id, signal_id, ticket, symbol, side, lots, entry_price, exit_price, stop_loss, take_profit, pnl, status, opened_at, closed_at, context`

// PGSignalStore persists signals in PostgreSQL.
type PGSignalStore struct {
	pool *pgxpool.Pool
	l    *applogger.Logger
}

func NewPGSignalStore(pool *pgxpool.Pool, l *applogger.Logger) *PGSignalStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &PGSignalStore{pool: pool, l: l}
}

func encodeContext(ctx map[string]any) ([]byte, error) {
	if ctx == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(ctx)
}

func decodeContext(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *PGSignalStore) Create(ctx context.Context, sig *models.Signal) error {
	raw, err := encodeContext(sig.Context)
	if err != nil {
		return fmt.Errorf("encode signal context: %w", err)
	}
	now := time.Now().UTC()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	sig.UpdatedAt = now
	if sig.Status == "" {
		sig.Status = models.StatusPending
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO signals (symbol, action, entry, stop_loss, take_profit, confidence, status, context, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		sig.Symbol, string(sig.Action), sig.Entry, sig.StopLoss, sig.TakeProfit, sig.Confidence,
		string(sig.Status), raw, sig.CreatedAt, sig.UpdatedAt,
	).Scan(&sig.ID)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (s *PGSignalStore) Update(ctx context.Context, sig *models.Signal) error {
	raw, err := encodeContext(sig.Context)
	if err != nil {
		return fmt.Errorf("encode signal context: %w", err)
	}
	sig.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET entry=$2, stop_loss=$3, take_profit=$4, confidence=$5, status=$6, context=$7, updated_at=$8
		 WHERE id=$1`,
		sig.ID, sig.Entry, sig.StopLoss, sig.TakeProfit, sig.Confidence, string(sig.Status), raw, sig.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update signal %d: %w", sig.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domrepo.ErrNotFound
	}
	return nil
}

func (s *PGSignalStore) Get(ctx context.Context, id int64) (*models.Signal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id=$1`, id)
	sig, err := scanSignal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	return sig, err
}

func (s *PGSignalStore) FindLive(ctx context.Context, symbol string, action models.Action, excludeID int64) ([]*models.Signal, error) {
	statuses := make([]string, len(models.LiveStatuses))
	for i, st := range models.LiveStatuses {
		statuses[i] = string(st)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalColumns+` FROM signals
		 WHERE symbol=$1 AND action=$2 AND status = ANY($3) AND id <> $4
		 ORDER BY created_at DESC, id DESC`,
		symbol, string(action), statuses, excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("find live signals: %w", err)
	}
	return collectSignals(rows)
}

func (s *PGSignalStore) ListSince(ctx context.Context, since time.Time) ([]*models.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE created_at >= $1 ORDER BY created_at`, since)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	return collectSignals(rows)
}

func collectSignals(rows pgx.Rows) ([]*models.Signal, error) {
	defer rows.Close()
	var out []*models.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func scanSignal(row pgx.Row) (*models.Signal, error) {
	var (
		sig            models.Signal
		action, status string
		raw            []byte
	)
	if err := row.Scan(&sig.ID, &sig.Symbol, &action, &sig.Entry, &sig.StopLoss, &sig.TakeProfit,
		&sig.Confidence, &status, &raw, &sig.CreatedAt, &sig.UpdatedAt); err != nil {
		return nil, err
	}
	sig.Action = models.Action(action)
	sig.Status = models.SignalStatus(status)
	ctx, err := decodeContext(raw)
	if err != nil {
		return nil, fmt.Errorf("decode signal %d context: %w", sig.ID, err)
	}
	sig.Context = ctx
	return &sig, nil
}

// PGTradeStore persists trades in PostgreSQL.
type PGTradeStore struct {
	pool *pgxpool.Pool
	l    *applogger.Logger
}

func NewPGTradeStore(pool *pgxpool.Pool, l *applogger.Logger) *PGTradeStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &PGTradeStore{pool: pool, l: l}
}

// Upsert relies on the partial unique index over OPEN tickets.
func (s *PGTradeStore) Upsert(ctx context.Context, t *models.Trade) error {
	raw, err := encodeContext(t.Context)
	if err != nil {
		return fmt.Errorf("encode trade context: %w", err)
	}
	if t.Status == "" {
		t.Status = models.TradeOpen
	}
	if t.OpenedAt.IsZero() {
		t.OpenedAt = time.Now().UTC()
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO trades (signal_id, ticket, symbol, side, lots, entry_price, exit_price, stop_loss, take_profit, pnl, status, opened_at, closed_at, context)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (ticket) WHERE status = 'OPEN' DO UPDATE SET
		   lots=EXCLUDED.lots, stop_loss=EXCLUDED.stop_loss, take_profit=EXCLUDED.take_profit,
		   exit_price=EXCLUDED.exit_price, pnl=EXCLUDED.pnl, status=EXCLUDED.status,
		   closed_at=EXCLUDED.closed_at, context=trades.context || EXCLUDED.context
		 RETURNING id`,
		t.SignalID, t.Ticket, t.Symbol, string(t.Side), t.Lots, t.EntryPrice, t.ExitPrice, t.StopLoss,
		t.TakeProfit, t.PnL, string(t.Status), t.OpenedAt, t.ClosedAt, raw,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("upsert trade %s: %w", t.Ticket, err)
	}
	return nil
}

func (s *PGTradeStore) Update(ctx context.Context, t *models.Trade) error {
	raw, err := encodeContext(t.Context)
	if err != nil {
		return fmt.Errorf("encode trade context: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades SET lots=$2, exit_price=$3, stop_loss=$4, take_profit=$5, pnl=$6, status=$7, closed_at=$8, context=$9
		 WHERE id=$1`,
		t.ID, t.Lots, t.ExitPrice, t.StopLoss, t.TakeProfit, t.PnL, string(t.Status), t.ClosedAt, raw,
	)
	if err != nil {
		return fmt.Errorf("update trade %d: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domrepo.ErrNotFound
	}
	return nil
}

func (s *PGTradeStore) ListOpen(ctx context.Context) ([]*models.Trade, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tradeColumns+` FROM trades WHERE status = 'OPEN' ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	return collectTrades(rows)
}

func (s *PGTradeStore) ListClosed(ctx context.Context, symbol string, side models.TradeSide, since time.Time) ([]*models.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE status = 'CLOSED' AND symbol=$1 AND side=$2 AND closed_at >= $3
		 ORDER BY closed_at`,
		symbol, string(side), since,
	)
	if err != nil {
		return nil, fmt.Errorf("list closed trades: %w", err)
	}
	return collectTrades(rows)
}

func (s *PGTradeStore) ListClosedSince(ctx context.Context, since time.Time) ([]*models.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = 'CLOSED' AND closed_at >= $1 ORDER BY closed_at`, since)
	if err != nil {
		return nil, fmt.Errorf("list closed trades: %w", err)
	}
	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]*models.Trade, error) {
	defer rows.Close()
	var out []*models.Trade
	for rows.Next() {
		var (
			t            models.Trade
			side, status string
			raw          []byte
		)
		if err := rows.Scan(&t.ID, &t.SignalID, &t.Ticket, &t.Symbol, &side, &t.Lots, &t.EntryPrice, &t.ExitPrice,
			&t.StopLoss, &t.TakeProfit, &t.PnL, &status, &t.OpenedAt, &t.ClosedAt, &raw); err != nil {
			return nil, err
		}
		t.Side = models.TradeSide(side)
		t.Status = models.TradeStatus(status)
		ctx, err := decodeContext(raw)
		if err != nil {
			return nil, fmt.Errorf("decode trade %d context: %w", t.ID, err)
		}
		t.Context = ctx
		out = append(out, &t)
	}
	return out, rows.Err()
}

var (
	_ domrepo.SignalStore = (*PGSignalStore)(nil)
	_ domrepo.TradeStore  = (*PGTradeStore)(nil)
)
