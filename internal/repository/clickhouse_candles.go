package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	pkgch "Genesis/pkg/clickhouse"
	applogger "Genesis/pkg/logger"
)

// CandleSchema creates the per-timeframe candle tables.
func CandleSchema(database string) []string {
	stmts := []string{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database)}
	for _, tf := range []domrepo.Timeframe{domrepo.TFM1, domrepo.TFM5, domrepo.TFM15, domrepo.TFM30, domrepo.TFH1, domrepo.TFH4, domrepo.TFD} {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			bucket DateTime64(3, 'UTC'),
			symbol LowCardinality(String),
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			vol Float64
		) ENGINE = ReplacingMergeTree
		ORDER BY (symbol, bucket)`, tableForTF(database, tf)))
	}
	return stmts
}

// CHCandleStore implements MarketData backed by ClickHouse candle tables.
type CHCandleStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHCandleStore(ch *pkgch.Client, database string, l *applogger.Logger) *CHCandleStore {
	if database == "" {
		database = "genesis"
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHCandleStore{db: ch.DB(), database: database, l: l}
}

// FetchCandles returns the latest q.Count candles at or before q.Until, ascending.
func (s *CHCandleStore) FetchCandles(ctx context.Context, q domrepo.CandleQuery) ([]models.Candle, error) {
	start := time.Now()
	table := tableForTF(s.database, q.Timeframe)
	until := q.Until
	if until.IsZero() {
		until = time.Now().UTC()
	}
	n := q.Count
	if n <= 0 {
		n = 100
	}
	const qtpl = `
        SELECT bucket, symbol, open, high, low, close, vol
        FROM %s FINAL
        WHERE symbol = ? AND bucket <= ?
        ORDER BY bucket DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, table), q.Symbol, until, n)
	if err != nil {
		s.l.Error("clickhouse fetch_candles query error",
			applogger.String("table", table),
			applogger.String("symbol", q.Symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	defer rows.Close()

	tmp := make([]models.Candle, 0, n)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		tmp = append(tmp, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	s.l.Debug("clickhouse fetch_candles ok",
		applogger.String("table", table),
		applogger.String("symbol", q.Symbol),
		applogger.Int("limit", n),
		applogger.Int("rows", len(tmp)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return tmp, nil
}

// StoreBatch inserts candles with multi-row VALUES, chunked to bound statement size.
func (s *CHCandleStore) StoreBatch(ctx context.Context, tf domrepo.Timeframe, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	table := tableForTF(s.database, tf)
	const chunkSize = 2000
	for start := 0; start < len(candles); start += chunkSize {
		end := start + chunkSize
		if end > len(candles) {
			end = len(candles)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, c := range candles[start:end] {
			if c.Symbol == "" || c.Bucket.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, c.Bucket.UTC(), c.Symbol, c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (bucket, symbol, open, high, low, close, vol) VALUES %s", table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert candles: %w", err)
		}
	}
	return nil
}

func tableForTF(database string, tf domrepo.Timeframe) string {
	return fmt.Sprintf("%s.candles_%s", database, domrepo.NormalizeTimeframe(string(tf)).TableSuffix())
}

// ArchivingMarketData copies every candle fetched from a primary source into ClickHouse.
type ArchivingMarketData struct {
	primary domrepo.MarketData
	store   *CHCandleStore
	l       *applogger.Logger
}

func NewArchivingMarketData(primary domrepo.MarketData, store *CHCandleStore, l *applogger.Logger) *ArchivingMarketData {
	if l == nil {
		l = applogger.NewNop()
	}
	return &ArchivingMarketData{primary: primary, store: store, l: l}
}

func (a *ArchivingMarketData) FetchCandles(ctx context.Context, q domrepo.CandleQuery) ([]models.Candle, error) {
	candles, err := a.primary.FetchCandles(ctx, q)
	if err != nil || len(candles) == 0 {
		return candles, err
	}
	if err := a.store.StoreBatch(ctx, q.Timeframe, candles); err != nil {
		a.l.Warn("candle archive failed", applogger.String("symbol", q.Symbol), applogger.Error(err))
	}
	return candles, nil
}

var (
	_ domrepo.MarketData = (*CHCandleStore)(nil)
	_ domrepo.MarketData = (*ArchivingMarketData)(nil)
)
