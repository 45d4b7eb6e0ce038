package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"Genesis/internal/domain/models"
	domrepo "Genesis/internal/domain/repository"
	"Genesis/internal/services/scoring"
	"Genesis/internal/services/tables"
	applogger "Genesis/pkg/logger"
)

// Calibration defaults.
const (
	DefaultCalibrationDays = 30
	DefaultMinSamples      = 20
)

type replayEvaluator interface {
	EvaluateAt(ctx context.Context, symbol string, action models.Action, entry *float64, at time.Time) (float64, scoring.TechnicalDetails)
}

// CalibratorConfig controls the lookback and sample floor.
type CalibratorConfig struct {
	Days       int
	MinSamples int
}

// Calibrator picks per-symbol technical cutoffs that maximised realised PnL.
type Calibrator struct {
	signals   domrepo.SignalStore
	trades    domrepo.TradeStore
	technical replayEvaluator
	cfg       CalibratorConfig
	log       *applogger.Logger
	now       func() time.Time
}

func NewCalibrator(signals domrepo.SignalStore, trades domrepo.TradeStore, technical replayEvaluator,
	cfg CalibratorConfig, log *applogger.Logger) *Calibrator {
	if cfg.Days <= 0 {
		cfg.Days = DefaultCalibrationDays
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if log == nil {
		log = applogger.NewNop()
	}
	return &Calibrator{signals: signals, trades: trades, technical: technical, cfg: cfg, log: log, now: time.Now}
}

type calibrationSample struct {
	score float64
	pnl   decimal.Decimal
}

// Run builds a threshold table from the signals of the lookback window joined to their trade PnL.
func (c *Calibrator) Run(ctx context.Context) (tables.ThresholdTable, error) {
	now := c.now().UTC()
	since := now.AddDate(0, 0, -c.cfg.Days)

	sigs, err := c.signals.ListSince(ctx, since)
	if err != nil {
		return tables.ThresholdTable{}, fmt.Errorf("list signals: %w", err)
	}
	closed, err := c.trades.ListClosedSince(ctx, since)
	if err != nil {
		return tables.ThresholdTable{}, fmt.Errorf("list closed trades: %w", err)
	}

	pnlBySignal := make(map[int64]decimal.Decimal)
	for _, t := range closed {
		if t.SignalID == nil || t.PnL == nil {
			continue
		}
		pnlBySignal[*t.SignalID] = pnlBySignal[*t.SignalID].Add(decimal.NewFromFloat(*t.PnL))
	}

	samples := make(map[string][]calibrationSample)
	for _, s := range sigs {
		pnl, ok := pnlBySignal[s.ID]
		if !ok {
			continue
		}
		score, _ := c.technical.EvaluateAt(ctx, s.Symbol, s.Action, s.Entry, s.CreatedAt)
		samples[s.Symbol] = append(samples[s.Symbol], calibrationSample{score: score, pnl: pnl})
	}

	table := tables.ThresholdTable{
		Version:     now.Format("2006-01-02"),
		GeneratedAt: now.Format(time.RFC3339),
		Default:     tables.DefaultMinTechnical,
		Overrides:   map[string]float64{},
	}
	for symbol, ss := range samples {
		cutoff, mean, ok := bestCutoff(ss, c.cfg.MinSamples)
		if !ok {
			c.log.Debug("no qualifying cutoff",
				applogger.String("symbol", symbol), applogger.Int("samples", len(ss)))
			continue
		}
		table.Overrides[symbol] = cutoff
		c.log.Info("cutoff calibrated",
			applogger.String("symbol", symbol),
			applogger.Float64("cutoff", cutoff),
			applogger.String("mean_pnl", mean.StringFixed(4)),
			applogger.Int("samples", len(ss)),
		)
	}
	return table, nil
}

// bestCutoff scans distinct scores from highest to lowest and keeps the cutoff
// with the best mean PnL among samples at or above it. Ties keep the higher cutoff.
func bestCutoff(ss []calibrationSample, minSamples int) (float64, decimal.Decimal, bool) {
	sorted := append([]calibrationSample(nil), ss...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	var (
		best     float64
		bestMean decimal.Decimal
		found    bool
		sum      = decimal.Zero
	)
	for i := 0; i < len(sorted); {
		cut := sorted[i].score
		for i < len(sorted) && sorted[i].score == cut {
			sum = sum.Add(sorted[i].pnl)
			i++
		}
		if i < minSamples {
			continue
		}
		mean := sum.Div(decimal.NewFromInt(int64(i)))
		if !found || mean.GreaterThan(bestMean) {
			best, bestMean, found = cut, mean, true
		}
	}
	return best, bestMean, found
}

// WriteThresholds writes t to path through a temp file and rename.
func WriteThresholds(path string, t tables.ThresholdTable) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode thresholds: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".thresholds-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write thresholds: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync thresholds: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close thresholds: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename thresholds: %w", err)
	}
	return nil
}
