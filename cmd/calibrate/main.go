package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"Genesis/internal/di"
	"Genesis/internal/usecase"
	"Genesis/pkg/config"
	applogger "Genesis/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the calibrate command tree
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "calibrate",
		Short: "Threshold calibration for the technical gate",
		Long: `Replays recent signals against their closed trades and picks, per symbol,
the technical cutoff that maximised mean realised PnL.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "config/config.yaml", "Configuration file path")
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute thresholds and write them to the thresholds file",
		Example: `  calibrate run --days 30 --min-samples 20
  calibrate run --out /tmp/thresholds.json --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadWithEnv(path)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			if cmd.Flags().Changed("days") {
				cfg.Calibrator.Days, _ = cmd.Flags().GetInt("days")
			}
			if cmd.Flags().Changed("min-samples") {
				cfg.Calibrator.MinSamples, _ = cmd.Flags().GetInt("min-samples")
			}
			out, _ := cmd.Flags().GetString("out")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			return runCalibration(cmd.Context(), cfg, out, dryRun)
		},
	}
	cmd.Flags().Int("days", usecase.DefaultCalibrationDays, "Lookback window in days")
	cmd.Flags().Int("min-samples", usecase.DefaultMinSamples, "Minimum samples per symbol and cutoff")
	cmd.Flags().String("out", "", "Output path (defaults to calibrator.output, then tables.thresholds_path)")
	cmd.Flags().Bool("dry-run", false, "Print the table instead of writing it")
	return cmd
}

func runCalibration(ctx context.Context, cfg *config.Config, out string, dryRun bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := di.ProvideLogger(cfg)
	if err != nil {
		return err
	}
	stores, closeStores, err := di.ProvideStores(cfg, l)
	if err != nil {
		return err
	}
	defer closeStores()
	ch, closeCH, err := di.ProvideClickHouseClient(cfg)
	if err != nil {
		return err
	}
	defer closeCH()
	market, closeMarket, err := di.ProvideMarketData(cfg, l, ch, nil)
	if err != nil {
		return err
	}
	defer closeMarket()
	technical := di.ProvideTechnical(cfg, l, market, di.ProvideTables(cfg, l))

	cal := usecase.NewCalibrator(stores.Signals, stores.Trades, technical, usecase.CalibratorConfig{
		Days:       cfg.Calibrator.Days,
		MinSamples: cfg.Calibrator.MinSamples,
	}, l.With("calibrator"))
	table, err := cal.Run(ctx)
	if err != nil {
		return fmt.Errorf("calibration failed: %w", err)
	}

	if dryRun {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	}

	if out == "" {
		out = cfg.Calibrator.Output
	}
	if out == "" {
		out = cfg.Tables.ThresholdsPath
	}
	if err := usecase.WriteThresholds(out, table); err != nil {
		return err
	}
	l.Info("thresholds written", applogger.String("path", out),
		applogger.String("version", table.Version), applogger.Int("overrides", len(table.Overrides)))
	return nil
}
