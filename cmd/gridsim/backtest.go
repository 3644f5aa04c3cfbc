package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/kjannette/trahn-gridsim/internal/backtest"
	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/notifications"
	"github.com/kjannette/trahn-gridsim/internal/observability"
	"github.com/kjannette/trahn-gridsim/internal/repository"
)

func runBacktest(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	dataFile := fs.String("data", cfg.DataFile, "candle CSV file")
	simFile := fs.String("config", cfg.SimConfigFile, "simulation config JSON (defaults when empty)")
	reportOut := fs.String("report-out", "", "write the full result as JSON to this file")
	noSave := fs.Bool("no-save", false, "skip persisting the run even when the database is enabled")
	metricsOut := fs.String("metrics-out", "", "write run metrics in Prometheus textfile format to this file")
	fs.Parse(args)

	cfg.Print()

	sim, err := config.LoadSimulation(*simFile)
	if err != nil {
		return err
	}
	candles, err := loadCandles(*dataFile)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	notifier := notifications.NewRunNotifier(
		notifications.NewSender(cfg.WebhookURL, cfg.BotName),
		"backtest", cfg.NotifySnapshotEvery, notifications.DefaultQueueSize)
	defer notifier.Close()
	opts := []backtest.Option{
		backtest.WithLogger(logger.Component("BACKTEST")),
		backtest.WithSubscriber(notifier),
	}
	var metrics *observability.Metrics
	if *metricsOut != "" {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
		opts = append(opts, backtest.WithSubscriber(metrics))
	}

	res, err := backtest.Simulate(ctx, sim, candles, opts...)
	if err != nil {
		return err
	}

	printReport(res.Report)

	if metrics != nil {
		if err := metrics.WriteTextfile(*metricsOut); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		fmt.Printf("Metrics written to %s\n", *metricsOut)
	}

	if *reportOut != "" {
		if err := writeJSON(*reportOut, res); err != nil {
			return err
		}
		fmt.Printf("Result written to %s\n", *reportOut)
	}

	if *noSave {
		return nil
	}
	pool, err := openDB(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return err
	}
	if pool == nil {
		return nil
	}
	defer pool.Close()

	id, err := repository.NewRunRepo(pool).Save(context.WithoutCancel(ctx), res, *dataFile, nil)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	fmt.Printf("Run saved as %s\n", id)
	return nil
}

func printReport(r backtest.Report) {
	fmt.Println("\n=== Backtest Report ===")
	if r.Interrupted {
		fmt.Println("(interrupted: partial results)")
	}
	fmt.Printf("Candles:           %d\n", r.Candles)
	fmt.Printf("Initial balance:   $%s\n", r.InitialBalance.StringFixed(2))
	fmt.Printf("Final balance:     $%s\n", r.FinalBalance.StringFixed(2))
	fmt.Printf("Total return:      %+.2f%%\n", r.TotalReturn*100)
	fmt.Printf("Annualized return: %+.2f%%\n", r.AnnualizedReturn*100)
	fmt.Printf("Max drawdown:      %.2f%%\n", r.MaxDrawdown*100)
	fmt.Printf("Sharpe ratio:      %.2f\n", r.SharpeRatio)
	fmt.Printf("Win rate:          %.1f%% (%d/%d)\n", r.WinRate*100, r.WinTrades, r.ClosedPositions)
	fmt.Printf("Profit factor:     %.2f\n", r.ProfitFactor)
	fmt.Println("--------------------------------------")
	fmt.Printf("Trades:            %d\n", r.TotalTrades)
	fmt.Printf("Take profits:      %d\n", r.TakeProfitCount)
	fmt.Printf("Stop losses:       %d\n", r.StopLossCount)
	fmt.Printf("Grid exits:        %d\n", r.GridExitCount)
	fmt.Printf("Liquidations:      %d\n", r.LiquidatedCount)
	fmt.Printf("Regrids:           %d\n", r.RegridCount)
	fmt.Printf("Failed fills:      %d, rejected: %d\n", r.FailedFills, r.RejectedFills)
	fmt.Printf("Fees:              $%s (trading $%s, funding $%s)\n",
		r.FeesPaid.StringFixed(2), r.TradingFees.StringFixed(2), r.FundingFees.StringFixed(2))
	fmt.Println("======================================")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
