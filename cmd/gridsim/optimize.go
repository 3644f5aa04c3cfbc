package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/notifications"
	"github.com/kjannette/trahn-gridsim/internal/observability"
	"github.com/kjannette/trahn-gridsim/internal/optimizer"
	"github.com/kjannette/trahn-gridsim/internal/repository"
)

func runOptimize(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	dataFile := fs.String("data", cfg.DataFile, "candle CSV file")
	simFile := fs.String("config", cfg.SimConfigFile, "base simulation config JSON")
	rangesFile := fs.String("ranges", cfg.RangesFile, "parameter ranges JSON (built-in ranges when empty)")
	workers := fs.Int("workers", cfg.OptimizerWorkers, "concurrent simulations")
	score := fs.String("score", cfg.OptimizerScore, fmt.Sprintf("ranking metric %v", optimizer.ScorerNames()))
	top := fs.Int("top", cfg.OptimizerTopN, "rows in the ranking table")
	bestOut := fs.String("best-out", "", "write the best simulation config as JSON to this file")
	metricsOut := fs.String("metrics-out", "", "write optimizer metrics in Prometheus textfile format to this file")
	fs.Parse(args)

	cfg.Print()

	scorer, err := optimizer.ScorerByName(*score)
	if err != nil {
		return err
	}
	base, err := config.LoadSimulation(*simFile)
	if err != nil {
		return err
	}
	ranges := config.DefaultRanges()
	if *rangesFile != "" {
		if ranges, err = config.LoadRanges(*rangesFile); err != nil {
			return err
		}
	}
	if err := ranges.Validate(base); err != nil {
		return err
	}
	candles, err := loadCandles(*dataFile)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	opts := []optimizer.Option{
		optimizer.WithWorkers(*workers),
		optimizer.WithScorer(scorer),
		optimizer.WithProgressEvery(cfg.OptimizerProgressEvery),
	}
	var metrics *observability.Metrics
	if *metricsOut != "" {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
		opts = append(opts, optimizer.WithObserver(metrics))
	}
	opt := optimizer.New(base, opts...)

	job := optimizer.Job{
		ID:        uuid.New(),
		Status:    optimizer.JobRunning,
		Ranges:    ranges,
		Runs:      ranges.Size(),
		StartedAt: time.Now().UTC(),
	}
	log := logger.Component("OPTIMIZER")
	log.Infof("Optimization %s: %d combinations of %v, %d workers, score=%s",
		job.ID, job.Runs, ranges.Names(), *workers, scorer.Name)

	outcome, err := opt.Run(ctx, candles, ranges)
	if err != nil {
		return err
	}
	finished := time.Now().UTC()
	job.FinishedAt = &finished
	job.Outcome = outcome
	job.Status = optimizer.JobDone
	if outcome.Cancelled {
		job.Status = optimizer.JobCancelled
	}

	fmt.Printf("\n=== Optimization %s (%s in %s) ===\n", job.ID, job.Status, outcome.Elapsed.Round(time.Millisecond))
	fmt.Printf("Runs: %d ok, %d failed, %d skipped\n", outcome.Summary.Count, outcome.Failed, outcome.Skipped)
	fmt.Printf("Scores: %s\n\n", outcome.Summary)
	fmt.Print(optimizer.FormatTop(outcome.Top(*top), scorer.Name))

	if metrics != nil {
		if err := metrics.WriteTextfile(*metricsOut); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		fmt.Printf("Metrics written to %s\n", *metricsOut)
	}

	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName)
	if b := outcome.Best; b != nil {
		fmt.Printf("\nBest run #%d: %s\n", b.Index, b.Report.Summary())
		notify.Send(fmt.Sprintf("optimize: %d runs, best #%d %s=%.4f | %s",
			outcome.Summary.Count, b.Index, scorer.Name, b.Score, b.Report.Summary()))
		if *bestOut != "" {
			if err := writeJSON(*bestOut, b.Config); err != nil {
				return err
			}
			fmt.Printf("Best config written to %s\n", *bestOut)
		}
	} else {
		fmt.Println("\nNo successful runs")
	}

	pool, err := openDB(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return err
	}
	if pool == nil {
		return nil
	}
	defer pool.Close()

	if err := repository.NewOptimizationRepo(pool).SaveOptimization(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("save optimization: %w", err)
	}
	fmt.Printf("Optimization saved as %s\n", job.ID)
	return nil
}
