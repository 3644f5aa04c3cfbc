package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/kjannette/trahn-gridsim/internal/api"
	"github.com/kjannette/trahn-gridsim/internal/backtest"
	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/notifications"
	"github.com/kjannette/trahn-gridsim/internal/observability"
	"github.com/kjannette/trahn-gridsim/internal/optimizer"
	"github.com/kjannette/trahn-gridsim/internal/repository"
)

func runServe(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dataFile := fs.String("data", cfg.DataFile, "candle CSV file optimizations run against")
	simFile := fs.String("config", cfg.SimConfigFile, "base simulation config JSON")
	port := fs.Int("port", cfg.APIPort, "listen port")
	fs.Parse(args)

	cfg.Print()
	log := logger.Component("SERVE")

	scorer, err := optimizer.ScorerByName(cfg.OptimizerScore)
	if err != nil {
		return err
	}
	base, err := config.LoadSimulation(*simFile)
	if err != nil {
		return err
	}
	candles, err := loadCandles(*dataFile)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName)

	deps := api.Deps{Candles: candles, Metrics: metrics}
	var sink optimizer.Sink

	pool, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer func() {
			pool.Close()
			log.Info("Connection pool closed")
		}()
		opts := repository.NewOptimizationRepo(pool)
		deps.DB = pool
		deps.Runs = repository.NewRunRepo(pool)
		deps.Trades = repository.NewTradeRepo(pool)
		deps.Equity = repository.NewEquityRepo(pool)
		deps.Optimizations = opts
		sink = opts
	} else {
		log.Warn("Persistence disabled - results live in memory until shutdown")
	}

	svc := optimizer.NewService(func() *optimizer.Optimizer {
		return optimizer.New(base,
			optimizer.WithWorkers(cfg.OptimizerWorkers),
			optimizer.WithScorer(scorer),
			optimizer.WithProgressEvery(cfg.OptimizerProgressEvery),
			optimizer.WithObserver(metrics),
			optimizer.WithEngineOptions(backtest.WithLogger(logger.Discard())),
		)
	}, sink, notify)
	deps.Jobs = svc

	srv := api.NewServer(deps, *port, cfg.APIKey, cfg.CORSAllowOrigin)
	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	log.Info("All services started successfully")

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	log.Info("Shutting down gracefully...")

	svc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Shutdown error: %v", err)
	}
	log.Info("Shutdown complete")
	return nil
}
