package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/db"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/market"
)

const banner = `
╔══════════════════════════════════════╗
║     TRAHN Grid Backtest Simulator    ║
║                                      ║
╚══════════════════════════════════════╝
`

const usage = `usage: gridsim <command> [flags]

commands:
  backtest   run one simulation over a candle file
  optimize   grid-search simulation parameters
  serve      REST API for stored runs and background optimizations
  fetch      download futures klines from Binance into a CSV file

Run "gridsim <command> -h" for the flags of each command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmds := map[string]func(*config.Config, []string) error{
		"backtest": runBacktest,
		"optimize": runOptimize,
		"serve":    runServe,
		"fetch":    runFetch,
	}
	cmd, ok := cmds[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(&logger.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON}); err != nil {
		fmt.Fprintf(os.Stderr, "log level %q: %v\n", cfg.LogLevel, err)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := cmd(cfg, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func loadCandles(path string) ([]market.Candle, error) {
	candles, err := market.LoadCSVFile(path)
	if err != nil {
		return nil, err
	}
	logger.Component("DATA").Infof("Loaded %d candles from %s (%s to %s)", len(candles), path,
		candles[0].Timestamp.Format("2006-01-02 15:04"), candles[len(candles)-1].Timestamp.Format("2006-01-02 15:04"))
	return candles, nil
}

// openDB connects and migrates when persistence is enabled. A nil pool
// means persistence is off.
func openDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if !cfg.DatabaseEnabled {
		return nil, nil
	}
	log := logger.Component("DB")
	log.Infof("Connecting to %s:%d/%s ...", cfg.DBHost, cfg.DBPort, cfg.DBName)
	pool, err := db.Connect(cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.TestConnection(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("test query: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
