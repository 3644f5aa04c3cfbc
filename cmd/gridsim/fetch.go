package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/external"
	"github.com/kjannette/trahn-gridsim/internal/market"
)

func runFetch(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	symbol := fs.String("symbol", cfg.BinanceSymbol, "futures symbol")
	interval := fs.String("interval", cfg.BinanceInterval, "kline interval (1m, 5m, 1h, ...)")
	from := fs.String("from", "", "start date, YYYY-MM-DD (required)")
	to := fs.String("to", "", "end date, exclusive, YYYY-MM-DD (default: now)")
	out := fs.String("out", cfg.DataFile, "output CSV file")
	fs.Parse(args)

	if *from == "" {
		return fmt.Errorf("-from is required")
	}
	start, err := time.Parse(time.DateOnly, *from)
	if err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	end := time.Now().UTC()
	if *to != "" {
		if end, err = time.Parse(time.DateOnly, *to); err != nil {
			return fmt.Errorf("-to: %w", err)
		}
	}

	fetcher, err := external.NewKlineFetcher(external.KlineOptions{
		Symbol:    *symbol,
		Interval:  *interval,
		RateLimit: cfg.BinanceRateLimit,
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	candles, err := fetcher.Fetch(ctx, start, end)
	if err != nil {
		return err
	}
	if err := market.Validate(candles); err != nil {
		return fmt.Errorf("fetched series: %w", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := market.WriteCSV(f, candles); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %d %s %s candles to %s\n", len(candles), *symbol, *interval, *out)
	return nil
}
