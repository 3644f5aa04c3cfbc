package external

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kjannette/trahn-gridsim/internal/httputil"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/market"
)

// klinesPageLimit is the largest page the futures klines endpoint serves.
const klinesPageLimit = 1000

// Binance error code for request-weight exhaustion; worth retrying.
const codeTooManyRequests = -1003

var ErrUnknownInterval = errors.New("unknown kline interval")

var intervals = map[string]time.Duration{
	"1m": time.Minute, "3m": 3 * time.Minute, "5m": 5 * time.Minute,
	"15m": 15 * time.Minute, "30m": 30 * time.Minute,
	"1h": time.Hour, "2h": 2 * time.Hour, "4h": 4 * time.Hour,
	"6h": 6 * time.Hour, "8h": 8 * time.Hour, "12h": 12 * time.Hour,
	"1d": 24 * time.Hour,
}

func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownInterval, interval)
	}
	return d, nil
}

type KlineOptions struct {
	Symbol    string
	Interval  string
	RateLimit float64 // requests per second
	BaseURL   string  // override for tests
}

// KlineFetcher downloads historical USDT-M futures klines. Public market
// data needs no API key.
type KlineFetcher struct {
	client   *futures.Client
	limiter  *rate.Limiter
	symbol   string
	interval string
	step     time.Duration
	retry    httputil.RetryConfig
	log      *logrus.Entry
}

func NewKlineFetcher(opts KlineOptions) (*KlineFetcher, error) {
	step, err := IntervalDuration(opts.Interval)
	if err != nil {
		return nil, err
	}
	if opts.Symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}

	client := futures.NewClient("", "")
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}

	return &KlineFetcher{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), int(opts.RateLimit)+1),
		symbol:   opts.Symbol,
		interval: opts.Interval,
		step:     step,
		retry: httputil.RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   250 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		log: logger.Component("BINANCE"),
	}, nil
}

// Fetch returns every candle opening in [start, end), oldest first.
func (f *KlineFetcher) Fetch(ctx context.Context, start, end time.Time) ([]market.Candle, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	var out []market.Candle
	cursor := start.UnixMilli()
	endMs := end.UnixMilli() - 1

	for cursor <= endMs {
		page, err := f.page(ctx, cursor, endMs)
		if err != nil {
			return nil, fmt.Errorf("klines %s %s from %s: %w", f.symbol, f.interval,
				time.UnixMilli(cursor).UTC().Format(time.RFC3339), err)
		}
		if len(page) == 0 {
			break
		}

		for _, k := range page {
			c, err := toCandle(k)
			if err != nil {
				return nil, err
			}
			if n := len(out); n > 0 && !c.Timestamp.After(out[n-1].Timestamp) {
				continue
			}
			out = append(out, c)
		}

		cursor = page[len(page)-1].OpenTime + f.step.Milliseconds()
		f.log.Debugf("Fetched %d klines, %d total", len(page), len(out))
		if len(page) < klinesPageLimit {
			break
		}
	}

	f.log.Infof("Fetched %d %s %s candles", len(out), f.symbol, f.interval)
	return out, nil
}

// page fetches one page with rate limiting and exponential backoff. API
// errors other than rate limiting are returned at once.
func (f *KlineFetcher) page(ctx context.Context, startMs, endMs int64) ([]*futures.Kline, error) {
	delay := f.retry.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= f.retry.MaxAttempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		klines, err := f.client.NewKlinesService().
			Symbol(f.symbol).
			Interval(f.interval).
			StartTime(startMs).
			EndTime(endMs).
			Limit(klinesPageLimit).
			Do(ctx)
		if err == nil {
			return klines, nil
		}
		lastErr = err

		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code != codeTooManyRequests {
			return nil, err
		}
		if attempt == f.retry.MaxAttempts {
			break
		}

		f.log.Warnf("Attempt %d/%d failed: %v; retrying in %s", attempt, f.retry.MaxAttempts, err, delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.retry.MaxDelay {
			delay = f.retry.MaxDelay
		}
	}
	return nil, fmt.Errorf("all %d attempts failed, last error: %w", f.retry.MaxAttempts, lastErr)
}

func toCandle(k *futures.Kline) (market.Candle, error) {
	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("kline %d: parse %q: %w", k.OpenTime, s, err)
		}
		vals[i] = v
	}
	return market.Candle{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
