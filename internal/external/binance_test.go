package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// klineServer serves synthetic one-minute klines between startTime and
// endTime, honouring limit, like the real endpoint.
func klineServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/fapi/v1/klines" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))

		rows := [][]any{}
		step := time.Minute.Milliseconds()
		first := (start + step - 1) / step * step
		for ts := first; ts <= end && len(rows) < limit; ts += step {
			p := 100 + float64((ts-t0.UnixMilli())/step)*0.01
			o := strconv.FormatFloat(p, 'f', 2, 64)
			rows = append(rows, []any{ts, o, o, o, o, "1.5", ts + step - 1, "150", 10, "0.7", "70", "0"})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows)
	}))
}

func newTestFetcher(t *testing.T, url string) *KlineFetcher {
	t.Helper()
	f, err := NewKlineFetcher(KlineOptions{Symbol: "BTCUSDT", Interval: "1m", RateLimit: 1000, BaseURL: url})
	require.NoError(t, err)
	f.retry.BaseDelay = time.Millisecond
	f.retry.MaxDelay = 5 * time.Millisecond
	return f
}

func TestFetch_Paginates(t *testing.T) {
	var requests atomic.Int32
	srv := klineServer(t, &requests)
	defer srv.Close()

	f := newTestFetcher(t, srv.URL)
	candles, err := f.Fetch(context.Background(), t0, t0.Add(2500*time.Minute))
	require.NoError(t, err)

	require.Len(t, candles, 2500)
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, t0, candles[0].Timestamp)
	assert.Equal(t, t0.Add(2499*time.Minute), candles[2499].Timestamp)
	for i := 1; i < len(candles); i++ {
		require.Equal(t, time.Minute, candles[i].Timestamp.Sub(candles[i-1].Timestamp), "gap at %d", i)
	}
	assert.InDelta(t, 100.0, candles[0].Close, 1e-9)
	assert.InDelta(t, 1.5, candles[0].Volume, 1e-9)
}

func TestFetch_EndExclusive(t *testing.T) {
	var requests atomic.Int32
	srv := klineServer(t, &requests)
	defer srv.Close()

	candles, err := newTestFetcher(t, srv.URL).Fetch(context.Background(), t0, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Len(t, candles, 10)
	assert.Equal(t, int32(1), requests.Load())
}

func TestFetch_APIErrorNotRetried(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, srv.URL).Fetch(context.Background(), t0, t0.Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, int32(1), requests.Load())
	assert.Contains(t, err.Error(), "Invalid symbol")
}

func TestFetch_RetriesRateLimit(t *testing.T) {
	var requests, limited atomic.Int32
	inner := klineServer(t, &requests)
	defer inner.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limited.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
			return
		}
		inner.Config.Handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	candles, err := newTestFetcher(t, srv.URL).Fetch(context.Background(), t0, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, candles, 5)
	assert.Equal(t, int32(2), limited.Load())
}

func TestNewKlineFetcher_Validation(t *testing.T) {
	_, err := NewKlineFetcher(KlineOptions{Symbol: "BTCUSDT", Interval: "7m"})
	assert.True(t, errors.Is(err, ErrUnknownInterval))

	_, err = NewKlineFetcher(KlineOptions{Interval: "1m"})
	assert.Error(t, err)

	f, err := NewKlineFetcher(KlineOptions{Symbol: "BTCUSDT", Interval: "1h"})
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), t0, t0)
	assert.Error(t, err)
}
