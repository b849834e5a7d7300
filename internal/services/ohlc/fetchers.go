package ohlc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/pkg/retrier"
)

// HTTPFetcher reads GET {base}/ohlc?days={n} returning raw rows.
type HTTPFetcher struct {
	base   string
	client *http.Client
}

// NewHTTPFetcher creates a fetcher against base.
func NewHTTPFetcher(base string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{base: base, client: &http.Client{Timeout: timeout}}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, tf domain.Timeframe) ([]RawCandle, error) {
	q := url.Values{}
	q.Set("days", strconv.Itoa(tf.RangeDays()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+"/ohlc?"+q.Encode(), nil)
	if err != nil {
		return nil, retrier.Permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retrier.Permanent(err)
		}
		return nil, err
	}

	var rows []RawCandle
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, retrier.Permanent(errors.Wrap(err, "decode ohlc rows"))
	}
	return rows, nil
}

// BinanceFetcher reads klines from Binance.
type BinanceFetcher struct {
	client *binance.Client
	pair   domain.Pair
}

// NewBinanceFetcher creates a fetcher for pair.
func NewBinanceFetcher(client *binance.Client, pair domain.Pair) *BinanceFetcher {
	return &BinanceFetcher{client: client, pair: pair}
}

// Fetch implements Fetcher.
func (f *BinanceFetcher) Fetch(ctx context.Context, tf domain.Timeframe) ([]RawCandle, error) {
	span, err := tf.RangeDuration()
	if err != nil {
		return nil, retrier.Permanent(err)
	}
	limit, err := tf.Buckets()
	if err != nil {
		return nil, retrier.Permanent(err)
	}
	if limit > 1000 {
		limit = 1000
	}

	klines, err := f.client.NewKlinesService().
		Symbol(f.pair.Symbol()).
		Interval(tf.Interval).
		StartTime(time.Now().Add(-span).UnixMilli()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", f.pair.String())
	}

	rows := make([]RawCandle, 0, len(klines))
	for i, k := range klines {
		row, err := rawFromStrings(k.OpenTime, k.Open, k.High, k.Low, k.Close)
		if err != nil {
			return nil, retrier.Permanent(errors.Wrapf(err, "kline at index %d", i))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// BybitFetcher reads v5 spot klines from Bybit.
type BybitFetcher struct {
	client *bybit.Client
	pair   domain.Pair
}

// NewBybitFetcher creates a fetcher for pair.
func NewBybitFetcher(client *bybit.Client, pair domain.Pair) *BybitFetcher {
	return &BybitFetcher{client: client, pair: pair}
}

// Fetch implements Fetcher.
func (f *BybitFetcher) Fetch(ctx context.Context, tf domain.Timeframe) ([]RawCandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	interval, err := convertIntervalToBybit(tf.Interval)
	if err != nil {
		return nil, retrier.Permanent(errors.Wrapf(err, "invalid interval: %s", tf.Interval))
	}
	span, err := tf.RangeDuration()
	if err != nil {
		return nil, retrier.Permanent(err)
	}
	limit, err := tf.Buckets()
	if err != nil {
		return nil, retrier.Permanent(err)
	}
	if limit > 1000 {
		limit = 1000
	}
	start := time.Now().Add(-span).UnixMilli()

	result, err := f.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(f.pair.Symbol()),
		Interval: bybit.Interval(interval),
		Start:    &start,
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", f.pair.String())
	}
	if result == nil {
		return nil, errors.Errorf("empty result from Bybit API for %s", f.pair.String())
	}

	rows := make([]RawCandle, 0, len(result.Result.List))
	for i, k := range result.Result.List {
		ts, err := strconv.ParseInt(k.StartTime, 10, 64)
		if err != nil {
			return nil, retrier.Permanent(errors.Wrapf(err, "failed to parse start time at index %d", i))
		}
		row, err := rawFromStrings(ts, k.Open, k.High, k.Low, k.Close)
		if err != nil {
			return nil, retrier.Permanent(errors.Wrapf(err, "kline at index %d", i))
		}
		rows = append(rows, row)
	}
	// bybit lists newest first, Transform orders them
	return rows, nil
}

func rawFromStrings(ts int64, open, high, low, closeP string) (RawCandle, error) {
	r := RawCandle{Time: ts}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&r.Open, open}, {&r.High, high}, {&r.Low, low}, {&r.Close, closeP}} {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return RawCandle{}, errors.Wrapf(err, "failed to parse price: %s", f.src)
		}
		*f.dst = v
	}
	return r, nil
}

// convertIntervalToBybit converts "30m", "4h", "1d", "1w" into Bybit's
// "30", "240", "D", "W".
func convertIntervalToBybit(interval string) (string, error) {
	if len(interval) < 2 {
		return "", fmt.Errorf("invalid interval format: %s", interval)
	}

	unit := interval[len(interval)-1]
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid interval number: %s", interval)
	}

	switch unit {
	case 'm':
		return strconv.FormatInt(n, 10), nil
	case 'h':
		return strconv.FormatInt(n*60, 10), nil
	case 'd':
		return "D", nil
	case 'w':
		return "W", nil
	default:
		return "", fmt.Errorf("unsupported interval unit: %c", unit)
	}
}
