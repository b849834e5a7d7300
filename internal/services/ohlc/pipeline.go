package ohlc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/pkg/retrier"
	"go.uber.org/zap"
)

// Fetcher reads raw rows for a timeframe.
type Fetcher interface {
	Fetch(ctx context.Context, tf domain.Timeframe) ([]RawCandle, error)
}

// Pipeline fetches and transforms. It holds no state between loads.
type Pipeline struct {
	fetcher Fetcher
	retrier *retrier.Retrier
	l       *zap.Logger
}

// NewPipeline creates a pipeline. A nil retrier gets a short default.
func NewPipeline(l *zap.Logger, fetcher Fetcher, r *retrier.Retrier) *Pipeline {
	if r == nil {
		r = retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(500*time.Millisecond))
	}
	return &Pipeline{fetcher: fetcher, retrier: r, l: l}
}

// Load fetches tf and returns its series.
func (p *Pipeline) Load(ctx context.Context, tf domain.Timeframe) (Series, error) {
	if err := tf.Validate(); err != nil {
		return Series{}, errors.Wrapf(err, "invalid timeframe %s", tf.Label)
	}

	raw, err := retrier.DoWithData(p.retrier, ctx, func(ctx context.Context) ([]RawCandle, error) {
		return p.fetcher.Fetch(ctx, tf)
	})
	if err != nil {
		return Series{}, errors.Wrapf(err, "failed to fetch ohlc for %s", tf.Label)
	}

	p.l.Debug("ohlc loaded", zap.String("timeframe", tf.Label), zap.Int("rows", len(raw)))
	return Transform(raw), nil
}
