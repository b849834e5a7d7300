package price

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/pkg/retrier"
	"go.uber.org/zap"
)

// DefaultPollInterval of the fallback snapshot source.
const DefaultPollInterval = 120 * time.Second

// Sink receives source updates. Aggregator.Submit satisfies it.
type Sink func(Update)

type marketStatServe func(symbol string, handler binance.WsMarketStatHandler, errHandler binance.ErrHandler) (doneC, stopC chan struct{}, err error)

// BinanceStream is the primary source: the Binance 24h rolling ticker stream.
type BinanceStream struct {
	pair  domain.Pair
	sink  Sink
	serve marketStatServe
	min   time.Duration
	max   time.Duration
	l     *zap.Logger
}

// NewBinanceStream creates a streaming source for pair.
func NewBinanceStream(l *zap.Logger, pair domain.Pair, sink Sink) *BinanceStream {
	return &BinanceStream{
		pair:  pair,
		sink:  sink,
		serve: binance.WsMarketStatServe,
		min:   time.Second,
		max:   time.Minute,
		l:     l,
	}
}

// Run keeps the stream connected until ctx is done.
func (b *BinanceStream) Run(ctx context.Context) error {
	bo := &backoff.Backoff{Min: b.min, Max: b.max, Factor: 2, Jitter: true}

	for {
		doneC, stopC, err := b.serve(b.pair.Symbol(), b.handle, func(err error) {
			b.l.Warn("binance price stream error", zap.Error(err))
		})
		if err == nil {
			select {
			case <-ctx.Done():
				close(stopC)
				<-doneC
				return nil
			case <-doneC:
				err = errors.New("stream closed")
			}
		}

		wait := bo.Duration()
		b.l.Warn("binance price stream disconnected",
			zap.String("pair", b.pair.String()),
			zap.Error(err),
			zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (b *BinanceStream) handle(ev *binance.WsMarketStatEvent) {
	u, err := convertMarketStat(ev)
	if err != nil {
		b.l.Debug("skipping binance ticker", zap.Error(err))
		return
	}
	b.sink(u)
}

func convertMarketStat(ev *binance.WsMarketStatEvent) (Update, error) {
	price, err := decimal.NewFromString(ev.LastPrice)
	if err != nil {
		return Update{}, errors.Wrapf(err, "failed to parse last price: %s", ev.LastPrice)
	}
	return Update{
		Source:    "binance",
		Timestamp: time.UnixMilli(ev.Time),
		Price:     decimal.NewNullDecimal(price),
		Change24h: optional(ev.PriceChangePercent),
		High24h:   optional(ev.HighPrice),
		Low24h:    optional(ev.LowPrice),
		Volume24h: optional(ev.QuoteVolume),
	}, nil
}

func optional(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// SnapshotFetcher reads one full market snapshot.
type SnapshotFetcher interface {
	Fetch(ctx context.Context) (Update, error)
}

// Poller is the fallback source: it asks a SnapshotFetcher at a fixed interval,
// first right away.
type Poller struct {
	fetcher  SnapshotFetcher
	interval time.Duration
	sink     Sink
	l        *zap.Logger
}

// NewPoller creates a poller.
func NewPoller(l *zap.Logger, fetcher SnapshotFetcher, interval time.Duration, sink Sink) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{fetcher: fetcher, interval: interval, sink: sink, l: l}
}

// Run polls until ctx is done. Failed polls are logged and skipped.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	u, err := p.fetcher.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.l.Warn("price snapshot fetch failed", zap.Error(err))
		}
		return
	}
	p.sink(u)
}

// HTTPSnapshotFetcher reads {price, change24h, marketCap, volume24h, high24h,
// low24h, timestamp} from a JSON endpoint.
type HTTPSnapshotFetcher struct {
	url     string
	client  *http.Client
	retrier *retrier.Retrier
	now     func() time.Time
}

// NewHTTPSnapshotFetcher creates a fetcher for url.
func NewHTTPSnapshotFetcher(url string, timeout time.Duration) *HTTPSnapshotFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSnapshotFetcher{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		retrier: retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(500*time.Millisecond)),
		now:     time.Now,
	}
}

type snapshotResponse struct {
	Price     decimal.NullDecimal `json:"price"`
	Change24h decimal.NullDecimal `json:"change24h"`
	MarketCap decimal.NullDecimal `json:"marketCap"`
	Volume24h decimal.NullDecimal `json:"volume24h"`
	High24h   decimal.NullDecimal `json:"high24h"`
	Low24h    decimal.NullDecimal `json:"low24h"`
	Timestamp int64               `json:"timestamp"`
}

// Fetch implements SnapshotFetcher.
func (f *HTTPSnapshotFetcher) Fetch(ctx context.Context) (Update, error) {
	body, err := retrier.DoWithData(f.retrier, ctx, f.get)
	if err != nil {
		return Update{}, errors.Wrap(err, "fetch price snapshot")
	}

	ts := f.now()
	if body.Timestamp > 0 {
		ts = time.UnixMilli(body.Timestamp)
	}
	return Update{
		Source:    "snapshot",
		Timestamp: ts,
		Price:     body.Price,
		Change24h: body.Change24h,
		High24h:   body.High24h,
		Low24h:    body.Low24h,
		MarketCap: body.MarketCap,
		Volume24h: body.Volume24h,
	}, nil
}

func (f *HTTPSnapshotFetcher) get(ctx context.Context) (snapshotResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return snapshotResponse{}, retrier.Permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return snapshotResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return snapshotResponse{}, retrier.Permanent(err)
		}
		return snapshotResponse{}, err
	}

	var body snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return snapshotResponse{}, retrier.Permanent(errors.Wrap(err, "decode snapshot"))
	}
	if !body.Price.Valid {
		return snapshotResponse{}, retrier.Permanent(errors.New("snapshot without price"))
	}
	return body, nil
}

// BybitSnapshotFetcher reads the spot ticker from Bybit.
type BybitSnapshotFetcher struct {
	client *bybit.Client
	pair   domain.Pair
}

// NewBybitSnapshotFetcher creates a fetcher for pair.
func NewBybitSnapshotFetcher(client *bybit.Client, pair domain.Pair) *BybitSnapshotFetcher {
	return &BybitSnapshotFetcher{client: client, pair: pair}
}

// Fetch implements SnapshotFetcher.
func (f *BybitSnapshotFetcher) Fetch(ctx context.Context) (Update, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, err
	}
	symbol := bybit.SymbolV5(f.pair.Symbol())

	result, err := f.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return Update{}, errors.Wrapf(err, "failed to get tickers from Bybit for %s", f.pair.String())
	}
	if result == nil || result.Result.Spot == nil || len(result.Result.Spot.List) == 0 {
		return Update{}, errors.Errorf("bybit API returned empty tickers for %s", f.pair.String())
	}

	item := result.Result.Spot.List[0]
	price, err := decimal.NewFromString(item.LastPrice)
	if err != nil {
		return Update{}, errors.Wrapf(err, "failed to parse last price: %s", item.LastPrice)
	}

	u := Update{
		Source:    "bybit",
		Timestamp: time.Now(),
		Price:     decimal.NewNullDecimal(price),
		High24h:   optional(item.HighPrice24H),
		Low24h:    optional(item.LowPrice24H),
		Volume24h: optional(item.Turnover24H),
	}
	// bybit reports the change as a fraction
	if pct := optional(item.Price24HPcnt); pct.Valid {
		u.Change24h = decimal.NewNullDecimal(pct.Decimal.Mul(decimal.NewFromInt(100)))
	}
	return u, nil
}
