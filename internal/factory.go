package internal

import (
	"context"
	"time"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marketpulse/config"
	"github.com/vadiminshakov/marketpulse/internal/clients"
	"github.com/vadiminshakov/marketpulse/internal/services/geo"
	"github.com/vadiminshakov/marketpulse/internal/services/markets"
	"github.com/vadiminshakov/marketpulse/internal/services/ohlc"
	"github.com/vadiminshakov/marketpulse/internal/services/price"
	"github.com/vadiminshakov/marketpulse/internal/services/stream"
	"github.com/vadiminshakov/marketpulse/internal/services/stream/kafkafeed"
	"github.com/vadiminshakov/marketpulse/internal/services/stream/wsfeed"
)

const httpTimeout = 10 * time.Second

// exchangeClients are shared by every source reading from an exchange.
type exchangeClients struct {
	binance *binance.Client
	bybit   *bybit.Client
}

// newOHLCFetcher is the single point of dispatch for historical candle sources.
func newOHLCFetcher(conf config.Config, c exchangeClients) (ohlc.Fetcher, error) {
	switch conf.OHLCSource {
	case config.SourceBinance:
		return ohlc.NewBinanceFetcher(c.binance, conf.Pair), nil
	case config.SourceBybit:
		return ohlc.NewBybitFetcher(c.bybit, conf.Pair), nil
	case config.SourceHTTP:
		return ohlc.NewHTTPFetcher(conf.OHLCURL, httpTimeout), nil
	default:
		return nil, errors.Errorf("unsupported ohlc source: %s", conf.OHLCSource)
	}
}

// newSnapshotFetcher picks the polling price source.
func newSnapshotFetcher(conf config.Config, c exchangeClients) (price.SnapshotFetcher, error) {
	switch conf.PollSource {
	case config.SourceHTTP:
		return price.NewHTTPSnapshotFetcher(conf.SnapshotURL, httpTimeout), nil
	case config.SourceBybit:
		return price.NewBybitSnapshotFetcher(c.bybit, conf.Pair), nil
	default:
		return nil, errors.Errorf("unsupported poll source: %s", conf.PollSource)
	}
}

// newFeedSource returns nil when no transaction feed is configured.
func newFeedSource(logger *zap.Logger, conf config.Config) (stream.Source, error) {
	switch conf.FeedKind {
	case config.FeedWebSocket:
		var subscribe []byte
		if conf.FeedSubscribe != "" {
			subscribe = []byte(conf.FeedSubscribe)
		}
		return wsfeed.New(logger, wsfeed.Config{URL: conf.FeedURL, Subscribe: subscribe}), nil
	case config.FeedKafka:
		return kafkafeed.New(logger, kafkafeed.Config{
			Brokers:       conf.KafkaBrokers,
			Topic:         conf.KafkaTopic,
			ConsumerGroup: conf.KafkaGroup,
		}), nil
	case config.FeedNone:
		return nil, nil
	default:
		return nil, errors.Errorf("unsupported feed: %s", conf.FeedKind)
	}
}

// newGeoResolver builds the resolver chain. The returned closer releases the
// cache connection and is never nil.
func newGeoResolver(logger *zap.Logger, conf config.Config) (geo.Resolver, func() error) {
	var resolver geo.Resolver = geo.NewTable(nil, geo.DefaultHubs())
	if conf.GeoEndpoint != "" {
		resolver = geo.NewHTTPResolver(conf.GeoEndpoint, httpTimeout)
	}
	if conf.RedisAddr == "" {
		return resolver, func() error { return nil }
	}
	cache := geo.NewRedisCache(conf.RedisAddr, conf.RedisPassword, conf.RedisDB, conf.GeoCacheTTL)
	return geo.NewCached(logger, resolver, cache), cache.Close
}

// newMarketProviders returns one provider per configured exchange.
func newMarketProviders(ctx context.Context, conf config.Config, c exchangeClients) ([]markets.Provider, error) {
	providers := make([]markets.Provider, 0, len(conf.Exchanges))
	for _, name := range conf.Exchanges {
		switch name {
		case "binance":
			providers = append(providers, markets.NewBinanceProvider(c.binance))
		case "bybit":
			providers = append(providers, markets.NewBybitProvider(c.bybit))
		case "hyperliquid":
			hl, err := clients.NewHyperliquidClient(ctx, conf.HyperliquidKey, conf.HyperliquidURL)
			if err != nil {
				return nil, errors.Wrap(err, "failed to create hyperliquid client")
			}
			providers = append(providers, markets.NewHyperliquidProvider(hl.Info()))
		default:
			return nil, errors.Errorf("unsupported exchange: %s", name)
		}
	}
	return providers, nil
}
