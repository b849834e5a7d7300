// Package markets builds the exchange listings table for the tracked pair.
package markets

import (
	"context"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/marketpulse/internal/domain"
)

// Row is one listing as reported by an exchange. Volume is quote volume over
// 24h and may be unknown.
type Row struct {
	Pair      string
	LastPrice decimal.Decimal
	Volume    decimal.NullDecimal
}

// Provider reads listings of pair from one exchange.
type Provider interface {
	Name() string
	Rows(ctx context.Context, pair domain.Pair) ([]Row, error)
}

// BinanceProvider reads 24h statistics from Binance.
type BinanceProvider struct {
	client *binance.Client
}

// NewBinanceProvider creates a provider.
func NewBinanceProvider(client *binance.Client) *BinanceProvider {
	return &BinanceProvider{client: client}
}

// Name implements Provider.
func (p *BinanceProvider) Name() string { return "binance" }

// Rows implements Provider.
func (p *BinanceProvider) Rows(ctx context.Context, pair domain.Pair) ([]Row, error) {
	stats, err := p.client.NewListPriceChangeStatsService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get 24h stats from Binance for %s", pair.String())
	}

	rows := make([]Row, 0, len(stats))
	for _, s := range stats {
		last, err := decimal.NewFromString(s.LastPrice)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last price: %s", s.LastPrice)
		}
		rows = append(rows, Row{Pair: pair.String(), LastPrice: last, Volume: parseOptional(s.QuoteVolume)})
	}
	return rows, nil
}

// BybitProvider reads v5 spot tickers from Bybit.
type BybitProvider struct {
	client *bybit.Client
}

// NewBybitProvider creates a provider.
func NewBybitProvider(client *bybit.Client) *BybitProvider {
	return &BybitProvider{client: client}
}

// Name implements Provider.
func (p *BybitProvider) Name() string { return "bybit" }

// Rows implements Provider.
func (p *BybitProvider) Rows(ctx context.Context, pair domain.Pair) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol := bybit.SymbolV5(pair.Symbol())

	result, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get tickers from Bybit for %s", pair.String())
	}
	if result == nil || result.Result.Spot == nil {
		return nil, errors.Errorf("bybit API returned empty tickers for %s", pair.String())
	}

	rows := make([]Row, 0, len(result.Result.Spot.List))
	for _, item := range result.Result.Spot.List {
		last, err := decimal.NewFromString(item.LastPrice)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last price: %s", item.LastPrice)
		}
		rows = append(rows, Row{Pair: pair.String(), LastPrice: last, Volume: parseOptional(item.Turnover24H)})
	}
	return rows, nil
}

// MidsReader is the part of the Hyperliquid info client used here.
type MidsReader interface {
	AllMids(ctx context.Context) (map[string]string, error)
}

// HyperliquidProvider reads mid prices from Hyperliquid. Mids are keyed by
// base coin and carry no volume.
type HyperliquidProvider struct {
	info MidsReader
}

// NewHyperliquidProvider creates a provider.
func NewHyperliquidProvider(info MidsReader) *HyperliquidProvider {
	return &HyperliquidProvider{info: info}
}

// Name implements Provider.
func (p *HyperliquidProvider) Name() string { return "hyperliquid" }

// Rows implements Provider.
func (p *HyperliquidProvider) Rows(ctx context.Context, pair domain.Pair) ([]Row, error) {
	if p.info == nil {
		return nil, errors.New("hyperliquid info client is nil")
	}
	mids, err := p.info.AllMids(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get mids from Hyperliquid")
	}

	mid, ok := mids[strings.ToUpper(pair.From)]
	if !ok || mid == "" {
		return nil, errors.Errorf("hyperliquid API returned empty mid price for %s", pair.From)
	}
	last, err := decimal.NewFromString(mid)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse mid price: %s", mid)
	}
	return []Row{{Pair: pair.From + "_USD", LastPrice: last}}, nil
}

func parseOptional(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
