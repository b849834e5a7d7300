package markets

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Trust thresholds on 24h quote volume.
var (
	HighTrustVolume   = decimal.NewFromInt(50_000_000)
	MediumTrustVolume = decimal.NewFromInt(1_000_000)
)

// DefaultTradeURLs per exchange; {base} and {quote} are substituted.
var DefaultTradeURLs = map[string]string{
	"binance":     "https://www.binance.com/en/trade/{base}_{quote}",
	"bybit":       "https://www.bybit.com/trade/spot/{base}/{quote}",
	"hyperliquid": "https://app.hyperliquid.xyz/trade/{base}",
}

// Board keeps the last good listings of every provider.
type Board struct {
	providers []Provider
	pair      domain.Pair
	templates map[string]string

	mu   sync.RWMutex
	rows map[string][]domain.MarketTicker
	l    *zap.Logger
}

// NewBoard creates a board. A nil templates map uses DefaultTradeURLs.
func NewBoard(l *zap.Logger, pair domain.Pair, templates map[string]string, providers ...Provider) *Board {
	if templates == nil {
		templates = DefaultTradeURLs
	}
	return &Board{
		providers: providers,
		pair:      pair,
		templates: templates,
		rows:      make(map[string][]domain.MarketTicker),
		l:         l,
	}
}

// Refresh queries all providers concurrently. A failing provider keeps its
// previous rows. It returns the merged table.
func (b *Board) Refresh(ctx context.Context) []domain.MarketTicker {
	results := make([][]domain.MarketTicker, len(b.providers))
	ok := make([]bool, len(b.providers))

	var g errgroup.Group
	for i, p := range b.providers {
		g.Go(func() error {
			rows, err := p.Rows(ctx, b.pair)
			if err != nil {
				b.l.Warn("market listing fetch failed", zap.String("exchange", p.Name()), zap.Error(err))
				return nil
			}
			results[i] = b.tickers(p.Name(), rows)
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	b.mu.Lock()
	for i, p := range b.providers {
		if ok[i] {
			b.rows[p.Name()] = results[i]
		}
	}
	b.mu.Unlock()

	return b.Tickers()
}

// Run refreshes every interval until ctx is done, handing each table to onUpdate.
func (b *Board) Run(ctx context.Context, interval time.Duration, onUpdate func([]domain.MarketTicker)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rows := b.Refresh(ctx)
		// a refresh cut short by cancellation is not published
		if ctx.Err() != nil {
			return nil
		}
		onUpdate(rows)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tickers returns the merged table sorted by volume, largest first.
func (b *Board) Tickers() []domain.MarketTicker {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.MarketTicker
	for _, rows := range b.rows {
		out = append(out, rows...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Volume.Cmp(out[j].Volume); c != 0 {
			return c > 0
		}
		return out[i].Exchange < out[j].Exchange
	})
	return out
}

func (b *Board) tickers(exchange string, rows []Row) []domain.MarketTicker {
	out := make([]domain.MarketTicker, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.MarketTicker{
			Exchange:  exchange,
			Pair:      r.Pair,
			LastPrice: r.LastPrice,
			Volume:    r.Volume.Decimal,
			Trust:     TrustOf(r.Volume),
			TradeURL:  b.tradeURL(exchange),
		})
	}
	return out
}

func (b *Board) tradeURL(exchange string) string {
	tpl, ok := b.templates[exchange]
	if !ok {
		return ""
	}
	return strings.NewReplacer("{base}", b.pair.From, "{quote}", b.pair.To).Replace(tpl)
}

// TrustOf grades a listing by its 24h quote volume. Unknown volume is medium.
func TrustOf(volume decimal.NullDecimal) domain.Trust {
	switch {
	case !volume.Valid:
		return domain.TrustMedium
	case volume.Decimal.GreaterThanOrEqual(HighTrustVolume):
		return domain.TrustHigh
	case volume.Decimal.GreaterThanOrEqual(MediumTrustVolume):
		return domain.TrustMedium
	default:
		return domain.TrustLow
	}
}
