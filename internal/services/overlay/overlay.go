// Package overlay implements the self-contained detail view: OHLC series for
// a selectable timeframe, summary metrics and a crosshair price readout.
package overlay

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"github.com/vadiminshakov/marketpulse/internal/services/ohlc"
	"github.com/vadiminshakov/marketpulse/internal/services/price"
	"go.uber.org/zap"
)

// ErrNotOpen is returned by operations that need an open overlay.
var ErrNotOpen = errors.New("overlay is not open")

// Loader produces a series for a timeframe. ohlc.Pipeline satisfies it.
type Loader interface {
	Load(ctx context.Context, tf domain.Timeframe) (ohlc.Series, error)
}

// Renderer draws the overlay chart. SetSeries always replaces the whole series.
type Renderer interface {
	SetSeries(s ohlc.Series) error
	Destroy() error
}

// RendererFactory creates the renderer owned by one open overlay.
type RendererFactory func() (Renderer, error)

// Metrics derived from the latest resolved series and the price snapshot.
type Metrics struct {
	Price             decimal.Decimal     `json:"price"`
	Change24h         decimal.Decimal     `json:"change_24h"`
	High24h           decimal.Decimal     `json:"high_24h"`
	Low24h            decimal.Decimal     `json:"low_24h"`
	RangeHigh         decimal.Decimal     `json:"range_high"`
	RangeLow          decimal.Decimal     `json:"range_low"`
	Volume24h         decimal.Decimal     `json:"volume_24h"`
	MarketCap         decimal.Decimal     `json:"market_cap"`
	CirculatingSupply decimal.Decimal     `json:"circulating_supply"`
	RSI14             decimal.NullDecimal `json:"rsi14"`
	ATR14             decimal.NullDecimal `json:"atr14"`
}

// View is the renderable overlay state.
type View struct {
	Open      bool             `json:"open"`
	Timeframe domain.Timeframe `json:"timeframe"`
	// Requested is the timeframe being fetched, nil when idle.
	Requested    *domain.Timeframe `json:"requested,omitempty"`
	Loading      bool              `json:"loading"`
	Series       *ohlc.Series      `json:"series,omitempty"`
	Metrics      Metrics           `json:"metrics"`
	DisplayPrice decimal.Decimal   `json:"display_price"`
	Crosshair    *int64            `json:"crosshair,omitempty"`
	Flash        domain.FlashState `json:"flash"`
	Error        string            `json:"error,omitempty"`
}

// Controller owns one pipeline, one renderer and one flash while open.
// All methods are loop-confined.
type Controller struct {
	s          loop.Scheduler
	loader     Loader
	factory    RendererFactory
	flashDecay time.Duration

	gen  loop.Generation
	open bool
	// tf labels the shown series; it changes only when a fetch succeeds
	tf        domain.Timeframe
	requested *domain.Timeframe
	snapshot  price.Snapshot
	series    ohlc.Series
	hasSeries bool
	loading   bool
	lastErr   error
	crosshair *int64
	renderer  Renderer
	flash     *price.Flash
	cancel    context.CancelFunc

	listeners []func(View)
	l         *zap.Logger
}

// NewController creates a closed overlay.
func NewController(l *zap.Logger, s loop.Scheduler, loader Loader, factory RendererFactory, flashDecay time.Duration) *Controller {
	return &Controller{
		s:          s,
		loader:     loader,
		factory:    factory,
		flashDecay: flashDecay,
		l:          l,
	}
}

// OnChange registers a view listener.
func (c *Controller) OnChange(fn func(View)) {
	c.listeners = append(c.listeners, fn)
}

// IsOpen reports whether the overlay is open.
func (c *Controller) IsOpen() bool {
	return c.open
}

// Open shows the overlay for snapshot and fetches the default timeframe.
// Opening an open overlay only refreshes its price.
func (c *Controller) Open(snapshot price.Snapshot) error {
	if c.open {
		return c.UpdatePrice(snapshot)
	}

	r, err := c.factory()
	if err != nil {
		return errors.Wrap(err, "create overlay renderer")
	}

	c.open = true
	c.renderer = r
	c.snapshot = snapshot
	c.tf = domain.DefaultTimeframe
	c.series = ohlc.Series{}
	c.hasSeries = false
	c.lastErr = nil
	c.crosshair = nil
	c.flash = price.NewFlash(c.s, c.flashDecay, func(domain.FlashState) { c.emit() })

	c.fetch(c.tf)
	c.emit()
	return nil
}

// SetTimeframe fetches tf and replaces the series once it resolves.
func (c *Controller) SetTimeframe(tf domain.Timeframe) error {
	if !c.open {
		return ErrNotOpen
	}
	if err := tf.Validate(); err != nil {
		return errors.Wrap(err, "invalid overlay timeframe")
	}
	c.fetch(tf)
	c.emit()
	return nil
}

// UpdatePrice refreshes the snapshot, flashing on a price change.
func (c *Controller) UpdatePrice(snapshot price.Snapshot) error {
	if !c.open {
		return ErrNotOpen
	}
	prev := c.snapshot.Price
	c.snapshot = snapshot
	if !prev.IsZero() && !prev.Equal(snapshot.Price) {
		// Trigger emits
		c.flash.Trigger(domain.DirectionOf(prev, snapshot.Price))
		return nil
	}
	c.emit()
	return nil
}

// SetCrosshair moves the crosshair; nil clears it.
func (c *Controller) SetCrosshair(t *int64) error {
	if !c.open {
		return ErrNotOpen
	}
	if t != nil {
		v := *t
		t = &v
	}
	c.crosshair = t
	c.emit()
	return nil
}

// View returns the current state.
func (c *Controller) View() View {
	if !c.open {
		return View{}
	}
	v := View{
		Open:         true,
		Timeframe:    c.tf,
		Requested:    c.requested,
		Loading:      c.loading,
		Metrics:      c.metrics(),
		DisplayPrice: c.series.DisplayPrice(c.crosshair, c.snapshot.Price),
		Crosshair:    c.crosshair,
		Flash:        c.flash.State(),
	}
	if c.hasSeries {
		s := c.series
		v.Series = &s
	}
	if c.lastErr != nil {
		v.Error = c.lastErr.Error()
	}
	return v
}

// Close cancels pending fetches, clears the flash timer and destroys the
// renderer. Completions arriving later change nothing.
func (c *Controller) Close() {
	if !c.open {
		return
	}
	c.open = false
	c.gen.Invalidate()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.flash.Stop()
	if err := c.renderer.Destroy(); err != nil {
		c.l.Warn("failed to destroy overlay renderer", zap.Error(err))
	}
	c.renderer = nil
	c.series = ohlc.Series{}
	c.hasSeries = false
	c.loading = false
	c.requested = nil
	c.crosshair = nil
	c.emit()
}

func (c *Controller) fetch(tf domain.Timeframe) {
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	g := c.gen.Next()
	c.requested = &tf
	// the loading indicator only covers the first load
	c.loading = !c.hasSeries

	loop.Async(c.s, func() (ohlc.Series, error) {
		return c.loader.Load(ctx, tf)
	}, func(s ohlc.Series, err error) {
		c.resolved(g, tf, s, err)
	})
}

func (c *Controller) resolved(g uint64, tf domain.Timeframe, s ohlc.Series, err error) {
	if !c.open || !c.gen.IsCurrent(g) {
		c.l.Debug("discarding stale ohlc response", zap.String("timeframe", tf.Label))
		return
	}
	c.loading = false
	c.requested = nil

	if err != nil {
		c.lastErr = err
		c.l.Warn("ohlc fetch failed", zap.String("timeframe", tf.Label), zap.Error(err))
		c.emit()
		return
	}

	c.tf = tf
	c.series = s
	c.hasSeries = true
	c.lastErr = nil
	c.crosshair = nil
	if rerr := c.renderer.SetSeries(s); rerr != nil {
		c.l.Warn("overlay renderer rejected series", zap.Error(rerr))
	}
	c.emit()
}

func (c *Controller) metrics() Metrics {
	p := c.snapshot.PricePoint
	m := Metrics{
		Price:     p.Price,
		Change24h: p.Change24h,
		High24h:   p.High24h,
		Low24h:    p.Low24h,
		Volume24h: p.Volume24h,
		MarketCap: p.MarketCap,
	}
	if c.hasSeries && !c.series.Empty() {
		m.RangeHigh = c.series.High
		m.RangeLow = c.series.Low
		m.RSI14 = c.series.Momentum
		m.ATR14 = c.series.Volatility
		if m.High24h.IsZero() {
			m.High24h = c.series.High
		}
		if m.Low24h.IsZero() {
			m.Low24h = c.series.Low
		}
	}
	if p.Price.IsPositive() && p.MarketCap.IsPositive() {
		m.CirculatingSupply = p.MarketCap.DivRound(p.Price, 0)
	}
	return m
}

func (c *Controller) emit() {
	v := c.View()
	for _, fn := range c.listeners {
		fn(v)
	}
}
