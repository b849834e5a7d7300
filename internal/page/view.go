// Package page composes the visualization components into one mounted view
// and publishes their state changes to connected dashboards.
package page

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/marketpulse/internal/display"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/events"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"github.com/vadiminshakov/marketpulse/internal/services/chart"
	"github.com/vadiminshakov/marketpulse/internal/services/overlay"
	"github.com/vadiminshakov/marketpulse/internal/services/price"
	"github.com/vadiminshakov/marketpulse/internal/services/stream"
	"go.uber.org/zap"
)

var (
	// ErrNoPrice is returned when the overlay is requested before the first price.
	ErrNoPrice = errors.New("no price available yet")
	// ErrUnmounted is returned by operations on a view that is not mounted.
	ErrUnmounted = errors.New("page view is not mounted")
	// ErrUnknownTimeframe is returned for timeframe labels without a preset.
	ErrUnknownTimeframe = errors.New("unknown timeframe")
)

// Publisher delivers state changes to dashboards.
type Publisher interface {
	Publish(kind string, payload any) error
}

// Runner is a long-lived background source such as a feed subscriber or a poller.
type Runner interface {
	Run(ctx context.Context) error
}

// SnapshotLog persists accepted price points. Saves run concurrently, so Save
// must skip points not newer than the last stored one.
type SnapshotLog interface {
	Save(point domain.PricePoint) error
	Last() (domain.PricePoint, bool, error)
}

// MarketBoard polls exchange listings.
type MarketBoard interface {
	Run(ctx context.Context, interval time.Duration, onUpdate func([]domain.MarketTicker)) error
	Tickers() []domain.MarketTicker
}

// Components are the building blocks of a view, all bound to the same scheduler.
type Components struct {
	Manager      *stream.Manager
	Aggregator   *price.Aggregator
	Orchestrator *chart.Orchestrator
	Overlay      *overlay.Controller
	// Runners are started on Mount and stopped on Unmount.
	Runners []Runner
	// Optional.
	Board           MarketBoard
	MarketsInterval time.Duration
	Snapshots       SnapshotLog
	DefaultChart    domain.ChartViewConfig
}

// State is the full renderable page state.
type State struct {
	Mounted bool                    `json:"mounted"`
	Price   *PriceEvent             `json:"price,omitempty"`
	Arcs    []domain.TransactionArc `json:"arcs"`
	Stats   domain.StreamStats      `json:"stats"`
	Chart   chart.Status            `json:"chart"`
	Overlay overlay.View            `json:"overlay"`
	Markets []domain.MarketTicker   `json:"markets,omitempty"`
}

// PriceEvent is a price snapshot with its labels for both layouts.
type PriceEvent struct {
	price.Snapshot
	Compact display.Label `json:"compact"`
	Full    display.Label `json:"full"`
}

func priceEvent(snap price.Snapshot) PriceEvent {
	return PriceEvent{
		Snapshot: snap,
		Compact:  display.Format(snap, display.LayoutCompact),
		Full:     display.Format(snap, display.LayoutFull),
	}
}

// View owns the mounted components. Every method is loop-confined; the web
// layer reaches it through loop.Call.
type View struct {
	s   loop.Scheduler
	c   Components
	pub Publisher

	mounted   bool
	unmounted bool
	// savedAt is the timestamp of the newest persisted point
	savedAt time.Time
	cancel  context.CancelFunc
	l       *zap.Logger
}

// NewView creates an unmounted view.
func NewView(l *zap.Logger, s loop.Scheduler, pub Publisher, c Components) *View {
	if c.MarketsInterval <= 0 {
		c.MarketsInterval = time.Minute
	}
	return &View{s: s, c: c, pub: pub, l: l}
}

// Mount wires listeners, restores the last price, starts the chart and all
// background sources. A view mounts once.
func (v *View) Mount(ctx context.Context) error {
	if v.mounted || v.unmounted {
		return errors.New("page view already mounted")
	}
	ctx, v.cancel = context.WithCancel(ctx)
	v.mounted = true

	v.c.Manager.OnChange(func(ch stream.Change) {
		v.publish(events.KindArcs, ch)
		v.publish(events.KindStats, ch.Stats)
	})
	v.c.Aggregator.OnChange(v.priceChanged)
	v.c.Orchestrator.OnChange(func(st chart.Status) { v.publish(events.KindChart, st) })
	v.c.Overlay.OnChange(func(ov overlay.View) { v.publish(events.KindOverlay, ov) })

	v.restorePrice()

	v.c.Orchestrator.Start()
	if err := v.c.Orchestrator.Configure(v.c.DefaultChart); err != nil {
		v.l.Warn("invalid default chart configuration", zap.Error(err))
	}

	for _, r := range v.c.Runners {
		v.s.Go(func() {
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				v.l.Error("background source stopped", zap.Error(err))
			}
		})
	}
	if v.c.Board != nil {
		v.s.Go(func() {
			_ = v.c.Board.Run(ctx, v.c.MarketsInterval, func(rows []domain.MarketTicker) {
				v.publish(events.KindMarkets, rows)
			})
		})
	}

	v.l.Info("page view mounted", zap.Int("runners", len(v.c.Runners)))
	return nil
}

// Unmount stops the sources and releases every component synchronously.
// Pending I/O is not awaited; its completions find closed components.
func (v *View) Unmount() {
	if !v.mounted {
		return
	}
	v.mounted = false
	v.unmounted = true
	v.cancel()
	v.c.Overlay.Close()
	v.c.Orchestrator.Close()
	v.c.Aggregator.Close()
	v.c.Manager.Close()
	v.l.Info("page view unmounted")
}

// ConfigureChart applies a user chart selection.
func (v *View) ConfigureChart(cfg domain.ChartViewConfig) error {
	if !v.mounted {
		return ErrUnmounted
	}
	return v.c.Orchestrator.Configure(cfg)
}

// CompleteArc removes an arc whose animation finished.
func (v *View) CompleteArc(id string) (bool, error) {
	if !v.mounted {
		return false, ErrUnmounted
	}
	return v.c.Manager.Remove(id), nil
}

// OpenOverlay opens the detail overlay for the current price.
func (v *View) OpenOverlay() error {
	if !v.mounted {
		return ErrUnmounted
	}
	snap, ok := v.c.Aggregator.Snapshot()
	if !ok {
		return ErrNoPrice
	}
	return v.c.Overlay.Open(snap)
}

// SetOverlayTimeframe switches the overlay to the preset labelled label.
func (v *View) SetOverlayTimeframe(label string) error {
	if !v.mounted {
		return ErrUnmounted
	}
	tf, ok := domain.TimeframeByLabel(label)
	if !ok {
		return errors.Wrapf(ErrUnknownTimeframe, "%q", label)
	}
	return v.c.Overlay.SetTimeframe(tf)
}

// SetOverlayCrosshair moves or clears the overlay crosshair.
func (v *View) SetOverlayCrosshair(t *int64) error {
	if !v.mounted {
		return ErrUnmounted
	}
	return v.c.Overlay.SetCrosshair(t)
}

// CloseOverlay closes the overlay; closing a closed overlay is a no-op.
func (v *View) CloseOverlay() {
	v.c.Overlay.Close()
}

// State returns the full page state.
func (v *View) State() State {
	st := State{
		Mounted: v.mounted,
		Arcs:    v.c.Manager.Arcs(),
		Stats:   v.c.Manager.Stats(),
		Chart:   v.c.Orchestrator.Status(),
		Overlay: v.c.Overlay.View(),
	}
	if snap, ok := v.c.Aggregator.Snapshot(); ok {
		ev := priceEvent(snap)
		st.Price = &ev
	}
	if v.c.Board != nil {
		st.Markets = v.c.Board.Tickers()
	}
	return st
}

func (v *View) priceChanged(snap price.Snapshot) {
	v.publish(events.KindPrice, priceEvent(snap))
	if v.c.Overlay.IsOpen() {
		_ = v.c.Overlay.UpdatePrice(snap)
	}
	if v.c.Snapshots != nil && snap.Timestamp.After(v.savedAt) {
		point := snap.PricePoint
		v.savedAt = point.Timestamp
		v.s.Go(func() {
			if err := v.c.Snapshots.Save(point); err != nil {
				v.l.Warn("failed to persist price snapshot", zap.Error(err))
			}
		})
	}
}

func (v *View) restorePrice() {
	if v.c.Snapshots == nil {
		return
	}
	last, ok, err := v.c.Snapshots.Last()
	if err != nil {
		v.l.Warn("failed to read last price snapshot", zap.Error(err))
		return
	}
	if ok {
		v.savedAt = last.Timestamp
		v.c.Aggregator.Seed(last)
	}
}

func (v *View) publish(kind string, payload any) {
	if err := v.pub.Publish(kind, payload); err != nil {
		v.l.Warn("failed to publish state change", zap.String("kind", kind), zap.Error(err))
	}
}
