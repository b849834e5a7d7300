package page

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/events"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"github.com/vadiminshakov/marketpulse/internal/services/chart"
	"github.com/vadiminshakov/marketpulse/internal/services/ohlc"
	"github.com/vadiminshakov/marketpulse/internal/services/overlay"
	"github.com/vadiminshakov/marketpulse/internal/services/price"
	"github.com/vadiminshakov/marketpulse/internal/services/stream"
	"github.com/vadiminshakov/marketpulse/internal/storage/pricesnapshots"
	"github.com/vadiminshakov/marketpulse/pkg/retrier"
	"go.uber.org/zap"
)

type recorder struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recorder) Publish(kind string, _ any) error {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type widget struct {
	id        string
	destroyed bool
}

func (w *widget) ID() string     { return w.id }
func (w *widget) Destroy() error { w.destroyed = true; return nil }

type library struct {
	widgets []*widget
}

func (l *library) Load(context.Context) error { return nil }

func (l *library) Create(context.Context, chart.WidgetConfig) (chart.Widget, error) {
	w := &widget{id: "w"}
	l.widgets = append(l.widgets, w)
	return w, nil
}

type loader struct{}

func (loader) Load(context.Context, domain.Timeframe) (ohlc.Series, error) {
	return ohlc.Transform([]ohlc.RawCandle{
		{Time: 1000, Open: decimal.NewFromInt(2), High: decimal.NewFromInt(3), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(2)},
	}), nil
}

type renderer struct{ destroyed bool }

func (r *renderer) SetSeries(ohlc.Series) error { return nil }
func (r *renderer) Destroy() error              { r.destroyed = true; return nil }

type runner struct {
	ctx context.Context
}

func (r *runner) Run(ctx context.Context) error {
	r.ctx = ctx
	return nil
}

type board struct{}

func (board) Run(_ context.Context, _ time.Duration, onUpdate func([]domain.MarketTicker)) error {
	onUpdate([]domain.MarketTicker{{Exchange: "binance"}})
	return nil
}

func (board) Tickers() []domain.MarketTicker { return []domain.MarketTicker{{Exchange: "binance"}} }

type snapshotLog struct {
	mu    sync.Mutex
	last  *domain.PricePoint
	saved []domain.PricePoint
}

func (s *snapshotLog) Save(p domain.PricePoint) error {
	s.mu.Lock()
	s.saved = append(s.saved, p)
	s.mu.Unlock()
	return nil
}

func (s *snapshotLog) Last() (domain.PricePoint, bool, error) {
	if s.last == nil {
		return domain.PricePoint{}, false, nil
	}
	return *s.last, true, nil
}

type fixture struct {
	view     *View
	clock    *loop.Manual
	pub      *recorder
	lib      *library
	run      *runner
	rend     *renderer
	manager  *stream.Manager
	agg      *price.Aggregator
	snapshot *snapshotLog
}

func newFixture(last *domain.PricePoint) *fixture {
	clock := loop.NewManual(time.UnixMilli(10_000))
	l := zap.NewNop()
	f := &fixture{
		clock:    clock,
		pub:      &recorder{},
		lib:      &library{},
		run:      &runner{},
		rend:     &renderer{},
		snapshot: &snapshotLog{last: last},
	}
	f.manager = stream.NewManager(l, clock, 4)
	f.agg = price.NewAggregator(l, clock, price.DefaultFlashDecay)
	orch := chart.NewOrchestrator(l, clock, f.lib, chart.NewArena(), chart.Options{
		ContainerID: "main",
		LoadRetrier: retrier.New(retrier.WithMaxRetries(0)),
	})
	ov := overlay.NewController(l, clock, loader{}, func() (overlay.Renderer, error) { return f.rend, nil }, price.DefaultFlashDecay)

	tf, _ := domain.TimeframeByLabel("1D")
	f.view = NewView(l, clock, f.pub, Components{
		Manager:      f.manager,
		Aggregator:   f.agg,
		Orchestrator: orch,
		Overlay:      ov,
		Runners:      []Runner{f.run},
		Board:        board{},
		Snapshots:    f.snapshot,
		DefaultChart: domain.ChartViewConfig{ViewMode: domain.ViewCandles, Timeframe: tf},
	})
	return f
}

func update(p string, ms int64) price.Update {
	return price.Update{
		Source:    "stream",
		Timestamp: time.UnixMilli(ms),
		Price:     decimal.NewNullDecimal(decimal.RequireFromString(p)),
	}
}

func TestView_MountStartsEverything(t *testing.T) {
	last := domain.PricePoint{Price: decimal.RequireFromString("2.40"), Source: "poll", Timestamp: time.UnixMilli(5_000)}
	f := newFixture(&last)

	require.NoError(t, f.view.Mount(context.Background()))
	st := f.view.State()
	require.NotNil(t, st.Price)
	assert.True(t, st.Price.Price.Equal(last.Price))
	assert.Equal(t, "$2.40", st.Price.Compact.Price)
	assert.True(t, st.Chart.ShowsLoading)

	f.clock.RunTasks()

	st = f.view.State()
	assert.Equal(t, chart.StateReady, st.Chart.State)
	assert.Equal(t, "w", st.Chart.WidgetID)
	require.NotNil(t, f.run.ctx)
	assert.NoError(t, f.run.ctx.Err())
	assert.Equal(t, 1, f.pub.count(events.KindMarkets))
	assert.Positive(t, f.pub.count(events.KindChart))
	assert.Empty(t, f.snapshot.saved, "restored point is not written again")

	assert.Error(t, f.view.Mount(context.Background()))
}

func TestView_PricePublishedAndPersisted(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.view.Mount(context.Background()))
	f.clock.RunTasks()

	require.True(t, f.agg.Apply(update("2.50", 11_000)))
	require.True(t, f.agg.Apply(update("2.45", 12_000)))
	f.clock.Advance(price.DefaultFlashDecay)
	f.clock.RunTasks()

	assert.Equal(t, 3, f.pub.count(events.KindPrice), "first read, flash down, flash reset")
	require.Len(t, f.snapshot.saved, 2)
	assert.True(t, f.snapshot.saved[1].Price.Equal(decimal.RequireFromString("2.45")))
}

func TestView_PersistsNewestPointWhenSavesReorder(t *testing.T) {
	store, err := pricesnapshots.NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	f := newFixture(nil)
	f.view.c.Snapshots = store
	require.NoError(t, f.view.Mount(context.Background()))
	f.clock.RunTasks()

	require.True(t, f.agg.Apply(update("2.50", 11_000)))
	require.True(t, f.agg.Apply(update("2.45", 12_000)))
	require.Equal(t, 2, f.clock.Tasks())

	// the newer write lands first
	f.clock.RunTask(1)
	f.clock.RunTask(0)

	last, ok, err := store.Last()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Price.Equal(decimal.RequireFromString("2.45")))
	assert.Equal(t, int64(12_000), last.Timestamp.UnixMilli())
}

func TestView_CompleteArc(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.view.Mount(context.Background()))

	f.manager.Accept(domain.TransactionArc{ID: "0x01", Amount: decimal.NewFromInt(1), Side: domain.SideBuy})
	assert.Equal(t, 1, f.pub.count(events.KindArcs))
	assert.Equal(t, 1, f.pub.count(events.KindStats))

	removed, err := f.view.CompleteArc("0x01")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.view.CompleteArc("0x01")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, f.view.State().Arcs)
	assert.Equal(t, int64(1), f.view.State().Stats.Count)
}

func TestView_Overlay(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.view.Mount(context.Background()))
	f.clock.RunTasks()

	assert.ErrorIs(t, f.view.OpenOverlay(), ErrNoPrice)

	f.agg.Apply(update("2.50", 11_000))
	require.NoError(t, f.view.OpenOverlay())
	f.clock.RunTasks()

	ov := f.view.State().Overlay
	require.True(t, ov.Open)
	require.NotNil(t, ov.Series)
	assert.Equal(t, "1D", ov.Timeframe.Label)

	require.NoError(t, f.view.SetOverlayTimeframe("7D"))
	assert.ErrorIs(t, f.view.SetOverlayTimeframe("2H"), ErrUnknownTimeframe)

	at := int64(1000)
	require.NoError(t, f.view.SetOverlayCrosshair(&at))
	assert.Equal(t, "2", f.view.State().Overlay.DisplayPrice.String())

	f.agg.Apply(update("2.60", 12_000))
	assert.Equal(t, domain.FlashUp, f.view.State().Overlay.Flash.Direction)

	f.view.CloseOverlay()
	assert.True(t, f.rend.destroyed)
	assert.False(t, f.view.State().Overlay.Open)
	assert.Positive(t, f.pub.count(events.KindOverlay))
}

func TestView_Unmount(t *testing.T) {
	f := newFixture(nil)
	require.NoError(t, f.view.Mount(context.Background()))
	f.clock.RunTasks()
	f.agg.Apply(update("2.50", 11_000))
	require.NoError(t, f.view.OpenOverlay())

	f.view.Unmount()

	assert.True(t, errors.Is(f.run.ctx.Err(), context.Canceled))
	require.Len(t, f.lib.widgets, 1)
	assert.True(t, f.lib.widgets[0].destroyed)
	assert.True(t, f.rend.destroyed)
	assert.Zero(t, f.clock.PendingTimers())
	assert.False(t, f.view.State().Mounted)

	assert.ErrorIs(t, f.view.ConfigureChart(domain.ChartViewConfig{}), ErrUnmounted)
	_, err := f.view.CompleteArc("x")
	assert.ErrorIs(t, err, ErrUnmounted)
	assert.ErrorIs(t, f.view.OpenOverlay(), ErrUnmounted)
	assert.Error(t, f.view.Mount(context.Background()))

	// late completions find closed components
	f.clock.RunTasks()
	assert.False(t, f.agg.Apply(update("2.70", 13_000)))
}
