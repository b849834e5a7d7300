package chart

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"github.com/vadiminshakov/marketpulse/pkg/retrier"
	"go.uber.org/zap"
)

type fakeWidget struct {
	id        string
	cfg       WidgetConfig
	lib       *fakeLibrary
	destroyed int
}

func (w *fakeWidget) ID() string { return w.id }

func (w *fakeWidget) Destroy() error {
	w.destroyed++
	if w.destroyed == 1 {
		w.lib.live--
	}
	return nil
}

type fakeLibrary struct {
	loadErr   error
	createErr error
	loads     int
	created   []*fakeWidget
	live      int
	maxLive   int
}

func (f *fakeLibrary) Load(context.Context) error {
	f.loads++
	return f.loadErr
}

func (f *fakeLibrary) Create(_ context.Context, cfg WidgetConfig) (Widget, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	w := &fakeWidget{id: fmt.Sprintf("w%d", len(f.created)+1), cfg: cfg, lib: f}
	f.created = append(f.created, w)
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return w, nil
}

func cfgOf(mode domain.ViewMode, label string) domain.ChartViewConfig {
	tf, _ := domain.TimeframeByLabel(label)
	return domain.ChartViewConfig{ViewMode: mode, Timeframe: tf, Theme: domain.ThemeDark}
}

func newTestOrchestrator(lib *fakeLibrary) (*Orchestrator, *Arena, *loop.Manual) {
	clock := loop.NewManual(time.Unix(1_700_000_000, 0))
	arena := NewArena()
	o := NewOrchestrator(zap.NewNop(), clock, lib, arena, Options{
		ContainerID: "main-chart",
		Symbol:      "BINANCE:BTCUSDT",
		LoadRetrier: retrier.New(retrier.WithMaxRetries(0)),
	})
	return o, arena, clock
}

func TestOrchestrator_LoadThenBuild(t *testing.T) {
	lib := &fakeLibrary{}
	o, arena, clock := newTestOrchestrator(lib)

	var states []State
	o.OnChange(func(s Status) { states = append(states, s.State) })

	assert.Equal(t, StateUninitialized, o.State())
	assert.True(t, o.ShowsLoading())

	require.NoError(t, o.Configure(cfgOf(domain.ViewCandles, "1D")))
	assert.Empty(t, lib.created, "nothing is built before the library loads")

	o.Start()
	clock.RunTasks()

	assert.Equal(t, StateReady, o.State())
	assert.False(t, o.ShowsLoading())
	require.Len(t, lib.created, 1)
	assert.Equal(t, 1, arena.Len())
	assert.Equal(t, WidgetConfig{
		ContainerID: "main-chart",
		Symbol:      "BINANCE:BTCUSDT",
		Style:       "1",
		Interval:    "30m",
		Range:       "1d",
		Theme:       "dark",
	}, lib.created[0].cfg)
	assert.Equal(t, []State{StateUninitialized, StateLoading, StateReady}, states)
}

func TestOrchestrator_ReconfigureTearsDownFirst(t *testing.T) {
	lib := &fakeLibrary{}
	o, arena, clock := newTestOrchestrator(lib)
	o.Start()
	clock.RunTasks()

	require.NoError(t, o.Configure(cfgOf(domain.ViewCandles, "1D")))
	clock.RunTasks()
	first := lib.created[0]

	require.NoError(t, o.Configure(cfgOf(domain.ViewLine, "1D")))
	assert.Equal(t, 1, first.destroyed, "old widget destroyed synchronously")
	assert.Zero(t, arena.Len())
	assert.Equal(t, StateLoading, o.State())

	clock.RunTasks()
	require.Len(t, lib.created, 2)
	assert.Equal(t, "2", lib.created[1].cfg.Style)
	assert.Equal(t, 1, lib.maxLive)
	assert.Equal(t, StateReady, o.State())
}

func TestOrchestrator_CoalescesRapidChanges(t *testing.T) {
	lib := &fakeLibrary{}
	o, arena, clock := newTestOrchestrator(lib)
	o.Start()
	clock.RunTasks()

	require.NoError(t, o.Configure(cfgOf(domain.ViewCandles, "1D")))
	require.NoError(t, o.Configure(cfgOf(domain.ViewArea, "7D")))
	require.NoError(t, o.Configure(cfgOf(domain.ViewBars, "1Y")))
	assert.Equal(t, 1, clock.Tasks(), "one construction in flight")

	clock.RunTask(0)
	clock.Drain()
	require.Len(t, lib.created, 1)
	assert.Equal(t, 1, lib.created[0].destroyed, "stale widget destroyed")
	assert.Zero(t, arena.Len())

	clock.RunTasks()
	require.Len(t, lib.created, 2)
	final, ok := o.Widget()
	require.True(t, ok)
	assert.Equal(t, lib.created[1].id, final.ID())
	assert.Equal(t, "0", lib.created[1].cfg.Style)
	assert.Equal(t, "1w", lib.created[1].cfg.Interval)

	cfg, _ := o.Config()
	assert.Equal(t, domain.ViewBars, cfg.ViewMode)
	assert.Equal(t, 1, lib.maxLive)
	assert.Equal(t, StateReady, o.State())
}

func TestOrchestrator_LoadFailureKeepsLoadingAffordance(t *testing.T) {
	lib := &fakeLibrary{loadErr: errors.New("script blocked")}
	o, _, clock := newTestOrchestrator(lib)

	o.Start()
	clock.RunTasks()
	require.NoError(t, o.Configure(cfgOf(domain.ViewCandles, "1D")))
	clock.RunTasks()

	assert.Equal(t, StateUninitialized, o.State())
	assert.True(t, o.ShowsLoading())
	assert.Equal(t, 1, lib.loads)
	assert.Empty(t, lib.created)
	assert.Contains(t, o.Status().Error, "script blocked")
}

func TestOrchestrator_ConstructionErrorRecovers(t *testing.T) {
	lib := &fakeLibrary{createErr: errors.New("bad container")}
	o, _, clock := newTestOrchestrator(lib)
	o.Start()
	clock.RunTasks()

	require.NoError(t, o.Configure(cfgOf(domain.ViewCandles, "1D")))
	clock.RunTasks()
	assert.Equal(t, StateError, o.State())
	assert.False(t, o.ShowsLoading())

	lib.createErr = nil
	require.NoError(t, o.Configure(cfgOf(domain.ViewCandles, "7D")))
	clock.RunTasks()
	assert.Equal(t, StateReady, o.State())
	assert.Empty(t, o.Status().Error)
}

func TestOrchestrator_CloseDiscardsInFlight(t *testing.T) {
	lib := &fakeLibrary{}
	o, arena, clock := newTestOrchestrator(lib)
	o.Start()
	clock.RunTasks()

	require.NoError(t, o.Configure(cfgOf(domain.ViewCandles, "1D")))
	clock.RunTasks()
	require.NoError(t, o.Configure(cfgOf(domain.ViewLine, "1D")))

	notified := false
	o.OnChange(func(Status) { notified = true })
	o.Close()
	notified = false

	clock.RunTasks()
	assert.Zero(t, arena.Len())
	assert.Zero(t, lib.live, "late widget destroyed")
	assert.False(t, notified)
	assert.Error(t, o.Configure(cfgOf(domain.ViewCandles, "1D")))
}

func TestOrchestrator_RejectsInvalidConfig(t *testing.T) {
	o, _, _ := newTestOrchestrator(&fakeLibrary{})

	err := o.Configure(domain.ChartViewConfig{ViewMode: "heikin", Timeframe: domain.DefaultTimeframe})
	assert.True(t, errors.Is(err, ErrUnknownViewMode))

	err = o.Configure(domain.ChartViewConfig{ViewMode: domain.ViewLine, Timeframe: domain.Timeframe{Interval: "x", Range: "1d"}})
	assert.Error(t, err)

	_, ok := o.Config()
	assert.False(t, ok)
}

func TestArena_Exclusive(t *testing.T) {
	lib := &fakeLibrary{}
	a := NewArena()
	w1, _ := lib.Create(context.Background(), WidgetConfig{})
	w2, _ := lib.Create(context.Background(), WidgetConfig{})

	require.NoError(t, a.Bind("c", w1))
	assert.True(t, errors.Is(a.Bind("c", w2), ErrContainerBusy))

	require.NoError(t, a.Release("c"))
	require.NoError(t, a.Release("c"))
	require.NoError(t, a.Bind("c", w2))
	assert.Equal(t, 1, w1.(*fakeWidget).destroyed)
}
