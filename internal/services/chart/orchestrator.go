// Package chart manages the lifecycle of embedded chart widgets across view
// mode and timeframe changes, keeping one live instance per container.
package chart

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"github.com/vadiminshakov/marketpulse/pkg/retrier"
	"go.uber.org/zap"
)

// ErrUnknownViewMode is returned for view modes without a widget style.
var ErrUnknownViewMode = errors.New("unknown chart view mode")

// State of the orchestrator.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateError         State = "error"
)

// WidgetConfig is handed to the library when constructing a widget.
type WidgetConfig struct {
	ContainerID      string   `json:"container_id"`
	Symbol           string   `json:"symbol"`
	Style            string   `json:"style"`
	Interval         string   `json:"interval"`
	Range            string   `json:"range"`
	Theme            string   `json:"theme"`
	DisabledFeatures []string `json:"disabled_features,omitempty"`
}

// Widget is an externally constructed chart instance.
type Widget interface {
	ID() string
	Destroy() error
}

// Library is the external charting library.
type Library interface {
	Load(ctx context.Context) error
	Create(ctx context.Context, cfg WidgetConfig) (Widget, error)
}

var styles = map[domain.ViewMode]string{
	domain.ViewBars:    "0",
	domain.ViewCandles: "1",
	domain.ViewLine:    "2",
	domain.ViewArea:    "3",
}

// StyleOf returns the widget style code of a view mode.
func StyleOf(mode domain.ViewMode) (string, error) {
	s, ok := styles[mode]
	if !ok {
		return "", errors.Wrapf(ErrUnknownViewMode, "%q", mode)
	}
	return s, nil
}

// Status is published after every state change.
type Status struct {
	State        State                   `json:"state"`
	ShowsLoading bool                    `json:"shows_loading"`
	Config       *domain.ChartViewConfig `json:"config,omitempty"`
	WidgetID     string                  `json:"widget_id,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

// Options of an orchestrator.
type Options struct {
	ContainerID      string
	Symbol           string
	DisabledFeatures []string
	// LoadRetrier bounds library load attempts.
	LoadRetrier *retrier.Retrier
}

// Orchestrator owns one container. All methods are loop-confined.
type Orchestrator struct {
	s       loop.Scheduler
	lib     Library
	arena   *Arena
	opts    Options
	gen     loop.Generation
	state   State
	desired *domain.ChartViewConfig
	loaded  bool
	// building is set while a construction is in flight
	building  bool
	lastErr   error
	ctx       context.Context
	cancel    context.CancelFunc
	listeners []func(Status)
	closed    bool
	l         *zap.Logger
}

// NewOrchestrator creates an orchestrator for opts.ContainerID inside arena.
func NewOrchestrator(l *zap.Logger, s loop.Scheduler, lib Library, arena *Arena, opts Options) *Orchestrator {
	if opts.LoadRetrier == nil {
		opts.LoadRetrier = retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(time.Second))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		s:      s,
		lib:    lib,
		arena:  arena,
		opts:   opts,
		state:  StateUninitialized,
		ctx:    ctx,
		cancel: cancel,
		l:      l.With(zap.String("container", opts.ContainerID)),
	}
}

// OnChange registers a status listener.
func (o *Orchestrator) OnChange(fn func(Status)) {
	o.listeners = append(o.listeners, fn)
}

// Start loads the library off the loop. A load failure leaves the
// orchestrator uninitialized, showing its loading affordance.
func (o *Orchestrator) Start() {
	if o.closed {
		return
	}
	ctx := o.ctx
	loop.Async(o.s, func() (struct{}, error) {
		return struct{}{}, o.opts.LoadRetrier.Do(ctx, o.lib.Load)
	}, func(_ struct{}, err error) {
		if o.closed {
			return
		}
		if err != nil {
			o.lastErr = err
			o.l.Error("chart library failed to load", zap.Error(err))
			o.emit()
			return
		}
		o.loaded = true
		o.state = StateLoading
		o.l.Info("chart library loaded")
		if o.desired != nil {
			o.build()
		}
		o.emit()
	})
}

// Configure records cfg as the desired configuration, tears the bound widget
// down and builds a replacement. Only the latest configuration is honoured.
func (o *Orchestrator) Configure(cfg domain.ChartViewConfig) error {
	if o.closed {
		return errors.New("chart orchestrator is closed")
	}
	if _, err := StyleOf(cfg.ViewMode); err != nil {
		return err
	}
	if err := cfg.Timeframe.Validate(); err != nil {
		return errors.Wrap(err, "invalid chart timeframe")
	}
	if cfg.Theme == "" {
		cfg.Theme = domain.ThemeDark
	}

	o.desired = &cfg
	o.gen.Next()
	o.release()

	if o.loaded {
		o.state = StateLoading
		o.build()
	}
	o.emit()
	return nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.state
}

// ShowsLoading reports whether the loading affordance is visible.
func (o *Orchestrator) ShowsLoading() bool {
	return o.state == StateUninitialized || o.state == StateLoading
}

// Config returns the desired configuration.
func (o *Orchestrator) Config() (domain.ChartViewConfig, bool) {
	if o.desired == nil {
		return domain.ChartViewConfig{}, false
	}
	return *o.desired, true
}

// Widget returns the widget bound to the container.
func (o *Orchestrator) Widget() (Widget, bool) {
	return o.arena.Bound(o.opts.ContainerID)
}

// Status returns a snapshot for publishing.
func (o *Orchestrator) Status() Status {
	st := Status{State: o.state, ShowsLoading: o.ShowsLoading()}
	if o.desired != nil {
		cfg := *o.desired
		st.Config = &cfg
	}
	if w, ok := o.Widget(); ok {
		st.WidgetID = w.ID()
	}
	if o.lastErr != nil {
		st.Error = o.lastErr.Error()
	}
	return st
}

// Close destroys the bound widget and discards in-flight work.
func (o *Orchestrator) Close() {
	if o.closed {
		return
	}
	o.closed = true
	o.gen.Invalidate()
	o.cancel()
	o.release()
	o.listeners = nil
}

func (o *Orchestrator) release() {
	if err := o.arena.Release(o.opts.ContainerID); err != nil {
		o.l.Warn("failed to destroy chart widget", zap.Error(err))
	}
}

func (o *Orchestrator) widgetConfig(cfg domain.ChartViewConfig) WidgetConfig {
	style, _ := StyleOf(cfg.ViewMode)
	return WidgetConfig{
		ContainerID:      o.opts.ContainerID,
		Symbol:           o.opts.Symbol,
		Style:            style,
		Interval:         cfg.Timeframe.Interval,
		Range:            cfg.Timeframe.Range,
		Theme:            string(cfg.Theme),
		DisabledFeatures: o.opts.DisabledFeatures,
	}
}

// build starts constructing the desired configuration unless a construction
// is already in flight. That one rebuilds on completion if it went stale.
func (o *Orchestrator) build() {
	if o.building || o.desired == nil {
		return
	}
	o.building = true

	g := o.gen.Current()
	wc := o.widgetConfig(*o.desired)
	ctx := o.ctx

	loop.Async(o.s, func() (Widget, error) {
		return o.lib.Create(ctx, wc)
	}, func(w Widget, err error) {
		o.built(g, w, err)
	})
}

func (o *Orchestrator) built(g uint64, w Widget, err error) {
	o.building = false

	if o.closed || !o.gen.IsCurrent(g) {
		if w != nil {
			if derr := w.Destroy(); derr != nil {
				o.l.Warn("failed to destroy stale chart widget", zap.Error(derr))
			}
		}
		if !o.closed {
			o.l.Debug("discarding stale chart widget", zap.Uint64("generation", g))
			o.build()
		}
		return
	}

	if err != nil {
		o.state = StateError
		o.lastErr = err
		o.l.Error("chart widget construction failed", zap.Error(err))
		o.emit()
		return
	}

	if err := o.arena.Bind(o.opts.ContainerID, w); err != nil {
		_ = w.Destroy()
		o.state = StateError
		o.lastErr = err
		o.l.Error("chart widget bind failed", zap.Error(err))
		o.emit()
		return
	}

	o.state = StateReady
	o.lastErr = nil
	o.l.Debug("chart widget ready", zap.String("widget", w.ID()))
	o.emit()
}

func (o *Orchestrator) emit() {
	st := o.Status()
	for _, fn := range o.listeners {
		fn(st)
	}
}
