// Package internal wires the configured sources, services and the web server
// into one running engine.
package internal

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/marketpulse/config"
	"github.com/vadiminshakov/marketpulse/internal/clients"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/events"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"github.com/vadiminshakov/marketpulse/internal/page"
	"github.com/vadiminshakov/marketpulse/internal/services/chart"
	"github.com/vadiminshakov/marketpulse/internal/services/chart/tvwidget"
	"github.com/vadiminshakov/marketpulse/internal/services/markets"
	"github.com/vadiminshakov/marketpulse/internal/services/ohlc"
	"github.com/vadiminshakov/marketpulse/internal/services/overlay"
	"github.com/vadiminshakov/marketpulse/internal/services/price"
	"github.com/vadiminshakov/marketpulse/internal/services/stream"
	"github.com/vadiminshakov/marketpulse/internal/storage/pricesnapshots"
	"github.com/vadiminshakov/marketpulse/internal/web"
	"github.com/vadiminshakov/marketpulse/pkg/retrier"
)

const (
	busBuffer       = 256
	shutdownTimeout = 5 * time.Second
)

// Engine owns the event loop, the page view and everything feeding it.
type Engine struct {
	conf    config.Config
	loop    *loop.Loop
	bus     *events.Broadcaster
	view    *page.View
	server  *web.Server
	widgets *tvwidget.Library
	console io.Writer
	closers []func() error
	l       *zap.Logger
}

// NewEngine builds every component named by conf. Nothing runs until Run.
func NewEngine(ctx context.Context, l *zap.Logger, conf config.Config, console io.Writer) (*Engine, error) {
	e := &Engine{
		conf: conf,
		loop: loop.New(l),
		bus:  events.NewBroadcaster(busBuffer),
		l:    l,
	}
	if conf.Console {
		e.console = console
	}

	exchanges := exchangeClients{
		binance: clients.NewBinanceClient(conf.BinanceKey, conf.BinanceSecret),
		bybit:   clients.NewBybitClient(conf.BybitKey, conf.BybitSecret),
	}

	store, err := pricesnapshots.NewWALStore(conf.SnapshotDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open price snapshot store")
	}
	e.closers = append(e.closers, store.Close)

	components, err := e.components(ctx, exchanges)
	if err != nil {
		e.close()
		return nil, err
	}
	components.Snapshots = store

	e.view = page.NewView(l.Named("page"), e.loop, e.bus, components)
	e.server = web.NewServer(l.Named("web"), conf.Listen, e.loop, e.view, e.bus, store)
	e.server.Widgets = e.widgets

	return e, nil
}

func (e *Engine) components(ctx context.Context, exchanges exchangeClients) (page.Components, error) {
	conf, s, l := e.conf, e.loop, e.l

	candles, err := newOHLCFetcher(conf, exchanges)
	if err != nil {
		return page.Components{}, err
	}
	snapshots, err := newSnapshotFetcher(conf, exchanges)
	if err != nil {
		return page.Components{}, err
	}
	feed, err := newFeedSource(l.Named("feed"), conf)
	if err != nil {
		return page.Components{}, err
	}
	providers, err := newMarketProviders(ctx, conf, exchanges)
	if err != nil {
		return page.Components{}, err
	}

	manager := stream.NewManager(l.Named("arcs"), s, conf.ArcCapacity)
	aggregator := price.NewAggregator(l.Named("price"), s, conf.FlashDecay)

	e.widgets = tvwidget.New(l.Named("tvwidget"), conf.ChartScriptURL, e.bus, events.KindWidget)
	orchestrator := chart.NewOrchestrator(l.Named("chart"), s, e.widgets, chart.NewArena(), chart.Options{
		ContainerID: conf.ChartContainer,
		Symbol:      conf.ChartSymbol,
	})

	pipeline := ohlc.NewPipeline(l.Named("ohlc"), candles, retrier.New(
		retrier.WithMaxRetries(3),
		retrier.WithInitialInterval(500*time.Millisecond),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			l.Warn("ohlc fetch failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		}),
	))
	ctrl := overlay.NewController(l.Named("overlay"), s, pipeline,
		overlay.PublishingRenderers(e.bus, events.KindOverlay), conf.FlashDecay)

	runners := []page.Runner{
		price.NewBinanceStream(l.Named("binance-stream"), conf.Pair, aggregator.Submit),
		price.NewPoller(l.Named("poller"), snapshots, conf.PollInterval, aggregator.Submit),
	}
	if feed != nil {
		resolver, closeGeo := newGeoResolver(l.Named("geo"), conf)
		e.closers = append(e.closers, closeGeo)
		runners = append(runners, stream.NewSubscriber(l.Named("subscriber"), s, feed, resolver,
			func(arc domain.TransactionArc) { manager.Accept(arc) }, stream.SubscriberConfig{}))
	}
	if e.console != nil {
		runners = append(runners, newConsolePrinter(l.Named("console"), e.bus, e.console))
	}

	return page.Components{
		Manager:         manager,
		Aggregator:      aggregator,
		Orchestrator:    orchestrator,
		Overlay:         ctrl,
		Runners:         runners,
		Board:           markets.NewBoard(l.Named("markets"), conf.Pair, markets.DefaultTradeURLs, providers...),
		MarketsInterval: conf.MarketsInterval,
		DefaultChart:    conf.DefaultChart,
	}, nil
}

// Run mounts the page, serves HTTP until ctx is done or the server fails,
// then unmounts and releases every resource.
func (e *Engine) Run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() {
		if err := e.loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			e.l.Error("event loop stopped", zap.Error(err))
		}
	}()
	defer e.close()

	if _, err := loop.Call(ctx, e.loop, func() (struct{}, error) {
		return struct{}{}, e.view.Mount(ctx)
	}); err != nil {
		return errors.Wrap(err, "failed to mount page")
	}
	e.l.Info("page mounted",
		zap.String("pair", e.conf.Pair.String()),
		zap.String("feed", e.conf.FeedKind),
		zap.String("poll_source", e.conf.PollSource),
		zap.String("ohlc_source", e.conf.OHLCSource))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(e.conf.TLSDomains) > 0 {
			return e.server.StartWithAutoTLS(gctx, e.conf.TLSDomains, e.conf.TLSCacheDir)
		}
		return e.server.Start(gctx)
	})
	err := g.Wait()

	e.unmount()
	stopLoop()
	<-e.loop.Done()
	return err
}

func (e *Engine) unmount() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if _, err := loop.Call(ctx, e.loop, func() (struct{}, error) {
		e.view.Unmount()
		return struct{}{}, nil
	}); err != nil {
		e.l.Warn("failed to unmount page", zap.Error(err))
	}
}

func (e *Engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.l.Warn("failed to release resource", zap.Error(err))
		}
	}
	e.closers = nil
}
