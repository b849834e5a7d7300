package stream

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"go.uber.org/zap"
)

// Source is a transport delivering raw feed payloads. Run blocks until the
// connection drops or ctx is done.
type Source interface {
	Run(ctx context.Context, deliver func(raw []byte)) error
}

// GeoResolver maps an account or region identifier to coordinates.
type GeoResolver interface {
	Resolve(ctx context.Context, id string) (domain.GeoPoint, error)
}

// SubscriberConfig tunes reconnects and geo resolution.
type SubscriberConfig struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// HealthyAfter is how long a session must last before backoff resets.
	HealthyAfter time.Duration
	// ResolveTimeout bounds the geo lookups of a single event.
	ResolveTimeout time.Duration
	// ResolveQueue is how many decoded events may wait for resolution.
	// Events arriving while it is full are dropped.
	ResolveQueue int
}

func (c SubscriberConfig) withDefaults() SubscriberConfig {
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.HealthyAfter <= 0 {
		c.HealthyAfter = 10 * time.Second
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 2 * time.Second
	}
	if c.ResolveQueue <= 0 {
		c.ResolveQueue = 256
	}
	return c
}

// Subscriber keeps a Source connected and hands resolved arcs to the loop.
type Subscriber struct {
	src  Source
	geo  GeoResolver
	s    loop.Scheduler
	sink func(domain.TransactionArc)
	cfg  SubscriberConfig
	l    *zap.Logger
}

// NewSubscriber creates a subscriber. sink runs on the loop.
func NewSubscriber(l *zap.Logger, s loop.Scheduler, src Source, geo GeoResolver, sink func(domain.TransactionArc), cfg SubscriberConfig) *Subscriber {
	return &Subscriber{
		src:  src,
		geo:  geo,
		s:    s,
		sink: sink,
		cfg:  cfg.withDefaults(),
		l:    l,
	}
}

// Run reconnects the source with jittered exponential backoff until ctx is done.
func (sub *Subscriber) Run(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    sub.cfg.MinBackoff,
		Max:    sub.cfg.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	pending := make(chan Event, sub.cfg.ResolveQueue)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range pending {
			sub.resolve(ctx, ev)
		}
	}()
	defer func() {
		close(pending)
		wg.Wait()
	}()

	for {
		started := time.Now()
		err := sub.src.Run(ctx, func(raw []byte) { sub.enqueue(pending, raw) })
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) >= sub.cfg.HealthyAfter {
			b.Reset()
		}

		wait := b.Duration()
		if err == nil {
			err = errors.New("feed closed by remote")
		}
		sub.l.Warn("transaction feed disconnected",
			zap.Error(err),
			zap.Duration("retry_in", wait),
			zap.Float64("attempt", b.Attempt()))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// enqueue decodes raw on the transport's goroutine and leaves geo lookups to
// the resolver, so a slow lookup never stalls the read loop.
func (sub *Subscriber) enqueue(pending chan<- Event, raw []byte) {
	ev, err := Decode(raw)
	if err != nil {
		sub.l.Debug("dropping stream event", zap.Error(err))
		return
	}

	select {
	case pending <- ev:
	default:
		sub.l.Warn("geo resolution backlog full, dropping event", zap.String("hash", ev.Hash))
	}
}

// resolve runs on a single goroutine so arcs reach the loop in feed order.
func (sub *Subscriber) resolve(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, sub.cfg.ResolveTimeout)
	defer cancel()

	from, err := sub.geo.Resolve(ctx, ev.From)
	if err != nil {
		sub.l.Debug("unresolvable origin", zap.String("id", ev.From), zap.Error(err))
		return
	}
	to, err := sub.geo.Resolve(ctx, ev.To)
	if err != nil {
		sub.l.Debug("unresolvable destination", zap.String("id", ev.To), zap.Error(err))
		return
	}

	arc := domain.TransactionArc{
		ID:        ArcID(ev.Hash),
		From:      from,
		To:        to,
		Amount:    ev.Amount,
		Currency:  ev.Currency,
		Side:      ev.Side,
		CreatedAt: ev.Timestamp,
	}
	sub.s.Post(func() { sub.sink(arc) })
}
