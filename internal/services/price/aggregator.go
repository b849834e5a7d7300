// Package price merges a streaming and a polling price source into one
// canonical snapshot with a transient directional flash.
package price

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"go.uber.org/zap"
)

// Update is one read from a price source. Optional fields are left invalid
// when the source does not report them.
type Update struct {
	Source    string
	Timestamp time.Time
	Price     decimal.NullDecimal
	Change24h decimal.NullDecimal
	High24h   decimal.NullDecimal
	Low24h    decimal.NullDecimal
	MarketCap decimal.NullDecimal
	Volume24h decimal.NullDecimal
}

// Snapshot canonical price together with its flash.
type Snapshot struct {
	domain.PricePoint
	Flash domain.FlashState `json:"flash"`
}

// Aggregator holds the canonical PricePoint. It is loop-confined except for
// Submit.
type Aggregator struct {
	s         loop.Scheduler
	current   domain.PricePoint
	has       bool
	reads     map[string]Update
	flash     *Flash
	listeners []func(Snapshot)
	closed    bool
	l         *zap.Logger
}

// NewAggregator creates an empty aggregator.
func NewAggregator(l *zap.Logger, s loop.Scheduler, flashDecay time.Duration) *Aggregator {
	a := &Aggregator{
		s:     s,
		reads: make(map[string]Update),
		l:     l,
	}
	a.flash = NewFlash(s, flashDecay, func(domain.FlashState) { a.emit() })
	return a
}

// OnChange registers a listener called after every accepted update and flash change.
func (a *Aggregator) OnChange(fn func(Snapshot)) {
	a.listeners = append(a.listeners, fn)
}

// Submit hands u to the loop. Safe to call from any goroutine.
func (a *Aggregator) Submit(u Update) {
	a.s.Post(func() { a.Apply(u) })
}

// Apply accepts u when it carries a price and is newer than the held point.
func (a *Aggregator) Apply(u Update) bool {
	if a.closed {
		return false
	}
	if !u.Price.Valid {
		a.l.Debug("price update without price", zap.String("source", u.Source))
		return false
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = a.s.Now()
	}
	a.remember(u)

	if a.has && !u.Timestamp.After(a.current.Timestamp) {
		a.l.Debug("stale price update",
			zap.String("source", u.Source),
			zap.Time("ts", u.Timestamp),
			zap.Time("held", a.current.Timestamp))
		return false
	}

	next := a.merge(u)
	prev, hadPrev := a.current.Price, a.has
	a.current = next
	a.has = true

	if hadPrev && !prev.Equal(next.Price) {
		// Trigger notifies listeners itself
		a.flash.Trigger(domain.DirectionOf(prev, next.Price))
		return true
	}
	a.emit()
	return true
}

// Seed restores a persisted point. The timestamp guard still applies and no
// flash is shown.
func (a *Aggregator) Seed(p domain.PricePoint) bool {
	if a.closed || p.Price.IsZero() {
		return false
	}
	if a.has && !p.Timestamp.After(a.current.Timestamp) {
		return false
	}
	a.current = p
	a.has = true
	a.emit()
	return true
}

// Snapshot returns the held point. ok is false until the first accepted read.
func (a *Aggregator) Snapshot() (Snapshot, bool) {
	if !a.has {
		return Snapshot{}, false
	}
	return Snapshot{PricePoint: a.current, Flash: a.flash.State()}, true
}

// Close stops the flash timer and ignores later updates.
func (a *Aggregator) Close() {
	a.closed = true
	a.flash.Stop()
	a.listeners = nil
}

func (a *Aggregator) remember(u Update) {
	if prev, ok := a.reads[u.Source]; ok && prev.Timestamp.After(u.Timestamp) {
		return
	}
	a.reads[u.Source] = u
}

func (a *Aggregator) merge(u Update) domain.PricePoint {
	held := a.current
	return domain.PricePoint{
		Price:     u.Price.Decimal,
		Change24h: a.field(u, held.Change24h, func(x Update) decimal.NullDecimal { return x.Change24h }),
		High24h:   a.field(u, held.High24h, func(x Update) decimal.NullDecimal { return x.High24h }),
		Low24h:    a.field(u, held.Low24h, func(x Update) decimal.NullDecimal { return x.Low24h }),
		MarketCap: a.field(u, held.MarketCap, func(x Update) decimal.NullDecimal { return x.MarketCap }),
		Volume24h: a.field(u, held.Volume24h, func(x Update) decimal.NullDecimal { return x.Volume24h }),
		Source:    u.Source,
		Timestamp: u.Timestamp,
	}
}

// field picks the value reported by u, else the newest read of another source
// carrying it, else the held value.
func (a *Aggregator) field(u Update, held decimal.Decimal, get func(Update) decimal.NullDecimal) decimal.Decimal {
	if v := get(u); v.Valid {
		return v.Decimal
	}

	var (
		best  decimal.NullDecimal
		bestT time.Time
	)
	for src, r := range a.reads {
		if src == u.Source {
			continue
		}
		if v := get(r); v.Valid && r.Timestamp.After(bestT) {
			best, bestT = v, r.Timestamp
		}
	}
	if best.Valid {
		return best.Decimal
	}
	return held
}

func (a *Aggregator) emit() {
	if !a.has {
		return
	}
	snap := Snapshot{PricePoint: a.current, Flash: a.flash.State()}
	for _, fn := range a.listeners {
		fn(snap)
	}
}
