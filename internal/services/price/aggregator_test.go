package price

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"go.uber.org/zap"
)

var t0 = time.Unix(1_700_000_000, 0)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func upd(source, price string, at time.Duration) Update {
	return Update{Source: source, Price: nd(price), Timestamp: t0.Add(at)}
}

func newTestAggregator() (*Aggregator, *loop.Manual) {
	clock := loop.NewManual(t0)
	return NewAggregator(zap.NewNop(), clock, DefaultFlashDecay), clock
}

func TestAggregator_FlashDownThenNone(t *testing.T) {
	agg, clock := newTestAggregator()

	var seen []domain.FlashDirection
	agg.OnChange(func(s Snapshot) { seen = append(seen, s.Flash.Direction) })

	require.True(t, agg.Apply(upd("binance", "2.50", 0)))
	clock.Advance(100 * time.Millisecond)
	require.True(t, agg.Apply(upd("binance", "2.45", time.Second)))

	snap, ok := agg.Snapshot()
	require.True(t, ok)
	assert.Equal(t, domain.FlashDown, snap.Flash.Direction)

	clock.Advance(DefaultFlashDecay)

	snap, _ = agg.Snapshot()
	assert.Equal(t, domain.FlashNone, snap.Flash.Direction)
	assert.Equal(t, []domain.FlashDirection{domain.FlashNone, domain.FlashDown, domain.FlashNone}, seen)
	assert.NotContains(t, seen, domain.FlashUp)
	assert.Zero(t, clock.PendingTimers())
}

func TestAggregator_NewerChangeSupersedesReset(t *testing.T) {
	agg, clock := newTestAggregator()

	agg.Apply(upd("binance", "1", 0))
	agg.Apply(upd("binance", "2", time.Second))

	clock.Advance(400 * time.Millisecond)
	agg.Apply(upd("binance", "3", 2*time.Second))
	require.Equal(t, 1, clock.PendingTimers())

	// the first reset would have fired here
	clock.Advance(300 * time.Millisecond)
	snap, _ := agg.Snapshot()
	assert.Equal(t, domain.FlashUp, snap.Flash.Direction)

	clock.Advance(300 * time.Millisecond)
	snap, _ = agg.Snapshot()
	assert.Equal(t, domain.FlashNone, snap.Flash.Direction)
}

func TestAggregator_FlashAlwaysExpires(t *testing.T) {
	agg, clock := newTestAggregator()

	prices := []string{"10", "11", "10.5", "10.5", "12", "9"}
	for i, p := range prices {
		agg.Apply(upd("binance", p, time.Duration(i+1)*time.Second))
		clock.Advance(time.Duration(i*97) * time.Millisecond)
	}

	clock.Advance(DefaultFlashDecay)
	snap, _ := agg.Snapshot()
	assert.Equal(t, domain.FlashNone, snap.Flash.Direction)
	assert.Zero(t, clock.PendingTimers())
}

func TestAggregator_RejectsStaleUpdates(t *testing.T) {
	agg, _ := newTestAggregator()

	require.True(t, agg.Apply(upd("snapshot", "100", 10*time.Second)))
	assert.False(t, agg.Apply(upd("binance", "90", 5*time.Second)))
	assert.False(t, agg.Apply(upd("binance", "90", 10*time.Second)))

	snap, _ := agg.Snapshot()
	assert.Equal(t, "100", snap.Price.String())
	assert.Equal(t, "snapshot", snap.Source)
	assert.Equal(t, domain.FlashNone, snap.Flash.Direction)
}

func TestAggregator_NeverEmptyAfterFirstRead(t *testing.T) {
	agg, _ := newTestAggregator()

	_, ok := agg.Snapshot()
	assert.False(t, ok)

	agg.Apply(upd("binance", "5", time.Second))
	assert.False(t, agg.Apply(Update{Source: "snapshot", Timestamp: t0.Add(time.Hour)}))

	snap, ok := agg.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "5", snap.Price.String())
}

func TestAggregator_FieldMerge(t *testing.T) {
	agg, _ := newTestAggregator()

	full := upd("snapshot", "100", time.Second)
	full.High24h = nd("110")
	full.Low24h = nd("90")
	full.MarketCap = nd("1000000")
	full.Change24h = nd("1.5")
	require.True(t, agg.Apply(full))

	stream := upd("binance", "101", 2*time.Second)
	stream.Change24h = nd("2")
	require.True(t, agg.Apply(stream))

	snap, _ := agg.Snapshot()
	assert.Equal(t, "101", snap.Price.String())
	assert.Equal(t, "2", snap.Change24h.String())
	assert.Equal(t, "110", snap.High24h.String())
	assert.Equal(t, "90", snap.Low24h.String())
	assert.Equal(t, "1000000", snap.MarketCap.String())
	assert.Equal(t, "binance", snap.Source)
}

func TestAggregator_SeedAndClose(t *testing.T) {
	agg, clock := newTestAggregator()

	assert.True(t, agg.Seed(domain.PricePoint{Price: decimal.NewFromInt(7), Timestamp: t0}))
	assert.False(t, agg.Seed(domain.PricePoint{Price: decimal.NewFromInt(8), Timestamp: t0}))

	agg.Apply(upd("binance", "9", time.Second))
	require.Equal(t, 1, clock.PendingTimers())

	notified := false
	agg.OnChange(func(Snapshot) { notified = true })
	agg.Close()

	assert.Zero(t, clock.PendingTimers())
	assert.False(t, agg.Apply(upd("binance", "10", 2*time.Second)))
	clock.Advance(time.Second)
	assert.False(t, notified)
}

func TestAggregator_Submit(t *testing.T) {
	agg, clock := newTestAggregator()
	agg.Submit(upd("binance", "3", time.Second))

	_, ok := agg.Snapshot()
	assert.False(t, ok)

	clock.Drain()
	snap, ok := agg.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "3", snap.Price.String())
}
