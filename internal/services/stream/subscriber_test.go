package stream

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"go.uber.org/zap"
)

type mapResolver map[string]domain.GeoPoint

func (r mapResolver) Resolve(_ context.Context, id string) (domain.GeoPoint, error) {
	p, ok := r[id]
	if !ok {
		return domain.GeoPoint{}, errors.New("unknown")
	}
	return p, nil
}

// scriptedSource plays one payload batch per session and then fails.
// After the scripted sessions it blocks until ctx is done.
type scriptedSource struct {
	sessions [][]string
	calls    int
	idle     chan struct{}
}

func (s *scriptedSource) Run(ctx context.Context, deliver func([]byte)) error {
	if s.calls < len(s.sessions) {
		batch := s.sessions[s.calls]
		s.calls++
		for _, raw := range batch {
			deliver([]byte(raw))
		}
		return errors.New("connection reset")
	}
	s.calls++
	close(s.idle)
	<-ctx.Done()
	return ctx.Err()
}

func TestSubscriber_ReconnectsAndDropsBadEvents(t *testing.T) {
	clock := loop.NewManual(time.Unix(1_700_000_000, 0))
	mgr := NewManager(zap.NewNop(), clock, 16)

	geo := mapResolver{
		"US": {Lat: 38.9, Lon: -77.0, Label: "US"},
		"DE": {Lat: 52.5, Lon: 13.4, Label: "DE"},
	}
	src := &scriptedSource{
		sessions: [][]string{
			{
				`{"from":"US","to":"DE","amount":"1","hash":"0x01","side":"buy"}`,
				`{"garbage"`,
				`{"from":"US","to":"MARS","amount":"1","hash":"0x02"}`,
			},
			{
				`{"from":"DE","to":"US","amount":"2","hash":"0x01","side":"buy"}`,
				`{"from":"DE","to":"US","amount":"3","hash":"0x03","side":"sell"}`,
			},
		},
		idle: make(chan struct{}),
	}

	sub := NewSubscriber(zap.NewNop(), clock, src, geo, func(a domain.TransactionArc) { mgr.Accept(a) },
		SubscriberConfig{MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	select {
	case <-src.idle:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not reconnect")
	}
	cancel()
	require.NoError(t, <-done)

	clock.Drain()

	assert.Equal(t, 3, src.calls)
	require.Equal(t, 2, mgr.Len())
	arcs := mgr.Arcs()
	assert.Equal(t, ArcID("0x01"), arcs[0].ID)
	assert.Equal(t, "US", arcs[0].From.Label)
	assert.Equal(t, ArcID("0x03"), arcs[1].ID)

	st := mgr.Stats()
	assert.Equal(t, int64(2), st.Count)
	assert.Equal(t, int64(1), st.Buys)
	assert.Equal(t, int64(1), st.Sells)
}

// slowResolver never answers for "SLOW" until its context ends.
type slowResolver struct {
	mapResolver
	sawDeadline chan bool
}

func (r slowResolver) Resolve(ctx context.Context, id string) (domain.GeoPoint, error) {
	if id != "SLOW" {
		return r.mapResolver.Resolve(ctx, id)
	}
	_, ok := ctx.Deadline()
	r.sawDeadline <- ok
	<-ctx.Done()
	return domain.GeoPoint{}, ctx.Err()
}

// timedSource delivers one batch, records how long delivery took and then idles.
type timedSource struct {
	batch     []string
	delivered time.Duration
	idle      chan struct{}
}

func (s *timedSource) Run(ctx context.Context, deliver func([]byte)) error {
	started := time.Now()
	for _, raw := range s.batch {
		deliver([]byte(raw))
	}
	s.delivered = time.Since(started)
	close(s.idle)
	<-ctx.Done()
	return ctx.Err()
}

func TestSubscriber_SlowGeoLookupDoesNotStallFeed(t *testing.T) {
	clock := loop.NewManual(time.Unix(1_700_000_000, 0))
	mgr := NewManager(zap.NewNop(), clock, 16)

	geo := slowResolver{
		mapResolver: mapResolver{
			"US": {Lat: 38.9, Lon: -77.0, Label: "US"},
			"DE": {Lat: 52.5, Lon: 13.4, Label: "DE"},
		},
		sawDeadline: make(chan bool, 1),
	}
	src := &timedSource{
		batch: []string{
			`{"from":"SLOW","to":"DE","amount":"1","hash":"0x01"}`,
			`{"from":"US","to":"DE","amount":"2","hash":"0x02","side":"buy"}`,
		},
		idle: make(chan struct{}),
	}

	const resolveTimeout = 50 * time.Millisecond
	sub := NewSubscriber(zap.NewNop(), clock, src, geo, func(a domain.TransactionArc) { mgr.Accept(a) },
		SubscriberConfig{ResolveTimeout: resolveTimeout})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	select {
	case <-src.idle:
	case <-time.After(5 * time.Second):
		t.Fatal("source did not finish delivering")
	}
	assert.Less(t, src.delivered, resolveTimeout)

	select {
	case ok := <-geo.sawDeadline:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("slow lookup never started")
	}

	// the second event resolves once the first lookup times out
	require.Eventually(t, func() bool {
		clock.Drain()
		return mgr.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	clock.Drain()

	arcs := mgr.Arcs()
	require.Len(t, arcs, 1)
	assert.Equal(t, ArcID("0x02"), arcs[0].ID)
}
