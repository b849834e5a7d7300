package internal

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/marketpulse/config"
	"github.com/vadiminshakov/marketpulse/internal/events"
)

func TestNewEngine(t *testing.T) {
	conf, err := config.ConfigTmp{Pair: "BTC_USDT", Exchanges: []string{"binance"}}.Parse()
	require.NoError(t, err)
	conf.SnapshotDir = t.TempDir()
	conf.Console = true

	e, err := NewEngine(context.Background(), zap.NewNop(), conf, &bytes.Buffer{})
	require.NoError(t, err)
	defer e.close()

	assert.NotNil(t, e.view)
	assert.NotNil(t, e.server)
	assert.Same(t, e.widgets, e.server.Widgets)
	assert.NotNil(t, e.console)
	// snapshot store
	assert.Len(t, e.closers, 1)
}

func TestNewEngine_UnsupportedSource(t *testing.T) {
	conf, err := config.ConfigTmp{Pair: "BTC_USDT", Exchanges: []string{"binance"}}.Parse()
	require.NoError(t, err)
	conf.SnapshotDir = t.TempDir()
	conf.OHLCSource = "kraken"

	_, err = NewEngine(context.Background(), zap.NewNop(), conf, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported ohlc source")
}

func TestConsolePrinter(t *testing.T) {
	bus := events.NewBroadcaster(8)
	out := &syncBuffer{}
	p := newConsolePrinter(zap.NewNop(), bus, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// wait for the subscription
	require.Eventually(t, func() bool {
		_ = bus.Publish(events.KindArcs, []string{})
		_ = bus.Publish(events.KindPrice, map[string]any{
			"full": map[string]any{"layout": "full", "price": "$64,250.00", "change": "+1.25%"},
		})
		return strings.Contains(out.String(), "$64,250.00")
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "+1.25%")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
