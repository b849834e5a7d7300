package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/events"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"github.com/vadiminshakov/marketpulse/internal/page"
	"github.com/vadiminshakov/marketpulse/internal/services/chart"
	"go.uber.org/zap"
)

// fakeView is only touched on the loop goroutine.
type fakeView struct {
	cfg        domain.ChartViewConfig
	completed  []string
	openErr    error
	timeframe  string
	crosshair  *int64
	crossSet   bool
	closeCalls int
}

func (f *fakeView) ConfigureChart(cfg domain.ChartViewConfig) error {
	if _, err := chart.StyleOf(cfg.ViewMode); err != nil {
		return err
	}
	f.cfg = cfg
	return nil
}

func (f *fakeView) CompleteArc(id string) (bool, error) {
	f.completed = append(f.completed, id)
	return len(f.completed) == 1, nil
}

func (f *fakeView) OpenOverlay() error { return f.openErr }

func (f *fakeView) SetOverlayTimeframe(label string) error {
	if _, ok := domain.TimeframeByLabel(label); !ok {
		return page.ErrUnknownTimeframe
	}
	f.timeframe = label
	return nil
}

func (f *fakeView) SetOverlayCrosshair(t *int64) error {
	f.crosshair, f.crossSet = t, true
	return nil
}

func (f *fakeView) CloseOverlay() { f.closeCalls++ }

func (f *fakeView) State() page.State {
	return page.State{Mounted: true, Stats: domain.StreamStats{Count: int64(len(f.completed))}}
}

type fakeStore struct {
	records []domain.PriceSnapshotRecord
}

func (f *fakeStore) SnapshotsAfter(index uint64) ([]domain.PriceSnapshotRecord, error) {
	var out []domain.PriceSnapshotRecord
	for _, r := range f.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeWidgets struct{}

func (fakeWidgets) Live() map[string]chart.WidgetConfig {
	return map[string]chart.WidgetConfig{"w1": {ContainerID: "main", Style: "1"}}
}

func newTestServer(t *testing.T, view *fakeView, store priceSnapshotReader) (*Server, *events.Broadcaster) {
	t.Helper()
	lp := loop.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = lp.Run(ctx) }()
	t.Cleanup(cancel)

	bus := events.NewBroadcaster(16)
	return NewServer(zap.NewNop(), ":0", lp, view, bus, store), bus
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Actions(t *testing.T) {
	view := &fakeView{}
	srv, _ := newTestServer(t, view, nil)
	h := srv.Handler()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"state", http.MethodGet, "/state", "", http.StatusOK},
		{"chart config", http.MethodPost, "/chart/config", `{"view_mode":"line","timeframe":"7D"}`, http.StatusOK},
		{"chart unknown timeframe", http.MethodPost, "/chart/config", `{"view_mode":"line","timeframe":"2H"}`, http.StatusBadRequest},
		{"chart unknown mode", http.MethodPost, "/chart/config", `{"view_mode":"heikin","timeframe":"7D"}`, http.StatusBadRequest},
		{"chart bad body", http.MethodPost, "/chart/config", `{`, http.StatusBadRequest},
		{"overlay timeframe", http.MethodPost, "/overlay/timeframe", `{"timeframe":"3M"}`, http.StatusOK},
		{"overlay unknown timeframe", http.MethodPost, "/overlay/timeframe", `{"timeframe":"5Y"}`, http.StatusBadRequest},
		{"overlay crosshair", http.MethodPost, "/overlay/crosshair", `{"time":null}`, http.StatusOK},
		{"overlay close", http.MethodPost, "/overlay/close", ``, http.StatusOK},
		{"unknown asset", http.MethodGet, "/missing.js", ``, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	assert.Equal(t, domain.ViewLine, view.cfg.ViewMode)
	assert.Equal(t, "7D", view.cfg.Timeframe.Label)
	assert.Equal(t, "3M", view.timeframe)
	assert.True(t, view.crossSet)
	assert.Nil(t, view.crosshair)
	assert.Equal(t, 1, view.closeCalls)
}

func TestServer_CompleteArc(t *testing.T) {
	view := &fakeView{}
	srv, _ := newTestServer(t, view, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/arcs/0xabc/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":true}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/arcs/0xabc/complete", "")
	assert.JSONEq(t, `{"removed":false}`, rec.Body.String())
	assert.Equal(t, []string{"0xabc", "0xabc"}, view.completed)
}

func TestServer_OverlayOpenErrors(t *testing.T) {
	view := &fakeView{openErr: page.ErrNoPrice}
	srv, _ := newTestServer(t, view, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/overlay/open", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	view2 := &fakeView{openErr: page.ErrUnmounted}
	srv2, _ := newTestServer(t, view2, nil)
	rec = do(t, srv2.Handler(), http.MethodPost, "/overlay/open", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Static(t *testing.T) {
	srv, _ := newTestServer(t, &fakeView{}, nil)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>marketpulse</title>")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	gz := httptest.NewRecorder()
	h.ServeHTTP(gz, req)
	assert.Equal(t, "gzip", gz.Header().Get("Content-Encoding"))
}

func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var kind, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if kind != "" || data != "" {
				return kind, data
			}
		case strings.HasPrefix(line, "event: "):
			kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestServer_Events(t *testing.T) {
	srv, bus := newTestServer(t, &fakeView{}, nil)
	srv.Widgets = fakeWidgets{}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	kind, data := readEvent(t, r)
	assert.Equal(t, "state", kind)
	var st page.State
	require.NoError(t, json.Unmarshal([]byte(data), &st))
	assert.True(t, st.Mounted)

	kind, data = readEvent(t, r)
	assert.Equal(t, events.KindWidget, kind)
	assert.Contains(t, data, `"widget_id":"w1"`)

	require.NoError(t, bus.Publish(events.KindStats, domain.StreamStats{Count: 7}))
	kind, data = readEvent(t, r)
	assert.Equal(t, events.KindStats, kind)
	assert.Contains(t, data, `"count":7`)
}

func TestServer_PriceHistory(t *testing.T) {
	store := &fakeStore{records: []domain.PriceSnapshotRecord{
		{Index: 1, Point: domain.PricePoint{Price: decimal.RequireFromString("2.5"), Source: "stream"}},
		{Index: 2, Point: domain.PricePoint{Price: decimal.RequireFromString("2.45"), Source: "stream"}},
	}}
	srv, _ := newTestServer(t, &fakeView{}, store)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/price/history?last_event_id=1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	kind, data := readEvent(t, r)
	assert.Equal(t, "price", kind)
	assert.Contains(t, data, `"price":"2.45"`)
}

func TestServer_PriceHistoryWithoutStore(t *testing.T) {
	srv, _ := newTestServer(t, &fakeView{}, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/price/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestThinRecords(t *testing.T) {
	records := make([]domain.PriceSnapshotRecord, 250)
	for i := range records {
		records[i] = domain.PriceSnapshotRecord{Index: uint64(i + 1)}
	}

	thinned := thinRecords(records)
	require.Greater(t, len(thinned), keepRecent)
	assert.Less(t, len(thinned), len(records))
	assert.Equal(t, records[len(records)-keepRecent:], thinned[len(thinned)-keepRecent:])
	for i := 1; i < len(thinned); i++ {
		assert.Less(t, thinned[i-1].Index, thinned[i].Index)
	}

	short := records[:10]
	assert.Equal(t, short, thinRecords(short))
}
