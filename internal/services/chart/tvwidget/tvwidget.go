// Package tvwidget adapts the TradingView embed to chart.Library. Widgets live
// in the browser: construction and teardown are published as commands that
// the dashboard applies to its containers.
package tvwidget

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/marketpulse/internal/services/chart"
	"go.uber.org/zap"
)

// DefaultScriptURL of the TradingView embed.
const DefaultScriptURL = "https://s3.tradingview.com/tv.js"

// Command operations.
const (
	OpCreate  = "create"
	OpDestroy = "destroy"
)

// Command instructs the browser to mount or unmount a widget.
type Command struct {
	Op       string              `json:"op"`
	WidgetID string              `json:"widget_id"`
	Script   string              `json:"script,omitempty"`
	Config   *chart.WidgetConfig `json:"config,omitempty"`
}

// Publisher delivers commands to connected dashboards.
type Publisher interface {
	Publish(kind string, payload any) error
}

// Library implements chart.Library.
type Library struct {
	scriptURL string
	client    *http.Client
	pub       Publisher
	kind      string

	mu   sync.Mutex
	live map[string]chart.WidgetConfig
	l    *zap.Logger
}

// New creates a library publishing commands under kind.
func New(l *zap.Logger, scriptURL string, pub Publisher, kind string) *Library {
	if scriptURL == "" {
		scriptURL = DefaultScriptURL
	}
	return &Library{
		scriptURL: scriptURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		pub:       pub,
		kind:      kind,
		live:      make(map[string]chart.WidgetConfig),
		l:         l,
	}
}

// Load checks that the embed script is reachable.
func (lib *Library) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lib.scriptURL, nil)
	if err != nil {
		return err
	}
	resp, err := lib.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "fetch chart library")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("chart library returned status %d", resp.StatusCode)
	}
	return nil
}

// Create publishes a create command for a new widget.
func (lib *Library) Create(ctx context.Context, cfg chart.WidgetConfig) (chart.Widget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &widget{id: uuid.NewString(), lib: lib}

	if err := lib.pub.Publish(lib.kind, Command{Op: OpCreate, WidgetID: w.id, Script: lib.scriptURL, Config: &cfg}); err != nil {
		return nil, errors.Wrap(err, "publish widget create")
	}

	lib.mu.Lock()
	lib.live[w.id] = cfg
	lib.mu.Unlock()
	return w, nil
}

// Live returns the configurations of widgets not yet destroyed, keyed by id.
// Newly connected dashboards replay them.
func (lib *Library) Live() map[string]chart.WidgetConfig {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	out := make(map[string]chart.WidgetConfig, len(lib.live))
	for id, cfg := range lib.live {
		out[id] = cfg
	}
	return out
}

func (lib *Library) destroy(id string) error {
	lib.mu.Lock()
	_, ok := lib.live[id]
	delete(lib.live, id)
	lib.mu.Unlock()
	if !ok {
		return nil
	}
	return errors.Wrap(lib.pub.Publish(lib.kind, Command{Op: OpDestroy, WidgetID: id}), "publish widget destroy")
}

type widget struct {
	id  string
	lib *Library
}

func (w *widget) ID() string { return w.id }

func (w *widget) Destroy() error { return w.lib.destroy(w.id) }
