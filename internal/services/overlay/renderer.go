package overlay

import (
	"github.com/google/uuid"
	"github.com/vadiminshakov/marketpulse/internal/services/ohlc"
)

// Publisher delivers render commands to connected dashboards.
type Publisher interface {
	Publish(kind string, payload any) error
}

// RenderCommand mounts, replaces or unmounts the overlay chart in the browser.
type RenderCommand struct {
	Op         string       `json:"op"`
	RendererID string       `json:"renderer_id"`
	Series     *ohlc.Series `json:"series,omitempty"`
}

// PublishingRenderers returns a factory for renderers that publish their
// commands under kind.
func PublishingRenderers(pub Publisher, kind string) RendererFactory {
	return func() (Renderer, error) {
		r := &publishingRenderer{id: uuid.NewString(), pub: pub, kind: kind}
		if err := pub.Publish(kind, RenderCommand{Op: "mount", RendererID: r.id}); err != nil {
			return nil, err
		}
		return r, nil
	}
}

type publishingRenderer struct {
	id   string
	pub  Publisher
	kind string
}

func (r *publishingRenderer) SetSeries(s ohlc.Series) error {
	return r.pub.Publish(r.kind, RenderCommand{Op: "replace", RendererID: r.id, Series: &s})
}

func (r *publishingRenderer) Destroy() error {
	return r.pub.Publish(r.kind, RenderCommand{Op: "unmount", RendererID: r.id})
}
