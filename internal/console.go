package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/vadiminshakov/marketpulse/internal/display"
	"github.com/vadiminshakov/marketpulse/internal/events"
)

type priceSubscriber interface {
	Subscribe() chan events.Event
	Unsubscribe(ch chan events.Event)
}

// consolePrinter writes every price event to a terminal using the full layout.
type consolePrinter struct {
	bus priceSubscriber
	out io.Writer
	l   *zap.Logger
}

func newConsolePrinter(l *zap.Logger, bus priceSubscriber, out io.Writer) *consolePrinter {
	return &consolePrinter{bus: bus, out: out, l: l}
}

func (p *consolePrinter) Run(ctx context.Context) error {
	ch := p.bus.Subscribe()
	defer p.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Kind != events.KindPrice {
				continue
			}
			var payload struct {
				Full display.Label `json:"full"`
			}
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				p.l.Warn("failed to decode price event", zap.Error(err))
				continue
			}
			fmt.Fprintln(p.out, payload.Full.Terminal())
		}
	}
}
