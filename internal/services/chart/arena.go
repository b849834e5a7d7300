package chart

import (
	"github.com/pkg/errors"
)

// ErrContainerBusy is returned when binding to a container that still holds a widget.
var ErrContainerBusy = errors.New("chart container already has a bound widget")

// Arena holds at most one widget handle per container. Loop-confined.
type Arena struct {
	bound map[string]Widget
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{bound: make(map[string]Widget)}
}

// Bind attaches w to container. The container must be released first.
func (a *Arena) Bind(container string, w Widget) error {
	if cur, ok := a.bound[container]; ok {
		return errors.Wrapf(ErrContainerBusy, "container %s holds %s", container, cur.ID())
	}
	a.bound[container] = w
	return nil
}

// Release destroys and detaches the widget bound to container, if any.
// The container is free afterwards even when Destroy fails.
func (a *Arena) Release(container string) error {
	w, ok := a.bound[container]
	if !ok {
		return nil
	}
	delete(a.bound, container)
	return errors.Wrapf(w.Destroy(), "destroy widget %s", w.ID())
}

// Bound returns the widget attached to container.
func (a *Arena) Bound(container string) (Widget, bool) {
	w, ok := a.bound[container]
	return w, ok
}

// Len returns the number of bound containers.
func (a *Arena) Len() int {
	return len(a.bound)
}
