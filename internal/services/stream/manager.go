package stream

import (
	"container/list"

	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"go.uber.org/zap"
)

// DefaultCapacity bounds the number of concurrently active arcs.
const DefaultCapacity = 64

// ChangeKind what happened to an arc.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeEvicted ChangeKind = "evicted"
	ChangeRemoved ChangeKind = "removed"
)

// Change is emitted to listeners after every mutation.
type Change struct {
	Kind  ChangeKind            `json:"kind"`
	Arc   domain.TransactionArc `json:"arc"`
	Stats domain.StreamStats    `json:"stats"`
}

// Manager owns the active arc set. It is loop-confined: every method must be
// called on the scheduler's loop.
type Manager struct {
	s         loop.Scheduler
	capacity  int
	order     *list.List
	index     map[string]*list.Element
	stats     domain.StreamStats
	listeners []func(Change)
	closed    bool
	l         *zap.Logger
}

// NewManager creates a manager admitting at most capacity arcs.
func NewManager(l *zap.Logger, s loop.Scheduler, capacity int) *Manager {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Manager{
		s:        s,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
		l:        l,
	}
}

// OnChange registers a listener.
func (m *Manager) OnChange(fn func(Change)) {
	m.listeners = append(m.listeners, fn)
}

// Accept admits arc unless its id is already active. When the set is full the
// oldest arc is evicted first.
func (m *Manager) Accept(arc domain.TransactionArc) bool {
	if m.closed {
		return false
	}
	if _, dup := m.index[arc.ID]; dup {
		m.l.Debug("duplicate transaction ignored", zap.String("id", arc.ID))
		return false
	}

	if m.order.Len() >= m.capacity {
		m.evictOldest()
	}

	if arc.CreatedAt.IsZero() {
		arc.CreatedAt = m.s.Now()
	}
	m.index[arc.ID] = m.order.PushBack(arc)
	m.stats.Add(arc)

	m.emit(ChangeAdded, arc)
	return true
}

// Remove drops the arc once the renderer finished animating it. Removing an
// unknown or already removed id is a no-op.
func (m *Manager) Remove(id string) bool {
	if m.closed {
		return false
	}
	el, ok := m.index[id]
	if !ok {
		return false
	}
	arc := m.detach(el)
	m.emit(ChangeRemoved, arc)
	return true
}

// Arcs returns active arcs, oldest first.
func (m *Manager) Arcs() []domain.TransactionArc {
	out := make([]domain.TransactionArc, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(domain.TransactionArc))
	}
	return out
}

// Len returns the number of active arcs.
func (m *Manager) Len() int {
	return m.order.Len()
}

// Capacity returns the configured bound.
func (m *Manager) Capacity() int {
	return m.capacity
}

// Stats returns the rolling counters.
func (m *Manager) Stats() domain.StreamStats {
	return m.stats
}

// Close detaches listeners and ignores further mutations.
func (m *Manager) Close() {
	m.closed = true
	m.listeners = nil
}

func (m *Manager) evictOldest() {
	el := m.order.Front()
	if el == nil {
		return
	}
	arc := m.detach(el)
	m.emit(ChangeEvicted, arc)
}

func (m *Manager) detach(el *list.Element) domain.TransactionArc {
	arc := m.order.Remove(el).(domain.TransactionArc)
	delete(m.index, arc.ID)
	return arc
}

func (m *Manager) emit(kind ChangeKind, arc domain.TransactionArc) {
	c := Change{Kind: kind, Arc: arc, Stats: m.stats}
	for _, fn := range m.listeners {
		fn(c)
	}
}
