// Package loop provides the single-threaded execution model shared by the
// visualization components. Component state is only touched on the loop
// goroutine; I/O runs elsewhere and posts its completion back to the loop.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrClosed is returned by Call when the loop stopped before running the function.
var ErrClosed = errors.New("loop is closed")

// Scheduler is the contract components depend on.
type Scheduler interface {
	// Post enqueues fn to run on the loop. Safe to call from any goroutine.
	Post(fn func())
	// Go runs fn off the loop. fn must not touch loop-confined state directly.
	Go(fn func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Now returns the scheduler clock.
	Now() time.Time
}

// Timer is a one-shot timer created by AfterFunc.
// Stop must be called on the loop; once it returns true fn will never run.
type Timer interface {
	Stop() bool
}

// Loop is a Scheduler backed by a single goroutine draining an unbounded queue.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	l       *zap.Logger
}

// New creates a loop. Run must be called to start processing.
func New(l *zap.Logger) *Loop {
	if l == nil {
		l = zap.NewNop()
	}
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		l:    l,
	}
}

// Post enqueues fn. Functions posted after the loop stopped are dropped.
func (lp *Loop) Post(fn func()) {
	lp.mu.Lock()
	if lp.stopped {
		lp.mu.Unlock()
		return
	}
	lp.pending = append(lp.pending, fn)
	lp.mu.Unlock()

	select {
	case lp.wake <- struct{}{}:
	default:
	}
}

// Go runs fn on a new goroutine.
func (lp *Loop) Go(fn func()) {
	go fn()
}

// Now returns wall clock time.
func (lp *Loop) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules fn on the loop after d.
func (lp *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		lp.Post(func() {
			if lt.stopped {
				return
			}
			lt.stopped = true
			fn()
		})
	})
	return lt
}

// Done is closed once Run returned.
func (lp *Loop) Done() <-chan struct{} {
	return lp.done
}

// Run processes posted functions until ctx is cancelled.
func (lp *Loop) Run(ctx context.Context) error {
	defer close(lp.done)
	for {
		select {
		case <-ctx.Done():
			lp.mu.Lock()
			lp.stopped = true
			lp.pending = nil
			lp.mu.Unlock()
			return ctx.Err()
		case <-lp.wake:
			for {
				batch := lp.take()
				if len(batch) == 0 {
					break
				}
				for _, fn := range batch {
					lp.exec(fn)
				}
			}
		}
	}
}

func (lp *Loop) take() []func() {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	batch := lp.pending
	lp.pending = nil
	return batch
}

func (lp *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			lp.l.Error("loop task panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

type loopTimer struct {
	t       *time.Timer
	stopped bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.t.Stop()
	return true
}

// Call runs fn on the loop and waits for its result.
func Call[T any](ctx context.Context, s Scheduler, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	s.Post(func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	})

	var done <-chan struct{}
	if d, ok := s.(interface{ Done() <-chan struct{} }); ok {
		done = d.Done()
	}

	var zero T
	select {
	case r := <-ch:
		return r.v, r.err
	case <-done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Async runs fetch off the loop and hands its result to done on the loop.
func Async[T any](s Scheduler, fetch func() (T, error), done func(T, error)) {
	s.Go(func() {
		v, err := fetch()
		s.Post(func() { done(v, err) })
	})
}
