package price

import (
	"time"

	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/loop"
)

// DefaultFlashDecay how long a directional flash stays visible.
const DefaultFlashDecay = 600 * time.Millisecond

// Flash tracks the transient up/down signal after a price change.
// It is loop-confined and owns at most one pending reset timer.
type Flash struct {
	s        loop.Scheduler
	decay    time.Duration
	state    domain.FlashState
	timer    loop.Timer
	onChange func(domain.FlashState)
}

// NewFlash creates a tracker. onChange may be nil.
func NewFlash(s loop.Scheduler, decay time.Duration, onChange func(domain.FlashState)) *Flash {
	if decay <= 0 {
		decay = DefaultFlashDecay
	}
	return &Flash{
		s:        s,
		decay:    decay,
		state:    domain.FlashState{Direction: domain.FlashNone},
		onChange: onChange,
	}
}

// Trigger shows dir and (re)arms the reset. A newer change supersedes the
// pending reset of an older one.
func (f *Flash) Trigger(dir domain.FlashDirection) {
	if dir == domain.FlashNone {
		return
	}
	f.stopTimer()

	f.state = domain.FlashState{Direction: dir, ExpiresAt: f.s.Now().Add(f.decay)}
	f.notify()

	f.timer = f.s.AfterFunc(f.decay, func() {
		f.timer = nil
		f.state = domain.FlashState{Direction: domain.FlashNone}
		f.notify()
	})
}

// State returns the current flash.
func (f *Flash) State() domain.FlashState {
	return f.state
}

// Stop clears the flash and its timer without notifying.
func (f *Flash) Stop() {
	f.stopTimer()
	f.state = domain.FlashState{Direction: domain.FlashNone}
	f.onChange = nil
}

func (f *Flash) stopTimer() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Flash) notify() {
	if f.onChange != nil {
		f.onChange(f.state)
	}
}
