package timectrl

import (
	"sync"
	"time"
)

// Ticks is the engine's smallest unit of simulated time.
type Ticks int64

// TicksPerSecond is the number of ticks in one simulated second.
const TicksPerSecond Ticks = 10_000_000_000

// Seconds converts a tick count to simulated seconds.
func Seconds(t Ticks) float64 {
	return float64(t) / float64(TicksPerSecond)
}

// FromSeconds converts simulated seconds to ticks, truncating.
func FromSeconds(s float64) Ticks {
	return Ticks(s * float64(TicksPerSecond))
}

// FromDuration converts a wall-clock style duration to ticks.
func FromDuration(d time.Duration) Ticks {
	return Ticks(d) * (TicksPerSecond / Ticks(time.Second))
}

// Duration converts ticks to a time.Duration, rounding down to nanoseconds.
func (t Ticks) Duration() time.Duration {
	return time.Duration(t / (TicksPerSecond / Ticks(time.Second)))
}

// SimClock is the read side of the simulated clock. Components that only
// need the current time (the application layer, metrics) depend on this
// rather than on the concrete Clock.
type SimClock interface {
	Now() Ticks
}

// Clock holds the current simulated time and notifies listeners whenever it
// moves forward. It never runs backwards.
type Clock struct {
	mu  sync.RWMutex
	now Ticks

	listeners []func(Ticks)
}

// NewClock constructs a clock starting at start.
func NewClock(start Ticks) *Clock {
	return &Clock{now: start}
}

// Now returns the current simulation time. Implements SimClock.
func (c *Clock) Now() Ticks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// AdvanceTo moves the clock to t. Requests to move backwards are ignored and
// report false.
func (c *Clock) AdvanceTo(t Ticks) bool {
	c.mu.Lock()
	if t < c.now {
		c.mu.Unlock()
		return false
	}
	moved := t > c.now
	c.now = t
	listeners := append([]func(Ticks){}, c.listeners...)
	c.mu.Unlock()

	if moved {
		for _, fn := range listeners {
			fn(t)
		}
	}
	return true
}

// AddListener registers a callback invoked every time the clock moves forward.
func (c *Clock) AddListener(fn func(Ticks)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Mode describes how a Pacer relates simulated time to wall-clock time.
type Mode int

const (
	// Accelerated runs events as fast as the loop can go.
	Accelerated Mode = iota
	// RealTime sleeps so that simulated time never outruns wall-clock time.
	RealTime
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	default:
		return "accelerated"
	}
}

// Pacer throttles a run loop in RealTime mode. It is attached to a Clock as a
// listener.
type Pacer struct {
	Mode Mode

	start     time.Time
	startTick Ticks
	sleep     func(time.Duration)
	now       func() time.Time
}

// NewPacer constructs a pacer anchored at the given simulated time.
func NewPacer(mode Mode, origin Ticks) *Pacer {
	return &Pacer{
		Mode:      mode,
		start:     time.Now(),
		startTick: origin,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Wait blocks until wall-clock time has caught up with simulated time t.
// It returns immediately in Accelerated mode.
func (p *Pacer) Wait(t Ticks) {
	if p == nil || p.Mode != RealTime {
		return
	}
	target := p.start.Add((t - p.startTick).Duration())
	if d := target.Sub(p.now()); d > 0 {
		p.sleep(d)
	}
}

// Attach registers the pacer on the clock.
func (p *Pacer) Attach(c *Clock) {
	c.AddListener(p.Wait)
}
