// Package engine is a small discrete-event simulator for wireless sensor
// networks. It owns the simulated clock, the event queue, every node handle,
// the radio gain table and the debug channels of one run.
//
// An engine is driven one event at a time through RunNextEvent. When the
// queue is empty the clock still moves forward by the idle step, so a loop
// that waits for a time horizon always terminates.
package engine

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/signalsfoundry/mote-simulator/core"
	"github.com/signalsfoundry/mote-simulator/internal/logging"
	"github.com/signalsfoundry/mote-simulator/kb"
	"github.com/signalsfoundry/mote-simulator/model"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

var (
	ErrAlreadyInitialized   = errors.New("engine already initialized")
	ErrEngineNotInitialized = errors.New("engine not initialized")
)

// Frame outcomes reported to the MetricsRecorder.
const (
	OutcomeSent      = "sent"
	OutcomeDelivered = "delivered"
	OutcomeBroadcast = "broadcast_received"
	OutcomeCollided  = "collided"
	OutcomeLost      = "lost"
	OutcomeBusy      = "channel_busy"
	OutcomeAcked     = "acked"
)

// MetricsRecorder receives engine activity. observability.SimCollector
// implements it.
type MetricsRecorder interface {
	RecordEvent(now timectrl.Ticks, pending int)
	RecordFrame(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordEvent(timectrl.Ticks, int) {}
func (noopRecorder) RecordFrame(string)              {}

// Application is the software running on every mote.
type Application interface {
	// Booted runs when the node is turned on.
	Booted(n *Node)
	// Receive runs for every frame delivered to the node.
	Receive(n *Node, f *model.Frame)
	// SendDone runs when a Send completes. err is non-nil when the frame
	// never made it on air; acked reports the link-layer acknowledgement.
	SendDone(n *Node, f *model.Frame, err error, acked bool)
}

// AppFactory builds the application for one node.
type AppFactory func(id model.NodeID) Application

// Stats counts engine activity over a run.
type Stats struct {
	EventsProcessed int `yaml:"events_processed"`
	IdleAdvances    int `yaml:"idle_advances"`
	FramesSent      int `yaml:"frames_sent"`
	// FramesDelivered counts unicast frames accepted by their destination,
	// so it never exceeds FramesSent. A broadcast is counted once per
	// receiver in BroadcastsReceived.
	FramesDelivered    int `yaml:"frames_delivered"`
	BroadcastsReceived int `yaml:"broadcasts_received"`
	// FramesCollided counts corrupted receptions at addressed nodes;
	// CollisionsByAM splits it by active-message type.
	FramesCollided int                  `yaml:"frames_collided"`
	CollisionsByAM map[model.AMType]int `yaml:"collisions_by_am,omitempty"`
	FramesLost     int                  `yaml:"frames_lost"`
	ChannelBusy    int                  `yaml:"channel_busy"`
	Acks           int                  `yaml:"acks"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed seeds the engine's random source.
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithIdleStep sets how far the clock moves when RunNextEvent finds the
// queue empty. Non-positive values are ignored.
func WithIdleStep(step timectrl.Ticks) Option {
	return func(e *Engine) {
		if step > 0 {
			e.idleStep = step
		}
	}
}

// WithApplication installs an application on every node.
func WithApplication(f AppFactory) Option {
	return func(e *Engine) { e.apps = f }
}

// WithPacer attaches a pacer to the simulated clock.
func WithPacer(p *timectrl.Pacer) Option {
	return func(e *Engine) {
		if p != nil {
			p.Attach(e.clock)
		}
	}
}

// Engine is one simulation context.
type Engine struct {
	clock    *timectrl.Clock
	queue    *eventQueue
	registry *kb.Registry
	radio    *core.RadioModel
	mac      *core.MACParams
	channels *logging.Channels

	rng      *rand.Rand
	log      logging.Logger
	metrics  MetricsRecorder
	idleStep timectrl.Ticks
	apps     AppFactory

	mu          sync.Mutex
	handles     map[model.NodeID]*Node
	initialized bool
	stats       Stats
}

// New constructs an engine with its MAC and radio models at their defaults.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:    timectrl.NewClock(0),
		queue:    newEventQueue(),
		registry: kb.NewRegistry(),
		radio:    core.NewRadioModel(),
		mac:      core.NewMACParams(),
		channels: logging.NewChannels(),
		log:      logging.Noop(),
		metrics:  noopRecorder{},
		idleStep: timectrl.TicksPerSecond,
		handles:  make(map[model.NodeID]*Node),
	}
	WithSeed(1)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MAC returns the MAC parameters; callers may modify them before Init.
func (e *Engine) MAC() *core.MACParams { return e.mac }

// Radio returns the radio connectivity model.
func (e *Engine) Radio() *core.RadioModel { return e.radio }

// Registry returns the node registry.
func (e *Engine) Registry() *kb.Registry { return e.registry }

// Channels returns the debug channel registry.
func (e *Engine) Channels() *logging.Channels { return e.channels }

// Clock exposes the simulated clock.
func (e *Engine) Clock() *timectrl.Clock { return e.clock }

// Init prepares the engine for a run. It may be called once.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return ErrAlreadyInitialized
	}
	e.initialized = true
	e.log.Debug(context.Background(), "engine initialized",
		logging.Int64("ticks_per_second", int64(timectrl.TicksPerSecond)),
		logging.Int64("idle_step", int64(e.idleStep)),
	)
	return nil
}

// Initialized reports whether Init has run.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// AddChannel binds a named debug channel to w.
func (e *Engine) AddChannel(name string, w io.Writer) { e.channels.Add(name, w) }

// RemoveChannel unbinds w from a named debug channel.
func (e *Engine) RemoveChannel(name string, w io.Writer) bool { return e.channels.Remove(name, w) }

// GetNode returns the handle of node id, creating the node on first use.
func (e *Engine) GetNode(id model.NodeID) *Node {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.handles[id]; ok {
		return h
	}
	h := &Node{engine: e, state: e.registry.GetOrCreate(id)}
	if e.apps != nil {
		h.app = e.apps(id)
	}
	e.handles[id] = h
	return h
}

// Nodes returns every node handle in ascending id order.
func (e *Engine) Nodes() []*Node {
	states := e.registry.List()
	out := make([]*Node, 0, len(states))
	for _, s := range states {
		out = append(out, e.GetNode(s.ID))
	}
	return out
}

// Time returns the current simulated time.
func (e *Engine) Time() timectrl.Ticks { return e.clock.Now() }

// TicksPerSecond returns the number of ticks in one simulated second.
func (e *Engine) TicksPerSecond() timectrl.Ticks { return timectrl.TicksPerSecond }

// Schedule registers f to run at simulated time at. Times in the past run at
// the current time.
func (e *Engine) Schedule(at timectrl.Ticks, f func()) string {
	if now := e.clock.Now(); at < now {
		at = now
	}
	return e.queue.schedule(at, f)
}

// Cancel cancels a scheduled event and reports whether it was still pending.
func (e *Engine) Cancel(id string) bool { return e.queue.cancel(id) }

// PendingEvents returns the number of events in the queue.
func (e *Engine) PendingEvents() int { return e.queue.pending() }

// NextEventTime returns the time of the earliest pending event.
func (e *Engine) NextEventTime() (timectrl.Ticks, bool) { return e.queue.peekTime() }

// RunNextEvent runs the earliest pending event and reports true. When the
// queue is empty it advances the clock by the idle step and reports false.
// An uninitialized engine neither runs events nor advances.
func (e *Engine) RunNextEvent() bool {
	if !e.Initialized() {
		return false
	}

	ev := e.queue.pop()
	if ev == nil {
		e.clock.AdvanceTo(e.clock.Now() + e.idleStep)
		e.mu.Lock()
		e.stats.IdleAdvances++
		e.mu.Unlock()
		return false
	}

	e.clock.AdvanceTo(ev.at)
	if ev.f != nil {
		ev.f()
	}

	e.mu.Lock()
	e.stats.EventsProcessed++
	e.mu.Unlock()
	e.metrics.RecordEvent(ev.at, e.queue.pending())
	return true
}

// RunUntil runs events until the clock passes t and returns how many ran.
func (e *Engine) RunUntil(t timectrl.Ticks) (int, error) {
	if !e.Initialized() {
		return 0, ErrEngineNotInitialized
	}
	ran := 0
	for e.Time() <= t {
		if e.RunNextEvent() {
			ran++
		}
	}
	return ran, nil
}

// Stats returns a snapshot of the run counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	if e.stats.CollisionsByAM != nil {
		st.CollisionsByAM = make(map[model.AMType]int, len(e.stats.CollisionsByAM))
		for am, c := range e.stats.CollisionsByAM {
			st.CollisionsByAM[am] = c
		}
	}
	return st
}

func (e *Engine) count(outcome string) {
	e.mu.Lock()
	switch outcome {
	case OutcomeSent:
		e.stats.FramesSent++
	case OutcomeDelivered:
		e.stats.FramesDelivered++
	case OutcomeBroadcast:
		e.stats.BroadcastsReceived++
	case OutcomeCollided:
		e.stats.FramesCollided++
	case OutcomeLost:
		e.stats.FramesLost++
	case OutcomeBusy:
		e.stats.ChannelBusy++
	case OutcomeAcked:
		e.stats.Acks++
	}
	e.mu.Unlock()
	e.metrics.RecordFrame(outcome)
}

func (e *Engine) countCollision(am model.AMType) {
	e.mu.Lock()
	if e.stats.CollisionsByAM == nil {
		e.stats.CollisionsByAM = make(map[model.AMType]int)
	}
	e.stats.CollisionsByAM[am]++
	e.mu.Unlock()
	e.count(OutcomeCollided)
}

// handle returns the node handle for id without creating it.
func (e *Engine) handle(id model.NodeID) *Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[id]
}
