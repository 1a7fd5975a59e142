package engine

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/signalsfoundry/mote-simulator/core"
	"github.com/signalsfoundry/mote-simulator/internal/logging"
	"github.com/signalsfoundry/mote-simulator/kb"
	"github.com/signalsfoundry/mote-simulator/model"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

var (
	ErrNodeOff     = errors.New("node is not booted")
	ErrSendBusy    = errors.New("node already has a frame in flight")
	ErrChannelBusy = errors.New("channel busy: CSMA gave up")
)

// Node is the handle for one simulated mote.
type Node struct {
	engine *Engine
	state  *kb.Node
	app    Application

	bootEvent string

	// radio state
	txUntil    timectrl.Ticks
	sending    bool
	receptions []*reception
	// navUntil is the end of the latest channel reservation n overheard.
	navUntil timectrl.Ticks
}

// ID returns the node's identifier.
func (n *Node) ID() model.NodeID { return n.state.ID }

// BootTime returns the scheduled boot time, and whether one was set.
func (n *Node) BootTime() (timectrl.Ticks, bool) { return n.state.BootTime, n.state.BootScheduled }

// IsOn reports whether the node has booted.
func (n *Node) IsOn() bool { return n.state.Booted }

// Now returns the current simulated time.
func (n *Node) Now() timectrl.Ticks { return n.engine.Time() }

// Rand returns the engine's random source.
func (n *Node) Rand() *rand.Rand { return n.engine.rng }

// MAC returns the engine's MAC parameters.
func (n *Node) MAC() *core.MACParams { return n.engine.mac }

// BootAtTime schedules the node to turn on at t. Setting a new time replaces
// a boot that has not happened yet.
func (n *Node) BootAtTime(t timectrl.Ticks) {
	if n.bootEvent != "" {
		n.engine.Cancel(n.bootEvent)
	}
	n.state.BootTime = t
	n.state.BootScheduled = true
	n.bootEvent = n.engine.Schedule(t, n.boot)
}

func (n *Node) boot() {
	n.bootEvent = ""
	if n.state.Booted {
		return
	}
	n.state.Booted = true
	now := n.engine.Time()
	n.engine.registry.Publish(kb.Event{Type: kb.EventNodeBooted, NodeID: n.ID(), At: now})
	n.Dbg("init", "Node %d turned on at %.3f [sec]", n.ID(), timectrl.Seconds(now))
	if n.app != nil {
		n.app.Booted(n)
	}
}

// AddNoiseTraceReading appends one noise trace reading in dBm.
func (n *Node) AddNoiseTraceReading(dbm int) error {
	return n.state.Noise.AddReading(dbm)
}

// NoiseReadings returns the number of readings accumulated so far.
func (n *Node) NoiseReadings() int { return n.state.Noise.Readings() }

// CreateNoiseModel builds the node's noise model from the readings fed so
// far. It may run once per node.
func (n *Node) CreateNoiseModel() error {
	if err := n.state.Noise.Build(); err != nil {
		return err
	}
	n.engine.registry.Publish(kb.Event{Type: kb.EventNoiseModelBuilt, NodeID: n.ID(), At: n.engine.Time()})
	return nil
}

// NoiseModel exposes the node's noise model.
func (n *Node) NoiseModel() *core.NoiseModel { return n.state.Noise }

// Noise draws a noise sample at the node. Nodes whose model was never built
// sit at the default noise floor.
func (n *Node) Noise() float64 {
	v, err := n.state.Noise.Sample(n.engine.rng)
	if err != nil {
		return core.DefaultNoiseFloorDBm
	}
	return v
}

// Dbg writes to a named debug channel on behalf of this node.
func (n *Node) Dbg(channel, format string, args ...any) {
	n.engine.channels.Printf(channel, int(n.ID()), format, args...)
}

// After runs f after delay simulated ticks, if the node is still on. It
// returns a timer ID for CancelTimer.
func (n *Node) After(delay timectrl.Ticks, f func()) string {
	return n.engine.Schedule(n.engine.Time()+delay, func() {
		if n.state.Booted {
			f()
		}
	})
}

// CancelTimer cancels a timer started with After.
func (n *Node) CancelTimer(id string) bool { return n.engine.Cancel(id) }

// Send queues a frame for transmission using CSMA. Completion is reported
// through Application.SendDone.
func (n *Node) Send(f *model.Frame) error {
	if !n.state.Booted {
		return ErrNodeOff
	}
	if n.sending {
		return ErrSendBusy
	}
	f.Src = n.ID()
	n.sending = true
	n.After(n.engine.mac.Backoff(n.engine.rng, 0), func() { n.engine.csmaAttempt(n, f, 0) })
	return nil
}

// Reserve holds n's transmissions for d ticks because another exchange owns
// the channel. Frames already queued wait for the reservation to end before
// sensing the channel. Overlapping reservations end at the latest one.
func (n *Node) Reserve(d timectrl.Ticks) {
	if until := n.engine.Time() + d; until > n.navUntil {
		n.navUntil = until
	}
}

// ReservedUntil returns the end of the node's current reservation, or a time
// in the past when there is none.
func (n *Node) ReservedUntil() timectrl.Ticks { return n.navUntil }

// Sending reports whether a frame is in flight.
func (n *Node) Sending() bool { return n.sending }

func (n *Node) logger() logging.Logger {
	return n.engine.log.With(logging.Int("node", int(n.ID())))
}

func (n *Node) sendDone(f *model.Frame, err error, acked bool) {
	n.sending = false
	if err != nil {
		n.logger().Debug(context.Background(), "send failed", logging.Err(err))
	}
	if n.app != nil {
		n.app.SendDone(n, f, err, acked)
	}
}
