package kb

import (
	"sort"
	"sync"

	"github.com/signalsfoundry/mote-simulator/core"
	"github.com/signalsfoundry/mote-simulator/model"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventNodeCreated EventType = iota
	EventNodeBooted
	EventNoiseModelBuilt
)

func (t EventType) String() string {
	switch t {
	case EventNodeCreated:
		return "node_created"
	case EventNodeBooted:
		return "node_booted"
	case EventNoiseModelBuilt:
		return "noise_model_built"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type   EventType
	NodeID model.NodeID
	At     timectrl.Ticks
}

// Node is the simulation state of one mote.
type Node struct {
	ID model.NodeID

	// BootTime is when the mote is turned on. BootScheduled is false until a
	// boot time has been set.
	BootTime      timectrl.Ticks
	BootScheduled bool
	Booted        bool

	Noise *core.NoiseModel
}

// Registry is an in-memory, thread-safe store of node state keyed by id.
// Nodes are created implicitly on first access.
type Registry struct {
	mu sync.RWMutex

	nodes map[model.NodeID]*Node

	subs    map[int]func(Event)
	nextSub int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[model.NodeID]*Node),
		subs:  make(map[int]func(Event)),
	}
}

// GetOrCreate returns the node with the given id, creating it if needed.
func (r *Registry) GetOrCreate(id model.NodeID) *Node {
	r.mu.Lock()
	if n, ok := r.nodes[id]; ok {
		r.mu.Unlock()
		return n
	}
	n := &Node{ID: id, Noise: core.NewNoiseModel()}
	r.nodes[id] = n
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs, Event{Type: EventNodeCreated, NodeID: id})
	return n
}

// Get returns the node with the given id, or nil if it was never created.
func (r *Registry) Get(id model.NodeID) *Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[id]
}

// List returns a snapshot of all nodes in ascending id order.
func (r *Registry) List() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		res = append(res, n)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Publish notifies subscribers of an event raised outside the registry
// (boots and noise model builds are driven by the engine).
func (r *Registry) Publish(e Event) {
	r.mu.RLock()
	subs := r.snapshotSubs()
	r.mu.RUnlock()
	notify(subs, e)
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// snapshotSubs copies the subscribers in registration order. Callers hold
// r.mu.
func (r *Registry) snapshotSubs() []func(Event) {
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.subs[id])
	}
	return out
}

// Notify subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), e Event) {
	for _, sub := range subs {
		sub(e)
	}
}
