package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/mote-simulator/timectrl"
)

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	at        timectrl.Ticks
	f         func()
	cancelled bool
}

// eventQueue stores callbacks ordered by simulated time. Events scheduled for
// the same instant run in the order they were scheduled.
type eventQueue struct {
	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by 'at' (earliest first)
	index   map[string]*scheduledEvent
}

func newEventQueue() *eventQueue {
	return &eventQueue{index: make(map[string]*scheduledEvent)}
}

// schedule registers f to run at simulated time at and returns an ID that
// can be passed to cancel.
func (q *eventQueue) schedule(at timectrl.Ticks, f func()) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.counter++
	ev := &scheduledEvent{
		id: fmt.Sprintf("ev-%d", q.counter),
		at: at,
		f:  f,
	}

	// Insert after every event at the same time to keep FIFO order.
	idx := sort.Search(len(q.events), func(i int) bool {
		return q.events[i].at > ev.at
	})
	q.events = append(q.events, nil)
	copy(q.events[idx+1:], q.events[idx:])
	q.events[idx] = ev

	q.index[ev.id] = ev
	return ev.id
}

// cancel marks an event as cancelled. It is a no-op if the ID is unknown or
// the event already ran. Removal from the slice is lazy.
func (q *eventQueue) cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ev, ok := q.index[id]
	if !ok {
		return false
	}
	ev.cancelled = true
	delete(q.index, id)
	return true
}

// pop removes and returns the earliest live event, or nil when the queue is
// empty.
func (q *eventQueue) pop() *scheduledEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.events) > 0 {
		ev := q.events[0]
		q.events[0] = nil
		q.events = q.events[1:]
		if ev.cancelled {
			continue
		}
		delete(q.index, ev.id)
		return ev
	}
	return nil
}

// pending returns the number of live events.
func (q *eventQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// peekTime returns the time of the earliest live event.
func (q *eventQueue) peekTime() (timectrl.Ticks, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ev := range q.events {
		if !ev.cancelled {
			return ev.at, true
		}
	}
	return 0, false
}
