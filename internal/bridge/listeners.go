package bridge

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/cube"
	"github.com/muurk/miyo/internal/logging"
)

// CircuitListener is notified about circuit transitions. The api argument
// is the cube the circuit belongs to.
type CircuitListener interface {
	CircuitAdded(api CubeAPI, c cube.Circuit)
	CircuitChanged(api CubeAPI, c cube.Circuit)
	CircuitRemoved(api CubeAPI, c cube.Circuit)
}

// EventType names a circuit transition
type EventType string

const (
	EventAdded   EventType = "added"
	EventChanged EventType = "changed"
	EventRemoved EventType = "removed"
)

// Event is one circuit transition found by a poll
type Event struct {
	Type    EventType
	Circuit cube.Circuit
}

// registry is a copy-on-write set. Readers take a snapshot and iterate it
// without holding the lock.
type registry[T comparable] struct {
	mu    sync.Mutex
	items []T
}

func (r *registry[T]) add(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing == item {
			return false
		}
	}
	next := make([]T, len(r.items), len(r.items)+1)
	copy(next, r.items)
	r.items = append(next, item)
	return true
}

func (r *registry[T]) remove(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.items {
		if existing == item {
			next := make([]T, 0, len(r.items)-1)
			next = append(next, r.items[:i]...)
			r.items = append(next, r.items[i+1:]...)
			return true
		}
	}
	return false
}

func (r *registry[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// RegisterListener adds a listener. It synchronously receives CircuitAdded
// for every circuit already known, and the poll loop is started if it is not
// running yet. Registering the same listener twice has no effect.
func (e *Engine) RegisterListener(l CircuitListener) bool {
	if !e.listeners.add(l) {
		return false
	}

	e.schedule()

	for _, c := range e.Circuits() {
		e.deliver(l, Event{Type: EventAdded, Circuit: c})
	}
	return true
}

// UnregisterListener removes a listener
func (e *Engine) UnregisterListener(l CircuitListener) bool {
	return e.listeners.remove(l)
}

// ListenerCount returns the number of registered listeners
func (e *Engine) ListenerCount() int {
	return e.listeners.len()
}

// AddStatusHandler adds a receiver for connection state signals
func (e *Engine) AddStatusHandler(h StatusHandler) {
	e.statusHandlers.add(h)
}

// AddPollObserver adds a receiver for poll cycle results
func (e *Engine) AddPollObserver(o PollObserver) {
	e.pollObservers.add(o)
}

// notify delivers events, in order, to every registered listener
func (e *Engine) notify(events []Event) {
	listeners := e.listeners.snapshot()
	for _, ev := range events {
		logging.LogCircuitEvent(e.api.IP(), string(ev.Type), ev.Circuit.NormalizedID)
		for _, l := range listeners {
			e.deliver(l, ev)
		}
	}
}

// deliver calls one listener. A panicking listener is logged and skipped.
func (e *Engine) deliver(l CircuitListener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Circuit listener panic recovered",
				zap.String("event", string(ev.Type)),
				zap.String("circuit_id", ev.Circuit.NormalizedID),
				zap.String("listener", fmt.Sprintf("%T", l)),
				zap.Any("panic", r),
			)
		}
	}()

	switch ev.Type {
	case EventAdded:
		l.CircuitAdded(e.api, ev.Circuit)
	case EventChanged:
		l.CircuitChanged(e.api, ev.Circuit)
	case EventRemoved:
		l.CircuitRemoved(e.api, ev.Circuit)
	}
}

func (e *Engine) signalConnectionLost() {
	for _, h := range e.statusHandlers.snapshot() {
		e.safely("connection_lost", func() { h.ConnectionLost(e.api) })
	}
}

func (e *Engine) signalAuthenticationRequired(reason AuthReason) {
	for _, h := range e.statusHandlers.snapshot() {
		e.safely("authentication_required", func() { h.AuthenticationRequired(e.api, reason) })
	}
}

func (e *Engine) signalConnectionResumed() {
	for _, h := range e.statusHandlers.snapshot() {
		e.safely("connection_resumed", func() { h.ConnectionResumed(e.api) })
	}
}

func (e *Engine) safely(signal string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Status handler panic recovered",
				zap.String("signal", signal),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}
