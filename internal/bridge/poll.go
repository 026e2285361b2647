package bridge

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/cube"
)

// Poll runs one poll cycle. Cycles never overlap: a call made while another
// cycle is in flight waits for it.
func (e *Engine) Poll(ctx context.Context) {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	start := time.Now()
	err := e.cycle(ctx)
	elapsed := time.Since(start)

	for _, o := range e.pollObservers.snapshot() {
		e.safely("poll_completed", func() { o.PollCompleted(e.api, err, elapsed) })
	}
}

func (e *Engine) cycle(ctx context.Context) error {
	e.mu.Lock()
	first := !e.polled
	e.polled = true
	e.mu.Unlock()

	resumed := false
	if e.State() != Connected {
		resumed = e.tryResume()
	}

	pollErr := ErrNotConnected
	if e.State() == Connected {
		circuits, err := e.api.ListCircuits(ctx)
		if err == nil {
			if resumed {
				e.signalConnectionResumed()
			}
			e.notify(e.reconcile(circuits))
			pollErr = nil
		} else {
			pollErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.handlePollError(ctx, err, first)
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if e.State() != Connected {
		e.onNotAuthenticated(ctx)
	}

	return pollErr
}

// tryResume optimistically marks the engine connected when a token is
// configured. The resumption is signalled once the following listing
// succeeds.
func (e *Engine) tryResume() bool {
	if e.Username() == "" {
		e.logger.Warn("API token for cube authentication not available in configuration")
		e.signalAuthenticationRequired(ReasonNoUsername)
		return false
	}

	e.logger.Debug("Resuming cube connection")
	e.setState(Connected)
	return true
}

// handlePollError drives the state machine after a failed listing
func (e *Engine) handlePollError(ctx context.Context, err error, first bool) {
	wasConnected := e.State() == Connected

	if cube.IsUnauthorizedError(err) || cube.IsStateError(err) {
		if e.isReachable(ctx) {
			e.logger.Debug("Cube reachable but not authenticated", zap.Error(err))
			e.setState(Authenticating)
			e.signalAuthenticationRequired(ReasonUnauthorized)
			return
		}

		e.setState(Disconnected)
		if wasConnected || first {
			e.logger.Info("Connection to cube lost", zap.Error(err))
			e.signalConnectionLost()
		}
		return
	}

	e.setState(Disconnected)
	if wasConnected {
		e.logger.Info("Connection to cube lost", zap.Error(err))
		e.signalConnectionLost()
	}
}

// isReachable authenticates with a credential the cube is known to reject.
// Only a transport failure means the cube cannot be reached.
func (e *Engine) isReachable(ctx context.Context) bool {
	e.authMu.Lock()
	defer e.authMu.Unlock()

	err := e.api.Authenticate(ctx, probeCredential)
	return !cube.IsTransportError(err)
}

// reconcile stores the new snapshots and returns the transitions against the
// previous table: additions and changes in listing order, then removals
// sorted by id. A winterized circuit counts as changed on every poll.
func (e *Engine) reconcile(circuits []cube.Circuit) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := make(map[string]cube.Circuit, len(e.circuits))
	for id, c := range e.circuits {
		remaining[id] = c
	}

	seen := make(map[string]bool, len(circuits))
	var events []Event

	for _, c := range circuits {
		id := c.NormalizedID
		if seen[id] {
			e.logger.Warn("Duplicate circuit id in listing", zap.String("circuit_id", id))
			continue
		}
		seen[id] = true

		last, known := remaining[id]
		e.circuits[id] = c
		if !known {
			events = append(events, Event{Type: EventAdded, Circuit: c})
			continue
		}

		delete(remaining, id)
		if !cube.Equal(last, c) || c.WinterMode {
			events = append(events, Event{Type: EventChanged, Circuit: c})
		}
	}

	removed := make([]string, 0, len(remaining))
	for id := range remaining {
		removed = append(removed, id)
	}
	sort.Strings(removed)

	for _, id := range removed {
		delete(e.circuits, id)
		events = append(events, Event{Type: EventRemoved, Circuit: remaining[id]})
	}

	return events
}
