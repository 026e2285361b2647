// Package bridge keeps an in-memory mirror of the circuits of one MIYO cube
// and reports every transition to registered listeners.
//
// An Engine polls its cube with a fixed delay between cycles, diffs each
// listing against the previous one and emits CircuitAdded, CircuitChanged
// and CircuitRemoved exactly once per observed transition. Circuits in
// winter mode are reported as changed on every poll.
//
// # Connection state
//
// The engine moves between Disconnected, Authenticating and Connected:
//
//   - A configured token lets a cycle resume optimistically; the listing
//     that follows verifies it.
//   - A rejected token triggers a reachability probe with a credential the
//     cube always refuses. A transport failure means the cube is gone
//     (ConnectionLost); any answer means it is up but we are not
//     authenticated (AuthenticationRequired).
//   - Any other failed listing, including an error reported by the cube,
//     moves a connected engine to Disconnected with ConnectionLost.
//
// Resuming makes no network call, so the client holds no session on the
// first cycle. That cycle's listing is refused, the probe reports
// AuthenticationRequired and the recovery step then authenticates with the
// configured token (ConnectionResumed). Status consumers see this pair on
// every start, and the first cycle mirrors no circuits.
//   - Every cycle that ends disconnected runs the recovery step: pairing
//     when no token is configured, authenticating otherwise.
//
// # Usage
//
//	client := cube.NewClient("192.168.1.50")
//	engine := bridge.New(client, bridge.Config{Username: token})
//	engine.AddStatusHandler(statusLog)
//	engine.RegisterListener(publisher) // starts polling
//	defer engine.Stop()
//
// Listener and status handler panics are recovered and logged; one failing
// listener does not keep the others from being notified.
package bridge
