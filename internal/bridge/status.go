package bridge

import (
	"fmt"
	"time"
)

// State is the connection state of an engine towards its cube
type State int

const (
	// Disconnected means the cube is unreachable or no usable token is known
	Disconnected State = iota
	// Authenticating means the cube answers but rejected the current token
	Authenticating
	// Connected means circuit listings succeed
	Connected
)

// String returns a human-readable name for the state
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Authenticating:
		return "authenticating"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// AuthReason explains why an engine reports that authentication is required
type AuthReason int

const (
	// ReasonUnauthorized means the cube is reachable but rejected the token
	ReasonUnauthorized AuthReason = iota
	// ReasonNoUsername means no token is configured for the cube
	ReasonNoUsername
	// ReasonPressPairingButton means a link attempt ran before the button was pressed
	ReasonPressPairingButton
	// ReasonFailedCreatingUser means a link attempt failed for another reason
	ReasonFailedCreatingUser
	// ReasonInvalidUsername means the configured token was rejected
	ReasonInvalidUsername
)

// String returns a short machine-friendly name for the reason
func (r AuthReason) String() string {
	switch r {
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonNoUsername:
		return "no_username"
	case ReasonPressPairingButton:
		return "press_pairing_button"
	case ReasonFailedCreatingUser:
		return "failed_creating_user"
	case ReasonInvalidUsername:
		return "invalid_username"
	default:
		return fmt.Sprintf("AuthReason(%d)", r)
	}
}

// Message returns the user-facing description of the reason
func (r AuthReason) Message() string {
	switch r {
	case ReasonUnauthorized:
		return "cube rejected the API token"
	case ReasonNoUsername:
		return "no API token configured for the cube"
	case ReasonPressPairingButton:
		return "press the pairing button on the cube"
	case ReasonFailedCreatingUser:
		return "error creating API token"
	case ReasonInvalidUsername:
		return "configured API token is invalid; remove it to pair again"
	default:
		return r.String()
	}
}

// StatusHandler receives connection state signals. Handlers are called from
// the poll goroutine and must not block for long.
type StatusHandler interface {
	ConnectionLost(api CubeAPI)
	AuthenticationRequired(api CubeAPI, reason AuthReason)
	ConnectionResumed(api CubeAPI)
}

// PollObserver is told about every completed poll cycle. err is nil when the
// circuit listing succeeded.
type PollObserver interface {
	PollCompleted(api CubeAPI, err error, elapsed time.Duration)
}

// TokenStore persists a token obtained by pairing
type TokenStore interface {
	SaveToken(cubeIP, token string) error
}

// TokenStoreFunc adapts a function to TokenStore
type TokenStoreFunc func(cubeIP, token string) error

// SaveToken calls f(cubeIP, token)
func (f TokenStoreFunc) SaveToken(cubeIP, token string) error {
	return f(cubeIP, token)
}
