package cube

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// Error types for cube API operations

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeTransport indicates a network-level failure (timeout, refused, unreachable)
	ErrTypeTransport ErrorType = iota
	// ErrTypeAPI indicates the cube answered but reported an application failure
	ErrTypeAPI
	// ErrTypeUnauthorized indicates the cube rejected the API token
	ErrTypeUnauthorized
	// ErrTypePairingNotConfirmed indicates a link attempt before the pairing button was pressed
	ErrTypePairingNotConfirmed
	// ErrTypeIrrigation indicates the cube refused an irrigation command
	ErrTypeIrrigation
	// ErrTypeNotAuthenticated indicates a call that needs a token was made without one
	ErrTypeNotAuthenticated
	// ErrTypeAlreadyLinked indicates a link attempt on an already authenticated session
	ErrTypeAlreadyLinked
)

// Sentinels for errors.Is checks. A *DeviceError matches the sentinel of its Type.
var (
	ErrTransport           = errors.New("cube: transport failure")
	ErrAPI                 = errors.New("cube: api failure")
	ErrUnauthorized        = errors.New("cube: unauthorized")
	ErrPairingNotConfirmed = errors.New("cube: pairing not confirmed")
	ErrIrrigation          = errors.New("cube: irrigation command rejected")
	ErrNotAuthenticated    = errors.New("cube: not authenticated")
	ErrAlreadyLinked       = errors.New("cube: already linked")
)

// NetworkErrorSubtype provides more specific transport error classification
type NetworkErrorSubtype int

const (
	NetworkErrorGeneral NetworkErrorSubtype = iota
	NetworkErrorTimeout
	NetworkErrorConnectionRefused
	NetworkErrorDNS
	NetworkErrorHostUnreachable
	NetworkErrorNetworkUnreachable
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeTransport:
		return "Transport Error"
	case ErrTypeAPI:
		return "API Error"
	case ErrTypeUnauthorized:
		return "Unauthorized"
	case ErrTypePairingNotConfirmed:
		return "Pairing Not Confirmed"
	case ErrTypeIrrigation:
		return "Irrigation Error"
	case ErrTypeNotAuthenticated:
		return "Not Authenticated"
	case ErrTypeAlreadyLinked:
		return "Already Linked"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

func (et ErrorType) sentinel() error {
	switch et {
	case ErrTypeTransport:
		return ErrTransport
	case ErrTypeAPI:
		return ErrAPI
	case ErrTypeUnauthorized:
		return ErrUnauthorized
	case ErrTypePairingNotConfirmed:
		return ErrPairingNotConfirmed
	case ErrTypeIrrigation:
		return ErrIrrigation
	case ErrTypeNotAuthenticated:
		return ErrNotAuthenticated
	case ErrTypeAlreadyLinked:
		return ErrAlreadyLinked
	default:
		return nil
	}
}

// DeviceError represents an error that occurred during cube communication
type DeviceError struct {
	Type           ErrorType           // Category of error
	Message        string              // Human-readable error message
	StatusCode     int                 // HTTP status code (if applicable)
	Err            error               // Underlying error (if any)
	NetworkSubtype NetworkErrorSubtype // More specific transport error type
	DeviceIP       string              // Cube address (for context)
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's type
func (e *DeviceError) Is(target error) bool {
	s := e.Type.sentinel()
	return s != nil && target == s
}

// ClassifyNetworkError analyzes an error and returns a transport error with a subtype
func ClassifyNetworkError(err error, deviceIP string) *DeviceError {
	if err == nil {
		return nil
	}

	if os.IsTimeout(err) {
		return &DeviceError{
			Type:           ErrTypeTransport,
			Message:        "Request timed out",
			Err:            err,
			NetworkSubtype: NetworkErrorTimeout,
			DeviceIP:       deviceIP,
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &DeviceError{
			Type:           ErrTypeTransport,
			Message:        fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name),
			Err:            err,
			NetworkSubtype: NetworkErrorDNS,
			DeviceIP:       deviceIP,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			return &DeviceError{
				Type:           ErrTypeTransport,
				Message:        "Cube refused connection",
				Err:            err,
				NetworkSubtype: NetworkErrorConnectionRefused,
				DeviceIP:       deviceIP,
			}
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return &DeviceError{
				Type:           ErrTypeTransport,
				Message:        "Host unreachable",
				Err:            err,
				NetworkSubtype: NetworkErrorHostUnreachable,
				DeviceIP:       deviceIP,
			}
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			return &DeviceError{
				Type:           ErrTypeTransport,
				Message:        "Network unreachable",
				Err:            err,
				NetworkSubtype: NetworkErrorNetworkUnreachable,
				DeviceIP:       deviceIP,
			}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return ClassifyNetworkError(urlErr.Err, deviceIP)
	}

	return &DeviceError{
		Type:           ErrTypeTransport,
		Message:        "Network error occurred",
		Err:            err,
		NetworkSubtype: NetworkErrorGeneral,
		DeviceIP:       deviceIP,
	}
}

// NewTransportError creates a transport error with automatic classification
func NewTransportError(message string, err error) *DeviceError {
	classified := ClassifyNetworkError(err, "")
	if classified != nil {
		classified.Message = message
		return classified
	}
	return &DeviceError{
		Type:    ErrTypeTransport,
		Message: message,
		Err:     err,
	}
}

// NewAPIError creates an error for an application-level failure reported by the cube
func NewAPIError(message string, err error) *DeviceError {
	return &DeviceError{
		Type:    ErrTypeAPI,
		Message: message,
		Err:     err,
	}
}

// NewUnauthorizedError creates an error for a rejected API token
func NewUnauthorizedError(message string, err error) *DeviceError {
	return &DeviceError{
		Type:    ErrTypeUnauthorized,
		Message: message,
		Err:     err,
	}
}

// NewPairingError creates an error for a link attempt without button confirmation
func NewPairingError(message string) *DeviceError {
	return &DeviceError{
		Type:    ErrTypePairingNotConfirmed,
		Message: message,
	}
}

// NewIrrigationError creates an error for a rejected irrigation command
func NewIrrigationError(message string) *DeviceError {
	return &DeviceError{
		Type:    ErrTypeIrrigation,
		Message: message,
	}
}

// IsTransportError checks if an error is a transport error
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsAPIError checks if an error is an application-level API error
func IsAPIError(err error) bool {
	return errors.Is(err, ErrAPI)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsPairingError checks if an error reports an unconfirmed pairing
func IsPairingError(err error) bool {
	return errors.Is(err, ErrPairingNotConfirmed)
}

// IsIrrigationError checks if an error is a rejected irrigation command
func IsIrrigationError(err error) bool {
	return errors.Is(err, ErrIrrigation)
}

// IsStateError checks if an error comes from calling the client in the wrong session state
func IsStateError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrAlreadyLinked)
}

// GetTroubleshootingHint returns user-friendly troubleshooting advice for an error
func GetTroubleshootingHint(err error) string {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		return "An unexpected error occurred. Please try again."
	}

	switch devErr.Type {
	case ErrTypeTransport:
		hint := []string{"The cube could not be reached."}
		switch devErr.NetworkSubtype {
		case NetworkErrorTimeout:
			hint = append(hint, "Troubleshooting:",
				"  • Check that the cube is powered on",
				"  • Try increasing the request timeout")
		case NetworkErrorConnectionRefused:
			hint = append(hint, "Troubleshooting:",
				"  • The cube's HTTP service may still be starting - wait a minute",
				"  • Verify the address points at the cube and not another host")
		case NetworkErrorDNS:
			hint = append(hint, "Troubleshooting:",
				"  • Use the IP address instead of the hostname",
				"  • Run 'miyo-bridge scan' to locate the cube")
		default:
			hint = append(hint, "Troubleshooting:",
				"  • Verify the cube IP address is correct",
				"  • Check that you're on the same network as the cube",
				"  • Run 'miyo-bridge scan' to locate the cube")
		}
		return strings.Join(hint, "\n")

	case ErrTypePairingNotConfirmed:
		return strings.Join([]string{
			"The cube did not confirm the pairing request.",
			"Troubleshooting:",
			"  • Press the pairing button on the cube",
			"  • Run the pair command again within a few seconds",
		}, "\n")

	case ErrTypeUnauthorized, ErrTypeNotAuthenticated:
		return strings.Join([]string{
			"The cube rejected the API token.",
			"Troubleshooting:",
			"  • Remove the token from the configuration to pair again",
			"  • Run 'miyo-bridge pair' and press the pairing button",
		}, "\n")

	case ErrTypeIrrigation:
		return "The cube refused the irrigation command. Winter mode blocks irrigation; disable it first."

	case ErrTypeAPI:
		return "The cube reported an error. Check the cube firmware and try again."

	default:
		return "An error occurred. Please check the error message for details."
	}
}

// GetShortErrorMessage returns a concise, user-friendly error message
func GetShortErrorMessage(err error) string {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		return err.Error()
	}

	switch devErr.Type {
	case ErrTypeTransport:
		switch devErr.NetworkSubtype {
		case NetworkErrorTimeout:
			return "Cube not responding (timeout)"
		case NetworkErrorConnectionRefused:
			return "Cube refused connection"
		case NetworkErrorDNS:
			return "Cannot resolve cube hostname"
		case NetworkErrorHostUnreachable:
			return "Cube unreachable - check network connection"
		default:
			return "Network error - check connection"
		}
	case ErrTypePairingNotConfirmed:
		return "Press the pairing button on the cube"
	case ErrTypeUnauthorized, ErrTypeNotAuthenticated:
		return "API token rejected - pair again"
	case ErrTypeIrrigation:
		return "Irrigation blocked by winter mode"
	default:
		return devErr.Message
	}
}
