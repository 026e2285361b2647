package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/muurk/miyo/internal/cube"
)

// Command keys understood by the cube
const (
	KeyMode   = "mode"
	KeyWinter = "winter"
)

// Values for KeyMode
const (
	ModeStart = "start"
	ModeStop  = "stop"
)

var (
	// ErrEmptyBatch is returned when dispatching a batch without commands
	ErrEmptyBatch = errors.New("command: empty batch")

	// ErrUnsupportedCommand is returned when the leading key has no route
	ErrUnsupportedCommand = errors.New("command: unsupported command")

	// ErrInvalidValue is returned when the leading value does not fit its key
	ErrInvalidValue = errors.New("command: invalid value")
)

// Command is one device directive
type Command struct {
	Key   string
	Value string
}

// Batch is an ordered sequence of commands. Only the first command decides
// which device call a batch turns into.
type Batch []Command

// TurnOn returns the batch with an irrigation start appended
func (b Batch) TurnOn() Batch {
	return b.SetOn(true)
}

// TurnOff returns the batch with an irrigation stop appended
func (b Batch) TurnOff() Batch {
	return b.SetOn(false)
}

// SetOn returns the batch with an irrigation start or stop appended
func (b Batch) SetOn(on bool) Batch {
	value := ModeStop
	if on {
		value = ModeStart
	}
	return append(b, Command{Key: KeyMode, Value: value})
}

// SetWinter returns the batch with a winter mode change appended
func (b Batch) SetWinter(on bool) Batch {
	value := "false"
	if on {
		value = "true"
	}
	return append(b, Command{Key: KeyWinter, Value: value})
}

// Leading returns the command that routes the batch
func (b Batch) Leading() (Command, bool) {
	if len(b) == 0 {
		return Command{}, false
	}
	return b[0], true
}

// JSON renders the batch as a flat JSON object, e.g. {"mode":"start"}
func (b Batch) JSON() string {
	fields := make([]string, 0, len(b))
	for _, c := range b {
		key, _ := json.Marshal(c.Key)
		value, _ := json.Marshal(c.Value)
		fields = append(fields, string(key)+":"+string(value))
	}
	return "{" + strings.Join(fields, ",") + "}"
}

// String implements fmt.Stringer
func (b Batch) String() string {
	return b.JSON()
}

// Commander is the subset of the cube client the dispatcher drives
type Commander interface {
	SetIrrigation(ctx context.Context, circuitID string, on bool) error
	SetWinterMode(ctx context.Context, circuitID string, on bool) error
}

// Dispatcher turns a batch into exactly one cube call
type Dispatcher struct {
	api Commander
}

// NewDispatcher creates a dispatcher for the given cube
func NewDispatcher(api Commander) *Dispatcher {
	return &Dispatcher{api: api}
}

// Dispatch sends the batch to the cube for the given circuit. Cube errors are
// wrapped with the mode that failed and keep their cube error type.
func (d *Dispatcher) Dispatch(ctx context.Context, c cube.Circuit, b Batch) error {
	lead, ok := b.Leading()
	if !ok {
		return ErrEmptyBatch
	}

	switch lead.Key {
	case KeyMode:
		on, err := parseMode(lead.Value)
		if err != nil {
			return err
		}
		if err := d.api.SetIrrigation(ctx, c.ID, on); err != nil {
			return fmt.Errorf("irrigation %s on circuit %s: %w", lead.Value, c.NormalizedID, err)
		}
		return nil

	case KeyWinter:
		on, err := parseWinter(lead.Value)
		if err != nil {
			return err
		}
		if err := d.api.SetWinterMode(ctx, c.ID, on); err != nil {
			return fmt.Errorf("winter mode %s on circuit %s: %w", lead.Value, c.NormalizedID, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCommand, lead.Key)
	}
}

func parseMode(value string) (bool, error) {
	switch value {
	case ModeStart:
		return true, nil
	case ModeStop:
		return false, nil
	default:
		return false, fmt.Errorf("%w: mode %q", ErrInvalidValue, value)
	}
}

func parseWinter(value string) (bool, error) {
	switch value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: winter %q", ErrInvalidValue, value)
	}
}
