package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/bridge"
	"github.com/muurk/miyo/internal/command"
	"github.com/muurk/miyo/internal/cube"
)

// DefaultCommandTimeout bounds the cube call made for one MQTT command
const DefaultCommandTimeout = 10 * time.Second

// Subscriber is the part of Client the command subscriber needs
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// CircuitUpdater is the part of bridge.Engine the command subscriber drives
type CircuitUpdater interface {
	CircuitByID(normalizedID string) (cube.Circuit, bool)
	UpdateCircuitState(ctx context.Context, c cube.Circuit, batch command.Batch) error
}

// setPayload is the JSON form of a command. Exactly one field must be set.
type setPayload struct {
	Irrigation *bool `json:"irrigation"`
	Winter     *bool `json:"winter"`
}

// CommandSubscriber turns messages on <prefix>/<cube>/circuit/+/set into
// cube commands.
type CommandSubscriber struct {
	sub       Subscriber
	engine    CircuitUpdater
	publisher *Publisher
	qos       byte
	logger    *zap.Logger

	// Timeout bounds each cube call
	Timeout time.Duration
}

// NewCommandSubscriber creates a subscriber that reverts refused commands
// through publisher.
func NewCommandSubscriber(sub Subscriber, engine CircuitUpdater, publisher *Publisher, qos byte) *CommandSubscriber {
	return &CommandSubscriber{
		sub:       sub,
		engine:    engine,
		publisher: publisher,
		qos:       qos,
		logger:    publisher.logger,
		Timeout:   DefaultCommandTimeout,
	}
}

func (s *CommandSubscriber) topic() string {
	return s.publisher.topics.AllCircuitSets(s.publisher.cube)
}

// Start subscribes to the command topics
func (s *CommandSubscriber) Start() error {
	if err := s.sub.Subscribe(s.topic(), s.qos, s.handle); err != nil {
		return fmt.Errorf("subscribe to circuit commands: %w", err)
	}
	s.logger.Info("Listening for circuit commands", zap.String("topic", s.topic()))
	return nil
}

// Stop unsubscribes from the command topics
func (s *CommandSubscriber) Stop() error {
	return s.sub.Unsubscribe(s.topic())
}

func (s *CommandSubscriber) handle(topic string, payload []byte) error {
	id, ok := s.publisher.topics.CircuitIDFromSetTopic(s.publisher.cube, topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	batch, err := ParseCommand(payload)
	if err != nil {
		return err
	}

	c, ok := s.engine.CircuitByID(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCircuit, id)
	}

	logger := s.logger.With(zap.String("circuit_id", id), zap.Stringer("batch", batch))

	if c.WinterMode && startsIrrigation(batch) {
		logger.Info("Irrigation refused while winter mode is active")
		s.revert(c)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	if err := s.engine.UpdateCircuitState(ctx, c, batch); err != nil {
		if errors.Is(err, bridge.ErrWinterModeActive) {
			logger.Info("Cube refused irrigation", zap.Error(err))
			s.revert(c)
			return nil
		}
		return err
	}

	logger.Debug("Circuit command relayed")
	return nil
}

// revert republishes the circuit with irrigation off so subscribers drop an
// optimistic switch state.
func (s *CommandSubscriber) revert(c cube.Circuit) {
	c.IrrigationActive = false
	if err := s.publisher.PublishCircuit(c); err != nil {
		s.logger.Warn("Failed to revert circuit state",
			zap.String("circuit_id", c.NormalizedID), zap.Error(err))
	}
}

func startsIrrigation(b command.Batch) bool {
	lead, ok := b.Leading()
	return ok && lead.Key == command.KeyMode && lead.Value == command.ModeStart
}

// ParseCommand decodes a command payload. It accepts {"irrigation":bool},
// {"winter":bool}, or a bare on/off value meaning irrigation.
func ParseCommand(payload []byte) (command.Batch, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	if trimmed[0] != '{' {
		switch strings.ToLower(strings.Trim(string(trimmed), `"`)) {
		case "on", "true", "1", "start":
			return command.Batch{}.TurnOn(), nil
		case "off", "false", "0", "stop":
			return command.Batch{}.TurnOff(), nil
		}
		return nil, fmt.Errorf("%w: %q", ErrInvalidPayload, trimmed)
	}

	var p setPayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	switch {
	case p.Irrigation != nil && p.Winter != nil:
		return nil, fmt.Errorf("%w: irrigation and winter in one command", ErrInvalidPayload)
	case p.Irrigation != nil:
		return command.Batch{}.SetOn(*p.Irrigation), nil
	case p.Winter != nil:
		return command.Batch{}.SetWinter(*p.Winter), nil
	default:
		return nil, fmt.Errorf("%w: no irrigation or winter field", ErrInvalidPayload)
	}
}
