package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/bridge"
	"github.com/muurk/miyo/internal/cube"
	"github.com/muurk/miyo/internal/logging"
)

// Cube status payloads published on the cube status topic.
const (
	CubeOnline       = "online"
	CubeOffline      = "offline"
	CubeAuthRequired = "authentication_required"
)

// MessagePublisher is the part of Client the publisher needs
type MessagePublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// SensorState is the sensor part of a published circuit
type SensorState struct {
	ID          string  `json:"id"`
	Temperature float64 `json:"temperature"`
	Moisture    float64 `json:"moisture"`
	Brightness  float64 `json:"brightness"`
}

// CircuitState is the retained JSON document published for each circuit
type CircuitState struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Irrigation    bool         `json:"irrigation"`
	Winter        bool         `json:"winter"`
	ExternBlock   bool         `json:"extern_block"`
	NextStart     *time.Time   `json:"next_start,omitempty"`
	NextEnd       *time.Time   `json:"next_end,omitempty"`
	BorderTop     float64      `json:"border_top"`
	BorderBottom  float64      `json:"border_bottom"`
	ConsiderMower bool         `json:"consider_mower"`
	Sensor        *SensorState `json:"sensor,omitempty"`
}

// NewCircuitState converts a circuit snapshot into its published form
func NewCircuitState(c cube.Circuit) CircuitState {
	s := CircuitState{
		ID:            c.NormalizedID,
		Name:          c.Name,
		Irrigation:    c.IrrigationActive,
		Winter:        c.WinterMode,
		ExternBlock:   c.ExternBlock,
		BorderTop:     c.Params.BorderTop,
		BorderBottom:  c.Params.BorderBottom,
		ConsiderMower: c.Params.ConsiderMower,
	}
	if !c.NextIrrigationStart.IsZero() {
		t := c.NextIrrigationStart
		s.NextStart = &t
	}
	if !c.NextIrrigationEnd.IsZero() {
		t := c.NextIrrigationEnd
		s.NextEnd = &t
	}
	if c.HasSensor() {
		s.Sensor = &SensorState{
			ID:          cube.NormalizeID(c.SensorID),
			Temperature: c.Temperature,
			Moisture:    c.Moisture,
			Brightness:  c.Brightness,
		}
	}
	return s
}

// Publisher mirrors one cube onto MQTT. It is a bridge.CircuitListener and a
// bridge.StatusHandler.
type Publisher struct {
	pub    MessagePublisher
	topics Topics
	cube   string
	logger *zap.Logger
}

// NewPublisher creates a publisher for the cube registered as cubeName
func NewPublisher(pub MessagePublisher, topics Topics, cubeName string) *Publisher {
	return &Publisher{
		pub:    pub,
		topics: topics,
		cube:   cubeName,
		logger: logging.Named("mqtt").With(zap.String("cube", cubeName)),
	}
}

// Cube returns the cube name used in topics
func (p *Publisher) Cube() string {
	return p.cube
}

// Topics returns the topic builder
func (p *Publisher) Topics() Topics {
	return p.topics
}

// PublishCircuit publishes the retained state of a circuit
func (p *Publisher) PublishCircuit(c cube.Circuit) error {
	payload, err := json.Marshal(NewCircuitState(c))
	if err != nil {
		return fmt.Errorf("encode circuit %s: %w", c.NormalizedID, err)
	}
	return p.pub.PublishRetained(p.topics.CircuitState(p.cube, c.NormalizedID), payload)
}

// ClearCircuit removes the retained state of a circuit
func (p *Publisher) ClearCircuit(c cube.Circuit) error {
	return p.pub.PublishRetained(p.topics.CircuitState(p.cube, c.NormalizedID), []byte{})
}

// PublishStatus publishes the retained cube status
func (p *Publisher) PublishStatus(status string) error {
	return p.pub.PublishRetained(p.topics.CubeStatus(p.cube), []byte(status))
}

// CircuitAdded implements bridge.CircuitListener
func (p *Publisher) CircuitAdded(_ bridge.CubeAPI, c cube.Circuit) {
	p.report("circuit state", p.PublishCircuit(c), c.NormalizedID)
}

// CircuitChanged implements bridge.CircuitListener
func (p *Publisher) CircuitChanged(_ bridge.CubeAPI, c cube.Circuit) {
	p.report("circuit state", p.PublishCircuit(c), c.NormalizedID)
}

// CircuitRemoved implements bridge.CircuitListener
func (p *Publisher) CircuitRemoved(_ bridge.CubeAPI, c cube.Circuit) {
	p.report("circuit removal", p.ClearCircuit(c), c.NormalizedID)
}

// ConnectionLost implements bridge.StatusHandler
func (p *Publisher) ConnectionLost(bridge.CubeAPI) {
	p.report("cube status", p.PublishStatus(CubeOffline), "")
}

// AuthenticationRequired implements bridge.StatusHandler
func (p *Publisher) AuthenticationRequired(_ bridge.CubeAPI, reason bridge.AuthReason) {
	p.logger.Debug("Publishing authentication required", zap.Stringer("reason", reason))
	p.report("cube status", p.PublishStatus(CubeAuthRequired), "")
}

// ConnectionResumed implements bridge.StatusHandler
func (p *Publisher) ConnectionResumed(bridge.CubeAPI) {
	p.report("cube status", p.PublishStatus(CubeOnline), "")
}

func (p *Publisher) report(what string, err error, circuitID string) {
	if err == nil {
		return
	}
	fields := []zap.Field{zap.Error(err)}
	if circuitID != "" {
		fields = append(fields, zap.String("circuit_id", circuitID))
	}
	p.logger.Warn("Failed to publish "+what, fields...)
}
