package cube

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NoSensor is the sensor id the cube reports for a circuit without an attached sensor
const NoSensor = "0"

// Circuit is a snapshot of one irrigation zone as reported by the cube.
// Snapshots are values: a fresh one is built on every poll.
type Circuit struct {
	// ID is the raw cube identifier, including the wrapping braces
	ID string `json:"id"`

	// NormalizedID is ID without the wrapping braces. It is derived once,
	// when the circuit is parsed, and is the key used for lookups and diffs.
	NormalizedID string `json:"normalized_id"`

	Name string `json:"name"`

	// Irrigation state
	WinterMode          bool      `json:"winter_mode"`
	IrrigationActive    bool      `json:"irrigation_active"`
	NextIrrigationStart time.Time `json:"next_irrigation_start"`
	NextIrrigationEnd   time.Time `json:"next_irrigation_end"`
	ExternBlock         bool      `json:"extern_block"`

	// SensorID references an attached sensor device ("0" = none)
	SensorID string `json:"sensor_id"`

	// Sensor readings, populated only when a sensor is attached
	Temperature float64 `json:"temperature"`
	Brightness  float64 `json:"brightness"`
	Moisture    float64 `json:"moisture"`

	Params ZoneParams `json:"params"`
}

// ZoneParams holds the moisture bounds configured for a circuit
type ZoneParams struct {
	BorderTop     float64 `json:"border_top"`
	BorderBottom  float64 `json:"border_bottom"`
	ConsiderMower bool    `json:"consider_mower"`
}

// HasSensor reports whether a sensor device is attached to the circuit
func (c Circuit) HasSensor() bool {
	return c.SensorID != "" && c.SensorID != NoSensor
}

// Equal reports whether two snapshots carry the same irrigation state.
// Names and sensor readings are not compared.
func Equal(a, b Circuit) bool {
	if a.IrrigationActive != b.IrrigationActive ||
		a.WinterMode != b.WinterMode ||
		!a.NextIrrigationStart.Equal(b.NextIrrigationStart) ||
		!a.NextIrrigationEnd.Equal(b.NextIrrigationEnd) ||
		a.ExternBlock != b.ExternBlock {
		return false
	}
	return a.Params == b.Params
}

// NormalizeID strips the braces the cube wraps around circuit identifiers
func NormalizeID(id string) string {
	id = strings.TrimPrefix(id, "{")
	return strings.TrimSuffix(id, "}")
}

// Session is the authentication state of a client against one cube.
// An empty Username means unauthenticated.
type Session struct {
	IP       string
	Username string
	Timeout  time.Duration
}

// Authenticated reports whether the session carries an API token
func (s Session) Authenticated() bool {
	return s.Username != ""
}

// State type tags found in the cube's stateTypes maps
const (
	stateIrrigation      = "irrigation"
	stateWinterMode      = "winterMode"
	stateNextStart       = "irrigationNextStart"
	stateNextEnd         = "irrigationNextEnd"
	stateExternBlock     = "externBlock"
	stateTemperature     = "temperature"
	stateMoisture        = "moisture"
	stateBrightness      = "brightness"
	statusError          = "error"
	linkTokenOffsetStart = 11
	linkTokenOffsetEnd   = 49
)

// envelope is the outer shape of every cube response
type envelope struct {
	Status string          `json:"status"`
	Params json.RawMessage `json:"params"`
}

func (e envelope) isError() bool {
	return e.Status == statusError
}

type circuitsParams struct {
	Circuits map[string]wireCircuit `json:"circuits"`
}

type wireCircuit struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Params     wireZoneParams       `json:"params"`
	Sensor     flexString           `json:"sensor"`
	StateTypes map[string]wireState `json:"stateTypes"`
}

type wireZoneParams struct {
	BorderTop     flexNumber `json:"borderTop"`
	BorderBottom  flexNumber `json:"borderBottom"`
	ConsiderMower bool       `json:"considerMower"`
}

type deviceParams struct {
	Device struct {
		StateTypes map[string]wireState `json:"stateTypes"`
	} `json:"device"`
}

type wireState struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type linkResponse struct {
	Status string `json:"status"`
	APIKey string `json:"apiKey"`
	Token  string `json:"token"`
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// flexNumber accepts a JSON number or a numeric string
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	v, err := parseFloat(data)
	if err != nil {
		return err
	}
	*f = flexNumber(v)
	return nil
}

func trimQuotes(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	return strings.Trim(s, `"`)
}

func parseBool(raw json.RawMessage) (bool, error) {
	s := trimQuotes(raw)
	if s == "" || s == "null" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseFloat(raw json.RawMessage) (float64, error) {
	s := trimQuotes(raw)
	if s == "" || s == "null" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseEpoch converts a value in epoch seconds into a UTC time
func parseEpoch(raw json.RawMessage) (time.Time, error) {
	v, err := parseFloat(raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(v), 0).UTC(), nil
}

// toCircuit converts a wire circuit into a snapshot. key is the map key the
// circuit was listed under and is used when the object carries no id.
func (w wireCircuit) toCircuit(key string) (Circuit, error) {
	id := w.ID
	if id == "" {
		id = key
	}

	sensor := string(w.Sensor)
	if sensor == "" {
		sensor = NoSensor
	}

	c := Circuit{
		ID:           id,
		NormalizedID: NormalizeID(id),
		Name:         w.Name,
		SensorID:     sensor,
		Params: ZoneParams{
			BorderTop:     float64(w.Params.BorderTop),
			BorderBottom:  float64(w.Params.BorderBottom),
			ConsiderMower: w.Params.ConsiderMower,
		},
	}

	for _, st := range w.StateTypes {
		var err error
		switch st.Type {
		case stateIrrigation:
			c.IrrigationActive, err = parseBool(st.Value)
		case stateWinterMode:
			c.WinterMode, err = parseBool(st.Value)
		case stateNextStart:
			c.NextIrrigationStart, err = parseEpoch(st.Value)
		case stateNextEnd:
			c.NextIrrigationEnd, err = parseEpoch(st.Value)
		case stateExternBlock:
			c.ExternBlock, err = parseBool(st.Value)
		}
		if err != nil {
			return Circuit{}, fmt.Errorf("circuit %s: state %q: %w", id, st.Type, err)
		}
	}

	return c, nil
}

// applySensorStates copies sensor readings into the circuit
func applySensorStates(c *Circuit, states map[string]wireState) error {
	for _, st := range states {
		var err error
		switch st.Type {
		case stateTemperature:
			c.Temperature, err = parseFloat(st.Value)
		case stateMoisture:
			c.Moisture, err = parseFloat(st.Value)
		case stateBrightness:
			c.Brightness, err = parseFloat(st.Value)
		}
		if err != nil {
			return fmt.Errorf("sensor %s: state %q: %w", c.SensorID, st.Type, err)
		}
	}
	return nil
}
