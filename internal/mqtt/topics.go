package mqtt

import (
	"fmt"
	"strings"

	"github.com/muurk/miyo/internal/config"
)

// Topics builds the bridge's MQTT topics under a common prefix:
//
//	miyo/bridge/status                  online | offline
//	miyo/<cube>/status                  online | offline | authentication_required
//	miyo/<cube>/circuit/<id>/state      retained circuit JSON
//	miyo/<cube>/circuit/<id>/set        commands
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, falling back to "miyo"
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = config.DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// BridgeStatus returns the bridge liveness topic (also the last will).
//
// Example: miyo/bridge/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/status", t.Prefix)
}

// CubeStatus returns the connection status topic of a cube.
//
// Example: miyo/garden/status
func (t Topics) CubeStatus(cube string) string {
	return fmt.Sprintf("%s/%s/status", t.Prefix, Segment(cube))
}

// CircuitState returns the retained state topic of a circuit.
//
// Example: miyo/garden/circuit/abc/state
func (t Topics) CircuitState(cube, circuitID string) string {
	return fmt.Sprintf("%s/%s/circuit/%s/state", t.Prefix, Segment(cube), Segment(circuitID))
}

// CircuitSet returns the command topic of a circuit.
//
// Example: miyo/garden/circuit/abc/set
func (t Topics) CircuitSet(cube, circuitID string) string {
	return fmt.Sprintf("%s/%s/circuit/%s/set", t.Prefix, Segment(cube), Segment(circuitID))
}

// AllCircuitSets matches the command topics of every circuit of a cube.
//
// Pattern: miyo/garden/circuit/+/set
func (t Topics) AllCircuitSets(cube string) string {
	return fmt.Sprintf("%s/%s/circuit/+/set", t.Prefix, Segment(cube))
}

// CircuitIDFromSetTopic extracts the circuit id from a command topic of cube.
func (t Topics) CircuitIDFromSetTopic(cube, topic string) (string, bool) {
	prefix := fmt.Sprintf("%s/%s/circuit/", t.Prefix, Segment(cube))
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Segment makes s safe to use as a single topic level. Wildcards and level
// separators become underscores.
func Segment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ':
			return '_'
		}
		return r
	}, s)
}
