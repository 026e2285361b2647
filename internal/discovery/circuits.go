package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/bridge"
	"github.com/muurk/miyo/internal/cube"
	"github.com/muurk/miyo/internal/logging"
)

// CircuitSource is the part of bridge.Engine the circuit discovery needs
type CircuitSource interface {
	RegisterListener(l bridge.CircuitListener) bool
	UnregisterListener(l bridge.CircuitListener) bool
	ListCircuits(ctx context.Context) ([]cube.Circuit, error)
}

// CircuitDiscovery keeps the set of circuits a cube currently reports.
// Additions come from the engine's listener callbacks while active, or
// from an explicit StartScan.
type CircuitDiscovery struct {
	source CircuitSource
	logger *zap.Logger

	mu       sync.Mutex
	found    map[string]cube.Circuit
	onChange func(cube.Circuit, bool)
}

// NewCircuitDiscovery creates a discovery bound to source
func NewCircuitDiscovery(source CircuitSource) *CircuitDiscovery {
	return &CircuitDiscovery{
		source: source,
		logger: logging.Named("discovery"),
		found:  make(map[string]cube.Circuit),
	}
}

// OnChange sets a callback invoked with true for each new circuit and false
// for each removed one.
func (d *CircuitDiscovery) OnChange(fn func(c cube.Circuit, added bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

// Activate registers the discovery with the engine. The engine replays the
// circuits it already knows.
func (d *CircuitDiscovery) Activate() {
	d.source.RegisterListener(d)
}

// Deactivate unregisters the discovery. Results are kept.
func (d *CircuitDiscovery) Deactivate() {
	d.source.UnregisterListener(d)
}

// StartScan asks the engine for the current listing and adds every circuit.
func (d *CircuitDiscovery) StartScan(ctx context.Context) error {
	circuits, err := d.source.ListCircuits(ctx)
	if err != nil {
		return fmt.Errorf("circuit scan: %w", err)
	}
	for _, c := range circuits {
		d.add(c)
	}
	return nil
}

// Results returns the discovered circuits sorted by id
func (d *CircuitDiscovery) Results() []cube.Circuit {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]cube.Circuit, 0, len(d.found))
	for _, c := range d.found {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedID < out[j].NormalizedID })
	return out
}

// CircuitAdded implements bridge.CircuitListener
func (d *CircuitDiscovery) CircuitAdded(_ bridge.CubeAPI, c cube.Circuit) {
	d.add(c)
}

// CircuitChanged implements bridge.CircuitListener. State changes do not
// affect discovery.
func (d *CircuitDiscovery) CircuitChanged(bridge.CubeAPI, cube.Circuit) {}

// CircuitRemoved implements bridge.CircuitListener
func (d *CircuitDiscovery) CircuitRemoved(_ bridge.CubeAPI, c cube.Circuit) {
	d.mu.Lock()
	_, known := d.found[c.NormalizedID]
	delete(d.found, c.NormalizedID)
	fn := d.onChange
	d.mu.Unlock()

	if known {
		d.logger.Debug("Circuit gone", zap.String("circuit_id", c.NormalizedID))
		if fn != nil {
			fn(c, false)
		}
	}
}

func (d *CircuitDiscovery) add(c cube.Circuit) {
	d.mu.Lock()
	_, known := d.found[c.NormalizedID]
	d.found[c.NormalizedID] = c
	fn := d.onChange
	d.mu.Unlock()

	if !known {
		d.logger.Debug("Circuit discovered",
			zap.String("circuit_id", c.NormalizedID),
			zap.String("name", c.Name))
		if fn != nil {
			fn(c, true)
		}
	}
}
