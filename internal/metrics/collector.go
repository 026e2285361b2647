package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muurk/miyo/internal/bridge"
	"github.com/muurk/miyo/internal/cube"
)

const namespace = "miyo"

// Poll results used as the result label
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Collector exposes bridge activity as Prometheus metrics. It is a
// bridge.CircuitListener, bridge.StatusHandler and bridge.PollObserver and
// can be shared by several engines; every series carries the cube address.
type Collector struct {
	registry *prometheus.Registry

	pollCycles    *prometheus.CounterVec
	pollDuration  *prometheus.HistogramVec
	lastPoll      *prometheus.GaugeVec
	circuitEvents *prometheus.CounterVec
	cubeConnected *prometheus.GaugeVec
	irrigation    *prometheus.GaugeVec
	winterMode    *prometheus.GaugeVec
	temperature   *prometheus.GaugeVec
	moisture      *prometheus.GaugeVec
	brightness    *prometheus.GaugeVec
}

// NewCollector creates a collector on its own registry, together with the
// Go runtime and process collectors.
func NewCollector() *Collector {
	circuitLabels := []string{"cube", "circuit"}

	c := &Collector{
		registry: prometheus.NewRegistry(),

		pollCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_cycles_total",
				Help:      "Completed poll cycles by result",
			},
			[]string{"cube", "result"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_duration_seconds",
				Help:      "Duration of poll cycles",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"cube"},
		),
		lastPoll: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_poll_timestamp_seconds",
				Help:      "Unix timestamp of the last successful poll",
			},
			[]string{"cube"},
		),
		circuitEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_events_total",
				Help:      "Circuit transitions reported to listeners",
			},
			[]string{"cube", "event"},
		),
		cubeConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cube_connected",
				Help:      "1 if the bridge is connected and authenticated, 0 otherwise",
			},
			[]string{"cube"},
		),
		irrigation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_irrigation_active",
				Help:      "Circuit irrigation status (1=irrigating, 0=idle)",
			},
			circuitLabels,
		),
		winterMode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_winter_mode",
				Help:      "Circuit winter mode (1=on, 0=off)",
			},
			circuitLabels,
		),
		temperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_temperature_celsius",
				Help:      "Soil temperature reported by the circuit sensor",
			},
			circuitLabels,
		),
		moisture: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_moisture_percent",
				Help:      "Soil moisture reported by the circuit sensor",
			},
			circuitLabels,
		),
		brightness: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_brightness",
				Help:      "Brightness reported by the circuit sensor",
			},
			circuitLabels,
		),
	}

	c.registry.MustRegister(
		c.pollCycles,
		c.pollDuration,
		c.lastPoll,
		c.circuitEvents,
		c.cubeConnected,
		c.irrigation,
		c.winterMode,
		c.temperature,
		c.moisture,
		c.brightness,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the registry the metrics live on
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the /metrics handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Attach registers the collector with an engine in every role it plays.
func (c *Collector) Attach(e *bridge.Engine) {
	e.AddStatusHandler(c)
	e.AddPollObserver(c)
	e.RegisterListener(c)
}

func cubeLabel(api bridge.CubeAPI) string {
	if api == nil {
		return "unknown"
	}
	return api.IP()
}

// PollCompleted implements bridge.PollObserver
func (c *Collector) PollCompleted(api bridge.CubeAPI, err error, elapsed time.Duration) {
	name := cubeLabel(api)
	c.pollDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		c.pollCycles.WithLabelValues(name, ResultError).Inc()
		return
	}
	c.pollCycles.WithLabelValues(name, ResultOK).Inc()
	c.lastPoll.WithLabelValues(name).SetToCurrentTime()
	c.cubeConnected.WithLabelValues(name).Set(1)
}

// ConnectionLost implements bridge.StatusHandler
func (c *Collector) ConnectionLost(api bridge.CubeAPI) {
	c.cubeConnected.WithLabelValues(cubeLabel(api)).Set(0)
}

// AuthenticationRequired implements bridge.StatusHandler
func (c *Collector) AuthenticationRequired(api bridge.CubeAPI, _ bridge.AuthReason) {
	c.cubeConnected.WithLabelValues(cubeLabel(api)).Set(0)
}

// ConnectionResumed implements bridge.StatusHandler
func (c *Collector) ConnectionResumed(api bridge.CubeAPI) {
	c.cubeConnected.WithLabelValues(cubeLabel(api)).Set(1)
}

// CircuitAdded implements bridge.CircuitListener
func (c *Collector) CircuitAdded(api bridge.CubeAPI, circuit cube.Circuit) {
	c.circuitEvents.WithLabelValues(cubeLabel(api), string(bridge.EventAdded)).Inc()
	c.observe(cubeLabel(api), circuit)
}

// CircuitChanged implements bridge.CircuitListener
func (c *Collector) CircuitChanged(api bridge.CubeAPI, circuit cube.Circuit) {
	c.circuitEvents.WithLabelValues(cubeLabel(api), string(bridge.EventChanged)).Inc()
	c.observe(cubeLabel(api), circuit)
}

// CircuitRemoved implements bridge.CircuitListener
func (c *Collector) CircuitRemoved(api bridge.CubeAPI, circuit cube.Circuit) {
	name := cubeLabel(api)
	c.circuitEvents.WithLabelValues(name, string(bridge.EventRemoved)).Inc()

	for _, g := range c.circuitGauges() {
		g.DeleteLabelValues(name, circuit.NormalizedID)
	}
}

func (c *Collector) circuitGauges() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{c.irrigation, c.winterMode, c.temperature, c.moisture, c.brightness}
}

func (c *Collector) observe(name string, circuit cube.Circuit) {
	id := circuit.NormalizedID
	c.irrigation.WithLabelValues(name, id).Set(boolValue(circuit.IrrigationActive))
	c.winterMode.WithLabelValues(name, id).Set(boolValue(circuit.WinterMode))

	if !circuit.HasSensor() {
		return
	}
	c.temperature.WithLabelValues(name, id).Set(circuit.Temperature)
	c.moisture.WithLabelValues(name, id).Set(circuit.Moisture)
	c.brightness.WithLabelValues(name, id).Set(circuit.Brightness)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
