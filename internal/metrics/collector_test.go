package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/muurk/miyo/internal/bridge"
	"github.com/muurk/miyo/internal/cube"
)

const testCube = "192.168.1.50"

func testAPI() bridge.CubeAPI {
	return cube.NewClient(testCube)
}

func sensorCircuit() cube.Circuit {
	return cube.Circuit{
		ID:           "{abc}",
		NormalizedID: "abc",
		SensorID:     "{sensor-1}",
		Temperature:  18.5,
		Moisture:     41,
		Brightness:   1200,
	}
}

func TestCollector_Poll(t *testing.T) {
	c := NewCollector()
	api := testAPI()

	c.PollCompleted(api, nil, 120*time.Millisecond)
	c.PollCompleted(api, nil, 80*time.Millisecond)
	c.PollCompleted(api, errors.New("timeout"), time.Second)

	if got := testutil.ToFloat64(c.pollCycles.WithLabelValues(testCube, ResultOK)); got != 2 {
		t.Errorf("ok cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.pollCycles.WithLabelValues(testCube, ResultError)); got != 1 {
		t.Errorf("error cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.lastPoll.WithLabelValues(testCube)); got < float64(time.Now().Add(-time.Minute).Unix()) {
		t.Errorf("last poll timestamp = %v, want recent", got)
	}
	if got := testutil.CollectAndCount(c.pollDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestCollector_Status(t *testing.T) {
	c := NewCollector()
	api := testAPI()
	connected := func() float64 { return testutil.ToFloat64(c.cubeConnected.WithLabelValues(testCube)) }

	c.ConnectionResumed(api)
	if connected() != 1 {
		t.Error("cube_connected should be 1 after ConnectionResumed")
	}

	c.AuthenticationRequired(api, bridge.ReasonUnauthorized)
	if connected() != 0 {
		t.Error("cube_connected should be 0 while authentication is required")
	}

	c.PollCompleted(api, nil, time.Millisecond)
	if connected() != 1 {
		t.Error("cube_connected should be 1 after a successful poll")
	}

	c.ConnectionLost(api)
	if connected() != 0 {
		t.Error("cube_connected should be 0 after ConnectionLost")
	}
}

func TestCollector_Circuits(t *testing.T) {
	c := NewCollector()
	api := testAPI()

	circuit := sensorCircuit()
	c.CircuitAdded(api, circuit)

	circuit.IrrigationActive = true
	circuit.Moisture = 55
	c.CircuitChanged(api, circuit)

	if got := testutil.ToFloat64(c.irrigation.WithLabelValues(testCube, "abc")); got != 1 {
		t.Errorf("irrigation = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.moisture.WithLabelValues(testCube, "abc")); got != 55 {
		t.Errorf("moisture = %v, want 55", got)
	}
	if got := testutil.ToFloat64(c.circuitEvents.WithLabelValues(testCube, "changed")); got != 1 {
		t.Errorf("changed events = %v, want 1", got)
	}

	c.CircuitRemoved(api, circuit)
	if got := testutil.CollectAndCount(c.irrigation); got != 0 {
		t.Errorf("irrigation series after removal = %d, want 0", got)
	}
	if got := testutil.CollectAndCount(c.temperature); got != 0 {
		t.Errorf("temperature series after removal = %d, want 0", got)
	}
	if got := testutil.ToFloat64(c.circuitEvents.WithLabelValues(testCube, "removed")); got != 1 {
		t.Errorf("removed events = %v, want 1", got)
	}
}

func TestCollector_NoSensor(t *testing.T) {
	c := NewCollector()

	circuit := sensorCircuit()
	circuit.SensorID = cube.NoSensor
	c.CircuitAdded(nil, circuit)

	if got := testutil.CollectAndCount(c.temperature); got != 0 {
		t.Errorf("temperature series = %d, want 0 for a circuit without sensor", got)
	}
	if got := testutil.CollectAndCount(c.winterMode); got != 1 {
		t.Errorf("winter series = %d, want 1", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.CircuitAdded(testAPI(), sensorCircuit())

	srv := httptest.NewServer(c.NewMux())
	defer srv.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/metrics", `miyo_circuit_temperature_celsius{circuit="abc",cube="192.168.1.50"} 18.5`},
		{"/health", "OK"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s error = %v", tt.path, err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d", resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body does not contain %q", tt.want)
			}
		})
	}
}

func TestCollector_Serve(t *testing.T) {
	c := NewCollector()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not return after cancel")
	}
}

func TestCollector_Attach(t *testing.T) {
	c := NewCollector()
	engine := bridge.New(testAPI(), bridge.Config{InitialDelay: time.Hour, PollInterval: time.Hour})
	defer engine.Stop()

	c.Attach(engine)

	if engine.ListenerCount() != 1 {
		t.Errorf("ListenerCount() = %d, want 1", engine.ListenerCount())
	}
}
