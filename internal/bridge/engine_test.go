package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/muurk/miyo/internal/cube"
)

const goodToken = "{1b4e28ba-2fa1-11d2-883f-0016d3cca427}"

// fakeCube mimics cube.Client session semantics over an in-memory circuit set
type fakeCube struct {
	mu            sync.Mutex
	username      string
	validToken    string
	reachable     bool
	circuits      []cube.Circuit
	linkToken     string
	linkErr       error
	irrigationErr error
	listErr       error
	listCalls     int
	authCalls     int
	probes        int
	commandCalls  int
	released      int

	// probeStarted and probeRelease, when set, hold the reachability probe
	// until the test releases it
	probeStarted chan struct{}
	probeRelease chan struct{}
}

func newFakeCube(circuits ...cube.Circuit) *fakeCube {
	return &fakeCube{
		validToken: goodToken,
		reachable:  true,
		circuits:   circuits,
		linkToken:  goodToken,
	}
}

func (f *fakeCube) IP() string { return "192.168.1.50" }

func (f *fakeCube) setCircuits(circuits ...cube.Circuit) {
	f.mu.Lock()
	f.circuits = circuits
	f.mu.Unlock()
}

func (f *fakeCube) setReachable(reachable bool) {
	f.mu.Lock()
	f.reachable = reachable
	f.mu.Unlock()
}

func (f *fakeCube) session() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.username
}

func (f *fakeCube) transportErr() error {
	return cube.NewTransportError("POST request failed", fmt.Errorf("connection refused"))
}

func (f *fakeCube) Link(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.reachable {
		return "", f.transportErr()
	}
	if f.username != "" {
		return "", &cube.DeviceError{Type: cube.ErrTypeAlreadyLinked, Message: "already linked"}
	}
	if f.linkErr != nil {
		return "", f.linkErr
	}
	f.username = f.linkToken
	return f.linkToken, nil
}

// failNextList makes the next listing fail with err
func (f *fakeCube) failNextList(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func (f *fakeCube) counts() (auth, probes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls, f.probes
}

func (f *fakeCube) Authenticate(ctx context.Context, username string) error {
	f.mu.Lock()
	started, release := f.probeStarted, f.probeRelease
	f.mu.Unlock()
	if username == probeCredential && started != nil {
		close(started)
		<-release
	}

	f.mu.Lock()
	f.username = username
	f.authCalls++
	if username == probeCredential {
		f.probes++
	}
	f.mu.Unlock()

	if _, err := f.ListCircuits(ctx); err != nil {
		if cube.IsTransportError(err) {
			return err
		}
		f.mu.Lock()
		f.username = ""
		f.mu.Unlock()
		return cube.NewUnauthorizedError("token rejected by cube", err)
	}
	return nil
}

func (f *fakeCube) ListCircuits(_ context.Context) ([]cube.Circuit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		err := f.listErr
		f.listErr = nil
		return nil, err
	}
	if f.username == "" {
		return nil, &cube.DeviceError{Type: cube.ErrTypeNotAuthenticated, Message: "linking is required"}
	}
	if !f.reachable {
		return nil, f.transportErr()
	}
	if f.username != f.validToken {
		return nil, cube.NewAPIError("circuit listing failed", nil)
	}
	out := make([]cube.Circuit, len(f.circuits))
	copy(out, f.circuits)
	return out, nil
}

func (f *fakeCube) SetIrrigation(_ context.Context, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commandCalls++
	return f.irrigationErr
}

func (f *fakeCube) SetWinterMode(_ context.Context, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commandCalls++
	return nil
}

func (f *fakeCube) ReleaseSession() {
	f.mu.Lock()
	f.username = ""
	f.released++
	f.mu.Unlock()
}

// recorder is a CircuitListener, StatusHandler and PollObserver
type recorder struct {
	mu      sync.Mutex
	events  []string
	signals []string
	polls   []error
}

func (r *recorder) CircuitAdded(_ CubeAPI, c cube.Circuit) { r.record("added:" + c.NormalizedID) }
func (r *recorder) CircuitChanged(_ CubeAPI, c cube.Circuit) {
	r.record("changed:" + c.NormalizedID)
}
func (r *recorder) CircuitRemoved(_ CubeAPI, c cube.Circuit) {
	r.record("removed:" + c.NormalizedID)
}

func (r *recorder) ConnectionLost(_ CubeAPI) { r.signal("lost") }
func (r *recorder) AuthenticationRequired(_ CubeAPI, reason AuthReason) {
	r.signal("auth:" + reason.String())
}
func (r *recorder) ConnectionResumed(_ CubeAPI) { r.signal("resumed") }

func (r *recorder) PollCompleted(_ CubeAPI, err error, _ time.Duration) {
	r.mu.Lock()
	r.polls = append(r.polls, err)
	r.mu.Unlock()
}

func (r *recorder) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) signal(s string) {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
}

// take returns and clears the recorded events and signals
func (r *recorder) take() (events, signals []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events, signals = r.events, r.signals
	r.events, r.signals = nil, nil
	return events, signals
}

type panicListener struct{}

func (panicListener) CircuitAdded(CubeAPI, cube.Circuit)   { panic("boom") }
func (panicListener) CircuitChanged(CubeAPI, cube.Circuit) { panic("boom") }
func (panicListener) CircuitRemoved(CubeAPI, cube.Circuit) { panic("boom") }

func circuit(id string) cube.Circuit {
	return cube.Circuit{ID: "{" + id + "}", NormalizedID: id, Name: id, SensorID: cube.NoSensor}
}

// newTestEngine returns an engine with a long interval so that only explicit
// Poll calls run cycles
func newTestEngine(api CubeAPI, username string) (*Engine, *recorder) {
	e := New(api, Config{Username: username, PollInterval: time.Hour, InitialDelay: time.Hour})
	rec := &recorder{}
	e.AddStatusHandler(rec)
	e.AddPollObserver(rec)
	return e, rec
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPoll_StartupAuthenticatesConfiguredToken(t *testing.T) {
	api := newFakeCube(circuit("a"))
	e, rec := newTestEngine(api, goodToken)
	defer e.Stop()

	e.Poll(context.Background())

	_, signals := rec.take()
	want := []string{"auth:unauthorized", "resumed"}
	if !equalStrings(signals, want) {
		t.Errorf("signals = %v, want %v", signals, want)
	}
	if e.State() != Connected {
		t.Errorf("State() = %v, want connected", e.State())
	}
	if api.session() != goodToken {
		t.Errorf("session token = %q, want %q", api.session(), goodToken)
	}
	if _, ok := e.CircuitByID("a"); ok {
		t.Error("first cycle should not mirror circuits before the session exists")
	}

	e.Poll(context.Background())
	if _, signals := rec.take(); len(signals) != 0 {
		t.Errorf("second cycle signals = %v, want none", signals)
	}
	if _, ok := e.CircuitByID("a"); !ok {
		t.Error("second cycle should mirror circuit a")
	}
}

func TestPoll_Reconcile(t *testing.T) {
	api := newFakeCube(circuit("a"), circuit("b"))
	e, _ := newTestEngine(api, goodToken)
	defer e.Stop()
	listener := &recorder{}
	e.RegisterListener(listener)

	// First cycle authenticates, second lists
	e.Poll(context.Background())
	e.Poll(context.Background())

	events, _ := listener.take()
	if want := []string{"added:a", "added:b"}; !equalStrings(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}

	t.Run("unchanged poll is silent", func(t *testing.T) {
		e.Poll(context.Background())
		if events, _ := listener.take(); len(events) != 0 {
			t.Errorf("events = %v, want none", events)
		}
	})

	t.Run("state change emits changed once", func(t *testing.T) {
		b := circuit("b")
		b.IrrigationActive = true
		api.setCircuits(circuit("a"), b)

		e.Poll(context.Background())
		if events, _ := listener.take(); !equalStrings(events, []string{"changed:b"}) {
			t.Errorf("events = %v, want [changed:b]", events)
		}

		e.Poll(context.Background())
		if events, _ := listener.take(); len(events) != 0 {
			t.Errorf("events = %v, want none", events)
		}
	})

	t.Run("winterized circuit always changes", func(t *testing.T) {
		a := circuit("a")
		a.WinterMode = true
		b := circuit("b")
		b.IrrigationActive = true
		api.setCircuits(a, b)

		for i := 0; i < 3; i++ {
			e.Poll(context.Background())
			if events, _ := listener.take(); !equalStrings(events, []string{"changed:a"}) {
				t.Errorf("poll %d events = %v, want [changed:a]", i, events)
			}
		}
	})

	t.Run("removal emitted once", func(t *testing.T) {
		api.setCircuits(circuit("c"))

		e.Poll(context.Background())
		events, _ := listener.take()
		if want := []string{"added:c", "removed:a", "removed:b"}; !equalStrings(events, want) {
			t.Errorf("events = %v, want %v", events, want)
		}
		if _, ok := e.CircuitByID("a"); ok {
			t.Error("removed circuit still in table")
		}

		e.Poll(context.Background())
		if events, _ := listener.take(); len(events) != 0 {
			t.Errorf("events = %v, want none", events)
		}
	})
}

func TestRegisterListener_CatchUp(t *testing.T) {
	api := newFakeCube(circuit("a"), circuit("b"))
	e, _ := newTestEngine(api, goodToken)
	defer e.Stop()

	e.Poll(context.Background())
	e.Poll(context.Background())

	late := &recorder{}
	if !e.RegisterListener(late) {
		t.Fatal("RegisterListener() = false, want true")
	}

	events, _ := late.take()
	sort.Strings(events)
	if want := []string{"added:a", "added:b"}; !equalStrings(events, want) {
		t.Errorf("catch-up events = %v, want %v", events, want)
	}

	if e.RegisterListener(late) {
		t.Error("registering twice should return false")
	}
	if e.ListenerCount() != 1 {
		t.Errorf("ListenerCount() = %d, want 1", e.ListenerCount())
	}
	if !e.Running() {
		t.Error("registration should start the poll loop")
	}

	if !e.UnregisterListener(late) {
		t.Error("UnregisterListener() = false, want true")
	}
	if e.UnregisterListener(late) {
		t.Error("second UnregisterListener() should return false")
	}
}

func TestNotify_ListenerPanicIsolated(t *testing.T) {
	api := newFakeCube(circuit("a"))
	e, _ := newTestEngine(api, goodToken)
	defer e.Stop()

	e.RegisterListener(panicListener{})
	healthy := &recorder{}
	e.RegisterListener(healthy)

	e.Poll(context.Background())
	e.Poll(context.Background())

	if events, _ := healthy.take(); !equalStrings(events, []string{"added:a"}) {
		t.Errorf("events = %v, want [added:a]", events)
	}
	if _, ok := e.CircuitByID("a"); !ok {
		t.Error("table should hold circuit a despite listener panic")
	}
}

func TestPoll_UnreachableCube(t *testing.T) {
	api := newFakeCube(circuit("a"))
	api.setReachable(false)
	e, rec := newTestEngine(api, goodToken)
	defer e.Stop()

	e.Poll(context.Background())

	_, signals := rec.take()
	if !equalStrings(signals, []string{"lost"}) {
		t.Errorf("signals = %v, want [lost]", signals)
	}
	if e.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", e.State())
	}

	// Still down: lost is reported on every cycle
	e.Poll(context.Background())
	if _, signals := rec.take(); !equalStrings(signals, []string{"lost"}) {
		t.Errorf("signals = %v, want [lost]", signals)
	}

	// Back up: the recovery step authenticates
	api.setReachable(true)
	e.Poll(context.Background())
	if _, signals := rec.take(); len(signals) == 0 || signals[len(signals)-1] != "resumed" {
		t.Errorf("signals = %v, want trailing resumed", signals)
	}
	if e.State() != Connected {
		t.Errorf("State() = %v, want connected", e.State())
	}
}

func TestPoll_ConnectionLostAfterConnected(t *testing.T) {
	api := newFakeCube(circuit("a"))
	e, rec := newTestEngine(api, goodToken)
	defer e.Stop()

	e.Poll(context.Background())
	e.Poll(context.Background())
	rec.take()

	api.setReachable(false)
	e.Poll(context.Background())

	if _, signals := rec.take(); !equalStrings(signals, []string{"lost"}) {
		t.Errorf("signals = %v, want [lost]", signals)
	}
	if _, ok := e.CircuitByID("a"); !ok {
		t.Error("snapshot table should survive a lost connection")
	}
}

// stateRecorder notes the engine state each status signal was raised in
type stateRecorder struct {
	engine *Engine
	states []string
}

func (s *stateRecorder) ConnectionLost(CubeAPI) {
	s.states = append(s.states, "lost:"+s.engine.State().String())
}

func (s *stateRecorder) AuthenticationRequired(CubeAPI, AuthReason) {
	s.states = append(s.states, "auth:"+s.engine.State().String())
}

func (s *stateRecorder) ConnectionResumed(CubeAPI) {
	s.states = append(s.states, "resumed:"+s.engine.State().String())
}

func TestPoll_CubeErrorLosesConnection(t *testing.T) {
	api := newFakeCube(circuit("a"))
	e, rec := newTestEngine(api, goodToken)
	defer e.Stop()
	states := &stateRecorder{engine: e}
	e.AddStatusHandler(states)

	e.Poll(context.Background())
	e.Poll(context.Background())
	rec.take()
	states.states = nil
	authBefore, probesBefore := api.counts()

	api.failNextList(cube.NewAPIError("circuit listing failed", nil))
	e.Poll(context.Background())

	_, signals := rec.take()
	if want := []string{"lost", "resumed"}; !equalStrings(signals, want) {
		t.Errorf("signals = %v, want %v", signals, want)
	}
	if len(states.states) == 0 || states.states[0] != "lost:"+Disconnected.String() {
		t.Errorf("signal states = %v, want lost while disconnected first", states.states)
	}

	auth, probes := api.counts()
	if probes != probesBefore {
		t.Errorf("reachability probes = %d, want none after a cube error", probes-probesBefore)
	}
	if auth-authBefore != 1 {
		t.Errorf("authenticate calls = %d, want 1 (recovery)", auth-authBefore)
	}
	if e.State() != Connected {
		t.Errorf("State() = %v, want connected after recovery", e.State())
	}
	if api.session() != goodToken {
		t.Errorf("session token = %q, want %q", api.session(), goodToken)
	}
}

func TestPoll_ProbeExcludesAuthentication(t *testing.T) {
	api := newFakeCube(circuit("a"))
	api.probeStarted = make(chan struct{})
	api.probeRelease = make(chan struct{})
	e, _ := newTestEngine(api, goodToken)
	defer e.Stop()

	polled := make(chan struct{})
	go func() {
		e.Poll(context.Background())
		close(polled)
	}()

	select {
	case <-api.probeStarted:
	case <-time.After(time.Second):
		t.Fatal("reachability probe did not start")
	}

	listed := make(chan error, 1)
	go func() {
		_, err := e.ListCircuits(context.Background())
		listed <- err
	}()

	select {
	case err := <-listed:
		t.Fatalf("ListCircuits() returned %v while the probe was running", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(api.probeRelease)

	select {
	case err := <-listed:
		if err != nil {
			t.Errorf("ListCircuits() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ListCircuits() did not return after the probe")
	}
	<-polled

	if api.session() != goodToken {
		t.Errorf("session token = %q, want %q", api.session(), goodToken)
	}
}

func TestPoll_RejectedToken(t *testing.T) {
	api := newFakeCube(circuit("a"))
	e, rec := newTestEngine(api, "stale-token")
	defer e.Stop()

	e.Poll(context.Background())

	_, signals := rec.take()
	want := []string{"auth:unauthorized", "auth:invalid_username"}
	if !equalStrings(signals, want) {
		t.Errorf("signals = %v, want %v", signals, want)
	}
	if e.State() != Authenticating {
		t.Errorf("State() = %v, want authenticating", e.State())
	}
	if api.session() != "" {
		t.Errorf("session token = %q, want cleared", api.session())
	}
}

func TestPoll_Pairing(t *testing.T) {
	api := newFakeCube(circuit("a"))
	api.linkErr = cube.NewPairingError("pairing button not pressed")

	var mu sync.Mutex
	saved := map[string]string{}
	e, rec := newTestEngine(api, "")
	e.SetTokenStore(TokenStoreFunc(func(ip, token string) error {
		mu.Lock()
		saved[ip] = token
		mu.Unlock()
		return nil
	}))
	defer e.Stop()

	e.Poll(context.Background())
	_, signals := rec.take()
	if want := []string{"auth:no_username", "auth:press_pairing_button"}; !equalStrings(signals, want) {
		t.Fatalf("signals = %v, want %v", signals, want)
	}
	if e.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", e.State())
	}

	// Button pressed
	api.mu.Lock()
	api.linkErr = nil
	api.mu.Unlock()

	e.Poll(context.Background())
	_, signals = rec.take()
	if want := []string{"auth:no_username", "resumed"}; !equalStrings(signals, want) {
		t.Fatalf("signals = %v, want %v", signals, want)
	}
	if e.Username() != goodToken {
		t.Errorf("Username() = %q, want %q", e.Username(), goodToken)
	}
	mu.Lock()
	if saved[api.IP()] != goodToken {
		t.Errorf("token store got %v", saved)
	}
	mu.Unlock()

	listener := &recorder{}
	e.RegisterListener(listener)
	e.Poll(context.Background())
	if events, _ := listener.take(); !equalStrings(events, []string{"added:a"}) {
		t.Errorf("events = %v, want [added:a]", events)
	}
}

func TestPoll_LinkFailure(t *testing.T) {
	api := newFakeCube()
	api.linkErr = cube.NewAPIError("unexpected link response", nil)
	e, rec := newTestEngine(api, "")
	defer e.Stop()

	e.Poll(context.Background())

	_, signals := rec.take()
	if want := []string{"auth:no_username", "auth:failed_creating_user"}; !equalStrings(signals, want) {
		t.Errorf("signals = %v, want %v", signals, want)
	}
}

func TestPoll_ObserverSeesResult(t *testing.T) {
	api := newFakeCube(circuit("a"))
	e, rec := newTestEngine(api, goodToken)
	defer e.Stop()

	e.Poll(context.Background())
	e.Poll(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.polls) != 2 {
		t.Fatalf("observed %d polls, want 2", len(rec.polls))
	}
	if !cube.IsStateError(rec.polls[0]) {
		t.Errorf("first poll error = %v, want not authenticated", rec.polls[0])
	}
	if rec.polls[1] != nil {
		t.Errorf("second poll error = %v, want nil", rec.polls[1])
	}
}

func TestListCircuits_ReAuthenticates(t *testing.T) {
	api := newFakeCube(circuit("a"), circuit("b"))
	e, rec := newTestEngine(api, goodToken)
	defer e.Stop()

	circuits, err := e.ListCircuits(context.Background())
	if err != nil {
		t.Fatalf("ListCircuits() error = %v", err)
	}
	if len(circuits) != 2 {
		t.Errorf("ListCircuits() returned %d circuits, want 2", len(circuits))
	}
	if _, signals := rec.take(); !equalStrings(signals, []string{"resumed"}) {
		t.Errorf("signals = %v, want [resumed]", signals)
	}
	if len(e.Circuits()) != 0 {
		t.Error("on-demand listing should not touch the snapshot table")
	}
}

func TestListCircuits_Unreachable(t *testing.T) {
	api := newFakeCube(circuit("a"))
	api.setReachable(false)
	e, _ := newTestEngine(api, goodToken)
	defer e.Stop()

	circuits, err := e.ListCircuits(context.Background())
	if err == nil {
		t.Fatal("ListCircuits() error = nil, want error")
	}
	if len(circuits) != 0 {
		t.Errorf("ListCircuits() returned %d circuits, want 0", len(circuits))
	}
}

func TestStartStop(t *testing.T) {
	api := newFakeCube(circuit("a"))
	e := New(api, Config{Username: goodToken, PollInterval: 5 * time.Millisecond, InitialDelay: time.Millisecond})
	listener := &recorder{}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	e.RegisterListener(listener)

	deadline := time.Now().Add(2 * time.Second)
	for {
		listener.mu.Lock()
		n := len(listener.events)
		listener.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the poll loop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	e.Stop()
	e.Stop()

	if e.Running() {
		t.Error("Running() = true after Stop")
	}
	if api.session() != "" {
		t.Error("Stop should release the session")
	}
	if err := e.Start(context.Background()); err != ErrStopped {
		t.Errorf("Start() after Stop error = %v, want ErrStopped", err)
	}
}

func TestDefaults(t *testing.T) {
	e := New(newFakeCube(), Config{})
	if e.cfg.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", e.cfg.PollInterval, DefaultPollInterval)
	}
	if e.cfg.InitialDelay != DefaultInitialDelay {
		t.Errorf("InitialDelay = %v, want %v", e.cfg.InitialDelay, DefaultInitialDelay)
	}
	if e.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", e.State())
	}
}
