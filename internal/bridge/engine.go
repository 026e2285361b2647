package bridge

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/command"
	"github.com/muurk/miyo/internal/cube"
	"github.com/muurk/miyo/internal/logging"
)

const (
	// DefaultPollInterval is the delay between the end of one poll and the start of the next
	DefaultPollInterval = 10 * time.Second

	// DefaultInitialDelay is the delay before the first poll
	DefaultInitialDelay = 1 * time.Second

	// probeCredential is sent to tell an unreachable cube from one that
	// rejects our token. Any answer from the cube means it is reachable.
	probeCredential = "invalid"
)

var (
	// ErrStopped is returned when starting an engine that was stopped
	ErrStopped = errors.New("bridge: engine stopped")

	// ErrNotConnected is reported to poll observers when a cycle could not list circuits
	ErrNotConnected = errors.New("bridge: cube not connected")
)

// CubeAPI is the cube client the engine drives
type CubeAPI interface {
	IP() string
	Link(ctx context.Context) (string, error)
	Authenticate(ctx context.Context, username string) error
	ListCircuits(ctx context.Context) ([]cube.Circuit, error)
	SetIrrigation(ctx context.Context, circuitID string, on bool) error
	SetWinterMode(ctx context.Context, circuitID string, on bool) error
	ReleaseSession()
}

// Config holds the per-cube settings supplied by the host
type Config struct {
	// Username is the API token; empty means the engine pairs on its own
	Username string

	// PollInterval is the delay between polls (default 10s)
	PollInterval time.Duration

	// InitialDelay is the delay before the first poll (default 1s)
	InitialDelay time.Duration
}

// Engine polls one cube, mirrors its circuits and reports transitions.
// Each managed cube has its own Engine.
type Engine struct {
	api        CubeAPI
	dispatcher *command.Dispatcher
	cfg        Config
	logger     *zap.Logger
	tokenStore TokenStore

	mu       sync.RWMutex
	state    State
	username string
	circuits map[string]cube.Circuit
	polled   bool

	// pollMu keeps cycles from overlapping; authMu serializes pairing,
	// authentication and the reachability probe between the poll loop and
	// on-demand listings
	pollMu sync.Mutex
	authMu sync.Mutex

	listeners      registry[CircuitListener]
	statusHandlers registry[StatusHandler]
	pollObservers  registry[PollObserver]

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// New creates an engine for the given cube. The poll loop starts with Start
// or with the first RegisterListener.
func New(api CubeAPI, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}

	return &Engine{
		api:        api,
		dispatcher: command.NewDispatcher(api),
		cfg:        cfg,
		logger:     logging.Named("bridge").With(zap.String("cube", api.IP())),
		username:   cfg.Username,
		circuits:   make(map[string]cube.Circuit),
	}
}

// SetLogger replaces the engine's logger
func (e *Engine) SetLogger(l *zap.Logger) {
	if l != nil {
		e.logger = l
	}
}

// SetTokenStore sets where tokens obtained by pairing are persisted
func (e *Engine) SetTokenStore(s TokenStore) {
	e.tokenStore = s
}

// API returns the cube the engine drives
func (e *Engine) API() CubeAPI {
	return e.api
}

// State returns the current connection state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Username returns the configured API token
func (e *Engine) Username() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.username
}

func (e *Engine) setUsername(username string) {
	e.mu.Lock()
	e.username = username
	e.mu.Unlock()
}

func (e *Engine) setState(next State) State {
	e.mu.Lock()
	prev := e.state
	e.state = next
	e.mu.Unlock()

	if prev != next {
		logging.LogConnectionState(e.api.IP(), prev.String(), next.String())
	}
	return prev
}

// markConnected moves to Connected and signals the resumption
func (e *Engine) markConnected() {
	if prev := e.setState(Connected); prev != Connected {
		e.signalConnectionResumed()
	}
}

// CircuitByID returns the last known snapshot of a circuit
func (e *Engine) CircuitByID(normalizedID string) (cube.Circuit, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.circuits[normalizedID]
	return c, ok
}

// Circuits returns the last known snapshots sorted by normalized id
func (e *Engine) Circuits() []cube.Circuit {
	e.mu.RLock()
	circuits := make([]cube.Circuit, 0, len(e.circuits))
	for _, c := range e.circuits {
		circuits = append(circuits, c)
	}
	e.mu.RUnlock()

	sort.Slice(circuits, func(i, j int) bool {
		return circuits[i].NormalizedID < circuits[j].NormalizedID
	})
	return circuits
}

// Start launches the poll loop. Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	e.logger.Info("Starting cube polling",
		zap.Duration("interval", e.cfg.PollInterval),
		zap.Duration("initial_delay", e.cfg.InitialDelay))

	go e.loop(loopCtx, e.done)
	return nil
}

// schedule starts the poll loop unless it runs already or the engine was stopped
func (e *Engine) schedule() {
	_ = e.Start(context.Background())
}

// Running reports whether the poll loop is active
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.cancel != nil && !e.stopped
}

// loop runs poll cycles with a fixed delay between the end of one cycle and
// the start of the next
func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(e.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.Poll(ctx)
			timer.Reset(e.cfg.PollInterval)
		}
	}
}

// Stop cancels the poll loop, waits for an in-flight cycle to return and
// releases the cube session. A stopped engine cannot be restarted. Stop must
// not be called from a listener or status handler.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if e.stopped {
		e.runMu.Unlock()
		return
	}
	e.stopped = true
	cancel, done := e.cancel, e.done
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	e.api.ReleaseSession()
	e.setState(Disconnected)
	e.logger.Info("Stopped cube polling")
}
