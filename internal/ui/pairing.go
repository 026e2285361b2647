package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/miyo/internal/cube"
)

const (
	// DefaultPairingInterval is the delay between link attempts
	DefaultPairingInterval = 2 * time.Second

	// DefaultPairingTimeout bounds the whole pairing session
	DefaultPairingTimeout = 60 * time.Second

	pairingRefresh = 250 * time.Millisecond
)

var (
	// ErrPairingTimeout is returned when the pairing button was not pressed in time
	ErrPairingTimeout = errors.New("pairing timed out")

	// ErrPairingCancelled is returned when the user aborts pairing
	ErrPairingCancelled = errors.New("pairing cancelled")
)

// LinkFunc requests a token from the cube
type LinkFunc func(ctx context.Context) (string, error)

// PairingOptions controls how long and how often pairing is attempted
type PairingOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (o PairingOptions) withDefaults() PairingOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPairingInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultPairingTimeout
	}
	return o
}

// RetryPairing reports whether a link failure means the button has not been
// pressed yet. Other failures end the pairing session.
func RetryPairing(err error) bool {
	return cube.IsPairingError(err)
}

func timeoutError(timeout time.Duration, last error) error {
	if last == nil {
		return fmt.Errorf("%w after %s", ErrPairingTimeout, timeout)
	}
	return fmt.Errorf("%w after %s: %w", ErrPairingTimeout, timeout, last)
}

// Pair retries link until the cube hands out a token, a non-pairing error
// occurs or the timeout expires. onRetry is called after every refused
// attempt and may be nil.
func Pair(ctx context.Context, link LinkFunc, opts PairingOptions, onRetry func(attempt int, err error)) (string, error) {
	opts = opts.withDefaults()
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		token, err := link(ctx)
		if err == nil {
			return token, nil
		}
		if ctx.Err() != nil {
			return "", sessionEnded(parent, opts.Timeout, lastErr)
		}
		if !RetryPairing(err) {
			return "", err
		}
		lastErr = err
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", sessionEnded(parent, opts.Timeout, lastErr)
		case <-timer.C:
		}
	}
}

func sessionEnded(parent context.Context, timeout time.Duration, last error) error {
	if parent.Err() != nil {
		return ErrPairingCancelled
	}
	return timeoutError(timeout, last)
}

type (
	pairingResultMsg struct {
		token string
		err   error
	}
	pairingRetryMsg struct{}
	pairingTickMsg  time.Time
)

// PairingModel is a Bubble Tea model that keeps asking the cube for a token
// while showing a countdown until the pairing window closes
type PairingModel struct {
	ctx     context.Context
	link    LinkFunc
	opts    PairingOptions
	started time.Time
	elapsed time.Duration

	attempts int
	lastErr  error
	token    string
	err      error
	done     bool

	spinner spinner.Model
	bar     progress.Model
}

// NewPairingModel creates the pairing screen
func NewPairingModel(ctx context.Context, link LinkFunc, opts PairingOptions) PairingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return PairingModel{
		ctx:     ctx,
		link:    link,
		opts:    opts.withDefaults(),
		started: time.Now(),
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// Token returns the token once pairing succeeded
func (m PairingModel) Token() string {
	return m.token
}

// Err returns why pairing ended without a token
func (m PairingModel) Err() error {
	return m.err
}

// Attempts returns the number of finished link attempts
func (m PairingModel) Attempts() int {
	return m.attempts
}

// Init implements tea.Model
func (m PairingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.attempt(), tickPairing())
}

func (m PairingModel) attempt() tea.Cmd {
	ctx, link := m.ctx, m.link
	return func() tea.Msg {
		token, err := link(ctx)
		return pairingResultMsg{token: token, err: err}
	}
}

func tickPairing() tea.Cmd {
	return tea.Tick(pairingRefresh, func(t time.Time) tea.Msg { return pairingTickMsg(t) })
}

func (m PairingModel) finish(token string, err error) (tea.Model, tea.Cmd) {
	m.token = token
	m.err = err
	m.done = true
	return m, tea.Quit
}

// Update implements tea.Model
func (m PairingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m.finish("", ErrPairingCancelled)
		}

	case pairingTickMsg:
		if m.done {
			return m, nil
		}
		m.elapsed = time.Time(msg).Sub(m.started)
		if m.elapsed >= m.opts.Timeout {
			return m.finish("", timeoutError(m.opts.Timeout, m.lastErr))
		}
		return m, tickPairing()

	case pairingResultMsg:
		if m.done {
			return m, nil
		}
		m.attempts++
		if msg.err == nil {
			return m.finish(msg.token, nil)
		}
		if !RetryPairing(msg.err) {
			return m.finish("", msg.err)
		}
		m.lastErr = msg.err
		return m, tea.Tick(m.opts.Interval, func(time.Time) tea.Msg { return pairingRetryMsg{} })

	case pairingRetryMsg:
		if m.done {
			return m, nil
		}
		return m, m.attempt()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model
func (m PairingModel) View() string {
	if m.done {
		return ""
	}

	remaining := m.opts.Timeout - m.elapsed
	if remaining < 0 {
		remaining = 0
	}
	fraction := float64(m.elapsed) / float64(m.opts.Timeout)
	if fraction > 1 {
		fraction = 1
	}

	var b strings.Builder
	b.WriteString("  " + m.spinner.View() + " Waiting for the cube to confirm pairing\n\n")
	b.WriteString(HeaderParamValueStyle.Render("  Press the pairing button on the cube now.") + "\n\n")
	b.WriteString(fmt.Sprintf("  %s  %2ds left\n\n", m.bar.ViewAs(fraction), int(remaining.Round(time.Second).Seconds())))
	b.WriteString(HintStyle.Render(fmt.Sprintf("attempts: %d · q to cancel", m.attempts)) + "\n")
	return b.String()
}

// RunPairing runs the pairing screen until it finishes and returns the token
func RunPairing(ctx context.Context, link LinkFunc, opts PairingOptions, in io.Reader, out io.Writer) (string, error) {
	model := NewPairingModel(ctx, link, opts)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))

	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrPairingCancelled
		}
		return "", fmt.Errorf("pairing screen: %w", err)
	}

	pm, ok := final.(PairingModel)
	if !ok {
		return "", fmt.Errorf("pairing screen: unexpected model %T", final)
	}
	return pm.Token(), pm.Err()
}
