package ui

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/miyo/internal/cube"
)

// linkAfter returns a LinkFunc that refuses n times before handing out token
func linkAfter(n int32, token string) (LinkFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context) (string, error) {
		if calls.Add(1) <= n {
			return "", cube.NewPairingError("pairing button not pressed")
		}
		return token, nil
	}, &calls
}

func TestPair(t *testing.T) {
	t.Run("succeeds after refusals", func(t *testing.T) {
		link, calls := linkAfter(2, "tok")
		var retries []int

		token, err := Pair(context.Background(), link, PairingOptions{Interval: time.Millisecond, Timeout: time.Second},
			func(attempt int, err error) { retries = append(retries, attempt) })

		if err != nil || token != "tok" {
			t.Fatalf("Pair() = %q, %v", token, err)
		}
		if calls.Load() != 3 {
			t.Errorf("link called %d times, want 3", calls.Load())
		}
		if len(retries) != 2 || retries[1] != 2 {
			t.Errorf("onRetry attempts = %v", retries)
		}
	})

	t.Run("times out", func(t *testing.T) {
		link, _ := linkAfter(1<<30, "tok")

		_, err := Pair(context.Background(), link, PairingOptions{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}, nil)

		if !errors.Is(err, ErrPairingTimeout) {
			t.Fatalf("Pair() error = %v, want ErrPairingTimeout", err)
		}
		if !errors.Is(err, cube.ErrPairingNotConfirmed) {
			t.Errorf("Pair() error = %v, want last refusal wrapped", err)
		}
	})

	t.Run("stops on other errors", func(t *testing.T) {
		want := cube.NewTransportError("POST request failed", errors.New("refused"))
		link := func(ctx context.Context) (string, error) { return "", want }

		_, err := Pair(context.Background(), link, PairingOptions{Interval: time.Millisecond, Timeout: time.Second}, nil)

		if !errors.Is(err, cube.ErrTransport) {
			t.Errorf("Pair() error = %v, want transport error", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		link := func(ctx context.Context) (string, error) {
			cancel()
			return "", cube.NewPairingError("pairing button not pressed")
		}

		_, err := Pair(ctx, link, PairingOptions{Interval: time.Second, Timeout: time.Minute}, nil)

		if !errors.Is(err, ErrPairingCancelled) {
			t.Errorf("Pair() error = %v, want ErrPairingCancelled", err)
		}
	})
}

func TestPairingModelSuccess(t *testing.T) {
	m := NewPairingModel(context.Background(), nil, PairingOptions{})

	next, cmd := m.Update(pairingResultMsg{err: cube.NewPairingError("not pressed")})
	m = next.(PairingModel)
	if m.done || cmd == nil {
		t.Fatalf("refusal ended pairing: done=%v", m.done)
	}
	if m.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", m.Attempts())
	}

	next, _ = m.Update(pairingResultMsg{token: "tok"})
	m = next.(PairingModel)
	if !m.done || m.Token() != "tok" || m.Err() != nil {
		t.Errorf("after success: done=%v token=%q err=%v", m.done, m.Token(), m.Err())
	}
	if m.View() != "" {
		t.Errorf("View() after finish = %q, want empty", m.View())
	}
}

func TestPairingModelEnds(t *testing.T) {
	tests := []struct {
		name    string
		msg     func(m PairingModel) tea.Msg
		wantErr error
	}{
		{
			name:    "timeout",
			msg:     func(m PairingModel) tea.Msg { return pairingTickMsg(m.started.Add(DefaultPairingTimeout)) },
			wantErr: ErrPairingTimeout,
		},
		{
			name:    "cancel key",
			msg:     func(PairingModel) tea.Msg { return tea.KeyMsg{Type: tea.KeyCtrlC} },
			wantErr: ErrPairingCancelled,
		},
		{
			name: "non-pairing error",
			msg: func(PairingModel) tea.Msg {
				return pairingResultMsg{err: cube.NewAPIError("link response carries no token", nil)}
			},
			wantErr: cube.ErrAPI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPairingModel(context.Background(), nil, PairingOptions{})

			next, cmd := m.Update(tt.msg(m))
			m = next.(PairingModel)

			if !m.done || cmd == nil {
				t.Fatalf("pairing did not finish")
			}
			if !errors.Is(m.Err(), tt.wantErr) {
				t.Errorf("Err() = %v, want %v", m.Err(), tt.wantErr)
			}
		})
	}
}

func TestPairingModelCountdown(t *testing.T) {
	m := NewPairingModel(context.Background(), nil, PairingOptions{Timeout: 10 * time.Second})

	next, cmd := m.Update(pairingTickMsg(m.started.Add(4 * time.Second)))
	m = next.(PairingModel)

	if m.done || cmd == nil {
		t.Fatal("tick before the deadline ended pairing")
	}
	view := m.View()
	if !strings.Contains(view, "6s left") || !strings.Contains(view, "pairing button") {
		t.Errorf("View() = %q", view)
	}
}
