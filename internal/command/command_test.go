package command

import (
	"context"
	"errors"
	"testing"

	"github.com/muurk/miyo/internal/cube"
)

type call struct {
	method    string
	circuitID string
	on        bool
}

type fakeCommander struct {
	calls []call
	err   error
}

func (f *fakeCommander) SetIrrigation(_ context.Context, circuitID string, on bool) error {
	f.calls = append(f.calls, call{"irrigation", circuitID, on})
	return f.err
}

func (f *fakeCommander) SetWinterMode(_ context.Context, circuitID string, on bool) error {
	f.calls = append(f.calls, call{"winter", circuitID, on})
	return f.err
}

var lawn = cube.Circuit{ID: "{abc}", NormalizedID: "abc", Name: "Lawn"}

func TestBatchBuilders(t *testing.T) {
	tests := []struct {
		name  string
		batch Batch
		want  string
	}{
		{"turn on", Batch{}.TurnOn(), `{"mode":"start"}`},
		{"turn off", Batch{}.TurnOff(), `{"mode":"stop"}`},
		{"winter on", Batch{}.SetWinter(true), `{"winter":"true"}`},
		{"winter off", Batch{}.SetWinter(false), `{"winter":"false"}`},
		{"chained", Batch{}.TurnOn().SetWinter(false), `{"mode":"start","winter":"false"}`},
		{"empty", Batch{}, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.batch.JSON(); got != tt.want {
				t.Errorf("JSON() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDispatch_Routing(t *testing.T) {
	tests := []struct {
		name  string
		batch Batch
		want  call
	}{
		{"start", Batch{}.TurnOn(), call{"irrigation", "{abc}", true}},
		{"stop", Batch{}.TurnOff(), call{"irrigation", "{abc}", false}},
		{"winter on", Batch{}.SetWinter(true), call{"winter", "{abc}", true}},
		{"winter off", Batch{}.SetWinter(false), call{"winter", "{abc}", false}},
		{"only first routes", Batch{}.SetWinter(true).TurnOn(), call{"winter", "{abc}", true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeCommander{}
			if err := NewDispatcher(api).Dispatch(context.Background(), lawn, tt.batch); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if len(api.calls) != 1 {
				t.Fatalf("Dispatch() made %d calls, want 1", len(api.calls))
			}
			if api.calls[0] != tt.want {
				t.Errorf("call = %+v, want %+v", api.calls[0], tt.want)
			}
		})
	}
}

func TestDispatch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		batch   Batch
		apiErr  error
		wantErr error
		calls   int
	}{
		{"empty batch", Batch{}, nil, ErrEmptyBatch, 0},
		{"unsupported key", Batch{{Key: "color", Value: "red"}}, nil, ErrUnsupportedCommand, 0},
		{"bad mode", Batch{{Key: KeyMode, Value: "pause"}}, nil, ErrInvalidValue, 0},
		{"bad winter", Batch{{Key: KeyWinter, Value: "yes"}}, nil, ErrInvalidValue, 0},
		{"irrigation rejected", Batch{}.TurnOn(), cube.NewIrrigationError("winter"), cube.ErrIrrigation, 1},
		{"winter rejected", Batch{}.SetWinter(true), cube.NewAPIError("no", nil), cube.ErrAPI, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeCommander{err: tt.apiErr}
			err := NewDispatcher(api).Dispatch(context.Background(), lawn, tt.batch)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Dispatch() error = %v, want %v", err, tt.wantErr)
			}
			if len(api.calls) != tt.calls {
				t.Errorf("Dispatch() made %d calls, want %d", len(api.calls), tt.calls)
			}
		})
	}
}
