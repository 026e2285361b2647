package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("miyo")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"BridgeStatus", topics.BridgeStatus(), "miyo/bridge/status"},
		{"CubeStatus", topics.CubeStatus("garden"), "miyo/garden/status"},
		{"CircuitState", topics.CircuitState("garden", "abc"), "miyo/garden/circuit/abc/state"},
		{"CircuitSet", topics.CircuitSet("garden", "abc"), "miyo/garden/circuit/abc/set"},
		{"AllCircuitSets", topics.AllCircuitSets("garden"), "miyo/garden/circuit/+/set"},
		{"unsafe cube name", topics.CubeStatus("front yard/#1"), "miyo/front_yard__1/status"},
		{"unsafe circuit id", topics.CircuitState("garden", "a+b"), "miyo/garden/circuit/a_b/state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "miyo"},
		{"/", "miyo"},
		{"home/garden/", "home/garden"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			if got := NewTopics(tt.prefix).Prefix; got != tt.want {
				t.Errorf("NewTopics(%q).Prefix = %q, want %q", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestCircuitIDFromSetTopic(t *testing.T) {
	topics := NewTopics("miyo")

	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"miyo/garden/circuit/abc/set", "abc", true},
		{"miyo/garden/circuit/abc/state", "", false},
		{"miyo/other/circuit/abc/set", "", false},
		{"miyo/garden/circuit//set", "", false},
		{"miyo/garden/circuit/a/b/set", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, ok := topics.CircuitIDFromSetTopic("garden", tt.topic)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("CircuitIDFromSetTopic() = %q, %v, want %q, %v", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
