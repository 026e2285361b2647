package bridge

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "disconnected"},
		{Authenticating, "authenticating"},
		{Connected, "connected"},
		{State(9), "State(9)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthReason(t *testing.T) {
	reasons := []AuthReason{
		ReasonUnauthorized,
		ReasonNoUsername,
		ReasonPressPairingButton,
		ReasonFailedCreatingUser,
		ReasonInvalidUsername,
	}

	seen := map[string]bool{}
	for _, r := range reasons {
		if seen[r.String()] {
			t.Errorf("duplicate reason name %q", r.String())
		}
		seen[r.String()] = true
		if r.Message() == "" || r.Message() == r.String() {
			t.Errorf("reason %v has no message", r)
		}
	}
}

func TestTokenStoreFunc(t *testing.T) {
	var gotIP, gotToken string
	store := TokenStoreFunc(func(ip, token string) error {
		gotIP, gotToken = ip, token
		return nil
	})

	if err := store.SaveToken("192.168.1.50", "tok"); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}
	if gotIP != "192.168.1.50" || gotToken != "tok" {
		t.Errorf("SaveToken() passed %q/%q", gotIP, gotToken)
	}
}
