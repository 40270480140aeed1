package auth

import (
	"context"
	"net/http"
	"testing"
)

// mockAuthn is a test authenticator with a fixed vote.
type mockAuthn struct {
	result Result
}

func (m *mockAuthn) Authenticate(_ context.Context, _ *http.Request) Result {
	return m.result
}

func TestChainFirstYesStops(t *testing.T) {
	chain := &Chain{
		Authenticators: []Authenticator{
			&mockAuthn{result: Result{Decision: Yes, Identity: &Identity{Subject: "alice"}}},
			&mockAuthn{result: Result{Decision: No, Err: ErrUnauthenticated}},
		},
		DefaultDecision: No,
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != Yes {
		t.Errorf("Decision = %d, want Yes", result.Decision)
	}
	if result.Identity.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", result.Identity.Subject, "alice")
	}
}

func TestChainFirstNoStops(t *testing.T) {
	chain := &Chain{
		Authenticators: []Authenticator{
			&mockAuthn{result: Result{Decision: No, Err: ErrUnauthenticated}},
			&mockAuthn{result: Result{Decision: Yes, Identity: &Identity{Subject: "bob"}}},
		},
		DefaultDecision: No,
	}

	r, _ := http.NewRequest("GET", "/", nil)
	if result := chain.Authenticate(context.Background(), r); result.Decision != No {
		t.Errorf("Decision = %d, want No", result.Decision)
	}
}

func TestChainAllAbstain(t *testing.T) {
	tests := []struct {
		name         string
		def          Decision
		wantDecision Decision
		wantSubject  string
	}{
		{"default reject", No, No, ""},
		{"default accept", Yes, Yes, "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := &Chain{
				Authenticators:  []Authenticator{&mockAuthn{result: Result{Decision: Abstain}}},
				DefaultDecision: tt.def,
			}

			r, _ := http.NewRequest("GET", "/", nil)
			result := chain.Authenticate(context.Background(), r)

			if result.Decision != tt.wantDecision {
				t.Errorf("Decision = %d, want %d", result.Decision, tt.wantDecision)
			}
			if tt.wantSubject != "" && result.Identity.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", result.Identity.Subject, tt.wantSubject)
			}
		})
	}
}

func TestChainAbstainThenYes(t *testing.T) {
	chain := &Chain{
		Authenticators: []Authenticator{
			&mockAuthn{result: Result{Decision: Abstain}},
			&mockAuthn{result: Result{Decision: Yes, Identity: &Identity{Subject: "jwt-user"}}},
		},
		DefaultDecision: No,
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != Yes || result.Identity.Subject != "jwt-user" {
		t.Errorf("result = %+v, want Yes/jwt-user", result)
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()

	if IdentityFromContext(ctx) != nil {
		t.Error("expected nil identity from empty context")
	}

	ctx = SetIdentity(ctx, &Identity{Subject: "alice"})
	got := IdentityFromContext(ctx)
	if got == nil || got.Subject != "alice" {
		t.Errorf("got %v, want alice", got)
	}
}
