package api

import (
	"strings"
	"testing"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if !strings.HasPrefix(id, "sess_") {
		t.Errorf("expected sess_ prefix, got %q", id)
	}
	if len(id) != len("sess_")+24 {
		t.Errorf("expected 24 random characters, got %q", id)
	}
	if !ValidateSessionID(id) {
		t.Errorf("generated ID %q does not validate", id)
	}
}

func TestNewTurnID(t *testing.T) {
	id := NewTurnID()
	if !strings.HasPrefix(id, "turn_") {
		t.Errorf("expected turn_ prefix, got %q", id)
	}
	if len(id) != len("turn_")+24 {
		t.Errorf("expected 24 random characters, got %q", id)
	}
}

func TestIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTurnID()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %q", id)
		}
		seen[id] = true
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"minted", "sess_" + strings.Repeat("a", 24), true},
		{"client token", "analysis-2024.run_3", true},
		{"single character", "a", true},
		{"leading punctuation", "-leading", false},
		{"path traversal", "../etc/passwd", false},
		{"too long", strings.Repeat("a", 129), false},
		{"invalid characters", "sess_" + strings.Repeat("!", 24), false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateSessionID(tt.id); got != tt.want {
				t.Errorf("ValidateSessionID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
