package agent

import (
	"testing"

	"github.com/chihyuyeh/coda/pkg/api"
)

func turnWithRole(role api.Role, content string) api.Turn {
	return newTurn(role, content)
}

func TestHistoryAppendOrder(t *testing.T) {
	var h History
	h.Append(turnWithRole(api.RoleUser, "question"))
	h.Append(turnWithRole(api.RoleAssistant, "code"))
	h.Append(turnWithRole(api.RoleTool, "result"))

	all := h.All()
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	wantRoles := []api.Role{api.RoleUser, api.RoleAssistant, api.RoleTool}
	for i, want := range wantRoles {
		if all[i].Role != want {
			t.Errorf("turn %d role = %q, want %q", i, all[i].Role, want)
		}
	}
}

func TestHistoryAllReturnsCopy(t *testing.T) {
	var h History
	h.Append(turnWithRole(api.RoleUser, "original"))

	all := h.All()
	all[0].Content = "mutated"

	if got := h.All()[0].Content; got != "original" {
		t.Errorf("history content = %q, want %q", got, "original")
	}
}

func TestHistoryWindow(t *testing.T) {
	tests := []struct {
		name        string
		roles       []api.Role
		max         int
		wantLen     int
		wantFirstIx int
	}{
		{
			name:        "unlimited",
			roles:       []api.Role{api.RoleUser, api.RoleAssistant, api.RoleTool, api.RoleAssistant},
			max:         0,
			wantLen:     4,
			wantFirstIx: 0,
		},
		{
			name:        "under limit",
			roles:       []api.Role{api.RoleUser, api.RoleAssistant},
			max:         10,
			wantLen:     2,
			wantFirstIx: 0,
		},
		{
			name:        "trims oldest",
			roles:       []api.Role{api.RoleUser, api.RoleAssistant, api.RoleTool, api.RoleUser, api.RoleAssistant},
			max:         2,
			wantLen:     2,
			wantFirstIx: 3,
		},
		{
			name: "extends back to latest user turn",
			// One user turn followed by a long round: a window of 2
			// would cut the question off, so the window grows.
			roles:       []api.Role{api.RoleUser, api.RoleAssistant, api.RoleTool, api.RoleAssistant, api.RoleTool},
			max:         2,
			wantLen:     5,
			wantFirstIx: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h History
			for i, role := range tt.roles {
				tr := turnWithRole(role, "")
				tr.Content = string(rune('a' + i))
				h.Append(tr)
			}
			got := h.Window(tt.max)
			if len(got) != tt.wantLen {
				t.Fatalf("window len = %d, want %d", len(got), tt.wantLen)
			}
			wantFirst := string(rune('a' + tt.wantFirstIx))
			if got[0].Content != wantFirst {
				t.Errorf("window starts at %q, want %q", got[0].Content, wantFirst)
			}
		})
	}
}
