package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/chihyuyeh/coda/pkg/agent"
	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/transport"
)

// TestMessageSingleRound posts a plain greeting that the model answers
// without code, terminating the loop after one round.
func TestMessageSingleRound(t *testing.T) {
	resp := postMessage(t, "sess-it-hello", "hello there", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, readBody(t, resp))
	}

	var result transport.MessageResult
	decodeJSON(t, resp, &result)

	if result.SessionID != "sess-it-hello" {
		t.Errorf("SessionID = %q, want %q", result.SessionID, "sess-it-hello")
	}
	if result.RoundCount != 1 {
		t.Errorf("RoundCount = %d, want 1", result.RoundCount)
	}
	if !result.Terminated {
		t.Error("Terminated = false, want true")
	}
	if !strings.Contains(result.Answer, "Hello") {
		t.Errorf("Answer = %q, want greeting", result.Answer)
	}
}

// TestMessageExecutesCode drives the two-round compute script: code in
// round one, final answer in round two.
func TestMessageExecutesCode(t *testing.T) {
	resp := postMessage(t, "sess-it-compute", "please compute 2 + 2", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, readBody(t, resp))
	}

	var result transport.MessageResult
	decodeJSON(t, resp, &result)

	if result.Answer != "The answer is 4." {
		t.Errorf("Answer = %q, want %q", result.Answer, "The answer is 4.")
	}
	if result.RoundCount != 2 {
		t.Errorf("RoundCount = %d, want 2", result.RoundCount)
	}
	if !result.Terminated {
		t.Error("Terminated = false, want true")
	}
}

// TestMessageSelfCorrection drives the script where the first code
// block raises a NameError; the model reads the traceback, fixes the
// code, and answers on the third round.
func TestMessageSelfCorrection(t *testing.T) {
	resp := postMessage(t, "sess-it-correct", "this will fail once", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, readBody(t, resp))
	}

	var result transport.MessageResult
	decodeJSON(t, resp, &result)

	if result.Answer != "The answer is 42." {
		t.Errorf("Answer = %q, want %q", result.Answer, "The answer is 42.")
	}
	if result.RoundCount != 3 {
		t.Errorf("RoundCount = %d, want 3", result.RoundCount)
	}

	// The session history must show the failed execution followed by
	// the successful retry.
	view := fetchSession(t, "sess-it-correct")
	var statuses []api.ExitStatus
	for _, turn := range view.Turns {
		if turn.Role == api.RoleTool && turn.Result != nil {
			statuses = append(statuses, turn.Result.ExitStatus)
		}
	}
	if len(statuses) != 2 || statuses[0] != api.ExitFailure || statuses[1] != api.ExitSuccess {
		t.Errorf("tool exit statuses = %v, want [failure success]", statuses)
	}
}

// TestMessageRoundLimit drives a script that never stops emitting code.
// The loop must cut off at the round limit and return the last partial
// answer behind the truncation notice.
func TestMessageRoundLimit(t *testing.T) {
	resp := postMessage(t, "sess-it-limit", "never finish this", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, readBody(t, resp))
	}

	var result transport.MessageResult
	decodeJSON(t, resp, &result)

	if !strings.HasPrefix(result.Answer, agent.TruncationNotice) {
		t.Errorf("Answer = %q, want truncation notice prefix", result.Answer)
	}
	if result.RoundCount != testMaxRounds {
		t.Errorf("RoundCount = %d, want %d", result.RoundCount, testMaxRounds)
	}
	if !result.Terminated {
		t.Error("Terminated = false, want true")
	}
}

// TestSessionHistoryAccumulates checks that a second message continues
// the same conversation instead of starting over.
func TestSessionHistoryAccumulates(t *testing.T) {
	postMessage(t, "sess-it-multi", "compute something", false).Body.Close()
	postMessage(t, "sess-it-multi", "hello again", false).Body.Close()

	view := fetchSession(t, "sess-it-multi")

	// First message: user, assistant+code, tool, assistant. Second
	// message: user, assistant.
	if len(view.Turns) != 6 {
		t.Errorf("len(Turns) = %d, want 6", len(view.Turns))
	}
	if view.Turns[0].Role != api.RoleUser || view.Turns[len(view.Turns)-1].Role != api.RoleAssistant {
		t.Errorf("history must start with a user turn and end with an assistant turn")
	}
}

// TestGetSessionReturnsView verifies the session resource after a run.
func TestGetSessionReturnsView(t *testing.T) {
	postMessage(t, "sess-it-view", "compute the total", false).Body.Close()

	view := fetchSession(t, "sess-it-view")

	if view.ID != "sess-it-view" {
		t.Errorf("ID = %q, want %q", view.ID, "sess-it-view")
	}
	if view.MaxRounds != testMaxRounds {
		t.Errorf("MaxRounds = %d, want %d", view.MaxRounds, testMaxRounds)
	}
	if !view.Terminated {
		t.Error("Terminated = false, want true")
	}
	if len(view.Turns) != 4 {
		t.Errorf("len(Turns) = %d, want 4", len(view.Turns))
	}
}

// TestListSessions exercises the collection endpoint.
func TestListSessions(t *testing.T) {
	postMessage(t, "sess-it-list", "hello", false).Body.Close()

	resp := getURL(t, testEnv.BaseURL()+"/v1/sessions")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var list transport.SessionList
	decodeJSON(t, resp, &list)

	if list.Object != "list" {
		t.Errorf("Object = %q, want %q", list.Object, "list")
	}
	found := false
	for _, v := range list.Data {
		if v.ID == "sess-it-list" {
			found = true
		}
	}
	if !found && !list.HasMore {
		t.Error("created session missing from listing")
	}
}

// TestDeleteSession removes a session and verifies it is gone.
func TestDeleteSession(t *testing.T) {
	postMessage(t, "sess-it-delete", "hello", false).Body.Close()

	resp := deleteURL(t, sessionURL("sess-it-delete"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}

	resp = getURL(t, sessionURL("sess-it-delete"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", resp.StatusCode)
	}
}

// fetchSession retrieves and decodes the session resource.
func fetchSession(t *testing.T, sessionID string) *api.SessionView {
	t.Helper()
	resp := getURL(t, sessionURL(sessionID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET session status = %d, want 200: %s", resp.StatusCode, readBody(t, resp))
	}
	var view api.SessionView
	decodeJSON(t, resp, &view)
	return &view
}
