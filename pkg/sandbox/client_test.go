package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chihyuyeh/coda/pkg/api"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		Acquirer: &StaticAcquirer{URL: srv.URL},
		Packages: []string{"pandas", "numpy"},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestExecuteSuccess(t *testing.T) {
	var gotReq ExecuteRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(ExecuteResponse{
			Status:          "success",
			Stdout:          "4\n",
			ExitCode:        0,
			ExecutionTimeMs: 12,
			Artifacts: []ArtifactFile{
				{Name: "plot.png", Data: "iVBORw0KGgo="},
			},
		})
	})

	res := c.Execute(context.Background(), api.CodeBlock{Language: "python", Source: "print(2+2)"}, 30*time.Second)

	if res.ExitStatus != api.ExitSuccess {
		t.Errorf("exit status = %q, want success (stderr: %s)", res.ExitStatus, res.Stderr)
	}
	if res.Stdout != "4\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].Name != "plot.png" {
		t.Errorf("artifacts = %+v", res.Artifacts)
	}
	if gotReq.TimeoutSeconds != 30 {
		t.Errorf("timeout_seconds = %d, want 30", gotReq.TimeoutSeconds)
	}
	if len(gotReq.Packages) != 2 {
		t.Errorf("packages = %v", gotReq.Packages)
	}
}

func TestExecuteRuntimeFailureIsData(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExecuteResponse{
			Status:   "error",
			Stderr:   "ZeroDivisionError: division by zero",
			ExitCode: 1,
		})
	})

	res := c.Execute(context.Background(), api.CodeBlock{Source: "1/0"}, time.Second)

	if res.ExitStatus != api.ExitFailure {
		t.Errorf("exit status = %q, want failure", res.ExitStatus)
	}
	if res.Stderr != "ZeroDivisionError: division by zero" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestExecuteRemoteTimeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExecuteResponse{
			Status:   "timeout",
			Stdout:   "partial output",
			Stderr:   "execution timed out after 1 seconds",
			ExitCode: -1,
		})
	})

	res := c.Execute(context.Background(), api.CodeBlock{Source: "while True: pass"}, time.Second)

	if res.ExitStatus != api.ExitTimeout {
		t.Errorf("exit status = %q, want timeout", res.ExitStatus)
	}
	if res.Stdout != "partial output" {
		t.Errorf("partial output lost: %q", res.Stdout)
	}
}

func TestExecuteHTTPDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{
		Acquirer:    &StaticAcquirer{URL: srv.URL},
		HTTPTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	res := c.Execute(context.Background(), api.CodeBlock{Source: "print(1)"}, time.Second)

	if res.ExitStatus != api.ExitTimeout {
		t.Errorf("exit status = %q, want timeout", res.ExitStatus)
	}
}

func TestExecuteSandboxAtCapacity(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	res := c.Execute(context.Background(), api.CodeBlock{Source: "print(1)"}, time.Second)

	if res.ExitStatus != api.ExitFailure {
		t.Errorf("exit status = %q, want failure", res.ExitStatus)
	}
	if res.Stderr == "" {
		t.Error("expected capacity reason in stderr")
	}
}

func TestExecuteUnreachableSandboxIsData(t *testing.T) {
	c, err := NewClient(ClientConfig{
		Acquirer: &StaticAcquirer{URL: "http://127.0.0.1:1"},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	res := c.Execute(context.Background(), api.CodeBlock{Source: "print(1)"}, time.Second)

	if res.ExitStatus != api.ExitFailure {
		t.Errorf("exit status = %q, want failure", res.ExitStatus)
	}
	if res.Stderr == "" {
		t.Error("expected connection failure reason in stderr")
	}
}

func TestExecuteEmptySource(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("sandbox must not be called for an empty block")
	})

	res := c.Execute(context.Background(), api.CodeBlock{}, time.Second)
	if res.ExitStatus != api.ExitFailure {
		t.Errorf("exit status = %q, want failure", res.ExitStatus)
	}
}

func TestNewClientRequiresAcquirer(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("expected error for missing acquirer")
	}
}
