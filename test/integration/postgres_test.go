package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/storage"
	"github.com/chihyuyeh/coda/pkg/storage/postgres"
	"github.com/chihyuyeh/coda/pkg/transport"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected
// store. Tests are skipped if no container runtime is available.
func setupTestDB(t *testing.T) *postgres.Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}
	if _, err := exec.LookPath("podman"); err != nil {
		t.Skip("podman not found, skipping PostgreSQL integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("coda_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container (is podman running?): %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := postgres.New(ctx, postgres.Config{
		DSN:            connStr,
		MaxConns:       5,
		MinConns:       1,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func makeTestSession(id string) *api.SessionView {
	return &api.SessionView{
		ID: id,
		Turns: []api.Turn{
			{ID: "turn_u1", Role: api.RoleUser, Content: "compute 2 + 2",
				Timestamp: time.Now().UTC()},
			{ID: "turn_a1", Role: api.RoleAssistant, Content: "```python\nprint(2 + 2)\n```",
				Timestamp:  time.Now().UTC(),
				CodeBlocks: []api.CodeBlock{{Language: "python", Source: "print(2 + 2)"}}},
			{ID: "turn_t1", Role: api.RoleTool, Content: "exit status: success\nstdout:\n4\n",
				Timestamp: time.Now().UTC(),
				Result:    &api.ExecutionResult{Stdout: "4\n", ExitStatus: api.ExitSuccess}},
		},
		RoundCount: 1,
		MaxRounds:  8,
		Terminated: true,
		CreatedAt:  time.Now().Unix(),
	}
}

func TestPostgres_SaveAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	view := makeTestSession(fmt.Sprintf("sess-pg-get-%d", time.Now().UnixNano()))
	if err := store.SaveSession(ctx, view); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, view.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}

	if got.ID != view.ID {
		t.Errorf("ID = %q, want %q", got.ID, view.ID)
	}
	if got.RoundCount != 1 || got.MaxRounds != 8 || !got.Terminated {
		t.Errorf("loop state = (%d, %d, %v), want (1, 8, true)",
			got.RoundCount, got.MaxRounds, got.Terminated)
	}
	if len(got.Turns) != 3 {
		t.Fatalf("len(Turns) = %d, want 3", len(got.Turns))
	}
	if got.Turns[2].Result == nil || got.Turns[2].Result.Stdout != "4\n" {
		t.Errorf("tool turn result not round-tripped: %+v", got.Turns[2].Result)
	}
}

func TestPostgres_GetNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetSession(context.Background(), "sess-pg-nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_UpsertGrowsHistory(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	view := makeTestSession(fmt.Sprintf("sess-pg-upsert-%d", time.Now().UnixNano()))
	if err := store.SaveSession(ctx, view); err != nil {
		t.Fatalf("initial save failed: %v", err)
	}

	view.Turns = append(view.Turns, api.Turn{
		ID: "turn_a2", Role: api.RoleAssistant, Content: "The answer is 4.",
		Timestamp: time.Now().UTC(),
	})
	view.RoundCount = 2
	if err := store.SaveSession(ctx, view); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := store.GetSession(ctx, view.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(got.Turns) != 4 || got.RoundCount != 2 {
		t.Errorf("after upsert: %d turns, round %d; want 4 turns, round 2",
			len(got.Turns), got.RoundCount)
	}
}

func TestPostgres_Delete(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	view := makeTestSession(fmt.Sprintf("sess-pg-del-%d", time.Now().UnixNano()))
	store.SaveSession(ctx, view)

	if err := store.DeleteSession(ctx, view.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := store.GetSession(ctx, view.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteSession(ctx, view.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestPostgres_SubjectIsolation(t *testing.T) {
	store := setupTestDB(t)

	ctxA := storage.SetSubject(context.Background(), "user-a")
	ctxB := storage.SetSubject(context.Background(), "user-b")

	view := makeTestSession(fmt.Sprintf("sess-pg-subj-%d", time.Now().UnixNano()))
	if err := store.SaveSession(ctxA, view); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	// The owner can retrieve.
	if _, err := store.GetSession(ctxA, view.ID); err != nil {
		t.Fatalf("owner should see own session: %v", err)
	}

	// Another subject cannot.
	if _, err := store.GetSession(ctxB, view.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("foreign subject should not see the session")
	}

	// Another subject cannot overwrite it either.
	if err := store.SaveSession(ctxB, view); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict on foreign save, got %v", err)
	}

	// Without a subject the session is visible (single-user mode).
	if _, err := store.GetSession(context.Background(), view.ID); err != nil {
		t.Fatalf("no-subject access should see all: %v", err)
	}
}

func TestPostgres_ListPagination(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	ts := time.Now().UnixNano()
	var ids []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("sess-pg-list-%d-%d", ts, i)
		ids = append(ids, id)
		view := makeTestSession(id)
		view.CreatedAt = time.Now().Unix() + int64(i)
		if err := store.SaveSession(ctx, view); err != nil {
			t.Fatalf("SaveSession(%s) failed: %v", id, err)
		}
	}

	page1, err := store.ListSessions(ctx, transport.ListOptions{Limit: 2, Order: "asc"})
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(page1.Data) != 2 {
		t.Fatalf("len(page1) = %d, want 2", len(page1.Data))
	}
	if !page1.HasMore {
		t.Error("page1.HasMore = false, want true")
	}
	if page1.FirstID != page1.Data[0].ID || page1.LastID != page1.Data[1].ID {
		t.Errorf("cursor IDs wrong: first=%q last=%q", page1.FirstID, page1.LastID)
	}

	page2, err := store.ListSessions(ctx, transport.ListOptions{
		Limit: 2, Order: "asc", After: page1.LastID,
	})
	if err != nil {
		t.Fatalf("ListSessions page 2 failed: %v", err)
	}
	for _, v := range page2.Data {
		if v.ID == page1.Data[0].ID || v.ID == page1.Data[1].ID {
			t.Errorf("page 2 repeats session %q", v.ID)
		}
	}
}

func TestPostgres_HealthCheck(t *testing.T) {
	store := setupTestDB(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
