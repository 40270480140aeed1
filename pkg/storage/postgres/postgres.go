// Package postgres provides a PostgreSQL implementation of
// transport.SessionStore. It uses pgx/v5 for connection pooling and
// stores the turn history as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/storage"
	"github.com/chihyuyeh/coda/pkg/transport"
)

// Store is a PostgreSQL-backed SessionStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ transport.SessionStore = (*Store)(nil)

// New creates a PostgreSQL store with the given configuration. If
// MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveSession upserts a session snapshot. The update is guarded by
// ownership: touching a session saved under a different subject returns
// storage.ErrConflict.
func (s *Store) SaveSession(ctx context.Context, view *api.SessionView) error {
	subject := storage.GetSubject(ctx)

	turnsJSON, err := json.Marshal(view.Turns)
	if err != nil {
		return fmt.Errorf("marshaling turns: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, subject, turns, round_count, max_rounds, terminated,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			turns = EXCLUDED.turns,
			round_count = EXCLUDED.round_count,
			max_rounds = EXCLUDED.max_rounds,
			terminated = EXCLUDED.terminated,
			updated_at = now()
		WHERE sessions.subject = EXCLUDED.subject
		   OR sessions.subject = ''
		   OR EXCLUDED.subject = ''
	`,
		view.ID, subject, turnsJSON, view.RoundCount, view.MaxRounds,
		view.Terminated, view.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	return nil
}

// GetSession retrieves a session by ID, scoped to the subject when one
// is present in the context.
func (s *Store) GetSession(ctx context.Context, id string) (*api.SessionView, error) {
	query := `
		SELECT id, subject, turns, round_count, max_rounds, terminated, created_at
		FROM sessions
		WHERE id = $1
	`
	args := []any{id}

	if subject := storage.GetSubject(ctx); subject != "" {
		query += " AND subject = $2"
		args = append(args, subject)
	}

	var view api.SessionView
	var turnsJSON []byte

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&view.ID, &view.Subject, &turnsJSON,
		&view.RoundCount, &view.MaxRounds, &view.Terminated, &view.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if err := json.Unmarshal(turnsJSON, &view.Turns); err != nil {
		return nil, fmt.Errorf("unmarshaling turns: %w", err)
	}
	return &view, nil
}

// DeleteSession removes a session by ID.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	query := "DELETE FROM sessions WHERE id = $1"
	args := []any{id}

	if subject := storage.GetSubject(ctx); subject != "" {
		query += " AND subject = $2"
		args = append(args, subject)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListSessions returns one page of sessions ordered by creation time.
func (s *Store) ListSessions(ctx context.Context, opts transport.ListOptions) (*transport.SessionList, error) {
	desc := opts.Order != "asc"
	limit := clampLimit(opts.Limit)

	query := `
		SELECT id, subject, turns, round_count, max_rounds, terminated, created_at
		FROM sessions
		WHERE 1=1
	`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if subject := storage.GetSubject(ctx); subject != "" {
		query += " AND subject = " + arg(subject)
	}

	if opts.After != "" {
		op := ">"
		if desc {
			op = "<"
		}
		ph := arg(opts.After)
		query += fmt.Sprintf(
			" AND (created_at, id) %s (SELECT created_at, id FROM sessions WHERE id = %s)",
			op, ph,
		)
	}

	if desc {
		query += " ORDER BY created_at DESC, id DESC"
	} else {
		query += " ORDER BY created_at ASC, id ASC"
	}
	// Fetch one extra row to detect a further page.
	query += " LIMIT " + arg(limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var views []*api.SessionView
	for rows.Next() {
		var view api.SessionView
		var turnsJSON []byte
		if err := rows.Scan(
			&view.ID, &view.Subject, &turnsJSON,
			&view.RoundCount, &view.MaxRounds, &view.Terminated, &view.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if err := json.Unmarshal(turnsJSON, &view.Turns); err != nil {
			return nil, fmt.Errorf("unmarshaling turns: %w", err)
		}
		views = append(views, &view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	hasMore := len(views) > limit
	if hasMore {
		views = views[:limit]
	}

	result := &transport.SessionList{
		Object:  "list",
		Data:    views,
		HasMore: hasMore,
	}
	if result.Data == nil {
		result.Data = []*api.SessionView{}
	}
	if len(views) > 0 {
		result.FirstID = views[0].ID
		result.LastID = views[len(views)-1].ID
	}
	return result, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
