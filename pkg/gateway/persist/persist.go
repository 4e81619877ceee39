// Package persist stores completed turns in Postgres. Persistence is
// best-effort: a failed insert is logged by the caller and never blocks the
// voice loop.
package persist

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store owns the connection pool shared by all sessions.
type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("persist: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies pending schema migrations. Safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("persist: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("persist: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// TurnRecorder writes one user's turns. Each live session gets its own
// recorder bound to the session identity.
type TurnRecorder struct {
	store     *Store
	userID    string
	sessionID string
}

func (s *Store) Recorder(userID, sessionID string) *TurnRecorder {
	return &TurnRecorder{store: s, userID: userID, sessionID: sessionID}
}

func (r *TurnRecorder) Record(ctx context.Context, query, response string, photoAt *time.Time) error {
	if r == nil || r.store == nil {
		return nil
	}
	_, err := r.store.pool.Exec(ctx,
		`INSERT INTO turns (user_id, session_id, query, response, photo_at) VALUES ($1, $2, $3, $4, $5)`,
		r.userID, r.sessionID, query, response, photoAt,
	)
	if err != nil {
		return fmt.Errorf("persist: insert turn: %w", err)
	}
	return nil
}
