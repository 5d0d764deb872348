// Package db adapts a PostgreSQL table to the quicklook.RecordStore
// interface using sqlx and lib/pq. It is a thin external collaborator: the
// core pipeline never imports database/sql directly.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" sql.DB driver

	"github.com/skyquick/quicklook/internal/quicklook"
)

// schema creates the quicklooks table, if absent.
const schema = `
CREATE TABLE IF NOT EXISTS quicklooks (
	id         TEXT PRIMARY KEY,
	phase      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store implements quicklook.RecordStore against a Postgres quicklooks
// table.
type Store struct {
	db *sqlx.DB
}

// Open connects to url (a postgres:// DSN) and ensures the schema exists.
func Open(url string) (*Store, error) {
	conn, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", quicklook.ErrDatabaseError, err)
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("%w: ensure schema: %w", quicklook.ErrDatabaseError, err)
	}

	return &Store{db: conn}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type row struct {
	ID        string    `db:"id"`
	Phase     string    `db:"phase"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Upsert inserts or updates the record for visit to phase: at most one row
// exists per visit.
func (s *Store) Upsert(ctx context.Context, visit quicklook.Visit, phase quicklook.RecordPhase) error {
	const query = `
		INSERT INTO quicklooks (id, phase, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO UPDATE SET phase = EXCLUDED.phase, updated_at = now()`

	if _, err := s.db.ExecContext(ctx, query, string(visit), string(phase)); err != nil {
		return fmt.Errorf("%w: upsert %s: %w", quicklook.ErrDatabaseError, visit, err)
	}

	return nil
}

// Delete removes the record for visit, if present.
func (s *Store) Delete(ctx context.Context, visit quicklook.Visit) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM quicklooks WHERE id = $1`, string(visit)); err != nil {
		return fmt.Errorf("%w: delete %s: %w", quicklook.ErrDatabaseError, visit, err)
	}

	return nil
}

// List returns every persisted record.
func (s *Store) List(ctx context.Context) ([]quicklook.QuicklookRecord, error) {
	var rows []row

	if err := s.db.SelectContext(ctx, &rows, `SELECT id, phase, created_at, updated_at FROM quicklooks`); err != nil {
		return nil, fmt.Errorf("%w: list: %w", quicklook.ErrDatabaseError, err)
	}

	out := make([]quicklook.QuicklookRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, quicklook.QuicklookRecord{
			Visit:     quicklook.Visit(r.ID),
			Phase:     quicklook.RecordPhase(r.Phase),
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}

	return out, nil
}

// ClearNonReady deletes every record whose phase is not "ready" — the
// startup recovery task run before the coordinator binds its HTTP server.
func (s *Store) ClearNonReady(ctx context.Context) error {
	const query = `DELETE FROM quicklooks WHERE phase <> $1`

	if _, err := s.db.ExecContext(ctx, query, string(quicklook.RecordReady)); err != nil {
		return fmt.Errorf("%w: clear non-ready: %w", quicklook.ErrDatabaseError, err)
	}

	return nil
}

// Truncate deletes every record (DELETE /quicklooks/*).
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE TABLE quicklooks`); err != nil {
		return fmt.Errorf("%w: truncate: %w", quicklook.ErrDatabaseError, err)
	}

	return nil
}

// Ping is used as the coordinator's readiness check. It checks database
// reachability only; the object store is not probed.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return fmt.Errorf("%w: connection closed", quicklook.ErrDatabaseError)
		}

		return fmt.Errorf("%w: ping: %w", quicklook.ErrDatabaseError, err)
	}

	return nil
}
