package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists ledger entries in PostgreSQL. Only INSERT and
// SELECT are ever issued; the table is append-only by construction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the audit_entries table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_entries (
			seq        BIGSERIAL PRIMARY KEY,
			id         CHAR(64) NOT NULL UNIQUE,
			ts         TIMESTAMPTZ NOT NULL,
			kind       VARCHAR(16) NOT NULL,
			-- canonical bytes stored verbatim; JSONB would reorder keys
			-- and break event hash recomputation
			event      TEXT NOT NULL,
			event_hash CHAR(64) NOT NULL,
			prev_hash  CHAR(64) NOT NULL,
			signature  CHAR(64) NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_entries_kind
			ON audit_entries (kind, seq DESC);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, ts, kind, event, event_hash, prev_hash, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.Timestamp, string(entry.Kind), string(entry.Event),
		entry.EventHash, entry.PrevHash, entry.Signature)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, kind, event, event_hash, prev_hash, signature
		FROM audit_entries
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, kind, event, event_hash, prev_hash, signature
		FROM audit_entries
		ORDER BY seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (s *PostgresStore) Last(ctx context.Context) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ts, kind, event, event_hash, prev_hash, signature
		FROM audit_entries
		ORDER BY seq DESC
		LIMIT 1
	`)

	var e Entry
	var kind string
	err := row.Scan(&e.ID, &e.Timestamp, &kind, (*[]byte)(&e.Event),
		&e.EventHash, &e.PrevHash, &e.Signature)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last audit entry: %w", err)
	}
	e.Kind = Kind(kind)
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.Timestamp, &kind, (*[]byte)(&e.Event),
			&e.EventHash, &e.PrevHash, &e.Signature); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
