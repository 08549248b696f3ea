package custody

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists custody events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed custody store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the custody tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS custody_events (
			seq             BIGSERIAL PRIMARY KEY,
			id              VARCHAR(40) NOT NULL UNIQUE,
			artifact_id     TEXT NOT NULL,
			ts              TIMESTAMPTZ NOT NULL,
			actor           TEXT NOT NULL,
			action          VARCHAR(16) NOT NULL CHECK (action IN ('COLLECTED', 'ANALYZED', 'STORED', 'ACCESSED')),
			location        TEXT NOT NULL DEFAULT '',
			signature       TEXT NOT NULL,
			ledger_entry_id CHAR(64)
		);

		CREATE INDEX IF NOT EXISTS idx_custody_events_artifact
			ON custody_events (artifact_id, seq ASC);

		CREATE TABLE IF NOT EXISTS custody_integrity (
			artifact_id    TEXT PRIMARY KEY,
			integrity_hash CHAR(64) NOT NULL
		);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, event *Event, integrityHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin custody append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO custody_events (id, artifact_id, ts, actor, action, location, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.ArtifactID, event.Timestamp, event.Actor,
		string(event.Action), event.Location, event.Signature)
	if err != nil {
		return fmt.Errorf("failed to insert custody event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO custody_integrity (artifact_id, integrity_hash)
		VALUES ($1, $2)
		ON CONFLICT (artifact_id) DO UPDATE SET integrity_hash = EXCLUDED.integrity_hash
	`, event.ArtifactID, integrityHash)
	if err != nil {
		return fmt.Errorf("failed to update integrity hash: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) Chain(ctx context.Context, artifactID string) (*Chain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artifact_id, ts, actor, action, location, signature, COALESCE(ledger_entry_id, '')
		FROM custody_events
		WHERE artifact_id = $1
		ORDER BY seq ASC
	`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load custody chain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		var e Event
		var action string
		if err := rows.Scan(&e.ID, &e.ArtifactID, &e.Timestamp, &e.Actor,
			&action, &e.Location, &e.Signature, &e.LedgerEntryID); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hash, err := s.IntegrityHash(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	return &Chain{
		ArtifactID:    artifactID,
		Events:        events,
		IntegrityHash: hash,
	}, nil
}

func (s *PostgresStore) IntegrityHash(ctx context.Context, artifactID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT integrity_hash FROM custody_integrity WHERE artifact_id = $1
	`, artifactID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load integrity hash: %w", err)
	}
	return hash, nil
}

func (s *PostgresStore) SetLedgerEntry(ctx context.Context, eventID, ledgerEntryID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE custody_events SET ledger_entry_id = $2 WHERE id = $1
	`, eventID, ledgerEntryID)
	return err
}
