package exploitdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore serves the signature catalog from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed signature store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the exploit_signatures table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS exploit_signatures (
			id                 VARCHAR(64) PRIMARY KEY,
			name               TEXT NOT NULL,
			date               VARCHAR(10) NOT NULL,
			chain              VARCHAR(32) NOT NULL,
			protocol           TEXT NOT NULL,
			loss_usd           NUMERIC(20,2) NOT NULL DEFAULT 0,
			attack_vector      VARCHAR(64) NOT NULL,
			attacker_addresses TEXT[] NOT NULL DEFAULT '{}',
			indicators         TEXT[] NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_exploit_signatures_chain
			ON exploit_signatures (chain);

		CREATE INDEX IF NOT EXISTS idx_exploit_signatures_attackers
			ON exploit_signatures USING GIN (attacker_addresses);
	`)
	return err
}

// Seed inserts the documented incident catalog, skipping existing ids.
func (s *PostgresStore) Seed(ctx context.Context) error {
	for _, sig := range seedCatalog() {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO exploit_signatures (id, name, date, chain, protocol, loss_usd, attack_vector, attacker_addresses, indicators)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, sig.ID, sig.Name, sig.Date, sig.Chain, sig.Protocol, sig.LossUSD,
			sig.AttackVector, pq.Array(sig.AttackerAddresses), pq.Array(sig.Indicators))
		if err != nil {
			return fmt.Errorf("failed to seed signature %s: %w", sig.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*Signature, error) {
	query := `
		SELECT id, name, date, chain, protocol, loss_usd, attack_vector, attacker_addresses, indicators
		FROM exploit_signatures
		WHERE ($1 = '' OR LOWER(chain) = LOWER($1))
		  AND ($2 = '' OR LOWER(attack_vector) = LOWER($2))
		ORDER BY date DESC
	`
	rows, err := s.db.QueryContext(ctx, query, filter.Chain, filter.AttackVector)
	if err != nil {
		return nil, fmt.Errorf("failed to list exploit signatures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Signature
	for rows.Next() {
		sig, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sig)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Signature, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, date, chain, protocol, loss_usd, attack_vector, attacker_addresses, indicators
		FROM exploit_signatures
		WHERE id = $1
	`, id)

	sig, err := scanSignature(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sig, err
}

func (s *PostgresStore) ByAttacker(ctx context.Context, address string) (*Signature, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, date, chain, protocol, loss_usd, attack_vector, attacker_addresses, indicators
		FROM exploit_signatures
		WHERE LOWER($1) = ANY(SELECT LOWER(unnest(attacker_addresses)))
		LIMIT 1
	`, address)

	sig, err := scanSignature(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sig, err
}

// KnownAttackers returns every attacker address across the catalog, lowercased.
func (s *PostgresStore) KnownAttackers(ctx context.Context) (map[string]struct{}, error) {
	sigs, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	return AttackerSet(sigs), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignature(row rowScanner) (*Signature, error) {
	var sig Signature
	var attackers, indicators pq.StringArray

	err := row.Scan(&sig.ID, &sig.Name, &sig.Date, &sig.Chain, &sig.Protocol,
		&sig.LossUSD, &sig.AttackVector, &attackers, &indicators)
	if err != nil {
		return nil, err
	}
	sig.AttackerAddresses = attackers
	sig.Indicators = indicators
	return &sig, nil
}
