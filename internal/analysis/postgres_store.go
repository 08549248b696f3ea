package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/flexycode/altflex/internal/verify"
)

// PostgresStore persists risk assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the assessments table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			seq                BIGSERIAL PRIMARY KEY,
			id                 VARCHAR(40) NOT NULL UNIQUE,
			tx_hash            VARCHAR(66) NOT NULL,
			risk_score         DOUBLE PRECISION NOT NULL,
			classification     VARCHAR(16) NOT NULL CHECK (classification IN ('NORMAL', 'SUSPICIOUS', 'CRITICAL')),
			triggered_rules    JSONB NOT NULL DEFAULT '[]',
			triggered_rule_ids TEXT[] NOT NULL DEFAULT '{}',
			rules_checked      INT NOT NULL,
			anomaly_score      DOUBLE PRECISION NOT NULL,
			ml_available       BOOLEAN NOT NULL,
			matched_exploit_id TEXT,
			novel_pattern      BOOLEAN NOT NULL DEFAULT FALSE,
			verification       JSONB,
			ledger_entry_id    CHAR(64),
			created_at         TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_tx_hash
			ON risk_assessments (tx_hash);
		CREATE INDEX IF NOT EXISTS idx_risk_assessments_created_at
			ON risk_assessments (created_at DESC);
	`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, a *RiskAssessment) error {
	rules, err := json.Marshal(a.TriggeredRules)
	if err != nil {
		return fmt.Errorf("failed to marshal triggered rules: %w", err)
	}
	var verification []byte
	if a.Verification != nil {
		verification, err = json.Marshal(a.Verification)
		if err != nil {
			return fmt.Errorf("failed to marshal verification report: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (
			id, tx_hash, risk_score, classification, triggered_rules,
			triggered_rule_ids, rules_checked, anomaly_score, ml_available,
			matched_exploit_id, novel_pattern, verification, ledger_entry_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, NULLIF($13, ''), $14)
	`, a.ID, a.TxHash, a.RiskScore, string(a.Classification), rules,
		pq.Array(a.TriggeredRuleIDs()), a.RulesChecked, a.AnomalyScore, a.MLAvailable,
		a.MatchedExploitID, a.NovelPattern, nullableJSON(verification), a.LedgerEntryID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*RiskAssessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tx_hash, risk_score, classification, triggered_rules,
			rules_checked, anomaly_score, ml_available,
			COALESCE(matched_exploit_id, ''), novel_pattern, verification,
			COALESCE(ledger_entry_id, ''), created_at
		FROM risk_assessments
		WHERE id = $1
	`, id)

	a, err := scanAssessment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*RiskAssessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_hash, risk_score, classification, triggered_rules,
			rules_checked, anomaly_score, ml_available,
			COALESCE(matched_exploit_id, ''), novel_pattern, verification,
			COALESCE(ledger_entry_id, ''), created_at
		FROM risk_assessments
		ORDER BY seq DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*RiskAssessment, error) {
	var (
		a            RiskAssessment
		rules        []byte
		verification []byte
	)
	err := row.Scan(&a.ID, &a.TxHash, &a.RiskScore, &a.Classification, &rules,
		&a.RulesChecked, &a.AnomalyScore, &a.MLAvailable,
		&a.MatchedExploitID, &a.NovelPattern, &verification,
		&a.LedgerEntryID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(rules, &a.TriggeredRules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal triggered rules: %w", err)
	}
	if len(verification) > 0 {
		a.Verification = &verify.Report{}
		if err := json.Unmarshal(verification, a.Verification); err != nil {
			return nil, fmt.Errorf("failed to unmarshal verification report: %w", err)
		}
	}
	return &a, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
