package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/doc-shield/lc-engine/internal/auditchain"
	"github.com/doc-shield/lc-engine/internal/lifecycle"
)

type checkRow struct {
	ID            string    `db:"id"`
	CaseID        string    `db:"case_id"`
	LookupID      string    `db:"lookup_id"`
	RecheckNumber int       `db:"recheck_number"`
	Terms         []byte    `db:"terms"`
	Documents     []byte    `db:"documents"`
	Results       []byte    `db:"results"`
	Summary       []byte    `db:"summary"`
	IntegrityHash string    `db:"integrity_hash"`
	CreatedAt     time.Time `db:"created_at"`
}

// CreateCheck inserts one immutable check attempt. There is no update path:
// a corrected submission is a new check with the next recheck number.
func (s *Store) CreateCheck(ctx context.Context, check *lifecycle.Check) error {
	terms, err := json.Marshal(check.Terms)
	if err != nil {
		return fmt.Errorf("failed to encode terms: %w", err)
	}
	documents, err := json.Marshal(check.Documents)
	if err != nil {
		return fmt.Errorf("failed to encode documents: %w", err)
	}
	results, err := json.Marshal(check.Results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	summary, err := json.Marshal(check.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	_, err = s.ext(ctx).ExecContext(ctx,
		`INSERT INTO lc_checks (id, case_id, lookup_id, recheck_number, terms,
		                        documents, results, summary, integrity_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		check.ID, check.CaseID, check.LookupID, check.RecheckNumber,
		terms, documents, results, summary, check.IntegrityHash, check.CreatedAt)
	if err != nil {
		// A concurrent submission that committed first leaves this insert
		// holding a stale recheck number. Surface it as retryable.
		if pqErr, ok := uniqueViolation(err); ok {
			return fmt.Errorf("%w: %s", auditchain.ErrConflict, pqErr.Constraint)
		}
		return fmt.Errorf("failed to create check: %w", err)
	}
	return nil
}

// ListChecks returns all checks of a case ordered by recheck number.
func (s *Store) ListChecks(ctx context.Context, caseID string) ([]*lifecycle.Check, error) {
	var rows []checkRow
	err := sqlx.SelectContext(ctx, s.ext(ctx), &rows,
		`SELECT id, case_id, lookup_id, recheck_number, terms, documents,
		        results, summary, integrity_hash, created_at
		 FROM lc_checks WHERE case_id = $1 ORDER BY recheck_number`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}

	checks := make([]*lifecycle.Check, 0, len(rows))
	for _, row := range rows {
		check := &lifecycle.Check{
			ID:            row.ID,
			CaseID:        row.CaseID,
			LookupID:      row.LookupID,
			RecheckNumber: row.RecheckNumber,
			IntegrityHash: row.IntegrityHash,
			CreatedAt:     row.CreatedAt,
		}
		if err := json.Unmarshal(row.Terms, &check.Terms); err != nil {
			return nil, fmt.Errorf("failed to decode check terms: %w", err)
		}
		if err := json.Unmarshal(row.Documents, &check.Documents); err != nil {
			return nil, fmt.Errorf("failed to decode check documents: %w", err)
		}
		if err := json.Unmarshal(row.Results, &check.Results); err != nil {
			return nil, fmt.Errorf("failed to decode check results: %w", err)
		}
		if err := json.Unmarshal(row.Summary, &check.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode check summary: %w", err)
		}
		checks = append(checks, check)
	}

	return checks, nil
}
