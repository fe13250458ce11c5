package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/doc-shield/lc-engine/internal/auditchain"
	"github.com/doc-shield/lc-engine/internal/lccheck"
	"github.com/doc-shield/lc-engine/internal/lifecycle"
)

type caseRow struct {
	ID              string    `db:"id"`
	SourceLookupID  string    `db:"source_lookup_id"`
	LcReference     string    `db:"lc_reference"`
	BeneficiaryName string    `db:"beneficiary_name"`
	Status          string    `db:"status"`
	RecheckCount    int       `db:"recheck_count"`
	MaxFreeRechecks int       `db:"max_free_rechecks"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

type historyRow struct {
	RecheckNumber int       `db:"recheck_number"`
	Verdict       string    `db:"verdict"`
	Summary       []byte    `db:"summary"`
	CreatedAt     time.Time `db:"created_at"`
}

type correctionRow struct {
	Channel          string    `db:"channel"`
	DiscrepancyCount int       `db:"discrepancy_count"`
	SentAt           time.Time `db:"sent_at"`
}

// GetCaseByLookupID loads the case aggregate for a lookup, including its
// append-only history and correction lists.
func (s *Store) GetCaseByLookupID(ctx context.Context, lookupID string) (*lifecycle.Case, error) {
	var row caseRow
	err := sqlx.GetContext(ctx, s.ext(ctx), &row,
		`SELECT id, source_lookup_id, lc_reference, beneficiary_name, status,
		        recheck_count, max_free_rechecks, created_at, updated_at
		 FROM lc_cases WHERE source_lookup_id = $1`, lookupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: case for lookup %s", lifecycle.ErrNotFound, lookupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}

	c := &lifecycle.Case{
		ID:              row.ID,
		SourceLookupID:  row.SourceLookupID,
		LcReference:     row.LcReference,
		BeneficiaryName: row.BeneficiaryName,
		Status:          lifecycle.Status(row.Status),
		RecheckCount:    row.RecheckCount,
		MaxFreeRechecks: row.MaxFreeRechecks,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}

	var history []historyRow
	err = sqlx.SelectContext(ctx, s.ext(ctx), &history,
		`SELECT recheck_number, verdict, summary, created_at
		 FROM case_check_history WHERE case_id = $1 ORDER BY seq`, row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load check history: %w", err)
	}
	for _, h := range history {
		var summary lccheck.CheckSummary
		if err := json.Unmarshal(h.Summary, &summary); err != nil {
			return nil, fmt.Errorf("failed to decode history summary: %w", err)
		}
		c.CheckHistory = append(c.CheckHistory, lifecycle.CheckHistoryEntry{
			RecheckNumber: h.RecheckNumber,
			Verdict:       lccheck.Verdict(h.Verdict),
			Summary:       summary,
			CreatedAt:     h.CreatedAt,
		})
	}

	var corrections []correctionRow
	err = sqlx.SelectContext(ctx, s.ext(ctx), &corrections,
		`SELECT channel, discrepancy_count, sent_at
		 FROM case_correction_requests WHERE case_id = $1 ORDER BY seq`, row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load correction requests: %w", err)
	}
	for _, cr := range corrections {
		c.CorrectionRequests = append(c.CorrectionRequests, lifecycle.CorrectionRequest{
			Channel:          cr.Channel,
			DiscrepancyCount: cr.DiscrepancyCount,
			SentAt:           cr.SentAt,
		})
	}

	return c, nil
}

// CreateCase inserts a new case row. History and correction entries are
// appended separately; the lists start empty.
func (s *Store) CreateCase(ctx context.Context, c *lifecycle.Case) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`INSERT INTO lc_cases (id, source_lookup_id, lc_reference, beneficiary_name,
		                       status, recheck_count, max_free_rechecks, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.SourceLookupID, c.LcReference, c.BeneficiaryName,
		string(c.Status), c.RecheckCount, c.MaxFreeRechecks, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		// source_lookup_id is unique; a concurrent first submission for the
		// same trade won the case row and a retry will find it.
		if pqErr, ok := uniqueViolation(err); ok {
			return fmt.Errorf("%w: %s", auditchain.ErrConflict, pqErr.Constraint)
		}
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

// UpdateCase persists the mutable case fields. The append-only lists are
// written through AppendCheckHistory and AppendCorrectionRequest only.
func (s *Store) UpdateCase(ctx context.Context, c *lifecycle.Case) error {
	res, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE lc_cases
		 SET status = $2, recheck_count = $3, updated_at = $4
		 WHERE id = $1`,
		c.ID, string(c.Status), c.RecheckCount, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: case %s", lifecycle.ErrNotFound, c.ID)
	}
	return nil
}

// AppendCheckHistory appends one check-completion entry. The seq column keeps
// database-level ordering; rows are never updated or deleted.
func (s *Store) AppendCheckHistory(ctx context.Context, caseID string, entry lifecycle.CheckHistoryEntry) error {
	summary, err := json.Marshal(entry.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode history summary: %w", err)
	}
	_, err = s.ext(ctx).ExecContext(ctx,
		`INSERT INTO case_check_history (case_id, seq, recheck_number, verdict, summary, created_at)
		 VALUES ($1,
		         (SELECT COALESCE(MAX(seq) + 1, 0) FROM case_check_history WHERE case_id = $1),
		         $2, $3, $4, $5)`,
		caseID, entry.RecheckNumber, string(entry.Verdict), summary, entry.CreatedAt)
	if err != nil {
		// The seq is computed from the current max; a racing writer that
		// committed first takes it and the loser must retry.
		if pqErr, ok := uniqueViolation(err); ok {
			return fmt.Errorf("%w: %s", auditchain.ErrConflict, pqErr.Constraint)
		}
		return fmt.Errorf("failed to append check history: %w", err)
	}
	return nil
}

// AppendCorrectionRequest appends one correction-request entry.
func (s *Store) AppendCorrectionRequest(ctx context.Context, caseID string, req lifecycle.CorrectionRequest) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`INSERT INTO case_correction_requests (case_id, seq, channel, discrepancy_count, sent_at)
		 VALUES ($1,
		         (SELECT COALESCE(MAX(seq) + 1, 0) FROM case_correction_requests WHERE case_id = $1),
		         $2, $3, $4)`,
		caseID, req.Channel, req.DiscrepancyCount, req.SentAt)
	if err != nil {
		if pqErr, ok := uniqueViolation(err); ok {
			return fmt.Errorf("%w: %s", auditchain.ErrConflict, pqErr.Constraint)
		}
		return fmt.Errorf("failed to append correction request: %w", err)
	}
	return nil
}
