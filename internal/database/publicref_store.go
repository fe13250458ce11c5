package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/doc-shield/lc-engine/internal/lifecycle"
)

type publicRefRow struct {
	Token            string    `db:"token"`
	LookupID         string    `db:"lookup_id"`
	CommodityName    string    `db:"commodity_name"`
	OriginName       string    `db:"origin_name"`
	DestinationName  string    `db:"destination_name"`
	Ref              string    `db:"ref"`
	LockedHash       string    `db:"locked_hash"`
	LockedAt         time.Time `db:"locked_at"`
	ReadinessScore   *int      `db:"readiness_score"`
	ReadinessVerdict *string   `db:"readiness_verdict"`
	CreatedAt        time.Time `db:"created_at"`
}

// CreatePublicRef stores the locked verification snapshot behind its token.
func (s *Store) CreatePublicRef(ctx context.Context, ref *lifecycle.PublicRef) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`INSERT INTO public_refs (token, lookup_id, commodity_name, origin_name,
		                          destination_name, ref, locked_hash, locked_at,
		                          readiness_score, readiness_verdict, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ref.Token, ref.LookupID, ref.CommodityName, ref.OriginName,
		ref.DestinationName, ref.Ref, ref.LockedHash, ref.LockedAt,
		ref.ReadinessScore, ref.ReadinessVerdict, ref.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create public ref: %w", err)
	}
	return nil
}

// GetPublicRef resolves an opaque token.
func (s *Store) GetPublicRef(ctx context.Context, token string) (*lifecycle.PublicRef, error) {
	var row publicRefRow
	err := sqlx.GetContext(ctx, s.ext(ctx), &row,
		`SELECT token, lookup_id, commodity_name, origin_name, destination_name,
		        ref, locked_hash, locked_at, readiness_score, readiness_verdict, created_at
		 FROM public_refs WHERE token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: public ref", lifecycle.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load public ref: %w", err)
	}

	return &lifecycle.PublicRef{
		Token:            row.Token,
		LookupID:         row.LookupID,
		CommodityName:    row.CommodityName,
		OriginName:       row.OriginName,
		DestinationName:  row.DestinationName,
		Ref:              row.Ref,
		LockedHash:       row.LockedHash,
		LockedAt:         row.LockedAt,
		ReadinessScore:   row.ReadinessScore,
		ReadinessVerdict: row.ReadinessVerdict,
		CreatedAt:        row.CreatedAt,
	}, nil
}
