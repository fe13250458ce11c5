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
)

type auditEventRow struct {
	ID           string    `db:"id"`
	LookupID     string    `db:"lookup_id"`
	SessionID    string    `db:"session_id"`
	EventType    string    `db:"event_type"`
	EventData    []byte    `db:"event_data"`
	PreviousHash *string   `db:"previous_hash"`
	EventHash    string    `db:"event_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r auditEventRow) toEvent() *auditchain.Event {
	return &auditchain.Event{
		ID:           r.ID,
		LookupID:     r.LookupID,
		SessionID:    r.SessionID,
		EventType:    auditchain.EventType(r.EventType),
		EventData:    json.RawMessage(r.EventData),
		PreviousHash: r.PreviousHash,
		EventHash:    r.EventHash,
		CreatedAt:    r.CreatedAt,
	}
}

// LatestEvent returns the chain tail for a lookup, or nil when the chain is
// empty. The tail is derived by query on every append; there is no cached
// latest-event pointer to go stale.
func (s *Store) LatestEvent(ctx context.Context, lookupID string) (*auditchain.Event, error) {
	var row auditEventRow
	err := sqlx.GetContext(ctx, s.ext(ctx), &row,
		`SELECT id, lookup_id, session_id, event_type, event_data,
		        previous_hash, event_hash, created_at
		 FROM audit_events WHERE lookup_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`, lookupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chain tail: %w", err)
	}
	return row.toEvent(), nil
}

// InsertEvent appends one event. The unique indexes on (lookup_id,
// previous_hash) and on the per-lookup genesis reject a fork: two writers
// that both read the same tail cannot both insert, the loser gets
// auditchain.ErrConflict and rereads.
func (s *Store) InsertEvent(ctx context.Context, event *auditchain.Event) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`INSERT INTO audit_events (id, lookup_id, session_id, event_type,
		                           event_data, previous_hash, event_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.LookupID, event.SessionID, string(event.EventType),
		[]byte(event.EventData), event.PreviousHash, event.EventHash, event.CreatedAt)
	if err != nil {
		if pqErr, ok := uniqueViolation(err); ok {
			return fmt.Errorf("%w: %s", auditchain.ErrConflict, pqErr.Constraint)
		}
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// ListEvents returns the full chain for a lookup in creation order.
func (s *Store) ListEvents(ctx context.Context, lookupID string) ([]*auditchain.Event, error) {
	var rows []auditEventRow
	err := sqlx.SelectContext(ctx, s.ext(ctx), &rows,
		`SELECT id, lookup_id, session_id, event_type, event_data,
		        previous_hash, event_hash, created_at
		 FROM audit_events WHERE lookup_id = $1
		 ORDER BY created_at, id`, lookupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}

	events := make([]*auditchain.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events, nil
}

// RecentLookupIDs lists lookups with chain activity since the cutoff, most
// recently active first. The integrity sweep walks this set.
func (s *Store) RecentLookupIDs(ctx context.Context, since time.Time, limit int) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, s.ext(ctx), &ids,
		`SELECT lookup_id FROM audit_events
		 WHERE created_at >= $1
		 GROUP BY lookup_id
		 ORDER BY MAX(created_at) DESC
		 LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent lookups: %w", err)
	}
	return ids, nil
}
