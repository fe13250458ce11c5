package auditchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doc-shield/lc-engine/internal/canonical"
)

// ErrConflict reports that another writer appended to the same chain between
// reading the tail and inserting. The storage layer maps its fork-rejecting
// unique constraint onto this error.
var ErrConflict = errors.New("audit chain conflict: tail moved during append")

// Store is the persistence the chain needs. InsertEvent must reject two
// events sharing the same (lookupId, previousHash) with ErrConflict.
type Store interface {
	LatestEvent(ctx context.Context, lookupID string) (*Event, error)
	InsertEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, lookupID string) ([]*Event, error)
	RecentLookupIDs(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// Writer appends tamper-evident events to per-lookup hash chains.
type Writer struct {
	store       Store
	maxAttempts int
	logger      *zap.Logger
}

// NewWriter creates a chain writer. maxAttempts bounds the reread-and-retry
// loop on append conflicts.
func NewWriter(store Store, maxAttempts int, logger *zap.Logger) *Writer {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Writer{store: store, maxAttempts: maxAttempts, logger: logger}
}

// Append writes one event for lookupID, linking it to the current chain tail.
// A concurrent append racing for the same tail fails with ErrConflict; the
// caller either retries its surrounding transaction or uses AppendWithRetry.
func (w *Writer) Append(ctx context.Context, lookupID, sessionID string, payload Payload) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	tail, err := w.store.LatestEvent(ctx, lookupID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain tail: %w", err)
	}

	event := &Event{
		ID:        uuid.NewString(),
		LookupID:  lookupID,
		SessionID: sessionID,
		EventType: payload.Type(),
		EventData: data,
		// timestamptz stores microseconds; sub-microsecond digits would
		// not survive the round trip and the hash covers the timestamp.
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if tail != nil {
		prev := tail.EventHash
		event.PreviousHash = &prev
	}

	hash, err := HashEvent(event)
	if err != nil {
		return nil, err
	}
	event.EventHash = hash

	if err := w.store.InsertEvent(ctx, event); err != nil {
		return nil, err
	}

	w.logger.Info("Audit event appended",
		zap.String("lookup_id", lookupID),
		zap.String("event_type", string(event.EventType)),
		zap.String("event_hash", event.EventHash),
	)

	return event, nil
}

// AppendWithRetry retries Append on tail conflicts up to the configured
// bound, then surfaces the conflict as a transient failure.
func (w *Writer) AppendWithRetry(ctx context.Context, lookupID, sessionID string, payload Payload) (*Event, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		event, err := w.Append(ctx, lookupID, sessionID, payload)
		if err == nil {
			return event, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
		w.logger.Warn("Audit chain append conflict, retrying",
			zap.String("lookup_id", lookupID),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("append retries exhausted after %d attempts: %w", w.maxAttempts, lastErr)
}

// HashEvent computes the canonical content hash of an event: SHA-256 over the
// stable encoding of {eventType, eventData, createdAt, previousHash}. The
// timestamp is rendered as RFC3339Nano UTC, truncated to microseconds, so the
// hash is byte-stable across a timestamptz round trip.
func HashEvent(event *Event) (string, error) {
	var data interface{}
	if len(event.EventData) > 0 {
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			return "", fmt.Errorf("failed to decode event data: %w", err)
		}
	}

	var prev interface{}
	if event.PreviousHash != nil {
		prev = *event.PreviousHash
	}

	return canonical.Hash(map[string]interface{}{
		"eventType":    string(event.EventType),
		"eventData":    data,
		"createdAt":    event.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		"previousHash": prev,
	})
}
