package auditchain

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// VerifyResult reports the outcome of a chain verification. A tampered or
// broken chain is a result, not an error: read paths render it, they do not
// crash on it.
type VerifyResult struct {
	Valid    bool     `json:"valid"`
	Events   []*Event `json:"events"`
	BrokenAt int      `json:"brokenAt,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Verifier recomputes per-lookup hash chains from stored content.
type Verifier struct {
	store  Store
	logger *zap.Logger
}

func NewVerifier(store Store, logger *zap.Logger) *Verifier {
	return &Verifier{store: store, logger: logger}
}

// Verify loads all events for lookupID in creation order, recomputes each
// hash against the prior event's stored hash, and stops at the first break.
// It never mutates state and is safe on every read path. Storage failures
// are returned as errors; integrity failures are returned in the result.
func (v *Verifier) Verify(ctx context.Context, lookupID string) (*VerifyResult, error) {
	events, err := v.store.ListEvents(ctx, lookupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain events: %w", err)
	}

	result := &VerifyResult{Valid: true, Events: events}

	var prevHash *string
	for i, event := range events {
		if !hashPtrEqual(event.PreviousHash, prevHash) {
			result.Valid = false
			result.BrokenAt = i
			result.Reason = fmt.Sprintf("event %d previousHash does not match prior event hash", i)
			break
		}

		recomputed, err := HashEvent(event)
		if err != nil {
			return nil, err
		}
		if recomputed != event.EventHash {
			result.Valid = false
			result.BrokenAt = i
			result.Reason = fmt.Sprintf("event %d content hash mismatch", i)
			break
		}

		prevHash = &events[i].EventHash
	}

	if !result.Valid {
		// Possible tampering or corruption; flag for operator attention.
		v.logger.Error("Audit chain verification failed",
			zap.String("lookup_id", lookupID),
			zap.Int("broken_at", result.BrokenAt),
			zap.String("reason", result.Reason),
		)
	}

	return result, nil
}

func hashPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
