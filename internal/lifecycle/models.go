// Package lifecycle owns the LC case state machine: case creation on the
// first check for a lookup, recheck sequencing and quota, correction
// requests, and the explicit close/archive actions.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/doc-shield/lc-engine/internal/lccheck"
)

// Status is the explicit case state. It is always derivable from the latest
// check history entry plus outstanding correction requests, but it is stored
// so that manual overrides such as closed survive.
type Status string

const (
	StatusChecking          Status = "checking"
	StatusAllClear          Status = "all_clear"
	StatusDiscrepancy       Status = "discrepancy"
	StatusPendingCorrection Status = "pending_correction"
	StatusRechecking        Status = "rechecking"
	StatusResolved          Status = "resolved"
	StatusClosed            Status = "closed"
)

var (
	// ErrNotFound reports a missing case, check or public reference.
	ErrNotFound = errors.New("not found")

	// ErrPaymentRequired rejects a re-check beyond the free allowance
	// without payment authorization. Callers redirect to checkout; it is
	// deliberately distinct from validation errors.
	ErrPaymentRequired = errors.New("recheck quota exhausted: payment authorization required")

	// ErrInvalidTransition rejects an action the state machine does not
	// permit from the case's current status.
	ErrInvalidTransition = errors.New("invalid case state transition")
)

// CheckHistoryEntry is one append-only record of a completed check.
type CheckHistoryEntry struct {
	RecheckNumber int                  `json:"recheckNumber"`
	Verdict       lccheck.Verdict      `json:"verdict"`
	Summary       lccheck.CheckSummary `json:"summary"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// CorrectionRequest is one append-only record of a buyer notifying the
// supplier about outstanding discrepancies.
type CorrectionRequest struct {
	Channel          string    `json:"channel"`
	DiscrepancyCount int       `json:"discrepancyCount"`
	SentAt           time.Time `json:"sentAt"`
}

// Case tracks one shipment's LC compliance lifecycle. There is exactly one
// case per sourceLookupId for that lookup's lifetime; it never resets.
type Case struct {
	ID                 string              `json:"caseId"`
	SourceLookupID     string              `json:"sourceLookupId"`
	LcReference        string              `json:"lcReference"`
	BeneficiaryName    string              `json:"beneficiaryName"`
	Status             Status              `json:"status"`
	RecheckCount       int                 `json:"recheckCount"`
	MaxFreeRechecks    int                 `json:"maxFreeRechecks"`
	CheckHistory       []CheckHistoryEntry `json:"checkHistory"`
	CorrectionRequests []CorrectionRequest `json:"correctionRequests"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// Check is one persisted check attempt, immutable after creation.
type Check struct {
	ID            string                       `json:"id"`
	CaseID        string                       `json:"caseId"`
	LookupID      string                       `json:"lookupId"`
	RecheckNumber int                          `json:"recheckNumber"`
	Terms         lccheck.LcTerms              `json:"terms"`
	Documents     []lccheck.DocumentSubmission `json:"documents"`
	Results       []lccheck.CheckResultItem    `json:"results"`
	Summary       lccheck.CheckSummary         `json:"summary"`
	IntegrityHash string                       `json:"integrityHash"`
	CreatedAt     time.Time                    `json:"createdAt"`
}

// PublicRef maps an opaque token to the locked verification snapshot exposed
// on the public, unauthenticated endpoint. The raw lookupId never leaves the
// service.
type PublicRef struct {
	Token            string    `json:"-"`
	LookupID         string    `json:"-"`
	CommodityName    string    `json:"commodityName"`
	OriginName       string    `json:"originName"`
	DestinationName  string    `json:"destinationName"`
	Ref              string    `json:"ref"`
	LockedHash       string    `json:"hash"`
	LockedAt         time.Time `json:"lockedAt"`
	ReadinessScore   *int      `json:"readinessScore,omitempty"`
	ReadinessVerdict *string   `json:"readinessVerdict,omitempty"`
	CreatedAt        time.Time `json:"-"`
}

// Store is the transactional persistence the manager coordinates through.
// Transact runs fn inside one database transaction; the implementation
// carries the transaction in the context so every store call inside fn joins
// it. Per-lookup serialization comes from the audit chain's fork-rejecting
// constraint: a racing writer fails the whole transaction, which is retried.
type Store interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error

	GetCaseByLookupID(ctx context.Context, lookupID string) (*Case, error)
	CreateCase(ctx context.Context, c *Case) error
	UpdateCase(ctx context.Context, c *Case) error
	AppendCheckHistory(ctx context.Context, caseID string, entry CheckHistoryEntry) error
	AppendCorrectionRequest(ctx context.Context, caseID string, req CorrectionRequest) error

	CreateCheck(ctx context.Context, check *Check) error
	ListChecks(ctx context.Context, caseID string) ([]*Check, error)

	CreatePublicRef(ctx context.Context, ref *PublicRef) error
	GetPublicRef(ctx context.Context, token string) (*PublicRef, error)
}
