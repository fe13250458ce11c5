package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doc-shield/lc-engine/internal/auditchain"
	"github.com/doc-shield/lc-engine/internal/lccheck"
)

// Manager drives the case state machine. Check persistence, the case
// transition and the audit chain append happen in one transaction: a failure
// anywhere leaves the case in its prior consistent state.
type Manager struct {
	store           Store
	aggregator      *lccheck.Aggregator
	writer          *auditchain.Writer
	verifier        *auditchain.Verifier
	maxFreeRechecks int
	maxTxAttempts   int
	logger          *zap.Logger
}

func NewManager(
	store Store,
	aggregator *lccheck.Aggregator,
	writer *auditchain.Writer,
	verifier *auditchain.Verifier,
	maxFreeRechecks int,
	maxTxAttempts int,
	logger *zap.Logger,
) *Manager {
	if maxFreeRechecks < 0 {
		maxFreeRechecks = 0
	}
	if maxTxAttempts < 1 {
		maxTxAttempts = 3
	}
	return &Manager{
		store:           store,
		aggregator:      aggregator,
		writer:          writer,
		verifier:        verifier,
		maxFreeRechecks: maxFreeRechecks,
		maxTxAttempts:   maxTxAttempts,
		logger:          logger,
	}
}

// SubmitCheckRequest is one submission of LC terms plus documents.
type SubmitCheckRequest struct {
	LookupID          string
	SessionID         string
	Terms             lccheck.LcTerms
	Documents         []lccheck.DocumentSubmission
	PaymentAuthorized bool
}

// SubmitCheckResult is the persisted outcome of one submission.
type SubmitCheckResult struct {
	Case  *Case             `json:"case"`
	Check *Check            `json:"check"`
	Event *auditchain.Event `json:"auditEvent"`
}

// SubmitCheck runs the discrepancy matrix for one submission, creates or
// updates the case for the lookup, records the check history entry and
// appends the chain event, all atomically. A chain tail race fails the
// transaction and the whole unit is retried a bounded number of times.
func (m *Manager) SubmitCheck(ctx context.Context, req SubmitCheckRequest) (*SubmitCheckResult, error) {
	if req.LookupID == "" {
		return nil, &lccheck.ValidationError{Field: "lookupId", Message: "is required"}
	}

	output, err := m.aggregator.RunCheck(req.Terms, req.Documents)
	if err != nil {
		return nil, err
	}

	var result *SubmitCheckResult
	var lastErr error
	for attempt := 1; attempt <= m.maxTxAttempts; attempt++ {
		result, lastErr = m.submitOnce(ctx, req, output)
		if lastErr == nil {
			return result, nil
		}
		if !errors.Is(lastErr, auditchain.ErrConflict) {
			return nil, lastErr
		}
		m.logger.Warn("Check submission lost a chain race, retrying",
			zap.String("lookup_id", req.LookupID),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("check submission retries exhausted: %w", lastErr)
}

func (m *Manager) submitOnce(ctx context.Context, req SubmitCheckRequest, output *lccheck.CheckOutput) (*SubmitCheckResult, error) {
	var result SubmitCheckResult

	err := m.store.Transact(ctx, func(ctx context.Context) error {
		c, err := m.store.GetCaseByLookupID(ctx, req.LookupID)
		created := false
		switch {
		case errors.Is(err, ErrNotFound):
			now := time.Now().UTC()
			c = &Case{
				ID:              uuid.NewString(),
				SourceLookupID:  req.LookupID,
				LcReference:     req.Terms.LcReference,
				BeneficiaryName: req.Terms.BeneficiaryName,
				Status:          StatusChecking,
				MaxFreeRechecks: m.maxFreeRechecks,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			created = true
		case err != nil:
			return err
		}

		if c.Status == StatusClosed {
			return fmt.Errorf("%w: case %s is closed", ErrInvalidTransition, c.ID)
		}

		recheckNumber := len(c.CheckHistory)
		if recheckNumber > 0 && c.RecheckCount >= c.MaxFreeRechecks && !req.PaymentAuthorized {
			return ErrPaymentRequired
		}

		check := &Check{
			ID:            uuid.NewString(),
			CaseID:        c.ID,
			LookupID:      req.LookupID,
			RecheckNumber: recheckNumber,
			Terms:         req.Terms,
			Documents:     req.Documents,
			Results:       output.Results,
			Summary:       output.Summary,
			IntegrityHash: output.IntegrityHash,
			CreatedAt:     output.Summary.Timestamp,
		}

		entry := CheckHistoryEntry{
			RecheckNumber: recheckNumber,
			Verdict:       output.Summary.Verdict,
			Summary:       output.Summary,
			CreatedAt:     check.CreatedAt,
		}

		c.Status = statusAfterCheck(recheckNumber, output.Summary.Verdict)
		c.RecheckCount = recheckNumber
		c.CheckHistory = append(c.CheckHistory, entry)
		c.UpdatedAt = check.CreatedAt

		if created {
			if err := m.store.CreateCase(ctx, c); err != nil {
				return err
			}
		} else {
			if err := m.store.UpdateCase(ctx, c); err != nil {
				return err
			}
		}
		if err := m.store.CreateCheck(ctx, check); err != nil {
			return err
		}
		if err := m.store.AppendCheckHistory(ctx, c.ID, entry); err != nil {
			return err
		}

		event, err := m.writer.Append(ctx, req.LookupID, req.SessionID, auditchain.CheckCompletedPayload{
			CheckID:       check.ID,
			CaseID:        c.ID,
			RecheckNumber: recheckNumber,
			Verdict:       string(output.Summary.Verdict),
			RedCount:      output.Summary.RedCount,
			AmberCount:    output.Summary.AmberCount,
			IntegrityHash: output.IntegrityHash,
		})
		if err != nil {
			return err
		}

		result = SubmitCheckResult{Case: c, Check: check, Event: event}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Case updated after check",
		zap.String("case_id", result.Case.ID),
		zap.String("status", string(result.Case.Status)),
		zap.Int("recheck_number", result.Check.RecheckNumber),
	)

	return &result, nil
}

// statusAfterCheck applies the check-completion transitions. The transient
// rechecking state collapses inside the submission: a recheck lands directly
// on resolved or loops back to discrepancy.
func statusAfterCheck(recheckNumber int, verdict lccheck.Verdict) Status {
	clean := verdict == lccheck.VerdictCompliant || verdict == lccheck.VerdictCompliantWithNotes
	if recheckNumber == 0 {
		if clean {
			return StatusAllClear
		}
		return StatusDiscrepancy
	}
	if clean {
		return StatusResolved
	}
	return StatusDiscrepancy
}

// LogCorrection records that the buyer notified the supplier about the
// outstanding discrepancies and moves the case to pending_correction.
func (m *Manager) LogCorrection(ctx context.Context, lookupID, sessionID, channel string) (*Case, error) {
	var updated *Case
	err := m.retryOnConflict(func() error {
		return m.store.Transact(ctx, func(ctx context.Context) error {
			c, err := m.store.GetCaseByLookupID(ctx, lookupID)
			if err != nil {
				return err
			}
			if c.Status != StatusDiscrepancy {
				return fmt.Errorf("%w: correction from status %s", ErrInvalidTransition, c.Status)
			}

			latest := c.CheckHistory[len(c.CheckHistory)-1]
			req := CorrectionRequest{
				Channel:          channel,
				DiscrepancyCount: latest.Summary.RedCount + latest.Summary.AmberCount,
				SentAt:           time.Now().UTC(),
			}

			c.Status = StatusPendingCorrection
			c.CorrectionRequests = append(c.CorrectionRequests, req)
			c.UpdatedAt = req.SentAt

			if err := m.store.UpdateCase(ctx, c); err != nil {
				return err
			}
			if err := m.store.AppendCorrectionRequest(ctx, c.ID, req); err != nil {
				return err
			}

			if _, err := m.writer.Append(ctx, lookupID, sessionID, auditchain.CorrectionSentPayload{
				CaseID:           c.ID,
				Channel:          channel,
				DiscrepancyCount: req.DiscrepancyCount,
			}); err != nil {
				return err
			}

			updated = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CloseCase moves an all_clear or resolved case to the terminal closed
// status. Closing is explicit only; no automatic transition lands here.
func (m *Manager) CloseCase(ctx context.Context, lookupID, sessionID string) (*Case, error) {
	var updated *Case
	err := m.retryOnConflict(func() error {
		return m.store.Transact(ctx, func(ctx context.Context) error {
			c, err := m.store.GetCaseByLookupID(ctx, lookupID)
			if err != nil {
				return err
			}
			if c.Status != StatusAllClear && c.Status != StatusResolved {
				return fmt.Errorf("%w: close from status %s", ErrInvalidTransition, c.Status)
			}

			finalStatus := string(c.Status)
			c.Status = StatusClosed
			c.UpdatedAt = time.Now().UTC()

			if err := m.store.UpdateCase(ctx, c); err != nil {
				return err
			}
			if _, err := m.writer.Append(ctx, lookupID, sessionID, auditchain.TradeClosedPayload{
				CaseID:      c.ID,
				FinalStatus: finalStatus,
			}); err != nil {
				return err
			}

			updated = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ArchiveCase records a trade_archived event for the lookup. Archival is an
// audit fact, not a case status.
func (m *Manager) ArchiveCase(ctx context.Context, lookupID, sessionID string) (*auditchain.Event, error) {
	c, err := m.store.GetCaseByLookupID(ctx, lookupID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	payload := auditchain.TradeArchivedPayload{}
	if c != nil {
		payload.CaseID = c.ID
	}
	return m.writer.AppendWithRetry(ctx, lookupID, sessionID, payload)
}

// TwinlogRequest mints the public verification reference for a lookup.
type TwinlogRequest struct {
	LookupID         string
	SessionID        string
	CommodityName    string
	OriginName       string
	DestinationName  string
	Ref              string
	ReadinessScore   *int
	ReadinessVerdict *string
}

// GenerateTwinlog locks the lookup's latest check hash behind an opaque
// public token and records the twinlog_generated event.
func (m *Manager) GenerateTwinlog(ctx context.Context, req TwinlogRequest) (*PublicRef, error) {
	var ref *PublicRef
	err := m.retryOnConflict(func() error {
		return m.store.Transact(ctx, func(ctx context.Context) error {
			c, err := m.store.GetCaseByLookupID(ctx, req.LookupID)
			if err != nil {
				return err
			}
			checks, err := m.store.ListChecks(ctx, c.ID)
			if err != nil {
				return err
			}
			if len(checks) == 0 {
				return fmt.Errorf("%w: no checks recorded for case %s", ErrNotFound, c.ID)
			}
			latest := checks[len(checks)-1]

			now := time.Now().UTC()
			ref = &PublicRef{
				Token:            uuid.NewString(),
				LookupID:         req.LookupID,
				CommodityName:    req.CommodityName,
				OriginName:       req.OriginName,
				DestinationName:  req.DestinationName,
				Ref:              req.Ref,
				LockedHash:       latest.IntegrityHash,
				LockedAt:         now,
				ReadinessScore:   req.ReadinessScore,
				ReadinessVerdict: req.ReadinessVerdict,
				CreatedAt:        now,
			}

			if err := m.store.CreatePublicRef(ctx, ref); err != nil {
				return err
			}
			if _, err := m.writer.Append(ctx, req.LookupID, req.SessionID, auditchain.TwinlogGeneratedPayload{
				Token:      ref.Token,
				LockedHash: ref.LockedHash,
			}); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// ComparisonEntry annotates one initially-flagged field against the latest
// check: Fixed when it now grades GREEN, Open otherwise.
type ComparisonEntry struct {
	FieldName       string               `json:"fieldName"`
	DocumentType    lccheck.DocumentType `json:"documentType"`
	InitialSeverity lccheck.Severity     `json:"initialSeverity"`
	LatestSeverity  lccheck.Severity     `json:"latestSeverity,omitempty"`
	LcValue         string               `json:"lcValue"`
	InitialValue    string               `json:"initialValue"`
	LatestValue     string               `json:"latestValue,omitempty"`
	Status          string               `json:"status"`
}

// CaseView is the internal read surface for the case/comparison screen.
type CaseView struct {
	Case         *Case             `json:"case"`
	InitialCheck *Check            `json:"initialCheck"`
	LatestCheck  *Check            `json:"latestCheck"`
	Comparison   []ComparisonEntry `json:"comparison"`
	ChainValid   bool              `json:"chainValid"`
}

// GetCaseView loads the case with its initial and latest checks and verifies
// the audit chain before the results are trusted. Only fields that graded
// AMBER or RED initially appear in the comparison.
func (m *Manager) GetCaseView(ctx context.Context, lookupID string) (*CaseView, error) {
	c, err := m.store.GetCaseByLookupID(ctx, lookupID)
	if err != nil {
		return nil, err
	}
	checks, err := m.store.ListChecks(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if len(checks) == 0 {
		return nil, fmt.Errorf("%w: no checks recorded for case %s", ErrNotFound, c.ID)
	}

	verification, err := m.verifier.Verify(ctx, lookupID)
	if err != nil {
		return nil, err
	}

	initial := checks[0]
	latest := checks[len(checks)-1]

	return &CaseView{
		Case:         c,
		InitialCheck: initial,
		LatestCheck:  latest,
		Comparison:   buildComparison(initial, latest),
		ChainValid:   verification.Valid,
	}, nil
}

func buildComparison(initial, latest *Check) []ComparisonEntry {
	type key struct {
		field string
		doc   lccheck.DocumentType
	}
	latestByField := make(map[key]lccheck.CheckResultItem, len(latest.Results))
	for _, r := range latest.Results {
		latestByField[key{r.FieldName, r.DocumentType}] = r
	}

	var entries []ComparisonEntry
	for _, r := range initial.Results {
		if r.Severity == lccheck.SeverityGreen {
			continue
		}
		entry := ComparisonEntry{
			FieldName:       r.FieldName,
			DocumentType:    r.DocumentType,
			InitialSeverity: r.Severity,
			LcValue:         r.LcValue,
			InitialValue:    r.DocValue,
			Status:          "Open",
		}
		if now, ok := latestByField[key{r.FieldName, r.DocumentType}]; ok {
			entry.LatestSeverity = now.Severity
			entry.LatestValue = now.DocValue
			if now.Severity == lccheck.SeverityGreen {
				entry.Status = "Fixed"
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// VerifyPublicRef resolves an opaque token and verifies the underlying chain
// without exposing the lookup it points at.
func (m *Manager) VerifyPublicRef(ctx context.Context, token string) (*PublicRef, bool, error) {
	ref, err := m.store.GetPublicRef(ctx, token)
	if err != nil {
		return nil, false, err
	}
	verification, err := m.verifier.Verify(ctx, ref.LookupID)
	if err != nil {
		return nil, false, err
	}
	return ref, verification.Valid, nil
}

func (m *Manager) retryOnConflict(fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= m.maxTxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !errors.Is(lastErr, auditchain.ErrConflict) {
			return lastErr
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}
