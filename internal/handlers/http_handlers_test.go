package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doc-shield/lc-engine/internal/auditchain"
	"github.com/doc-shield/lc-engine/internal/cache"
	"github.com/doc-shield/lc-engine/internal/config"
	"github.com/doc-shield/lc-engine/internal/lccheck"
	"github.com/doc-shield/lc-engine/internal/lifecycle"
	"github.com/doc-shield/lc-engine/internal/metrics"
)

type fakeChainStore struct {
	mu     sync.Mutex
	events map[string][]*auditchain.Event
}

func (s *fakeChainStore) LatestEvent(_ context.Context, lookupID string) (*auditchain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.events[lookupID]
	if len(chain) == 0 {
		return nil, nil
	}
	clone := *chain[len(chain)-1]
	return &clone, nil
}

func (s *fakeChainStore) InsertEvent(_ context.Context, event *auditchain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *event
	s.events[event.LookupID] = append(s.events[event.LookupID], &clone)
	return nil
}

func (s *fakeChainStore) ListEvents(_ context.Context, lookupID string) ([]*auditchain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.events[lookupID]
	out := make([]*auditchain.Event, len(chain))
	for i, e := range chain {
		clone := *e
		out[i] = &clone
	}
	return out, nil
}

func (s *fakeChainStore) RecentLookupIDs(_ context.Context, _ time.Time, _ int) ([]string, error) {
	return nil, nil
}

// fakeCaseStore keeps case rows and their append-only children apart, the way
// the tables do.
type fakeCaseStore struct {
	mu          sync.Mutex
	cases       map[string]*lifecycle.Case
	history     map[string][]lifecycle.CheckHistoryEntry
	corrections map[string][]lifecycle.CorrectionRequest
	checks      map[string][]*lifecycle.Check
	refs        map[string]*lifecycle.PublicRef
}

func newFakeCaseStore() *fakeCaseStore {
	return &fakeCaseStore{
		cases:       make(map[string]*lifecycle.Case),
		history:     make(map[string][]lifecycle.CheckHistoryEntry),
		corrections: make(map[string][]lifecycle.CorrectionRequest),
		checks:      make(map[string][]*lifecycle.Check),
		refs:        make(map[string]*lifecycle.PublicRef),
	}
}

func (s *fakeCaseStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *fakeCaseStore) GetCaseByLookupID(_ context.Context, lookupID string) (*lifecycle.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[lookupID]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	clone := *c
	clone.CheckHistory = append([]lifecycle.CheckHistoryEntry(nil), s.history[c.ID]...)
	clone.CorrectionRequests = append([]lifecycle.CorrectionRequest(nil), s.corrections[c.ID]...)
	return &clone, nil
}

func (s *fakeCaseStore) CreateCase(_ context.Context, c *lifecycle.Case) error {
	return s.putCase(c)
}

func (s *fakeCaseStore) UpdateCase(_ context.Context, c *lifecycle.Case) error {
	return s.putCase(c)
}

func (s *fakeCaseStore) putCase(c *lifecycle.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *c
	clone.CheckHistory = nil
	clone.CorrectionRequests = nil
	s.cases[c.SourceLookupID] = &clone
	return nil
}

func (s *fakeCaseStore) AppendCheckHistory(_ context.Context, caseID string, entry lifecycle.CheckHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[caseID] = append(s.history[caseID], entry)
	return nil
}

func (s *fakeCaseStore) AppendCorrectionRequest(_ context.Context, caseID string, req lifecycle.CorrectionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrections[caseID] = append(s.corrections[caseID], req)
	return nil
}

func (s *fakeCaseStore) CreateCheck(_ context.Context, check *lifecycle.Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *check
	s.checks[check.CaseID] = append(s.checks[check.CaseID], &clone)
	return nil
}

func (s *fakeCaseStore) ListChecks(_ context.Context, caseID string) ([]*lifecycle.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*lifecycle.Check(nil), s.checks[caseID]...), nil
}

func (s *fakeCaseStore) CreatePublicRef(_ context.Context, ref *lifecycle.PublicRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *ref
	s.refs[ref.Token] = &clone
	return nil
}

func (s *fakeCaseStore) GetPublicRef(_ context.Context, token string) (*lifecycle.PublicRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.refs[token]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	clone := *ref
	return &clone, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	chain := &fakeChainStore{events: make(map[string][]*auditchain.Event)}
	writer := auditchain.NewWriter(chain, 3, logger)
	verifier := auditchain.NewVerifier(chain, logger)
	aggregator := lccheck.NewAggregator(lccheck.DefaultNumericTolerance, logger)
	manager := lifecycle.NewManager(newFakeCaseStore(), aggregator, writer, verifier, 1, 3, logger)

	collector := metrics.NewCollectorWith(prometheus.NewRegistry())
	cacheClient := cache.New(config.RedisConfig{Enabled: false}, logger)

	handler := New(manager, writer, verifier, cacheClient, collector, logger)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func checkBody(lookupID string, quantity float64) map[string]interface{} {
	return map[string]interface{}{
		"lookupId": lookupID,
		"terms": map[string]interface{}{
			"lcReference":     "LC-2026-0042",
			"beneficiaryName": "Mekong Agro Exports Ltd",
			"quantity":        25000,
			"quantityUnit":    "kg",
			"totalAmount":     30000,
			"currency":        "USD",
		},
		"documents": []map[string]interface{}{{
			"documentType": "commercial_invoice",
			"fields": map[string]interface{}{
				"beneficiaryName": "Mekong Agro Exports Ltd",
				"quantity":        quantity,
				"quantityUnit":    "kg",
				"totalAmount":     30000,
				"currency":        "USD",
			},
		}},
	}
}

func TestRunCheckEndpoint(t *testing.T) {
	t.Run("Creates Case On First Check", func(t *testing.T) {
		router := newTestRouter(t)

		rec := doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 25000))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var result lifecycle.SubmitCheckResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, lifecycle.StatusAllClear, result.Case.Status)
		assert.Equal(t, lccheck.VerdictCompliant, result.Check.Summary.Verdict)
		assert.NotEmpty(t, result.Check.IntegrityHash)
	})

	t.Run("Rejects Missing Lookup ID", func(t *testing.T) {
		router := newTestRouter(t)

		body := checkBody("", 25000)
		delete(body, "lookupId")
		rec := doJSON(t, router, http.MethodPost, "/api/v1/checks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Rejects Invalid Terms", func(t *testing.T) {
		router := newTestRouter(t)

		body := checkBody("lookup-1", 25000)
		body["terms"].(map[string]interface{})["totalAmount"] = 0
		rec := doJSON(t, router, http.MethodPost, "/api/v1/checks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "totalAmount")
	})

	t.Run("Quota Exhaustion Maps To 402", func(t *testing.T) {
		router := newTestRouter(t)

		// One free recheck is configured; the third submission needs payment.
		for i := 0; i < 2; i++ {
			rec := doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 24000))
			require.Equal(t, http.StatusCreated, rec.Code)
		}
		rec := doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 25000))
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.Contains(t, rec.Body.String(), "payment_required")

		body := checkBody("lookup-1", 25000)
		body["paymentAuthorized"] = true
		rec = doJSON(t, router, http.MethodPost, "/api/v1/checks", body)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})
}

func TestCaseEndpoints(t *testing.T) {
	t.Run("Get Unknown Case Is 404", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doJSON(t, router, http.MethodGet, "/api/v1/cases/nobody", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Case View After Recheck", func(t *testing.T) {
		router := newTestRouter(t)

		require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 24000)).Code)
		require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 25000)).Code)

		rec := doJSON(t, router, http.MethodGet, "/api/v1/cases/lookup-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var view lifecycle.CaseView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		assert.True(t, view.ChainValid)
		assert.Equal(t, lifecycle.StatusResolved, view.Case.Status)
		require.Len(t, view.Comparison, 1)
		assert.Equal(t, "Fixed", view.Comparison[0].Status)
	})

	t.Run("Correction Flow", func(t *testing.T) {
		router := newTestRouter(t)

		require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 24000)).Code)

		rec := doJSON(t, router, http.MethodPost, "/api/v1/cases/lookup-1/corrections", map[string]string{"channel": "email"})
		require.Equal(t, http.StatusOK, rec.Code)

		var c lifecycle.Case
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
		assert.Equal(t, lifecycle.StatusPendingCorrection, c.Status)
	})

	t.Run("Correction Channel Validated", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doJSON(t, router, http.MethodPost, "/api/v1/cases/lookup-1/corrections", map[string]string{"channel": "carrier_pigeon"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Correction From Clean Case Is 409", func(t *testing.T) {
		router := newTestRouter(t)

		require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 25000)).Code)
		rec := doJSON(t, router, http.MethodPost, "/api/v1/cases/lookup-1/corrections", map[string]string{"channel": "email"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Close And Reject Further Checks", func(t *testing.T) {
		router := newTestRouter(t)

		require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 25000)).Code)

		rec := doJSON(t, router, http.MethodPost, "/api/v1/cases/lookup-1/close", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 25000))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Archive Returns Event", func(t *testing.T) {
		router := newTestRouter(t)

		require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 25000)).Code)
		rec := doJSON(t, router, http.MethodPost, "/api/v1/cases/lookup-1/archive", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var event auditchain.Event
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
		assert.Equal(t, auditchain.EventTradeArchived, event.EventType)
	})
}

func TestEventAndAuditEndpoints(t *testing.T) {
	t.Run("Record Supplier Event", func(t *testing.T) {
		router := newTestRouter(t)

		rec := doJSON(t, router, http.MethodPost, "/api/v1/lookups/lookup-1/events", map[string]interface{}{
			"eventType":    "supplier_doc_uploaded",
			"documentType": "commercial_invoice",
			"fileName":     "invoice.pdf",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var event auditchain.Event
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
		assert.Equal(t, auditchain.EventSupplierDocUploaded, event.EventType)
		assert.Nil(t, event.PreviousHash)
	})

	t.Run("Unsupported Event Type Is 400", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doJSON(t, router, http.MethodPost, "/api/v1/lookups/lookup-1/events", map[string]interface{}{
			"eventType": "meteor_strike",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Audit Trail Lists Chain In Order", func(t *testing.T) {
		router := newTestRouter(t)

		for i, kind := range []string{"supplier_link_created", "supplier_doc_uploaded", "supplier_complete"} {
			rec := doJSON(t, router, http.MethodPost, "/api/v1/lookups/lookup-1/events", map[string]interface{}{
				"eventType": kind,
				"linkToken": fmt.Sprintf("tok-%d", i),
			})
			require.Equal(t, http.StatusCreated, rec.Code)
		}

		rec := doJSON(t, router, http.MethodGet, "/api/v1/lookups/lookup-1/audit", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var result auditchain.VerifyResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Valid)
		require.Len(t, result.Events, 3)
		assert.Equal(t, auditchain.EventSupplierLinkCreated, result.Events[0].EventType)
		assert.Equal(t, auditchain.EventSupplierComplete, result.Events[2].EventType)
	})
}

func TestPublicVerification(t *testing.T) {
	t.Run("Twinlog Then Public Verify", func(t *testing.T) {
		router := newTestRouter(t)

		require.Equal(t, http.StatusCreated, doJSON(t, router, http.MethodPost, "/api/v1/checks", checkBody("lookup-1", 25000)).Code)

		rec := doJSON(t, router, http.MethodPost, "/api/v1/lookups/lookup-1/twinlog", map[string]interface{}{
			"commodityName":   "Basmati Rice",
			"originName":      "Vietnam",
			"destinationName": "Netherlands",
			"ref":             "TL-0042",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var minted struct {
			Token string `json:"token"`
			Hash  string `json:"hash"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &minted))
		require.NotEmpty(t, minted.Token)

		rec = doJSON(t, router, http.MethodGet, "/public/verify/"+minted.Token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var verified struct {
			Valid         bool   `json:"valid"`
			Hash          string `json:"hash"`
			CommodityName string `json:"commodityName"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
		assert.True(t, verified.Valid)
		assert.Equal(t, minted.Hash, verified.Hash)
		assert.Equal(t, "Basmati Rice", verified.CommodityName)
		assert.NotContains(t, rec.Body.String(), "lookup-1")
	})

	t.Run("Twinlog Requires Snapshot Fields", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doJSON(t, router, http.MethodPost, "/api/v1/lookups/lookup-1/twinlog", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Unknown Token Is 404", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doJSON(t, router, http.MethodGet, "/public/verify/no-such-token", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lc-engine")
}
