// Package handlers exposes the engine over HTTP. Errors carry enough type
// information to map cleanly: validation to 400, quota to 402, missing to
// 404, bad transitions to 409 and exhausted chain retries to 503. A failed
// chain verification is never an HTTP error; it is a valid:false body.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/doc-shield/lc-engine/internal/auditchain"
	"github.com/doc-shield/lc-engine/internal/cache"
	"github.com/doc-shield/lc-engine/internal/lccheck"
	"github.com/doc-shield/lc-engine/internal/lifecycle"
	"github.com/doc-shield/lc-engine/internal/metrics"
)

const serviceVersion = "1.2.0"

// Handler handles the engine's HTTP surface.
type Handler struct {
	manager  *lifecycle.Manager
	writer   *auditchain.Writer
	verifier *auditchain.Verifier
	cache    *cache.Cache
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func New(
	manager *lifecycle.Manager,
	writer *auditchain.Writer,
	verifier *auditchain.Verifier,
	cacheClient *cache.Cache,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		manager:  manager,
		writer:   writer,
		verifier: verifier,
		cache:    cacheClient,
		metrics:  collector,
		logger:   logger,
	}
}

// RegisterRoutes registers all engine routes.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")

	api.POST("/checks", h.RunCheck)
	api.GET("/cases/:lookup_id", h.GetCase)
	api.POST("/cases/:lookup_id/corrections", h.LogCorrection)
	api.POST("/cases/:lookup_id/close", h.CloseCase)
	api.POST("/cases/:lookup_id/archive", h.ArchiveCase)

	api.POST("/lookups/:lookup_id/events", h.RecordEvent)
	api.POST("/lookups/:lookup_id/twinlog", h.GenerateTwinlog)
	api.GET("/lookups/:lookup_id/audit", h.GetAuditTrail)

	// Public, unauthenticated by design: banks verify a record's integrity
	// from the opaque token alone.
	router.GET("/public/verify/:token", h.VerifyPublic)

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

type runCheckRequest struct {
	LookupID          string                       `json:"lookupId" binding:"required"`
	SessionID         string                       `json:"sessionId"`
	Terms             lccheck.LcTerms              `json:"terms" binding:"required"`
	Documents         []lccheck.DocumentSubmission `json:"documents" binding:"required"`
	PaymentAuthorized bool                         `json:"paymentAuthorized"`
}

// RunCheck handles POST /api/v1/checks.
func (h *Handler) RunCheck(c *gin.Context) {
	var req runCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	start := time.Now()
	result, err := h.manager.SubmitCheck(c.Request.Context(), lifecycle.SubmitCheckRequest{
		LookupID:          req.LookupID,
		SessionID:         req.SessionID,
		Terms:             req.Terms,
		Documents:         req.Documents,
		PaymentAuthorized: req.PaymentAuthorized,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	summary := result.Check.Summary
	h.metrics.ObserveCheck(string(summary.Verdict), time.Since(start),
		summary.GreenCount, summary.AmberCount, summary.RedCount)
	h.metrics.ObserveAuditEvent(string(result.Event.EventType))

	c.JSON(http.StatusCreated, result)
}

// GetCase handles GET /api/v1/cases/:lookup_id. The chain is verified before
// the case view is trusted; a broken chain is surfaced as chainValid:false.
func (h *Handler) GetCase(c *gin.Context) {
	view, err := h.manager.GetCaseView(c.Request.Context(), c.Param("lookup_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.ObserveChainVerification(view.ChainValid)
	c.JSON(http.StatusOK, view)
}

type correctionRequest struct {
	SessionID string `json:"sessionId"`
	Channel   string `json:"channel" binding:"required,oneof=email whatsapp"`
}

// LogCorrection handles POST /api/v1/cases/:lookup_id/corrections.
func (h *Handler) LogCorrection(c *gin.Context) {
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	updated, err := h.manager.LogCorrection(c.Request.Context(), c.Param("lookup_id"), req.SessionID, req.Channel)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.ObserveAuditEvent(string(auditchain.EventCorrectionSent))
	c.JSON(http.StatusOK, updated)
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// CloseCase handles POST /api/v1/cases/:lookup_id/close.
func (h *Handler) CloseCase(c *gin.Context) {
	// Body is optional; it only carries the session id.
	var req sessionRequest
	_ = c.ShouldBindJSON(&req)

	updated, err := h.manager.CloseCase(c.Request.Context(), c.Param("lookup_id"), req.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.ObserveAuditEvent(string(auditchain.EventTradeClosed))
	c.JSON(http.StatusOK, updated)
}

// ArchiveCase handles POST /api/v1/cases/:lookup_id/archive.
func (h *Handler) ArchiveCase(c *gin.Context) {
	var req sessionRequest
	_ = c.ShouldBindJSON(&req)

	event, err := h.manager.ArchiveCase(c.Request.Context(), c.Param("lookup_id"), req.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.ObserveAuditEvent(string(event.EventType))
	c.JSON(http.StatusOK, event)
}

type recordEventRequest struct {
	SessionID     string `json:"sessionId"`
	EventType     string `json:"eventType" binding:"required"`
	SupplierName  string `json:"supplierName"`
	LinkToken     string `json:"linkToken"`
	DocumentType  string `json:"documentType"`
	FileName      string `json:"fileName"`
	DocumentCount int    `json:"documentCount"`
	Reference     string `json:"reference"`
	Port          string `json:"port"`
	Office        string `json:"office"`
	OccurredAt    string `json:"occurredAt"`
	Subject       string `json:"subject"`
	Outcome       string `json:"outcome"`
}

// RecordEvent handles POST /api/v1/lookups/:lookup_id/events for the
// collaborator-driven actions: supplier document flow, arrival, customs
// clearance and the remaining chain-logged facts.
func (h *Handler) RecordEvent(c *gin.Context) {
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	payload, ok := payloadFromRequest(req)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported event type " + req.EventType})
		return
	}

	event, err := h.writer.AppendWithRetry(c.Request.Context(), c.Param("lookup_id"), req.SessionID, payload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.ObserveAuditEvent(string(event.EventType))
	c.JSON(http.StatusCreated, event)
}

func payloadFromRequest(req recordEventRequest) (auditchain.Payload, bool) {
	switch auditchain.EventType(req.EventType) {
	case auditchain.EventSupplierLinkCreated:
		return auditchain.SupplierLinkCreatedPayload{SupplierName: req.SupplierName, LinkToken: req.LinkToken}, true
	case auditchain.EventSupplierDocUploaded:
		return auditchain.SupplierDocUploadedPayload{DocumentType: req.DocumentType, FileName: req.FileName}, true
	case auditchain.EventSupplierComplete:
		return auditchain.SupplierCompletePayload{DocumentCount: req.DocumentCount}, true
	case auditchain.EventArrival:
		return auditchain.ArrivalPayload{Port: req.Port, ArrivedAt: req.OccurredAt}, true
	case auditchain.EventCustomsCleared:
		return auditchain.CustomsClearedPayload{ClearedAt: req.OccurredAt, Office: req.Office}, true
	case auditchain.EventEudrCreated:
		return auditchain.EudrCreatedPayload{ReferenceNumber: req.Reference}, true
	case auditchain.EventAccountCreated:
		return auditchain.AccountCreatedPayload{AccountRef: req.Reference}, true
	case auditchain.EventComplianceCheck:
		return auditchain.ComplianceCheckPayload{Subject: req.Subject, Outcome: req.Outcome}, true
	default:
		return nil, false
	}
}

type twinlogRequest struct {
	SessionID        string  `json:"sessionId"`
	CommodityName    string  `json:"commodityName" binding:"required"`
	OriginName       string  `json:"originName" binding:"required"`
	DestinationName  string  `json:"destinationName" binding:"required"`
	Ref              string  `json:"ref" binding:"required"`
	ReadinessScore   *int    `json:"readinessScore"`
	ReadinessVerdict *string `json:"readinessVerdict"`
}

// GenerateTwinlog handles POST /api/v1/lookups/:lookup_id/twinlog. It mints
// the opaque public token; the raw lookup id stays internal.
func (h *Handler) GenerateTwinlog(c *gin.Context) {
	var req twinlogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	ref, err := h.manager.GenerateTwinlog(c.Request.Context(), lifecycle.TwinlogRequest{
		LookupID:         c.Param("lookup_id"),
		SessionID:        req.SessionID,
		CommodityName:    req.CommodityName,
		OriginName:       req.OriginName,
		DestinationName:  req.DestinationName,
		Ref:              req.Ref,
		ReadinessScore:   req.ReadinessScore,
		ReadinessVerdict: req.ReadinessVerdict,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.ObserveAuditEvent(string(auditchain.EventTwinlogGenerated))
	c.JSON(http.StatusCreated, gin.H{"token": ref.Token, "hash": ref.LockedHash, "lockedAt": ref.LockedAt})
}

// GetAuditTrail handles GET /api/v1/lookups/:lookup_id/audit.
func (h *Handler) GetAuditTrail(c *gin.Context) {
	result, err := h.verifier.Verify(c.Request.Context(), c.Param("lookup_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.ObserveChainVerification(result.Valid)
	c.JSON(http.StatusOK, result)
}

type publicVerificationResponse struct {
	lifecycle.PublicRef
	Valid bool `json:"valid"`
}

// VerifyPublic handles GET /public/verify/:token. Responses are cached
// briefly; the snapshot is immutable and the chain status changes only when
// something is appended or tampered with.
func (h *Handler) VerifyPublic(c *gin.Context) {
	token := c.Param("token")
	cacheKey := "publicref:" + token

	var cached publicVerificationResponse
	if err := h.cache.GetJSON(c.Request.Context(), cacheKey, &cached); err == nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	ref, valid, err := h.manager.VerifyPublicRef(c.Request.Context(), token)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.metrics.ObserveChainVerification(valid)

	response := publicVerificationResponse{PublicRef: *ref, Valid: valid}
	h.cache.SetJSON(c.Request.Context(), cacheKey, response)
	c.JSON(http.StatusOK, response)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "lc-engine",
		"version": serviceVersion,
	})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var validationErr *lccheck.ValidationError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.Is(err, lifecycle.ErrPaymentRequired):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error(), "code": "payment_required"})
	case errors.Is(err, lifecycle.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, auditchain.ErrConflict):
		h.metrics.ObserveChainConflict()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "concurrent update, please retry", "code": "transient"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
