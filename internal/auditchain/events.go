// Package auditchain records every material action against a lookup as a
// tamper-evident, hash-chained, append-only event log, and verifies that
// chain on read.
package auditchain

import (
	"encoding/json"
	"time"
)

// EventType names one kind of material action recorded in the chain.
type EventType string

const (
	EventComplianceCheck     EventType = "compliance_check"
	EventLcCheck             EventType = "lc_check"
	EventLcRecheck           EventType = "lc_recheck"
	EventCorrectionSent      EventType = "correction_sent"
	EventSupplierLinkCreated EventType = "supplier_link_created"
	EventSupplierDocUploaded EventType = "supplier_doc_uploaded"
	EventSupplierComplete    EventType = "supplier_complete"
	EventStatusChange        EventType = "status_change"
	EventTwinlogGenerated    EventType = "twinlog_generated"
	EventEudrCreated         EventType = "eudr_created"
	EventTradeArchived       EventType = "trade_archived"
	EventTradeClosed         EventType = "trade_closed"
	EventAccountCreated      EventType = "account_created"
	EventArrival             EventType = "arrival"
	EventCustomsCleared      EventType = "customs_cleared"
)

// Event is one append-only record in the tamper-evident log. PreviousHash is
// nil for the first event of a lookup; EventHash covers the event content
// concatenated with PreviousHash, so any later mutation breaks the chain.
type Event struct {
	ID           string          `json:"id"`
	LookupID     string          `json:"lookupId"`
	SessionID    string          `json:"sessionId,omitempty"`
	EventType    EventType       `json:"eventType"`
	EventData    json.RawMessage `json:"eventData"`
	PreviousHash *string         `json:"previousHash"`
	EventHash    string          `json:"eventHash"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Payload is the tagged union over per-event-type data. One struct per event
// type keeps payload schemas explicit instead of hiding them in an untyped
// blob; the compiler flags any new event type without a payload.
type Payload interface {
	Type() EventType
}

type CheckCompletedPayload struct {
	CheckID       string `json:"checkId"`
	CaseID        string `json:"caseId"`
	RecheckNumber int    `json:"recheckNumber"`
	Verdict       string `json:"verdict"`
	RedCount      int    `json:"redCount"`
	AmberCount    int    `json:"amberCount"`
	IntegrityHash string `json:"integrityHash"`
}

func (p CheckCompletedPayload) Type() EventType {
	if p.RecheckNumber > 0 {
		return EventLcRecheck
	}
	return EventLcCheck
}

type ComplianceCheckPayload struct {
	Subject string `json:"subject"`
	Outcome string `json:"outcome"`
}

func (ComplianceCheckPayload) Type() EventType { return EventComplianceCheck }

type CorrectionSentPayload struct {
	CaseID           string `json:"caseId"`
	Channel          string `json:"channel"`
	DiscrepancyCount int    `json:"discrepancyCount"`
}

func (CorrectionSentPayload) Type() EventType { return EventCorrectionSent }

type SupplierLinkCreatedPayload struct {
	SupplierName string `json:"supplierName,omitempty"`
	LinkToken    string `json:"linkToken"`
}

func (SupplierLinkCreatedPayload) Type() EventType { return EventSupplierLinkCreated }

type SupplierDocUploadedPayload struct {
	DocumentType string `json:"documentType"`
	FileName     string `json:"fileName,omitempty"`
}

func (SupplierDocUploadedPayload) Type() EventType { return EventSupplierDocUploaded }

type SupplierCompletePayload struct {
	DocumentCount int `json:"documentCount"`
}

func (SupplierCompletePayload) Type() EventType { return EventSupplierComplete }

type StatusChangePayload struct {
	CaseID string `json:"caseId"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

func (StatusChangePayload) Type() EventType { return EventStatusChange }

type TwinlogGeneratedPayload struct {
	Token      string `json:"token"`
	LockedHash string `json:"lockedHash"`
}

func (TwinlogGeneratedPayload) Type() EventType { return EventTwinlogGenerated }

type EudrCreatedPayload struct {
	ReferenceNumber string `json:"referenceNumber"`
}

func (EudrCreatedPayload) Type() EventType { return EventEudrCreated }

type TradeArchivedPayload struct {
	CaseID string `json:"caseId,omitempty"`
}

func (TradeArchivedPayload) Type() EventType { return EventTradeArchived }

type TradeClosedPayload struct {
	CaseID      string `json:"caseId"`
	FinalStatus string `json:"finalStatus"`
}

func (TradeClosedPayload) Type() EventType { return EventTradeClosed }

type AccountCreatedPayload struct {
	AccountRef string `json:"accountRef"`
}

func (AccountCreatedPayload) Type() EventType { return EventAccountCreated }

type ArrivalPayload struct {
	Port      string `json:"port,omitempty"`
	ArrivedAt string `json:"arrivedAt,omitempty"`
}

func (ArrivalPayload) Type() EventType { return EventArrival }

type CustomsClearedPayload struct {
	ClearedAt string `json:"clearedAt,omitempty"`
	Office    string `json:"office,omitempty"`
}

func (CustomsClearedPayload) Type() EventType { return EventCustomsCleared }
