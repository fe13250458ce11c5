package lccheck

import "time"

// Severity grades a single field comparison.
type Severity string

const (
	SeverityGreen Severity = "GREEN"
	SeverityAmber Severity = "AMBER"
	SeverityRed   Severity = "RED"
)

// Verdict is the aggregate compliance outcome of one check.
type Verdict string

const (
	VerdictCompliant          Verdict = "COMPLIANT"
	VerdictCompliantWithNotes Verdict = "COMPLIANT_WITH_NOTES"
	VerdictDiscrepanciesFound Verdict = "DISCREPANCIES_FOUND"
)

// DocumentType identifies the kind of shipping document submitted.
type DocumentType string

const (
	DocCommercialInvoice DocumentType = "commercial_invoice"
	DocBillOfLading      DocumentType = "bill_of_lading"
	DocCertificateOrigin DocumentType = "certificate_of_origin"
	DocPhytosanitary     DocumentType = "phytosanitary_certificate"
	DocPackingList       DocumentType = "packing_list"
	DocOther             DocumentType = "other"
)

// LcTerms holds the buyer-declared Letter-of-Credit terms for one shipment.
// A terms snapshot is immutable once a check has run against it.
type LcTerms struct {
	LcReference            string  `json:"lcReference"`
	BeneficiaryName        string  `json:"beneficiaryName"`
	ApplicantName          string  `json:"applicantName"`
	GoodsDescription       string  `json:"goodsDescription"`
	HsCode                 string  `json:"hsCode"`
	Quantity               float64 `json:"quantity"`
	QuantityUnit           string  `json:"quantityUnit"`
	UnitPrice              float64 `json:"unitPrice"`
	TotalAmount            float64 `json:"totalAmount"`
	Currency               string  `json:"currency"`
	CountryOfOrigin        string  `json:"countryOfOrigin"`
	PortOfLoading          string  `json:"portOfLoading"`
	PortOfDischarge        string  `json:"portOfDischarge"`
	LatestShipmentDate     string  `json:"latestShipmentDate"`
	LcExpiryDate           string  `json:"lcExpiryDate"`
	Incoterms              string  `json:"incoterms"`
	PartialShipmentAllowed bool    `json:"partialShipmentAllowed"`
	TranshipmentAllowed    bool    `json:"transhipmentAllowed"`
	IssuingBank            string  `json:"issuingBank"`
	AdvisingBank           string  `json:"advisingBank"`
}

// DocumentSubmission is one structured document plus its extracted fields.
// Field values arrive from the external extraction service as already
// structured strings, numbers or booleans.
type DocumentSubmission struct {
	DocumentType DocumentType           `json:"documentType"`
	Fields       map[string]interface{} `json:"fields"`
}

// CheckResultItem is one row of the discrepancy matrix. Rows are produced
// fresh per check and never mutated.
type CheckResultItem struct {
	FieldName    string       `json:"fieldName"`
	DocumentType DocumentType `json:"documentType"`
	Severity     Severity     `json:"severity"`
	LcValue      string       `json:"lcValue"`
	DocValue     string       `json:"docValue"`
	Explanation  string       `json:"explanation"`
	UcpRuleRef   string       `json:"ucpRuleRef,omitempty"`
}

// CheckSummary is derived deterministically from the result set.
type CheckSummary struct {
	Verdict    Verdict   `json:"verdict"`
	GreenCount int       `json:"greenCount"`
	AmberCount int       `json:"amberCount"`
	RedCount   int       `json:"redCount"`
	Timestamp  time.Time `json:"timestamp"`
}

// CheckOutput bundles everything one check run produces.
type CheckOutput struct {
	Results       []CheckResultItem `json:"results"`
	Summary       CheckSummary      `json:"summary"`
	IntegrityHash string            `json:"integrityHash"`
}

// ValidationError rejects malformed input before any matching runs. Callers
// map it to a client-input (400) response; nothing is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
