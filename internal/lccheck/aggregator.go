package lccheck

import (
	"time"

	"go.uber.org/zap"

	"github.com/doc-shield/lc-engine/internal/canonical"
)

// Aggregator runs the field matcher across the full field x document matrix
// of one submission and derives the overall verdict.
type Aggregator struct {
	tolerance float64
	logger    *zap.Logger
}

// NewAggregator creates an aggregator with the given numeric tolerance band.
func NewAggregator(tolerance float64, logger *zap.Logger) *Aggregator {
	if tolerance <= 0 {
		tolerance = DefaultNumericTolerance
	}
	return &Aggregator{tolerance: tolerance, logger: logger}
}

// RunCheck validates the submission, produces the ordered discrepancy matrix
// and the derived summary, and computes the content integrity hash. The same
// input always yields the same results and the same hash; only the summary
// timestamp differs between runs and it is excluded from the hash.
func (a *Aggregator) RunCheck(terms LcTerms, documents []DocumentSubmission) (*CheckOutput, error) {
	if err := validateInput(terms, documents); err != nil {
		return nil, err
	}

	results := make([]CheckResultItem, 0, 16)
	for _, doc := range documents {
		results = append(results, a.checkDocument(terms, doc)...)
	}

	summary := summarize(results)

	hash, err := canonical.Hash(struct {
		Terms     LcTerms              `json:"terms"`
		Documents []DocumentSubmission `json:"documents"`
		Results   []CheckResultItem    `json:"results"`
		Verdict   Verdict              `json:"verdict"`
		Green     int                  `json:"greenCount"`
		Amber     int                  `json:"amberCount"`
		Red       int                  `json:"redCount"`
	}{terms, documents, results, summary.Verdict, summary.GreenCount, summary.AmberCount, summary.RedCount})
	if err != nil {
		return nil, err
	}

	a.logger.Info("Check completed",
		zap.String("verdict", string(summary.Verdict)),
		zap.Int("documents", len(documents)),
		zap.Int("result_rows", len(results)),
		zap.Int("red", summary.RedCount),
	)

	return &CheckOutput{Results: results, Summary: summary, IntegrityHash: hash}, nil
}

func (a *Aggregator) checkDocument(terms LcTerms, doc DocumentSubmission) []CheckResultItem {
	var rows []CheckResultItem

	for _, field := range SchemaFor(doc.DocumentType) {
		lcValue, lcDeclared := lcValueFor(terms, field)
		docValue, docPresent := doc.Fields[field.Name]

		// The LC is silent on this field: there is nothing to be
		// discrepant against, so no row is emitted.
		if !lcDeclared {
			continue
		}

		if !docPresent {
			if field.Optional {
				continue
			}
			rows = append(rows, CheckResultItem{
				FieldName:    field.Name,
				DocumentType: doc.DocumentType,
				Severity:     SeverityRed,
				LcValue:      Stringify(lcValue),
				Explanation:  "required field missing from document",
				UcpRuleRef:   field.UcpRuleRef,
			})
			continue
		}

		severity, explanation := Match(field, lcValue, docValue, a.tolerance)
		rows = append(rows, CheckResultItem{
			FieldName:    field.Name,
			DocumentType: doc.DocumentType,
			Severity:     severity,
			LcValue:      Stringify(lcValue),
			DocValue:     Stringify(docValue),
			Explanation:  explanation,
			UcpRuleRef:   field.UcpRuleRef,
		})
	}

	return rows
}

// summarize derives the verdict from the result set. The rule is order
// independent: any RED forces DISCREPANCIES_FOUND, otherwise any AMBER means
// COMPLIANT_WITH_NOTES, otherwise COMPLIANT.
func summarize(results []CheckResultItem) CheckSummary {
	s := CheckSummary{Verdict: VerdictCompliant, Timestamp: time.Now().UTC()}
	for _, r := range results {
		switch r.Severity {
		case SeverityGreen:
			s.GreenCount++
		case SeverityAmber:
			s.AmberCount++
		case SeverityRed:
			s.RedCount++
		}
	}
	if s.RedCount > 0 {
		s.Verdict = VerdictDiscrepanciesFound
	} else if s.AmberCount > 0 {
		s.Verdict = VerdictCompliantWithNotes
	}
	return s
}

func validateInput(terms LcTerms, documents []DocumentSubmission) error {
	switch {
	case terms.LcReference == "":
		return &ValidationError{Field: "lcReference", Message: "is required"}
	case terms.BeneficiaryName == "":
		return &ValidationError{Field: "beneficiaryName", Message: "is required"}
	case terms.Currency == "":
		return &ValidationError{Field: "currency", Message: "is required"}
	case terms.TotalAmount <= 0:
		return &ValidationError{Field: "totalAmount", Message: "must be positive"}
	case len(documents) == 0:
		return &ValidationError{Field: "documents", Message: "at least one document is required"}
	}

	for i, doc := range documents {
		if _, known := documentSchemas[doc.DocumentType]; !known {
			return &ValidationError{Field: "documents", Message: "unknown document type " + string(doc.DocumentType)}
		}
		if doc.Fields == nil {
			documents[i].Fields = map[string]interface{}{}
		}
	}

	return nil
}
