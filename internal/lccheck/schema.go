package lccheck

// FieldKind selects the matching rule applied to a field.
type FieldKind string

const (
	KindNumeric FieldKind = "numeric"
	KindEnum    FieldKind = "enum"
	KindText    FieldKind = "text"
	KindDate    FieldKind = "date"
)

// FieldSpec describes one applicable field of a document type: which LC term
// it is checked against, how it is matched, and whether the document may omit
// it without producing a discrepancy row.
type FieldSpec struct {
	Name       string
	Kind       FieldKind
	Optional   bool
	UcpRuleRef string
}

// documentSchemas fixes the applicable field set per document type. Order is
// significant: results are emitted in schema order so repeated checks over
// identical input produce byte-identical output.
var documentSchemas = map[DocumentType][]FieldSpec{
	DocCommercialInvoice: {
		{Name: "beneficiaryName", Kind: KindText, UcpRuleRef: "UCP600-18a"},
		{Name: "goodsDescription", Kind: KindText, UcpRuleRef: "UCP600-18c"},
		{Name: "hsCode", Kind: KindEnum, Optional: true},
		{Name: "quantity", Kind: KindNumeric, UcpRuleRef: "UCP600-30b"},
		{Name: "quantityUnit", Kind: KindEnum},
		{Name: "unitPrice", Kind: KindNumeric},
		{Name: "totalAmount", Kind: KindNumeric, UcpRuleRef: "UCP600-18b"},
		{Name: "currency", Kind: KindEnum},
		{Name: "incoterms", Kind: KindEnum, Optional: true},
		{Name: "countryOfOrigin", Kind: KindText, Optional: true},
	},
	DocBillOfLading: {
		{Name: "shipperName", Kind: KindText, Optional: true},
		{Name: "portOfLoading", Kind: KindText, UcpRuleRef: "UCP600-20a"},
		{Name: "portOfDischarge", Kind: KindText, UcpRuleRef: "UCP600-20a"},
		{Name: "shippedOnBoardDate", Kind: KindDate, UcpRuleRef: "UCP600-20a-ii"},
		{Name: "goodsDescription", Kind: KindText, Optional: true},
		{Name: "lcReference", Kind: KindEnum, Optional: true},
	},
	DocCertificateOrigin: {
		{Name: "countryOfOrigin", Kind: KindText},
		{Name: "beneficiaryName", Kind: KindText, Optional: true},
		{Name: "goodsDescription", Kind: KindText, Optional: true},
	},
	DocPhytosanitary: {
		{Name: "countryOfOrigin", Kind: KindText, Optional: true},
		{Name: "inspectionDate", Kind: KindDate, Optional: true},
		{Name: "goodsDescription", Kind: KindText, Optional: true},
	},
	DocPackingList: {
		{Name: "quantity", Kind: KindNumeric},
		{Name: "quantityUnit", Kind: KindEnum, Optional: true},
		{Name: "goodsDescription", Kind: KindText, Optional: true},
	},
	// Catch-all documents carry no applicable fields and contribute no rows.
	DocOther: {},
}

// SchemaFor returns the applicable field set for a document type.
func SchemaFor(docType DocumentType) []FieldSpec {
	return documentSchemas[docType]
}

// lcValueFor maps a schema field name to the LC term it is checked against.
// Date fields map to the deadline the document date must not exceed. The
// second return reports whether the LC side declares the field at all.
func lcValueFor(terms LcTerms, field FieldSpec) (interface{}, bool) {
	switch field.Name {
	case "beneficiaryName", "shipperName":
		return terms.BeneficiaryName, terms.BeneficiaryName != ""
	case "goodsDescription":
		return terms.GoodsDescription, terms.GoodsDescription != ""
	case "hsCode":
		return terms.HsCode, terms.HsCode != ""
	case "quantity":
		return terms.Quantity, terms.Quantity != 0
	case "quantityUnit":
		return terms.QuantityUnit, terms.QuantityUnit != ""
	case "unitPrice":
		return terms.UnitPrice, terms.UnitPrice != 0
	case "totalAmount":
		return terms.TotalAmount, terms.TotalAmount != 0
	case "currency":
		return terms.Currency, terms.Currency != ""
	case "incoterms":
		return terms.Incoterms, terms.Incoterms != ""
	case "countryOfOrigin":
		return terms.CountryOfOrigin, terms.CountryOfOrigin != ""
	case "portOfLoading":
		return terms.PortOfLoading, terms.PortOfLoading != ""
	case "portOfDischarge":
		return terms.PortOfDischarge, terms.PortOfDischarge != ""
	case "shippedOnBoardDate", "inspectionDate":
		return terms.LatestShipmentDate, terms.LatestShipmentDate != ""
	case "lcReference":
		return terms.LcReference, terms.LcReference != ""
	default:
		return nil, false
	}
}
