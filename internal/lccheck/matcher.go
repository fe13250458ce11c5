package lccheck

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DefaultNumericTolerance is the relative band within which numeric
// differences are graded AMBER instead of RED.
const DefaultNumericTolerance = 0.005

// unitAliases folds common quantity-unit spellings onto one canonical form.
// An alias-level match is a soft (AMBER) match, not an exact one.
var unitAliases = map[string]string{
	"kgs": "kg", "kilogram": "kg", "kilograms": "kg", "kilo": "kg", "kilos": "kg",
	"tonne": "mt", "tonnes": "mt", "metric ton": "mt", "metric tons": "mt", "ton": "mt", "tons": "mt", "t": "mt",
	"lbs": "lb", "pound": "lb", "pounds": "lb",
	"ltr": "l", "litre": "l", "liter": "l", "litres": "l", "liters": "l",
	"piece": "pcs", "pieces": "pcs", "pc": "pcs", "unit": "pcs", "units": "pcs",
	"cbm": "m3", "cubic meter": "m3", "cubic meters": "m3",
}

var currencyAliases = map[string]string{
	"us$": "usd", "us dollar": "usd", "us dollars": "usd", "$": "usd",
	"€": "eur", "euro": "eur", "euros": "eur",
	"£": "gbp", "pound sterling": "gbp",
}

// dateLayouts are tried in order when parsing document dates. Extraction
// output is not guaranteed to use a single format.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02.01.2006",
	"02/01/2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// Match compares one LC-term value against one document-field value under the
// rule selected by the field kind and returns a graded severity with a short
// explanation. It is pure and side-effect-free. Unparsable input degrades to
// a RED or AMBER grade with a note; it never aborts a check.
func Match(field FieldSpec, lcValue, docValue interface{}, tolerance float64) (Severity, string) {
	switch field.Kind {
	case KindNumeric:
		return matchNumeric(lcValue, docValue, tolerance)
	case KindEnum:
		return matchEnum(field.Name, lcValue, docValue)
	case KindDate:
		return matchDate(field.Name, lcValue, docValue)
	default:
		return matchText(lcValue, docValue)
	}
}

func matchNumeric(lcValue, docValue interface{}, tolerance float64) (Severity, string) {
	if tolerance <= 0 {
		tolerance = DefaultNumericTolerance
	}

	lc, lcOK := toFloat(lcValue)
	doc, docOK := toFloat(docValue)
	if !lcOK || !docOK {
		return SeverityRed, "value missing or not numeric on one side"
	}

	if lc == doc {
		return SeverityGreen, "exact match"
	}

	base := math.Abs(lc)
	if base == 0 {
		return SeverityRed, "LC declares zero, document does not"
	}

	diff := math.Abs(lc-doc) / base
	if diff <= tolerance {
		return SeverityAmber, fmt.Sprintf("within tolerance (%.2f%% difference)", diff*100)
	}
	return SeverityRed, fmt.Sprintf("beyond tolerance (%.2f%% difference)", diff*100)
}

func matchEnum(fieldName string, lcValue, docValue interface{}) (Severity, string) {
	lc := strings.TrimSpace(strings.ToLower(Stringify(lcValue)))
	doc := strings.TrimSpace(strings.ToLower(Stringify(docValue)))
	if doc == "" {
		return SeverityRed, "value missing in document"
	}
	if lc == doc {
		return SeverityGreen, "exact match"
	}

	aliases := unitAliases
	if fieldName == "currency" {
		aliases = currencyAliases
	}
	if canonicalEnum(lc, aliases) == canonicalEnum(doc, aliases) {
		return SeverityAmber, fmt.Sprintf("%q accepted as synonym of %q", doc, lc)
	}
	return SeverityRed, "value mismatch"
}

func canonicalEnum(v string, aliases map[string]string) string {
	if c, ok := aliases[v]; ok {
		return c
	}
	return v
}

func matchText(lcValue, docValue interface{}) (Severity, string) {
	lc := normalizeText(Stringify(lcValue))
	doc := normalizeText(Stringify(docValue))
	if doc == "" {
		return SeverityRed, "value missing in document"
	}
	if lc == doc {
		return SeverityGreen, "match after normalization"
	}
	// Partial rules need a substantive token on both sides. A one- or
	// two-character value occurring somewhere in the LC text is noise,
	// not evidence of a match.
	if hasSubstantiveToken(lc) && hasSubstantiveToken(doc) {
		if strings.Contains(lc, doc) || strings.Contains(doc, lc) {
			return SeverityAmber, "partial textual match"
		}
		if tokenSetContained(lc, doc) || tokenSetContained(doc, lc) {
			return SeverityAmber, "token-level match"
		}
	}
	return SeverityRed, "low textual overlap"
}

func hasSubstantiveToken(s string) bool {
	for _, tok := range strings.Fields(s) {
		if len(tok) >= 3 {
			return true
		}
	}
	return false
}

// matchDate treats the LC value as the deadline the document date must be on
// or before. A field that is present but blank grades AMBER: the document was
// produced, the date was just not extracted.
func matchDate(fieldName string, lcValue, docValue interface{}) (Severity, string) {
	deadlineRaw := strings.TrimSpace(Stringify(lcValue))
	docRaw := strings.TrimSpace(Stringify(docValue))

	if docRaw == "" {
		return SeverityAmber, "date not stated, other evidence present"
	}

	deadline, ok := parseDate(deadlineRaw)
	if !ok {
		return SeverityAmber, fmt.Sprintf("LC deadline %q is not a recognizable date", deadlineRaw)
	}
	docDate, ok := parseDate(docRaw)
	if !ok {
		return SeverityRed, fmt.Sprintf("%q is not a recognizable date", docRaw)
	}

	if docDate.After(deadline) {
		return SeverityRed, fmt.Sprintf("%s %s is after deadline %s", fieldName, docDate.Format("2006-01-02"), deadline.Format("2006-01-02"))
	}
	return SeverityGreen, "on or before deadline"
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenSetContained reports whether every token of sub occurs in super.
func tokenSetContained(sub, super string) bool {
	subTokens := strings.Fields(sub)
	if len(subTokens) == 0 {
		return false
	}
	superSet := make(map[string]struct{})
	for _, tok := range strings.Fields(super) {
		superSet[tok] = struct{}{}
	}
	for _, tok := range subTokens {
		if _, ok := superSet[tok]; !ok {
			return false
		}
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(val), ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Stringify renders an extracted field value for display and hashing. Floats
// drop trailing zeros so "30000" and 30000.0 render identically.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
