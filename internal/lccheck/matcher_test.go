package lccheck

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchNumeric(t *testing.T) {
	field := FieldSpec{Name: "totalAmount", Kind: KindNumeric}

	t.Run("Exact Match", func(t *testing.T) {
		sev, note := Match(field, 30000.0, 30000.0, DefaultNumericTolerance)
		assert.Equal(t, SeverityGreen, sev)
		assert.Equal(t, "exact match", note)
	})

	t.Run("Numeric String Equals Number", func(t *testing.T) {
		sev, _ := Match(field, 30000.0, "30000", DefaultNumericTolerance)
		assert.Equal(t, SeverityGreen, sev)
	})

	t.Run("Thousands Separators Stripped", func(t *testing.T) {
		sev, _ := Match(field, 30000.0, "30,000.00", DefaultNumericTolerance)
		assert.Equal(t, SeverityGreen, sev)
	})

	t.Run("Within Tolerance Is Amber", func(t *testing.T) {
		// 0.4% under the LC amount sits inside the 0.5% band.
		sev, _ := Match(field, 10000.0, 9960.0, DefaultNumericTolerance)
		assert.Equal(t, SeverityAmber, sev)
	})

	t.Run("Beyond Tolerance Is Red", func(t *testing.T) {
		// 25000 vs 24000 is a 4% shortfall.
		sev, note := Match(FieldSpec{Name: "quantity", Kind: KindNumeric}, 25000.0, 24000.0, DefaultNumericTolerance)
		assert.Equal(t, SeverityRed, sev)
		assert.Contains(t, note, "4.00%")
	})

	t.Run("Boundary Difference Is Amber", func(t *testing.T) {
		sev, _ := Match(field, 10000.0, 10050.0, DefaultNumericTolerance)
		assert.Equal(t, SeverityAmber, sev)
	})

	t.Run("Non Numeric Document Value Is Red", func(t *testing.T) {
		sev, _ := Match(field, 30000.0, "thirty grand", DefaultNumericTolerance)
		assert.Equal(t, SeverityRed, sev)
	})

	t.Run("JSON Number Input", func(t *testing.T) {
		sev, _ := Match(field, 30000.0, json.Number("30000"), DefaultNumericTolerance)
		assert.Equal(t, SeverityGreen, sev)
	})

	t.Run("Zero Tolerance Falls Back To Default", func(t *testing.T) {
		sev, _ := Match(field, 10000.0, 9960.0, 0)
		assert.Equal(t, SeverityAmber, sev)
	})
}

func TestMatchEnum(t *testing.T) {
	t.Run("Case Insensitive Exact", func(t *testing.T) {
		sev, _ := Match(FieldSpec{Name: "currency", Kind: KindEnum}, "USD", "usd", 0)
		assert.Equal(t, SeverityGreen, sev)
	})

	t.Run("Currency Synonym Is Amber", func(t *testing.T) {
		sev, note := Match(FieldSpec{Name: "currency", Kind: KindEnum}, "USD", "US$", 0)
		assert.Equal(t, SeverityAmber, sev)
		assert.Contains(t, note, "synonym")
	})

	t.Run("Unit Synonym Is Amber", func(t *testing.T) {
		sev, _ := Match(FieldSpec{Name: "quantityUnit", Kind: KindEnum}, "kg", "KGS", 0)
		assert.Equal(t, SeverityAmber, sev)
	})

	t.Run("Unrelated Value Is Red", func(t *testing.T) {
		sev, _ := Match(FieldSpec{Name: "currency", Kind: KindEnum}, "USD", "EUR", 0)
		assert.Equal(t, SeverityRed, sev)
	})

	t.Run("Missing Value Is Red", func(t *testing.T) {
		sev, _ := Match(FieldSpec{Name: "currency", Kind: KindEnum}, "USD", "", 0)
		assert.Equal(t, SeverityRed, sev)
	})
}

func TestMatchText(t *testing.T) {
	field := FieldSpec{Name: "goodsDescription", Kind: KindText}

	t.Run("Match After Normalization", func(t *testing.T) {
		sev, _ := Match(field, "Basmati Rice, Grade A", "basmati rice grade a", 0)
		assert.Equal(t, SeverityGreen, sev)
	})

	t.Run("Substring Is Amber", func(t *testing.T) {
		sev, _ := Match(field, "Basmati Rice Grade A", "Basmati Rice", 0)
		assert.Equal(t, SeverityAmber, sev)
	})

	t.Run("Reordered Tokens Are Amber", func(t *testing.T) {
		sev, _ := Match(field, "Grade A Basmati Rice", "Basmati Rice Grade A", 0)
		assert.Equal(t, SeverityAmber, sev)
	})

	t.Run("Low Overlap Is Red", func(t *testing.T) {
		sev, _ := Match(field, "Basmati Rice", "Frozen Shrimp", 0)
		assert.Equal(t, SeverityRed, sev)
	})

	t.Run("Trivially Short Value Is Red", func(t *testing.T) {
		// "a" occurs in the LC text both as a substring and as a token,
		// but a one-character value is not evidence of a partial match.
		sev, _ := Match(field, "Basmati Rice Grade A", "a", 0)
		assert.Equal(t, SeverityRed, sev)

		sev, _ = Match(field, "Basmati Rice Grade A", "e A", 0)
		assert.Equal(t, SeverityRed, sev)
	})

	t.Run("Short But Exact Value Is Green", func(t *testing.T) {
		sev, _ := Match(field, "A", "a", 0)
		assert.Equal(t, SeverityGreen, sev)
	})

	t.Run("Missing Value Is Red", func(t *testing.T) {
		sev, _ := Match(field, "Basmati Rice", "", 0)
		assert.Equal(t, SeverityRed, sev)
	})
}

func TestMatchDate(t *testing.T) {
	field := FieldSpec{Name: "shippedOnBoardDate", Kind: KindDate}

	t.Run("On Deadline Is Green", func(t *testing.T) {
		sev, _ := Match(field, "2026-03-15", "2026-03-15", 0)
		assert.Equal(t, SeverityGreen, sev)
	})

	t.Run("Before Deadline Is Green", func(t *testing.T) {
		sev, _ := Match(field, "2026-03-15", "2026-03-01", 0)
		assert.Equal(t, SeverityGreen, sev)
	})

	t.Run("After Deadline Is Red", func(t *testing.T) {
		sev, note := Match(field, "2026-03-15", "2026-03-16", 0)
		assert.Equal(t, SeverityRed, sev)
		assert.Contains(t, note, "after deadline")
	})

	t.Run("Alternative Layouts Accepted", func(t *testing.T) {
		for _, raw := range []string{"15.03.2026", "15/03/2026", "15 Mar 2026", "March 15, 2026"} {
			sev, _ := Match(field, "2026-03-15", raw, 0)
			assert.Equal(t, SeverityGreen, sev, "layout %q", raw)
		}
	})

	t.Run("Blank Date Is Amber", func(t *testing.T) {
		sev, _ := Match(field, "2026-03-15", "", 0)
		assert.Equal(t, SeverityAmber, sev)
	})

	t.Run("Garbage Date Is Red", func(t *testing.T) {
		sev, _ := Match(field, "2026-03-15", "soonish", 0)
		assert.Equal(t, SeverityRed, sev)
	})

	t.Run("Unparsable Deadline Is Amber", func(t *testing.T) {
		sev, _ := Match(field, "mid march", "2026-03-15", 0)
		assert.Equal(t, SeverityAmber, sev)
	})
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "30000", Stringify(30000.0))
	assert.Equal(t, "0.5", Stringify(0.5))
	assert.Equal(t, "30000", Stringify(json.Number("30000")))
	assert.Equal(t, "hello", Stringify("hello"))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "true", Stringify(true))
}
