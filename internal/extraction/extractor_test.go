package extraction_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
	"github.com/fairyhunter13/vat-extraction-service/internal/extraction"
)

func TestExtract_CurrencyPrefixedSalesInvoice(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	res := ex.Extract("Total VAT: €123.45", domain.CategorySalesInvoice)

	require.Equal(t, []float64{123.45}, res.SalesAmounts)
	assert.Empty(t, res.PurchaseAmounts)
	assert.GreaterOrEqual(t, res.Confidence, 0.85)
	assert.Contains(t, res.Method, extraction.MethodCurrencyPrefix)
}

func TestExtract_EmptyText(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	res := ex.Extract("", domain.CategoryPurchaseReceipt)

	assert.Empty(t, res.SalesAmounts)
	assert.Empty(t, res.PurchaseAmounts)
	assert.InDelta(t, 0.3, res.Confidence, 1e-9)
	assert.Equal(t, "none", res.Method)
	assert.Contains(t, res.Diagnostics, "empty document text")
}

func TestExtract_LabelAdjacentRecoversUnprefixedAmounts(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	res := ex.Extract("VAT amount due 45.60 for Q1", domain.CategoryPurchaseInvoice)

	require.Equal(t, []float64{45.60}, res.PurchaseAmounts)
	assert.Contains(t, res.Method, extraction.MethodTaxLabel)
}

func TestExtract_UnionDeduplicatesAcrossStrategies(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	// €123.45 matches both the currency pass and the "VAT ... number" pass.
	res := ex.Extract("VAT total €123.45 plus fees €10.00", domain.CategorySalesInvoice)

	assert.ElementsMatch(t, []float64{123.45, 10.00}, res.SalesAmounts)
	assert.Equal(t, "currency_prefix+tax_label", res.Method)
}

func TestExtract_EuropeanNumberFormat(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	res := ex.Extract("Totaal BTW: €1.234,56", domain.CategorySalesInvoice)

	require.Len(t, res.SalesAmounts, 1)
	assert.InDelta(t, 1234.56, res.SalesAmounts[0], 1e-9)
}

func TestExtract_GroupedThousandsWithoutDecimals(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	// A grouped amount must come out whole, not partial-matched into a
	// phantom decimal like 1,23.
	res := ex.Extract("Total VAT: €1,234", domain.CategorySalesInvoice)

	assert.Equal(t, []float64{1234}, res.SalesAmounts)
}

func TestExtract_DotAndCommaThousandsAgree(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	dot := ex.Extract("Total VAT: €1.234", domain.CategorySalesInvoice)
	comma := ex.Extract("Total VAT: €1,234", domain.CategorySalesInvoice)

	require.Len(t, dot.SalesAmounts, 1)
	assert.Equal(t, dot.SalesAmounts, comma.SalesAmounts)
	assert.InDelta(t, 1234, dot.SalesAmounts[0], 1e-9)
}

func TestExtract_SanityCeilingDropsFalsePositives(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	// A phone number pulled in next to a tax keyword must not survive the
	// receipt ceiling.
	res := ex.Extract("tax office 0612345678.00 receipt total €25.50", domain.CategorySalesReceipt)

	assert.Equal(t, []float64{25.50}, res.SalesAmounts)
	found := false
	for _, d := range res.Diagnostics {
		if strings.Contains(d, "sanity ceiling") {
			found = true
		}
	}
	assert.True(t, found, "expected a ceiling diagnostic, got %v", res.Diagnostics)
}

func TestExtract_AmbiguousCategoryRoutesToSales(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	res := ex.Extract("statement total €99.00", domain.CategoryBankStatement)

	assert.Equal(t, []float64{99.00}, res.SalesAmounts)
	assert.Empty(t, res.PurchaseAmounts)
	assert.Contains(t, res.Diagnostics, "ambiguous category routed to sales bucket")
}

func TestExtract_HugeDocumentTruncated(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	head := "Invoice total €42.00\n"
	text := head + strings.Repeat("x", 200*1024)
	res := ex.Extract(text, domain.CategorySalesInvoice)

	assert.Equal(t, []float64{42.00}, res.SalesAmounts)
	assert.Contains(t, res.Diagnostics, "document truncated for scanning")
}

func TestExtract_NonEmptyAmountsImplyConcreteMethod(t *testing.T) {
	t.Parallel()
	ex := extraction.NewExtractor()

	cases := []struct {
		name string
		text string
	}{
		{"currency", "€10.00"},
		{"label", "VAT 10.00"},
		{"both", "VAT €10.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := ex.Extract(tc.text, domain.CategorySalesInvoice)
			if len(res.SalesAmounts) > 0 {
				assert.NotEqual(t, "none", res.Method)
			}
		})
	}
}
