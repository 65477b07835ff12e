// Package validation compares extraction output against known totals and
// aggregates labeled suites into accuracy summaries and training data.
package validation

import (
	"fmt"
	"math"
	"time"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// Tolerance is the amount difference, in currency units, under which a
// validation passes (one cent).
const Tolerance = 0.01

// HighConfidence marks results whose extractor was sure of itself; a failed
// validation above this level is a hard issue, not a soft warning.
const HighConfidence = 0.8

// Validator derives ValidationResults. Stateless and safe for concurrent
// use.
type Validator struct {
	now func() time.Time
}

// NewValidator constructs a Validator.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// Validate compares an extraction result's total against the expected total
// and derives structured issues and warnings. Each call yields a fresh
// timestamped record; nothing is mutated.
func (v *Validator) Validate(extracted domain.ExtractionResult, expected float64, category domain.DocumentCategory) domain.ValidationResult {
	total := extracted.Total()
	diff := math.Abs(total - expected)

	res := domain.ValidationResult{
		Expected:    expected,
		Extracted:   total,
		Difference:  diff,
		Confidence:  extracted.Confidence,
		Passed:      diff < Tolerance,
		ValidatedAt: v.now().UTC(),
	}
	res.AccuracyPercentage = accuracy(total, expected)

	// Confidence/accuracy mismatches.
	if !res.Passed && extracted.Confidence > HighConfidence {
		res.Issues = append(res.Issues, fmt.Sprintf("confidently wrong: confidence %.2f but difference %.2f", extracted.Confidence, diff))
	}
	if res.Passed && extracted.Confidence < 0.5 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("passed with low confidence %.2f", extracted.Confidence))
	}

	// Accuracy banding.
	switch {
	case res.AccuracyPercentage < 90:
		res.Issues = append(res.Issues, fmt.Sprintf("accuracy %.1f%% below 90%%", res.AccuracyPercentage))
	case res.AccuracyPercentage < 95:
		res.Warnings = append(res.Warnings, fmt.Sprintf("accuracy %.1f%% in the 90-95%% band", res.AccuracyPercentage))
	}

	// Category-specific shape checks.
	if category == domain.CategoryCountryBreakdown && len(extracted.SalesAmounts)+len(extracted.PurchaseAmounts) < 2 {
		res.Warnings = append(res.Warnings, "country breakdown expected per-country subtotals")
	}

	return res
}

// accuracy is 100 minus the relative error, clamped to [0,100]. Both
// totals zero reads as a perfect 100; a zero expected total with a
// nonzero extraction reads as 0.
func accuracy(extracted, expected float64) float64 {
	if expected == 0 {
		if extracted == 0 {
			return 100
		}
		return 0
	}
	acc := 100 - math.Abs(extracted-expected)/expected*100
	if acc < 0 {
		return 0
	}
	if acc > 100 {
		return 100
	}
	return acc
}
