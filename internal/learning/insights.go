package learning

import (
	"fmt"
	"math"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// commonMistakeThreshold flags corrections whose percentage error exceeds
// this magnitude as a recurring extraction mistake.
const commonMistakeThreshold = 10.0

// CorrectionInsight quantifies one historical correction inside a pattern.
type CorrectionInsight struct {
	DocumentID      string  `json:"document_id"`
	OriginalTotal   float64 `json:"original_total"`
	CorrectedTotal  float64 `json:"corrected_total"`
	Difference      float64 `json:"difference"`
	PercentageError float64 `json:"percentage_error"`
	CommonMistake   bool    `json:"common_mistake"`
	Direction       string  `json:"direction,omitempty"`
}

// deriveInsights computes per-correction totals, signed difference, and
// percentage error for each correction held in a pattern's window.
func deriveInsights(p domain.LearningPattern) []CorrectionInsight {
	insights := make([]CorrectionInsight, 0, len(p.RecentCorrections))
	for _, c := range p.RecentCorrections {
		orig := sum(c.OriginalAmounts)
		corr := sum(c.CorrectedAmounts)
		ins := CorrectionInsight{
			DocumentID:     c.DocumentID,
			OriginalTotal:  orig,
			CorrectedTotal: corr,
			Difference:     corr - orig,
		}
		if corr != 0 {
			ins.PercentageError = (orig - corr) / corr * 100
		}
		if math.Abs(ins.PercentageError) > commonMistakeThreshold {
			ins.CommonMistake = true
			if ins.PercentageError < 0 {
				ins.Direction = "under-estimation"
			} else {
				ins.Direction = "over-estimation"
			}
		}
		insights = append(insights, ins)
	}
	return insights
}

// recommendations derives human-readable guidance from aggregate pattern
// confidence, the mix of recent feedback kinds, and category heuristics.
func recommendations(category domain.DocumentCategory, patterns []domain.LearningPattern, recent []domain.Feedback) []string {
	var recs []string

	if len(patterns) > 0 {
		var confSum float64
		for _, p := range patterns {
			confSum += p.Confidence
		}
		switch avg := confSum / float64(len(patterns)); {
		case avg >= 0.8:
			recs = append(recs, "strong correction history for this business and category; apply learned adjustments automatically")
		case avg >= 0.6:
			recs = append(recs, "moderate correction history; surface learned adjustments for review before applying")
		default:
			recs = append(recs, "developing correction history; collect more feedback before adjusting extractions")
		}
	}

	incorrect, partial := 0, 0
	for _, f := range recent {
		switch f.Kind {
		case domain.FeedbackIncorrect:
			incorrect++
		case domain.FeedbackPartiallyCorrect:
			partial++
		}
	}
	if incorrect > partial && incorrect > 0 {
		recs = append(recs, fmt.Sprintf("recent feedback is mostly INCORRECT (%d of %d); re-examine the extraction strategy for this business", incorrect, incorrect+partial))
	} else if partial > 0 {
		recs = append(recs, "recent feedback is mostly partial corrections; extraction is close but misses line items")
	}

	if category == domain.CategorySalesInvoice {
		recs = append(recs, "sales invoices: verify the VAT line rather than the invoice total")
	}
	return recs
}

func sum(xs []float64) float64 {
	var t float64
	for _, x := range xs {
		t += x
	}
	return t
}
