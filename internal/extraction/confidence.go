package extraction

import (
	"regexp"
	"strconv"
)

// Confidence priors used when the document carries no explicit declaration.
const (
	// ConfidenceWithAmounts applies when at least one amount was extracted.
	ConfidenceWithAmounts = 0.85
	// ConfidenceNoAmounts applies when nothing was found.
	ConfidenceNoAmounts = 0.3
)

// Tolerant patterns for explicit confidence declarations embedded in the
// document text, e.g. "92% confidence", "confidence: 0.85", "confidence 85%".
var confidenceRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*%\s*confidence`),
	regexp.MustCompile(`(?i)confidence\s*[:=]?\s*(\d{1,3}(?:\.\d+)?)\s*%`),
	regexp.MustCompile(`(?i)confidence\s*[:=]?\s*(0?\.\d+)`),
}

// EstimateConfidence derives a confidence scalar in [0,1] for one document.
// An explicit declaration in the text wins; percentages above 1 are
// normalized by /100. Without a declaration the result falls back to a high
// prior when amounts were extracted and a low prior otherwise.
func EstimateConfidence(text string, amounts []float64) float64 {
	for _, re := range confidenceRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if v > 1 {
			v /= 100
		}
		return clamp01(v)
	}
	if len(amounts) > 0 {
		return ConfidenceWithAmounts
	}
	return ConfidenceNoAmounts
}

// WeightedConfidence aggregates per-document confidences weighted by each
// document's extracted monetary total, so large transactions dominate the
// signal. When total weight is zero it degrades to the simple mean.
func WeightedConfidence(confidences, totals []float64) float64 {
	if len(confidences) == 0 || len(confidences) != len(totals) {
		return 0
	}
	var weighted, weight float64
	for i, c := range confidences {
		weighted += c * totals[i]
		weight += totals[i]
	}
	if weight == 0 {
		var s float64
		for _, c := range confidences {
			s += c
		}
		return clamp01(s / float64(len(confidences)))
	}
	return clamp01(weighted / weight)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
