package validation

// TrainingPattern records one (method, documentType, accuracy) observation
// derived from a validated case, used to seed extraction tuning.
type TrainingPattern struct {
	Method       string   `json:"method"`
	DocumentType string   `json:"document_type"`
	Accuracy     float64  `json:"accuracy"`
	Issues       []string `json:"issues,omitempty"`
}

// TrainingData partitions suite results into successful and failed
// patterns plus improvement recommendations.
type TrainingData struct {
	Successful      []TrainingPattern `json:"successful"`
	Failed          []TrainingPattern `json:"failed"`
	Recommendations []string          `json:"recommendations"`
}

// DeriveTrainingData partitions suite results: passed cases with confident
// extractions become successful patterns; failed cases become failed
// patterns carrying their issue lists.
func DeriveTrainingData(results []SuiteResult) TrainingData {
	var td TrainingData
	lowConfidence := 0
	for _, r := range results {
		p := TrainingPattern{
			Method:       r.Method,
			DocumentType: string(r.Case.Category),
			Accuracy:     r.Result.AccuracyPercentage,
		}
		switch {
		case r.Result.Passed && r.Result.Confidence > HighConfidence:
			td.Successful = append(td.Successful, p)
		case !r.Result.Passed:
			p.Issues = r.Result.Issues
			td.Failed = append(td.Failed, p)
		}
		if r.Result.Confidence < 0.5 {
			lowConfidence++
		}
	}

	if n := len(results); n > 0 {
		if float64(len(td.Failed))/float64(n) > 0.5 {
			td.Recommendations = append(td.Recommendations, "failure rate above 50%: review core extraction logic")
		}
		if float64(lowConfidence)/float64(n) > 0.3 {
			td.Recommendations = append(td.Recommendations, "over 30% of cases extracted with low confidence: expand pattern coverage")
		}
	}
	return td
}
