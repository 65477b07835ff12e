package validation

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
	"github.com/fairyhunter13/vat-extraction-service/internal/extraction"
)

// LabeledCase is one entry in a validation suite: a document text with its
// declared category and the known-correct total.
type LabeledCase struct {
	Name          string                  `yaml:"name" json:"name"`
	Text          string                  `yaml:"text" json:"text"`
	Category      domain.DocumentCategory `yaml:"category" json:"category"`
	ExpectedTotal float64                 `yaml:"expected_total" json:"expected_total"`
}

// SuiteResult pairs a labeled case with its validation outcome.
type SuiteResult struct {
	Case   LabeledCase             `json:"case"`
	Result domain.ValidationResult `json:"result"`
	Method string                  `json:"method"`
}

// Summary aggregates a suite run. MeanConfidence treats every case equally;
// WeightedConfidence weighs each case by its extracted total, so confidence
// on the money that matters dominates.
type Summary struct {
	Total              int       `json:"total"`
	Passed             int       `json:"passed"`
	Failed             int       `json:"failed"`
	MeanAccuracy       float64   `json:"mean_accuracy"`
	MeanConfidence     float64   `json:"mean_confidence"`
	WeightedConfidence float64   `json:"weighted_confidence"`
	OverallScore       float64   `json:"overall_score"`
	Issues             []string  `json:"issues"`
	Recommendations    []string  `json:"recommendations"`
	RanAt              time.Time `json:"ran_at"`
}

// ExtractFunc runs the extraction pipeline over one case's text. Injected
// so the suite stays decoupled from the extractor implementation.
type ExtractFunc func(text string, category domain.DocumentCategory) domain.ExtractionResult

// RunSuite validates every labeled case and aggregates the outcomes into a
// Summary plus per-case results.
func (v *Validator) RunSuite(cases []LabeledCase, extract ExtractFunc) (Summary, []SuiteResult) {
	results := make([]SuiteResult, 0, len(cases))
	sum := Summary{Total: len(cases), RanAt: v.now().UTC()}

	var accSum, confSum float64
	confs := make([]float64, 0, len(cases))
	totals := make([]float64, 0, len(cases))
	issueSet := make(map[string]struct{})
	for _, c := range cases {
		ext := extract(c.Text, c.Category)
		vr := v.Validate(ext, c.ExpectedTotal, c.Category)
		results = append(results, SuiteResult{Case: c, Result: vr, Method: ext.Method})

		if vr.Passed {
			sum.Passed++
		} else {
			sum.Failed++
		}
		accSum += vr.AccuracyPercentage
		confSum += vr.Confidence
		confs = append(confs, vr.Confidence)
		totals = append(totals, ext.Total())
		for _, issue := range vr.Issues {
			issueSet[issue] = struct{}{}
		}
	}

	if sum.Total > 0 {
		sum.MeanAccuracy = accSum / float64(sum.Total)
		sum.MeanConfidence = confSum / float64(sum.Total)
		sum.WeightedConfidence = extraction.WeightedConfidence(confs, totals)
		// Equal-weighted blend of accuracy and confidence on the same scale.
		sum.OverallScore = (sum.MeanAccuracy + sum.MeanConfidence*100) / 2
	}
	sum.Issues = sortedKeys(issueSet)
	sum.Recommendations = suiteRecommendations(sum)
	return sum, results
}

func suiteRecommendations(s Summary) []string {
	var recs []string
	if s.Total == 0 {
		return recs
	}
	if float64(s.Failed)/float64(s.Total) > 0.5 {
		recs = append(recs, "failure rate above 50%: review core extraction logic")
	}
	if s.MeanConfidence < 0.85 {
		recs = append(recs, "mean confidence below 85%: improve pattern detection")
	}
	if s.MeanAccuracy < 90 {
		recs = append(recs, "mean accuracy below 90%: tighten amount parsing")
	}
	return recs
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadCases decodes a YAML suite fixture of the form:
//
//	cases:
//	  - name: simple invoice
//	    text: "Total VAT: €123.45"
//	    category: SALES_INVOICE
//	    expected_total: 123.45
func LoadCases(r io.Reader) ([]LabeledCase, error) {
	var doc struct {
		Cases []LabeledCase `yaml:"cases"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("op=validation.LoadCases: %w", err)
	}
	if len(doc.Cases) == 0 {
		return nil, fmt.Errorf("op=validation.LoadCases: %w: no cases", domain.ErrInvalidArgument)
	}
	return doc.Cases, nil
}
