package usecase

import (
	"io"

	"github.com/fairyhunter13/vat-extraction-service/internal/extraction"
	"github.com/fairyhunter13/vat-extraction-service/internal/validation"
)

// SuiteService runs labeled validation suites against the live extractor.
type SuiteService struct {
	Extractor *extraction.Extractor
	Validator *validation.Validator
}

// NewSuiteService constructs a SuiteService with its dependencies.
func NewSuiteService(ex *extraction.Extractor, v *validation.Validator) SuiteService {
	return SuiteService{Extractor: ex, Validator: v}
}

// SuiteReport bundles everything one suite run produces.
type SuiteReport struct {
	Summary  validation.Summary      `json:"summary"`
	Results  []validation.SuiteResult `json:"results"`
	Training validation.TrainingData `json:"training"`
}

// Run executes the labeled cases through the extractor and derives training
// data from the outcomes.
func (s SuiteService) Run(cases []validation.LabeledCase) SuiteReport {
	summary, results := s.Validator.RunSuite(cases, s.Extractor.Extract)
	return SuiteReport{
		Summary:  summary,
		Results:  results,
		Training: validation.DeriveTrainingData(results),
	}
}

// RunFromReader parses YAML labeled cases from r and runs them.
func (s SuiteService) RunFromReader(r io.Reader) (SuiteReport, error) {
	cases, err := validation.LoadCases(r)
	if err != nil {
		return SuiteReport{}, err
	}
	return s.Run(cases), nil
}
