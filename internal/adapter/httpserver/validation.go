package httpserver

import (
	"regexp"
	"unicode/utf8"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var documentIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateDocumentID validates a document ID path parameter before it
// touches storage.
func ValidateDocumentID(id string) ValidationResult {
	if id == "" {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Field: "id", Code: "REQUIRED", Message: "document ID is required"},
			},
		}
	}
	if len(id) > 100 || !utf8.ValidString(id) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Field: "id", Code: "TOO_LONG", Message: "document ID must be at most 100 characters"},
			},
		}
	}
	if !documentIDRe.MatchString(id) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Field: "id", Code: "INVALID_FORMAT", Message: "document ID may contain only letters, digits, hyphens, and underscores"},
			},
		}
	}
	return ValidationResult{Valid: true}
}
