// Package textx holds small text utilities shared by the upload path.
package textx

import "strings"

// SanitizeText drops control characters from document text before it is
// stored, keeping tab, newline, and carriage return, and trims surrounding
// whitespace. Uploaded spreadsheets and OCR exports routinely carry NUL and
// other control bytes that break downstream regex extraction.
func SanitizeText(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return r
		case r < 32 || r == 127:
			return -1
		default:
			return r
		}
	}, s)
	return strings.TrimSpace(cleaned)
}
