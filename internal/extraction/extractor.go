// Package extraction implements the VAT amount extraction pipeline: an
// ordered chain of named pattern strategies, the confidence estimator, and
// the in-process extraction monitor.
package extraction

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// maxScanBytes caps how much of a document is scanned by the regex
// strategies so pathological spreadsheet exports cannot blow up latency.
const maxScanBytes = 100 * 1024

// MethodNone is the method reported when no strategy matched.
const MethodNone = "none"

// Strategy names reported in ExtractionResult.Method.
const (
	MethodCurrencyPrefix = "currency_prefix"
	MethodTaxLabel       = "tax_label"
)

// A strategy finds candidate monetary amounts in document text. Strategies
// run in order; the union of their matches is deduplicated by value.
type strategy struct {
	name string
	find func(text string) []float64
}

var (
	// €1.234,56 / EUR 99.00 / £123.45 / $ 10,00 — symbol or ISO code first.
	currencyAmountRe = regexp.MustCompile(`(?i)(?:€|£|\$|\bEUR\b|\bGBP\b|\bUSD\b)\s*(\d{1,3}(?:[.,]\d{3})*(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)`)

	// A tax keyword with a number within a short window on either side.
	// The number is either a fully grouped form (1.234 / 1,234.56) or a
	// plain decimal, and must end at a digit boundary so a grouped amount
	// like 1,234 can never partial-match as 1,23.
	labelBeforeRe = regexp.MustCompile(`(?i)\b(?:vat|btw|tax|total|totaal|amount|bedrag)\b[^0-9\n]{0,40}?(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+[.,]\d{1,2})(?:[^0-9]|$)`)
	labelAfterRe  = regexp.MustCompile(`(?i)(?:^|[^0-9.,])(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+[.,]\d{1,2})[^0-9\n]{0,40}?\b(?:vat|btw|tax|totaal|total)\b`)
)

// defaultStrategies is the ordered chain: the currency-prefix pass is the
// primary signal; the label-adjacent pass recovers amounts it missed.
var defaultStrategies = []strategy{
	{name: MethodCurrencyPrefix, find: findCurrencyPrefixed},
	{name: MethodTaxLabel, find: findLabelAdjacent},
}

// Extractor turns raw document text plus a declared category into an
// ExtractionResult. It is stateless and safe for concurrent use.
type Extractor struct {
	strategies []strategy
	now        func() time.Time
}

// NewExtractor constructs an Extractor with the default strategy chain.
func NewExtractor() *Extractor {
	return &Extractor{strategies: defaultStrategies, now: time.Now}
}

// Extract runs the strategy chain over the document text and routes the
// found amounts to the sales or purchase bucket per the declared category.
// It is a total function: empty or unreadable text yields a zero-amount
// result with diagnostics, never an error.
func (e *Extractor) Extract(text string, category domain.DocumentCategory) domain.ExtractionResult {
	res := domain.ExtractionResult{Method: MethodNone, ProcessedAt: e.now().UTC()}

	text = strings.TrimSpace(text)
	if text == "" {
		res.Diagnostics = append(res.Diagnostics, "empty document text")
		res.Confidence = EstimateConfidence(text, nil)
		return res
	}
	if len(text) > maxScanBytes {
		res.Diagnostics = append(res.Diagnostics, "document truncated for scanning")
		text = text[:maxScanBytes]
	}

	amounts, methods := e.runStrategies(text)
	amounts = dedupeAmounts(amounts)
	amounts, dropped := applyCeiling(amounts, amountCeiling(category))
	if dropped > 0 {
		res.Diagnostics = append(res.Diagnostics, strconv.Itoa(dropped)+" candidate(s) above sanity ceiling discarded")
	}

	if len(amounts) > 0 {
		res.Method = strings.Join(methods, "+")
	} else {
		res.Diagnostics = append(res.Diagnostics, "no monetary amounts matched")
	}

	switch direction(category) {
	case domain.DirectionSales:
		res.SalesAmounts = amounts
	case domain.DirectionPurchase:
		res.PurchaseAmounts = amounts
	}
	if !category.IsSales() && !category.IsPurchase() && len(amounts) > 0 {
		res.Diagnostics = append(res.Diagnostics, "ambiguous category routed to sales bucket")
	}

	res.Confidence = EstimateConfidence(text, amounts)
	return res
}

// runStrategies applies the chain in order and returns the union of matches
// plus the names of the strategies that contributed at least one amount.
func (e *Extractor) runStrategies(text string) ([]float64, []string) {
	var amounts []float64
	var methods []string
	for _, s := range e.strategies {
		found := s.find(text)
		if len(found) == 0 {
			continue
		}
		amounts = append(amounts, found...)
		methods = append(methods, s.name)
	}
	return amounts, methods
}

func findCurrencyPrefixed(text string) []float64 {
	return parseMatches(currencyAmountRe.FindAllStringSubmatch(text, -1))
}

func findLabelAdjacent(text string) []float64 {
	out := parseMatches(labelBeforeRe.FindAllStringSubmatch(text, -1))
	out = append(out, parseMatches(labelAfterRe.FindAllStringSubmatch(text, -1))...)
	return out
}

func parseMatches(matches [][]string) []float64 {
	var out []float64
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		v, ok := parseAmount(m[1])
		if !ok || v < 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// parseAmount normalizes European (1.234,56) and anglophone (1,234.56)
// digit grouping before parsing.
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// European: dot groups, comma decimal.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// A lone comma is a decimal separator when followed by 1-2 digits,
		// otherwise a thousands separator.
		if len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		// Same rule for a lone dot: 1.234 groups thousands, 1.23 is a decimal.
		if len(s)-lastDot-1 > 2 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// dedupeAmounts removes duplicate numeric values while keeping first-match
// order, comparing at cent precision.
func dedupeAmounts(amounts []float64) []float64 {
	seen := make(map[int64]struct{}, len(amounts))
	out := amounts[:0]
	for _, a := range amounts {
		key := int64(a*100 + 0.5)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

func applyCeiling(amounts []float64, ceiling float64) ([]float64, int) {
	out := amounts[:0]
	dropped := 0
	for _, a := range amounts {
		if a > ceiling {
			dropped++
			continue
		}
		out = append(out, a)
	}
	return out, dropped
}

// amountCeiling is the per-document-type sanity bound that rejects obvious
// false positives such as phone numbers or reference codes.
func amountCeiling(category domain.DocumentCategory) float64 {
	switch category {
	case domain.CategorySalesReceipt, domain.CategoryPurchaseReceipt:
		return 50_000
	case domain.CategorySpreadsheet, domain.CategoryBankStatement:
		return 10_000_000
	default:
		return 1_000_000
	}
}

// direction picks the bucket for the extracted amounts. The declared
// category wins when it is unambiguous; ambiguous categories (bank
// statements, raw exports) default to the sales side, which overstates tax
// owed rather than tax reclaimable.
func direction(category domain.DocumentCategory) domain.TaxDirection {
	if category.IsPurchase() {
		return domain.DirectionPurchase
	}
	return domain.DirectionSales
}

// SortedAmounts returns a copy of amounts in ascending order. Used by
// handlers to render stable output.
func SortedAmounts(amounts []float64) []float64 {
	out := make([]float64, len(amounts))
	copy(out, amounts)
	sort.Float64s(out)
	return out
}
