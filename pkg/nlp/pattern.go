package nlp

import (
	"context"
	"regexp"
	"strings"
)

// FallbackConfidenceCap bounds every entity the pattern recognizer emits.
// Pattern matching on unlabeled text cannot justify more certainty than
// this, so records built from it always stay eligible for review.
const FallbackConfidenceCap = 0.7

// PatternRecognizer extracts entities from unlabeled text using shape-based
// patterns. It is the fallback when label recognition finds nothing usable.
type PatternRecognizer struct{}

// NewPatternRecognizer creates the fallback recognizer.
func NewPatternRecognizer() *PatternRecognizer {
	return &PatternRecognizer{}
}

var (
	patternReference = regexp.MustCompile(`\b[A-Z]{2,5}[-/]?\d{3,}\b`)
	patternPostcode  = regexp.MustCompile(`(?i)\b[A-Z]{1,2}\d[A-Z\d]?\s*\d[A-Z]{2}\b`)
	patternAddress   = regexp.MustCompile(`(?i)\b\d+[A-Za-z]?\s+[A-Za-z][A-Za-z' ]*(street|road|lane|avenue|drive|close|place|terrace|way|court|gardens|grove|crescent)\b[^\n]*`)
	patternISODate   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	patternUKDate    = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)
	patternCouncil   = regexp.MustCompile(`(?i)\b[A-Z][A-Za-z ]*(city|borough|district|county)?\s*council\b`)
	patternOccupants = regexp.MustCompile(`(?i)\b(?:maximum|max|up to)\s+(?:of\s+)?(\d{1,3})\s+(?:person|persons|people|occupant|occupants)\b`)
)

// Recognize scans the whole block with shape patterns. Dates are assigned in
// document order: the first is taken as the start date, the second as expiry.
func (r *PatternRecognizer) Recognize(_ context.Context, block string) (Fields, error) {
	fields := make(Fields)

	if m := patternCouncil.FindString(block); m != "" {
		fields[KeyCouncil] = Entity{Text: strings.TrimSpace(m), Confidence: 0.6}
	}
	if m := patternReference.FindString(block); m != "" {
		fields[KeyLicenceReference] = Entity{Text: m, Confidence: FallbackConfidenceCap}
	}

	if m := patternAddress.FindString(block); m != "" {
		addr := strings.TrimSpace(m)
		// Pull the postcode onto the address when it trails on the same line.
		if pc := patternPostcode.FindString(addr); pc != "" {
			fields[KeyHMOAddress] = Entity{Text: addr, Confidence: FallbackConfidenceCap}
		} else {
			fields[KeyHMOAddress] = Entity{Text: addr, Confidence: 0.5}
		}
	}

	dates := patternISODate.FindAllString(block, 2)
	if len(dates) == 0 {
		dates = patternUKDate.FindAllString(block, 2)
	}
	if len(dates) > 0 {
		fields[KeyLicenceStart] = Entity{Text: dates[0], Confidence: 0.6}
	}
	if len(dates) > 1 {
		fields[KeyLicenceExpiry] = Entity{Text: dates[1], Confidence: 0.6}
	}

	if m := patternOccupants.FindStringSubmatch(block); m != nil {
		fields[KeyMaxOccupancy] = Entity{Text: m[1], Confidence: 0.6}
	}

	return fields, nil
}
