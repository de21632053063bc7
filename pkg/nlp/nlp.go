// Package nlp recognizes licence entities in free text extracted from HMO
// register documents. The label recognizer handles well-structured registers;
// the pattern recognizer is a lower-confidence fallback for messy text.
package nlp

import (
	"context"
	"regexp"
	"strings"
)

// Field keys produced by recognizers. These match the structured record
// schema downstream.
const (
	KeyCouncil          = "council"
	KeyLicenceReference = "licence_reference"
	KeyHMOAddress       = "hmo_address"
	KeyLicenceStart     = "licence_start"
	KeyLicenceExpiry    = "licence_expiry"
	KeyMaxOccupancy     = "max_occupancy"
	KeyManagerName      = "manager_name"
	KeyManagerAddress   = "manager_address"
	KeyHolderName       = "licence_holder_name"
	KeyHolderAddress    = "licence_holder_address"
	KeySharedKitchens   = "shared_kitchens"
	KeySharedBathrooms  = "shared_bathrooms"
	KeySharedToilets    = "shared_toilets"
	KeyHouseholds       = "households"
	KeyStoreys          = "storeys"
)

// Entity is one recognized value with the recognizer's confidence in it.
type Entity struct {
	Text       string  `json:"text"`
	Normalized string  `json:"normalized,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Value returns the normalized text when available, the raw text otherwise.
func (e Entity) Value() string {
	if e.Normalized != "" {
		return e.Normalized
	}
	return e.Text
}

// Fields maps field keys to recognized entities for one licence block.
type Fields map[string]Entity

// Recognizer extracts licence entities from one block of text.
type Recognizer interface {
	Recognize(ctx context.Context, block string) (Fields, error)
}

var referenceLineRe = regexp.MustCompile(`(?i)\b(licen[cs]e\s+(number|reference|no\.?)|application\s+number|\bref(erence)?\b)`)

// Segment splits register text into per-licence blocks. Blocks are separated
// by blank lines; a new labeled licence reference also starts a new block so
// registers without blank-line separators still segment.
func Segment(text string) []string {
	lines := strings.Split(text, "\n")

	var blocks []string
	var current []string
	flush := func() {
		block := strings.TrimSpace(strings.Join(current, "\n"))
		if block != "" {
			blocks = append(blocks, block)
		}
		current = current[:0]
	}

	seenReference := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			seenReference = false
			continue
		}
		if referenceLineRe.MatchString(trimmed) {
			if seenReference {
				flush()
			}
			seenReference = true
		}
		current = append(current, line)
	}
	flush()
	return blocks
}
