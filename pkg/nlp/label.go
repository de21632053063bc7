package nlp

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// labelSynonyms maps the labels councils actually print in registers to field
// keys. Longer labels are matched first so "licence holder address" never
// resolves to "licence holder".
var labelSynonyms = map[string]string{
	"council":                     KeyCouncil,
	"local authority":             KeyCouncil,
	"issuing authority":           KeyCouncil,
	"licence number":              KeyLicenceReference,
	"license number":              KeyLicenceReference,
	"licence reference":           KeyLicenceReference,
	"licence no":                  KeyLicenceReference,
	"application number":          KeyLicenceReference,
	"reference":                   KeyLicenceReference,
	"ref":                         KeyLicenceReference,
	"hmo address":                 KeyHMOAddress,
	"property address":            KeyHMOAddress,
	"address of hmo":              KeyHMOAddress,
	"premises":                    KeyHMOAddress,
	"address":                     KeyHMOAddress,
	"licence start":               KeyLicenceStart,
	"start date":                  KeyLicenceStart,
	"date of issue":               KeyLicenceStart,
	"issued":                      KeyLicenceStart,
	"valid from":                  KeyLicenceStart,
	"licence expiry":              KeyLicenceExpiry,
	"expiry date":                 KeyLicenceExpiry,
	"expires":                     KeyLicenceExpiry,
	"valid until":                 KeyLicenceExpiry,
	"end date":                    KeyLicenceExpiry,
	"maximum occupancy":           KeyMaxOccupancy,
	"max occupancy":               KeyMaxOccupancy,
	"maximum number of occupants": KeyMaxOccupancy,
	"permitted occupancy":         KeyMaxOccupancy,
	"manager name":                KeyManagerName,
	"managing agent":              KeyManagerName,
	"manager address":             KeyManagerAddress,
	"agent address":               KeyManagerAddress,
	"manager":                     KeyManagerName,
	"licence holder name":         KeyHolderName,
	"licence holder address":      KeyHolderAddress,
	"holder address":              KeyHolderAddress,
	"licensee address":            KeyHolderAddress,
	"licence holder":              KeyHolderName,
	"licensee":                    KeyHolderName,
	"shared kitchens":             KeySharedKitchens,
	"number of kitchens":          KeySharedKitchens,
	"kitchens":                    KeySharedKitchens,
	"shared bathrooms":            KeySharedBathrooms,
	"number of bathrooms":         KeySharedBathrooms,
	"bathrooms":                   KeySharedBathrooms,
	"shared toilets":              KeySharedToilets,
	"number of toilets":           KeySharedToilets,
	"toilets":                     KeySharedToilets,
	"wcs":                         KeySharedToilets,
	"number of households":        KeyHouseholds,
	"households":                  KeyHouseholds,
	"number of storeys":           KeyStoreys,
	"storeys":                     KeyStoreys,
	"stories":                     KeyStoreys,
	"floors":                      KeyStoreys,
}

// nameKeys get title-case normalization.
var nameKeys = map[string]bool{
	KeyCouncil:     true,
	KeyManagerName: true,
	KeyHolderName:  true,
}

// LabelRecognizer extracts entities from "Label: value" lines, the shape
// well-structured registers export. Labeled matches carry high confidence.
type LabelRecognizer struct {
	labels []string // synonym labels, longest first
	caser  cases.Caser
}

// NewLabelRecognizer creates the primary recognizer.
func NewLabelRecognizer() *LabelRecognizer {
	labels := make([]string, 0, len(labelSynonyms))
	for label := range labelSynonyms {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if len(labels[i]) != len(labels[j]) {
			return len(labels[i]) > len(labels[j])
		}
		return labels[i] < labels[j]
	})
	return &LabelRecognizer{
		labels: labels,
		caser:  cases.Title(language.BritishEnglish),
	}
}

var labelLineRe = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z .]*?)\s*[:\-\t]\s*(.+)$`)

// Recognize scans the block line by line for labeled values. The first match
// for a field wins.
func (r *LabelRecognizer) Recognize(_ context.Context, block string) (Fields, error) {
	fields := make(Fields)

	for _, line := range strings.Split(block, "\n") {
		m := labelLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(m[1]))
		value := strings.TrimSpace(m[2])
		if value == "" {
			continue
		}

		key := r.matchLabel(label)
		if key == "" {
			continue
		}
		if _, taken := fields[key]; taken {
			continue
		}

		entity := Entity{Text: value, Confidence: 0.9}
		if nameKeys[key] && value == strings.ToLower(value) {
			entity.Normalized = r.caser.String(value)
		}
		fields[key] = entity
	}
	return fields, nil
}

// matchLabel resolves a printed label to a field key, preferring the longest
// synonym that the label ends with so prefixed labels ("HMO Licence Number")
// still resolve.
func (r *LabelRecognizer) matchLabel(label string) string {
	for _, syn := range r.labels {
		if label == syn || strings.HasSuffix(label, " "+syn) {
			return labelSynonyms[syn]
		}
	}
	return ""
}

// MatchLabel resolves a column header or printed label to a field key, or ""
// when it is not a known synonym. Tabular registers use this to map header
// rows onto the record schema.
func MatchLabel(label string) string {
	return defaultMatcher.matchLabel(strings.ToLower(strings.TrimSpace(label)))
}

var defaultMatcher = NewLabelRecognizer()
