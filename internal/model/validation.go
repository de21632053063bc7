package model

// ValidationResult is the immutable outcome of one validation pass over a
// record. It is recomputed whenever the record's fields change.
type ValidationResult struct {
	IsValid              bool              `json:"is_valid"`
	ConfidenceScore      float64           `json:"confidence_score"`
	Errors               []string          `json:"validation_errors,omitempty"`
	Warnings             []string          `json:"warnings,omitempty"`
	SuggestedCorrections map[string]string `json:"suggested_corrections,omitempty"`
}
