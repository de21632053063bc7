package model

import "strconv"

// Field keys for an HMO licence record. The order of FieldKeys is the
// canonical column order for exports.
const (
	FieldCouncil          = "council"
	FieldLicenceReference = "licence_reference"
	FieldHMOAddress       = "hmo_address"
	FieldLicenceStart     = "licence_start"
	FieldLicenceExpiry    = "licence_expiry"
	FieldMaxOccupancy     = "max_occupancy"
	FieldManagerName      = "manager_name"
	FieldManagerAddress   = "manager_address"
	FieldHolderName       = "licence_holder_name"
	FieldHolderAddress    = "licence_holder_address"
	FieldSharedKitchens   = "shared_kitchens"
	FieldSharedBathrooms  = "shared_bathrooms"
	FieldSharedToilets    = "shared_toilets"
	FieldHouseholds       = "households"
	FieldStoreys          = "storeys"
)

var fieldKeys = []string{
	FieldCouncil,
	FieldLicenceReference,
	FieldHMOAddress,
	FieldLicenceStart,
	FieldLicenceExpiry,
	FieldMaxOccupancy,
	FieldManagerName,
	FieldManagerAddress,
	FieldHolderName,
	FieldHolderAddress,
	FieldSharedKitchens,
	FieldSharedBathrooms,
	FieldSharedToilets,
	FieldHouseholds,
	FieldStoreys,
}

var criticalFields = []string{FieldCouncil, FieldLicenceReference, FieldHMOAddress}

var importantFields = []string{FieldLicenceStart, FieldLicenceExpiry, FieldMaxOccupancy}

// FieldKeys returns all declared field keys in canonical order.
func FieldKeys() []string {
	out := make([]string, len(fieldKeys))
	copy(out, fieldKeys)
	return out
}

// CriticalFields returns the fields that drive flagging and validity.
func CriticalFields() []string {
	out := make([]string, len(criticalFields))
	copy(out, criticalFields)
	return out
}

// IsCriticalField reports whether key is one of the critical fields.
func IsCriticalField(key string) bool {
	for _, f := range criticalFields {
		if f == key {
			return true
		}
	}
	return false
}

// FieldWeight returns the aggregation weight for a field: 3.0 for critical
// fields, 2.0 for important fields (dates, occupancy), 1.0 otherwise.
func FieldWeight(key string) float64 {
	if IsCriticalField(key) {
		return 3.0
	}
	for _, f := range importantFields {
		if f == key {
			return 2.0
		}
	}
	return 1.0
}

// Record is one structured HMO licence entry. Every declared field key has
// exactly one entry in both Fields and Confidence at all times; confidence
// defaults to 0.0.
type Record struct {
	Fields           map[string]string  `json:"fields"`
	Confidence       map[string]float64 `json:"confidence_scores"`
	ValidationErrors []string           `json:"validation_errors,omitempty"`
}

// NewRecord creates a Record with every declared field present and empty,
// and every confidence entry initialized to 0.0.
func NewRecord() *Record {
	r := &Record{
		Fields:     make(map[string]string, len(fieldKeys)),
		Confidence: make(map[string]float64, len(fieldKeys)),
	}
	for _, k := range fieldKeys {
		r.Fields[k] = ""
		r.Confidence[k] = 0.0
	}
	return r
}

// Get returns the value for key, or "" for unknown keys.
func (r *Record) Get(key string) string {
	return r.Fields[key]
}

// Set assigns value to key. Unknown keys are ignored so the field/confidence
// invariant holds.
func (r *Record) Set(key, value string) {
	if _, ok := r.Fields[key]; !ok {
		return
	}
	r.Fields[key] = value
}

// SetConfidence assigns a confidence score to a declared field.
func (r *Record) SetConfidence(key string, score float64) {
	if _, ok := r.Confidence[key]; !ok {
		return
	}
	r.Confidence[key] = score
}

// Int parses the field value as an integer. The second return is false when
// the value is empty or not numeric.
func (r *Record) Int(key string) (int, bool) {
	v := r.Fields[key]
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Clone returns a deep copy. Used for audit before/after snapshots.
func (r *Record) Clone() *Record {
	c := &Record{
		Fields:     make(map[string]string, len(r.Fields)),
		Confidence: make(map[string]float64, len(r.Confidence)),
	}
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	for k, v := range r.Confidence {
		c.Confidence[k] = v
	}
	if len(r.ValidationErrors) > 0 {
		c.ValidationErrors = append([]string(nil), r.ValidationErrors...)
	}
	return c
}

// Snapshot returns a copy of the field values only.
func (r *Record) Snapshot() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v
	}
	return out
}
