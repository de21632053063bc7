package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCouncil_Empty(t *testing.T) {
	v := NewValidator(nil)

	f := v.Council("")
	assert.Equal(t, 0.0, f.Score)
	require.Len(t, f.Errors, 1)
	assert.Equal(t, "Council field is required", f.Errors[0])
}

func TestCouncil_Scoring(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		name  string
		value string
		want  float64
	}{
		{"keyword council", "Manchester City Council", 0.95},
		{"keyword borough", "London Borough of Hackney", 0.9},
		{"short", "Abc", 0.25},
		{"letters only", "Manchester", 0.7},
		{"contains digits", "Zone 4 Authority", 0.4},
		{"mixed punctuation", "St. Albans Authority", 0.55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := v.Council(tt.value)
			assert.InDelta(t, tt.want, f.Score, 1e-9)
			assert.Empty(t, f.Errors)
		})
	}
}

func TestReference_OrderedPatterns_FirstMatchWins(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		name  string
		value string
		want  float64
	}{
		{"letters then digits", "HMO123", 0.95},
		{"prefix slash digits", "LIC/20021", 0.9},
		{"digits only", "202400123", 0.8},
		{"mixed with lowercase", "abc1234", 0.7},
		{"bare alphanumeric", "abc", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := v.Reference(tt.value)
			assert.InDelta(t, tt.want, f.Score, 1e-9)
		})
	}
}

func TestReference_Empty(t *testing.T) {
	v := NewValidator(nil)

	f := v.Reference("")
	assert.Equal(t, 0.0, f.Score)
	require.Len(t, f.Errors, 1)
	assert.Contains(t, f.Errors[0], "required")
}

func TestReference_UnrecognizedFormat_Warns(t *testing.T) {
	v := NewValidator(nil)

	f := v.Reference("??")
	assert.InDelta(t, 0.2, f.Score, 1e-9)
	assert.Empty(t, f.Errors)
	require.Len(t, f.Warnings, 1)
	assert.Contains(t, f.Warnings[0], "unrecognized format")
}

func TestAddress_ComponentScoring(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		name  string
		value string
		want  float64
	}{
		{"base only", "Flat B, The Old Mill", 0.5},
		{"postcode", "The Old Mill, AB1 2CD", 0.8},
		{"street keyword", "The Old Mill Road", 0.65},
		{"house number and street", "123 Main Street", 0.7},
		{"everything", "123 Main Street, Leeds, LS1 4AB", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := v.Address(tt.value, "HMO address", true)
			assert.InDelta(t, tt.want, f.Score, 1e-9)
		})
	}
}

func TestAddress_EmptyPrimary_Errors(t *testing.T) {
	v := NewValidator(nil)

	f := v.Address("", "HMO address", true)
	assert.Equal(t, 0.0, f.Score)
	require.Len(t, f.Errors, 1)
	assert.Equal(t, "HMO address is required", f.Errors[0])
}

func TestAddress_EmptySecondary_Warns(t *testing.T) {
	v := NewValidator(nil)

	f := v.Address("", "Manager address", false)
	assert.Equal(t, 0.0, f.Score)
	assert.Empty(t, f.Errors)
	require.Len(t, f.Warnings, 1)
	assert.Contains(t, f.Warnings[0], "Manager address is empty")
}

func TestDate_LayoutLadder(t *testing.T) {
	v := NewValidator(nil)

	tests := []struct {
		name  string
		value string
		want  float64
	}{
		{"iso", "2024-03-01", 0.95},
		{"uk slashes", "01/03/2024", 0.85},
		{"long form", "1 March 2024", 0.85},
		{"uk dashes", "01-03-2024", 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := v.Date(tt.value, "Licence start date", true)
			assert.InDelta(t, tt.want, f.Score, 1e-9)
		})
	}
}

func TestDate_NonISO_SuggestsISO(t *testing.T) {
	v := NewValidator(nil)

	f := v.Date("01/03/2024", "Licence start date", true)
	assert.Equal(t, "2024-03-01", f.Suggestion)

	f = v.Date("2024-03-01", "Licence start date", true)
	assert.Empty(t, f.Suggestion)
}

func TestDate_YearOnly_And_Unparseable(t *testing.T) {
	v := NewValidator(nil)

	f := v.Date("2024", "Licence start date", true)
	assert.InDelta(t, 0.4, f.Score, 1e-9)
	assert.NotEmpty(t, f.Warnings)

	f = v.Date("not a date", "Licence start date", true)
	assert.InDelta(t, 0.1, f.Score, 1e-9)
	assert.NotEmpty(t, f.Warnings)
}

func TestDate_EmptyRequired_Errors(t *testing.T) {
	v := NewValidator(nil)

	f := v.Date("", "Licence expiry date", true)
	assert.Equal(t, 0.0, f.Score)
	require.Len(t, f.Errors, 1)
	assert.Contains(t, f.Errors[0], "required")
}

func TestCount_Negative_Errors(t *testing.T) {
	v := NewValidator(nil)

	f := v.Count("-1", "max_occupancy", "Max occupancy")
	assert.Equal(t, 0.0, f.Score)
	require.Len(t, f.Errors, 1)
	assert.Contains(t, f.Errors[0], "cannot be negative")
}

func TestCount_ZeroSemantics(t *testing.T) {
	v := NewValidator(nil)

	// Occupancy must be >0, so zero warns.
	f := v.Count("0", "max_occupancy", "Max occupancy")
	assert.InDelta(t, 0.2, f.Score, 1e-9)
	assert.NotEmpty(t, f.Warnings)

	// Shared facilities may legitimately be zero.
	f = v.Count("0", "shared_bathrooms", "Shared bathrooms")
	assert.InDelta(t, 0.6, f.Score, 1e-9)
	assert.Empty(t, f.Warnings)
}

func TestCount_Ceiling_WarnsNotErrors(t *testing.T) {
	v := NewValidator(nil)

	f := v.Count("80", "max_occupancy", "Max occupancy")
	assert.InDelta(t, 0.6, f.Score, 1e-9)
	assert.Empty(t, f.Errors)
	require.Len(t, f.Warnings, 1)
	assert.Contains(t, f.Warnings[0], "unusually high")
}

func TestCount_InRange(t *testing.T) {
	v := NewValidator(nil)

	f := v.Count("6", "max_occupancy", "Max occupancy")
	assert.InDelta(t, 0.9, f.Score, 1e-9)
	assert.Empty(t, f.Errors)
	assert.Empty(t, f.Warnings)
}
