package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/licenceworks/hmo-audit/internal/model"
	"github.com/licenceworks/hmo-audit/internal/validate"
)

func goodRecord(t *testing.T) (*model.Record, model.ValidationResult) {
	t.Helper()
	r := model.NewRecord()
	r.Set(model.FieldCouncil, "Leeds City Council")
	r.Set(model.FieldLicenceReference, "HMO123")
	r.Set(model.FieldHMOAddress, "123 Main Street, Leeds, LS1 4AB")
	r.Set(model.FieldLicenceStart, "2024-01-01")
	r.Set(model.FieldLicenceExpiry, "2029-01-01")
	r.Set(model.FieldMaxOccupancy, "6")
	r.Set(model.FieldManagerName, "Jane Smith")
	r.Set(model.FieldManagerAddress, "45 Park Road, Leeds, LS2 8AA")
	r.Set(model.FieldHolderName, "Acme Lettings Ltd")
	r.Set(model.FieldHolderAddress, "1 Commerce Square, Leeds, LS3 1AB")
	r.Set(model.FieldSharedKitchens, "2")
	r.Set(model.FieldSharedBathrooms, "3")
	r.Set(model.FieldSharedToilets, "3")
	r.Set(model.FieldHouseholds, "5")
	r.Set(model.FieldStoreys, "3")

	res := validate.NewEngine(nil).Validate(r)
	return r, res
}

func badRecord(t *testing.T) (*model.Record, model.ValidationResult) {
	t.Helper()
	r := model.NewRecord()
	r.Set(model.FieldLicenceReference, "HMO999")
	res := validate.NewEngine(nil).Validate(r)
	return r, res
}

func TestAssess_LengthMismatch_Panics(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	r, res := goodRecord(t)

	assert.Panics(t, func() {
		a.Assess([]*model.Record{r, r}, []model.ValidationResult{res})
	})
}

func TestAssess_EmptyBatch(t *testing.T) {
	a := NewAssessor(DefaultConfig())

	report := a.Assess(nil, nil)
	assert.Equal(t, 0, report.RecordCount)
	assert.Equal(t, model.QualityCritical, report.OverallLevel)
}

func TestAssess_CleanBatch(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	r1, res1 := goodRecord(t)
	r2, res2 := goodRecord(t)

	report := a.Assess([]*model.Record{r1, r2}, []model.ValidationResult{res1, res2})
	assert.Equal(t, 2, report.RecordCount)
	assert.Equal(t, 1.0, report.ValidationRate)
	assert.Greater(t, report.MeanConfidence, 0.9)
	assert.Equal(t, model.QualityExcellent, report.OverallLevel)

	m := report.FieldMetrics[model.FieldCouncil]
	assert.Equal(t, 1.0, m.PopulationRate)
	assert.InDelta(t, 0.95, m.MeanConfidence, 1e-9)
	assert.Equal(t, model.QualityExcellent, m.Level)
}

func TestAssess_WeakerDimensionDeterminesTier(t *testing.T) {
	// High confidence, low validation rate: level follows validation rate.
	assert.Equal(t, model.QualityPoor, overallLevel(0.95, 0.6))
	assert.Equal(t, model.QualityFair, overallLevel(0.95, 0.7))
	assert.Equal(t, model.QualityCritical, overallLevel(0.95, 0.4))

	// Low confidence, perfect validation rate: level follows confidence.
	assert.Equal(t, model.QualityFair, overallLevel(0.6, 1.0))
	assert.Equal(t, model.QualityCritical, overallLevel(0.4, 1.0))
}

func TestAssess_FieldErrorsDemoteLevel(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	r1, res1 := goodRecord(t)
	r2, res2 := badRecord(t)

	report := a.Assess([]*model.Record{r1, r2}, []model.ValidationResult{res1, res2})
	m := report.FieldMetrics[model.FieldCouncil]
	assert.Greater(t, m.ErrorCount, 0)

	// Whatever level the stats would give, errors demote at least one tier.
	assert.Less(t, m.Level.Rank(), model.QualityExcellent.Rank())
}

func TestAssess_RecommendationsOnPoorBatch(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	r, res := badRecord(t)

	report := a.Assess([]*model.Record{r}, []model.ValidationResult{res})
	assert.LessOrEqual(t, report.OverallLevel.Rank(), model.QualityPoor.Rank())
	assert.NotEmpty(t, report.Recommendations)
}

func TestFlag_NeverFlagsHealthyRecord(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	r, res := goodRecord(t)

	decisions := a.FlagLowConfidenceRecords([]*model.Record{r}, []model.ValidationResult{res})
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Flag)
	assert.Empty(t, decisions[0].Reasons)
}

func TestFlag_EmptyCriticalField_AlwaysFlags(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	r, res := goodRecord(t)
	r.Set(model.FieldCouncil, "")
	res = validate.NewEngine(nil).Validate(r)

	decisions := a.FlagLowConfidenceRecords([]*model.Record{r}, []model.ValidationResult{res})
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Flag)
	assert.Contains(t, decisions[0].Reason(), "empty")
	assert.Contains(t, decisions[0].Reason(), "critical field")
}

func TestFlag_LowOverallConfidence(t *testing.T) {
	a := NewAssessor(Config{FlagThreshold: 0.99, CriticalThreshold: 0.5})
	r, res := goodRecord(t)

	decisions := a.FlagLowConfidenceRecords([]*model.Record{r}, []model.ValidationResult{res})
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Flag)
	assert.Contains(t, decisions[0].Reason(), "below threshold 0.99")
}

func TestFlag_InvalidRecord(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	r, _ := goodRecord(t)
	r.Set(model.FieldLicenceExpiry, "2020-01-01")
	res := validate.NewEngine(nil).Validate(r)
	require.False(t, res.IsValid)

	decisions := a.FlagLowConfidenceRecords([]*model.Record{r}, []model.ValidationResult{res})
	assert.True(t, decisions[0].Flag)
	assert.Contains(t, decisions[0].Reason(), "failed validation")
}

func TestFlag_LowCriticalFieldConfidence(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	r, res := goodRecord(t)
	r.SetConfidence(model.FieldLicenceReference, 0.3)
	res.ConfidenceScore = 0.9 // keep overall above the flag threshold

	decisions := a.FlagLowConfidenceRecords([]*model.Record{r}, []model.ValidationResult{res})
	assert.True(t, decisions[0].Flag)
	assert.True(t, strings.Contains(decisions[0].Reason(), "critical field licence_reference"))
}

func TestFlag_LengthMismatch_Panics(t *testing.T) {
	a := NewAssessor(DefaultConfig())
	r, _ := goodRecord(t)

	assert.Panics(t, func() {
		a.FlagLowConfidenceRecords([]*model.Record{r}, nil)
	})
}
