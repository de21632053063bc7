package quality

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/licenceworks/hmo-audit/internal/model"
)

// Config holds the flagging thresholds.
type Config struct {
	// FlagThreshold is the overall-confidence floor below which a record is
	// flagged for review. Default 0.7.
	FlagThreshold float64
	// CriticalThreshold is the stricter per-field floor applied to critical
	// fields. Default 0.5.
	CriticalThreshold float64
}

// DefaultConfig returns the production flagging thresholds.
func DefaultConfig() Config {
	return Config{FlagThreshold: 0.7, CriticalThreshold: 0.5}
}

// Assessor computes batch quality reports and flags low-confidence records.
type Assessor struct {
	cfg Config
}

// NewAssessor creates an Assessor. Zero thresholds fall back to defaults.
func NewAssessor(cfg Config) *Assessor {
	if cfg.FlagThreshold <= 0 {
		cfg.FlagThreshold = 0.7
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 0.5
	}
	return &Assessor{cfg: cfg}
}

// overallTiers maps each quality level to the minimum mean confidence AND
// validation rate it demands. The weaker dimension determines the tier.
var overallTiers = []struct {
	level      model.QualityLevel
	confidence float64
	validation float64
}{
	{model.QualityExcellent, 0.9, 0.95},
	{model.QualityGood, 0.75, 0.85},
	{model.QualityFair, 0.6, 0.7},
	{model.QualityPoor, 0.5, 0.5},
}

// Assess aggregates a batch of records and their validation results into a
// quality report. records and results must be equal length; a mismatch is a
// programmer error and panics.
func (a *Assessor) Assess(records []*model.Record, results []model.ValidationResult) *model.ExtractionQualityReport {
	if len(records) != len(results) {
		panic(fmt.Sprintf("quality: records/results length mismatch: %d vs %d", len(records), len(results)))
	}

	report := &model.ExtractionQualityReport{
		RecordCount:  len(records),
		FieldMetrics: make(map[string]model.FieldQualityMetrics, len(model.FieldKeys())),
	}
	if len(records) == 0 {
		report.OverallLevel = model.QualityCritical
		return report
	}

	var confidenceSum float64
	for _, res := range results {
		confidenceSum += res.ConfidenceScore
		if res.IsValid {
			report.ValidCount++
		}
	}
	report.MeanConfidence = confidenceSum / float64(len(results))
	report.ValidationRate = float64(report.ValidCount) / float64(len(results))
	report.OverallLevel = overallLevel(report.MeanConfidence, report.ValidationRate)

	for _, key := range model.FieldKeys() {
		report.FieldMetrics[key] = a.fieldMetrics(key, records, results)
	}

	report.Recommendations = a.recommend(report, results)

	zap.L().Debug("quality: batch assessed",
		zap.Int("records", report.RecordCount),
		zap.Float64("mean_confidence", report.MeanConfidence),
		zap.Float64("validation_rate", report.ValidationRate),
		zap.String("level", string(report.OverallLevel)),
	)
	return report
}

func overallLevel(meanConfidence, validationRate float64) model.QualityLevel {
	for _, tier := range overallTiers {
		if meanConfidence >= tier.confidence && validationRate >= tier.validation {
			return tier.level
		}
	}
	return model.QualityCritical
}

func (a *Assessor) fieldMetrics(key string, records []*model.Record, results []model.ValidationResult) model.FieldQualityMetrics {
	m := model.FieldQualityMetrics{FieldKey: key, MinConfidence: 1.0}

	populated := 0
	var confidenceSum float64
	for i, r := range records {
		if strings.TrimSpace(r.Get(key)) != "" {
			populated++
		}
		c := r.Confidence[key]
		confidenceSum += c
		if c < m.MinConfidence {
			m.MinConfidence = c
		}
		if c > m.MaxConfidence {
			m.MaxConfidence = c
		}
		for _, e := range results[i].Errors {
			if mentionsField(e, key) {
				m.ErrorCount++
			}
		}
	}

	n := float64(len(records))
	m.PopulationRate = float64(populated) / n
	m.MeanConfidence = confidenceSum / n
	m.Level = fieldLevel(key, m)
	return m
}

// fieldLevel derives a per-field quality level. Critical fields demand
// higher population and confidence to reach the top tiers; any field error
// demotes the level at least one tier.
func fieldLevel(key string, m model.FieldQualityMetrics) model.QualityLevel {
	popFloor, confFloor := 0.0, 0.0
	if model.IsCriticalField(key) {
		popFloor, confFloor = 0.1, 0.1
	}

	var level model.QualityLevel
	switch {
	case m.PopulationRate >= 0.85+popFloor && m.MeanConfidence >= 0.8+confFloor:
		level = model.QualityExcellent
	case m.PopulationRate >= 0.7+popFloor && m.MeanConfidence >= 0.65+confFloor:
		level = model.QualityGood
	case m.PopulationRate >= 0.5 && m.MeanConfidence >= 0.5:
		level = model.QualityFair
	case m.PopulationRate >= 0.3 || m.MeanConfidence >= 0.3:
		level = model.QualityPoor
	default:
		level = model.QualityCritical
	}

	if m.ErrorCount > 0 {
		level = level.Demote()
	}
	return level
}

// mentionsField checks whether an error message concerns the given field,
// matching either the key or its human label.
func mentionsField(msg, key string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, key) {
		return true
	}
	label := strings.ReplaceAll(key, "_", " ")
	return strings.Contains(lower, label) ||
		(key == model.FieldCouncil && strings.Contains(lower, "council")) ||
		(key == model.FieldLicenceReference && strings.Contains(lower, "reference")) ||
		(key == model.FieldHMOAddress && strings.Contains(lower, "hmo address"))
}

// recommend produces free-text guidance from the aggregate: the weakest
// critical field, the most frequent error, and overall completeness. Always
// non-empty when quality is poor or critical.
func (a *Assessor) recommend(report *model.ExtractionQualityReport, results []model.ValidationResult) []string {
	var recs []string

	weakestKey := ""
	weakest := 1.1
	for _, key := range model.CriticalFields() {
		if m, ok := report.FieldMetrics[key]; ok && m.MeanConfidence < weakest {
			weakest = m.MeanConfidence
			weakestKey = key
		}
	}
	if weakestKey != "" && weakest < 0.7 {
		recs = append(recs, fmt.Sprintf("improve extraction of %s (mean confidence %.2f)", weakestKey, weakest))
	}

	errCounts := make(map[string]int)
	for _, res := range results {
		for _, e := range res.Errors {
			errCounts[e]++
		}
	}
	if len(errCounts) > 0 {
		type ec struct {
			msg string
			n   int
		}
		var sorted []ec
		for msg, n := range errCounts {
			sorted = append(sorted, ec{msg, n})
		}
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].n != sorted[j].n {
				return sorted[i].n > sorted[j].n
			}
			return sorted[i].msg < sorted[j].msg
		})
		recs = append(recs, fmt.Sprintf("most frequent error (%d records): %s", sorted[0].n, sorted[0].msg))
	}

	var popSum float64
	for _, m := range report.FieldMetrics {
		popSum += m.PopulationRate
	}
	completeness := popSum / float64(len(report.FieldMetrics))
	if completeness < 0.7 {
		recs = append(recs, fmt.Sprintf("overall field completeness is %.0f%%; review source document quality", completeness*100))
	}

	if len(recs) == 0 && report.OverallLevel.Rank() <= model.QualityPoor.Rank() {
		recs = append(recs, "extraction quality is low; route this batch through manual review")
	}
	return recs
}
