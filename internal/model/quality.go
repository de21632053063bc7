package model

// QualityLevel is a five-tier classification of extraction quality.
type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
	QualityCritical  QualityLevel = "critical"
)

// Rank orders levels from critical (0) to excellent (4).
func (q QualityLevel) Rank() int {
	switch q {
	case QualityExcellent:
		return 4
	case QualityGood:
		return 3
	case QualityFair:
		return 2
	case QualityPoor:
		return 1
	default:
		return 0
	}
}

// Demote lowers a level by one tier, bottoming out at critical.
func (q QualityLevel) Demote() QualityLevel {
	switch q {
	case QualityExcellent:
		return QualityGood
	case QualityGood:
		return QualityFair
	case QualityFair:
		return QualityPoor
	default:
		return QualityCritical
	}
}

// FieldQualityMetrics aggregates one field across a batch of records.
type FieldQualityMetrics struct {
	FieldKey       string       `json:"field_key"`
	PopulationRate float64      `json:"population_rate"`
	MeanConfidence float64      `json:"mean_confidence"`
	MinConfidence  float64      `json:"min_confidence"`
	MaxConfidence  float64      `json:"max_confidence"`
	ErrorCount     int          `json:"error_count"`
	Level          QualityLevel `json:"level"`
}

// ExtractionQualityReport summarizes a whole processing run. Computed once
// per run and immutable thereafter.
type ExtractionQualityReport struct {
	RecordCount     int                            `json:"record_count"`
	ValidCount      int                            `json:"valid_count"`
	MeanConfidence  float64                        `json:"mean_confidence"`
	ValidationRate  float64                        `json:"validation_rate"`
	OverallLevel    QualityLevel                   `json:"overall_level"`
	FieldMetrics    map[string]FieldQualityMetrics `json:"field_metrics"`
	Recommendations []string                       `json:"recommendations,omitempty"`
}
