package resilience

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/licenceworks/hmo-audit/internal/model"
)

// stageCategories maps pipeline stages to the error category their failures
// belong to when nothing more specific can be inferred from the error itself.
var stageCategories = map[model.Stage]model.ErrorCategory{
	model.StageQueued:             model.ErrFileUpload,
	model.StageProcessing:         model.ErrFileUpload,
	model.StageDocumentExtraction: model.ErrDocumentProcessing,
	model.StageNLPProcessing:      model.ErrNLPProcessing,
	model.StageEntityExtraction:   model.ErrNLPProcessing,
	model.StageDataStructuring:    model.ErrNLPProcessing,
	model.StageConfidenceScoring:  model.ErrDataValidation,
	model.StageDataValidation:     model.ErrDataValidation,
	model.StageQualityAssessment:  model.ErrDataValidation,
	model.StageFlaggingRecords:    model.ErrDataValidation,
	model.StageCSVGeneration:      model.ErrStorage,
	model.StageFinalizing:         model.ErrStorage,
}

// categorySuggestions holds recovery guidance surfaced to operators alongside
// each classified failure.
var categorySuggestions = map[model.ErrorCategory][]string{
	model.ErrFileUpload: {
		"check that the document exists and is readable",
		"verify the file is a supported format (PDF, CSV, XLSX)",
	},
	model.ErrDocumentProcessing: {
		"the document may be scanned; OCR fallback will be attempted automatically",
		"try re-exporting the source document at a higher quality",
	},
	model.ErrNLPProcessing: {
		"pattern-based extraction will be used as a fallback",
		"results extracted via fallback carry reduced confidence and may need review",
	},
	model.ErrDataValidation: {
		"inspect the flagged records in the review queue",
		"adjust validation policy thresholds if the source data is known to be unusual",
	},
	model.ErrNetwork: {
		"the operation will be retried automatically",
		"check connectivity to the database and any remote services",
	},
	model.ErrStorage: {
		"check database connectivity and disk space",
		"re-run the session once storage is healthy",
	},
	model.ErrConfiguration: {
		"review the configuration file and environment overrides",
	},
	model.ErrSystem: {
		"re-run the session; contact support if the failure persists",
	},
}

// Classify converts a stage failure into a structured ProcessingError. The
// error chain refines the stage-derived category: network and storage
// problems are recognized wherever they surface.
func Classify(stage model.Stage, err error) model.ProcessingError {
	category, ok := stageCategories[stage]
	if !ok {
		category = model.ErrSystem
	}

	msg := ""
	if err != nil {
		msg = err.Error()
		if refined, found := refineCategory(err); found {
			category = refined
		}
	}

	return model.ProcessingError{
		Stage:       stage,
		Category:    category,
		Severity:    severityFor(stage, category, err),
		Message:     msg,
		Suggestions: categorySuggestions[category],
		Timestamp:   time.Now().UTC(),
	}
}

func refineCategory(err error) (model.ErrorCategory, bool) {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return model.ErrFileUpload, true
	}
	if IsTransient(err) {
		return model.ErrNetwork, true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "sqlite") || strings.Contains(msg, "postgres") || strings.Contains(msg, "database"):
		return model.ErrStorage, true
	case strings.Contains(msg, "config"):
		return model.ErrConfiguration, true
	}
	return "", false
}

// severityFor grades a failure. Cancelled work is low severity, transient
// failures are medium since retry or fallback can still succeed, and
// failures in the extraction stages are high because downstream stages
// cannot produce anything useful without their output.
func severityFor(stage model.Stage, category model.ErrorCategory, err error) model.ErrorSeverity {
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return model.SeverityLow
	}
	if category == model.ErrNetwork {
		return model.SeverityMedium
	}
	switch stage {
	case model.StageDocumentExtraction, model.StageNLPProcessing, model.StageEntityExtraction:
		return model.SeverityHigh
	case model.StageQueued, model.StageProcessing:
		return model.SeverityCritical
	}
	return model.SeverityMedium
}
