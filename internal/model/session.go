package model

import "time"

// SessionStatus is the coarse lifecycle state of a processing session.
type SessionStatus string

const (
	SessionQueued     SessionStatus = "queued"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionError      SessionStatus = "error"
)

// Stage is one named step of the processing pipeline.
type Stage string

const (
	StageQueued             Stage = "queued"
	StageProcessing         Stage = "processing"
	StageDocumentExtraction Stage = "document_extraction"
	StageNLPProcessing      Stage = "nlp_processing"
	StageEntityExtraction   Stage = "entity_extraction"
	StageDataStructuring    Stage = "data_structuring"
	StageConfidenceScoring  Stage = "confidence_scoring"
	StageDataValidation     Stage = "data_validation"
	StageQualityAssessment  Stage = "quality_assessment"
	StageFlaggingRecords    Stage = "flagging_records"
	StageCSVGeneration      Stage = "csv_generation"
	StageFinalizing         Stage = "finalizing"
	StageCompleted          Stage = "completed"
	StageError              Stage = "error"
)

// Stages returns the fixed stage sequence, excluding the error state.
func Stages() []Stage {
	return []Stage{
		StageQueued,
		StageProcessing,
		StageDocumentExtraction,
		StageNLPProcessing,
		StageEntityExtraction,
		StageDataStructuring,
		StageConfidenceScoring,
		StageDataValidation,
		StageQualityAssessment,
		StageFlaggingRecords,
		StageCSVGeneration,
		StageFinalizing,
		StageCompleted,
	}
}

var stageProgress = map[Stage]float64{
	StageQueued:             0.0,
	StageProcessing:         0.05,
	StageDocumentExtraction: 0.15,
	StageNLPProcessing:      0.30,
	StageEntityExtraction:   0.40,
	StageDataStructuring:    0.50,
	StageConfidenceScoring:  0.60,
	StageDataValidation:     0.70,
	StageQualityAssessment:  0.78,
	StageFlaggingRecords:    0.85,
	StageCSVGeneration:      0.92,
	StageFinalizing:         0.97,
	StageCompleted:          1.0,
	StageError:              1.0,
}

// Progress returns the monotonic completion fraction for the stage.
func (s Stage) Progress() float64 {
	return stageProgress[s]
}

// ErrorCategory classifies a processing failure.
type ErrorCategory string

const (
	ErrFileUpload         ErrorCategory = "file_upload"
	ErrDocumentProcessing ErrorCategory = "document_processing"
	ErrNLPProcessing      ErrorCategory = "nlp_processing"
	ErrDataValidation     ErrorCategory = "data_validation"
	ErrSystem             ErrorCategory = "system"
	ErrNetwork            ErrorCategory = "network"
	ErrStorage            ErrorCategory = "storage"
	ErrConfiguration      ErrorCategory = "configuration"
)

// ErrorSeverity grades how bad a processing failure is.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ProcessingError is a structured, user-presentable record of a stage
// failure.
type ProcessingError struct {
	Stage       Stage         `json:"stage"`
	Category    ErrorCategory `json:"category"`
	Severity    ErrorSeverity `json:"severity"`
	Message     string        `json:"message"`
	Suggestions []string      `json:"recovery_suggestions,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// ProcessingSession tracks one document's run through the pipeline.
type ProcessingSession struct {
	ID           string                   `json:"id"`
	DocumentName string                   `json:"document_name"`
	Status       SessionStatus            `json:"status"`
	CurrentStage Stage                    `json:"current_stage"`
	FallbackUsed bool                     `json:"fallback_used"`
	Records      []*Record                `json:"records,omitempty"`
	FlaggedIDs   []string                 `json:"flagged_ids,omitempty"`
	Metrics      *ExtractionQualityReport `json:"metrics,omitempty"`
	Errors       []ProcessingError        `json:"errors,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
}

// StatusView is the session status snapshot served to UIs and the CLI.
// Reads are eventually-consistent snapshots, not locks.
type StatusView struct {
	Status       SessionStatus `json:"status"`
	CurrentStage Stage         `json:"current_stage"`
	Progress     float64       `json:"progress"`
	ErrorMessage string        `json:"error_message,omitempty"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// StatusView builds the UI snapshot for the session.
func (s *ProcessingSession) StatusView() StatusView {
	v := StatusView{
		Status:       s.Status,
		CurrentStage: s.CurrentStage,
		Progress:     s.CurrentStage.Progress(),
		LastUpdated:  s.UpdatedAt,
	}
	if s.Status == SessionError && len(s.Errors) > 0 {
		v.ErrorMessage = s.Errors[len(s.Errors)-1].Message
	}
	return v
}
