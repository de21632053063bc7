package model

import "time"

// ReviewStatus is the state of a flagged record in the review workflow.
type ReviewStatus string

const (
	ReviewPending       ReviewStatus = "pending"
	ReviewInReview      ReviewStatus = "in_review"
	ReviewApproved      ReviewStatus = "approved"
	ReviewRejected      ReviewStatus = "rejected"
	ReviewNeedsRevision ReviewStatus = "needs_revision"
)

// Terminal reports whether the status ends the review workflow.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewApproved || s == ReviewRejected
}

// AuditAction names what happened to a flagged record.
type AuditAction string

const (
	ActionFlagged      AuditAction = "FLAGGED"
	ActionReviewed     AuditAction = "REVIEWED"
	ActionCorrected    AuditAction = "CORRECTED"
	ActionApproved     AuditAction = "APPROVED"
	ActionRejected     AuditAction = "REJECTED"
	ActionCommentAdded AuditAction = "COMMENT_ADDED"
)

// AuditRecord is an immutable fact in a flagged record's history. Entries
// are never updated or deleted; insertion order is chronological.
type AuditRecord struct {
	Action           AuditAction       `json:"action"`
	Actor            string            `json:"actor"`
	Timestamp        time.Time         `json:"timestamp"`
	Before           map[string]string `json:"before,omitempty"`
	After            map[string]string `json:"after,omitempty"`
	Comment          string            `json:"comment,omitempty"`
	ConfidenceBefore float64           `json:"confidence_before"`
	ConfidenceAfter  float64           `json:"confidence_after"`
}

// FlaggedRecord wraps a Record routed into the review workflow. The inner
// Record is exclusively owned by the FlaggedRecord once flagged.
type FlaggedRecord struct {
	RecordID         string        `json:"record_id"`
	SessionID        string        `json:"session_id"`
	FlagReason       string        `json:"flag_reason"`
	ReviewStatus     ReviewStatus  `json:"review_status"`
	AssignedReviewer string        `json:"assigned_reviewer,omitempty"`
	ReviewStarted    *time.Time    `json:"review_started,omitempty"`
	ReviewCompleted  *time.Time    `json:"review_completed,omitempty"`
	Record           *Record       `json:"record"`
	AuditTrail       []AuditRecord `json:"audit_trail"`
	FlaggedAt        time.Time     `json:"flagged_at"`
}

// Clone returns a deep copy safe to read or marshal while the original keeps
// changing. Trail entries are immutable once appended, so the entry structs
// themselves are shared.
func (f *FlaggedRecord) Clone() *FlaggedRecord {
	c := *f
	if f.Record != nil {
		c.Record = f.Record.Clone()
	}
	c.AuditTrail = append([]AuditRecord(nil), f.AuditTrail...)
	if f.ReviewStarted != nil {
		ts := *f.ReviewStarted
		c.ReviewStarted = &ts
	}
	if f.ReviewCompleted != nil {
		ts := *f.ReviewCompleted
		c.ReviewCompleted = &ts
	}
	return &c
}

// CorrectionCount returns how many CORRECTED entries are in the trail.
func (f *FlaggedRecord) CorrectionCount() int {
	n := 0
	for _, a := range f.AuditTrail {
		if a.Action == ActionCorrected {
			n++
		}
	}
	return n
}

// AuditMetadata is the export-time summary attached to an audited record.
type AuditMetadata struct {
	RecordID        string       `json:"record_id"`
	FlagReason      string       `json:"flag_reason"`
	ReviewStatus    ReviewStatus `json:"review_status"`
	Reviewer        string       `json:"reviewer,omitempty"`
	ReviewCompleted *time.Time   `json:"review_completed,omitempty"`
	CorrectionCount int          `json:"correction_count"`
}

// AuditedRecord pairs a reviewed record with its audit metadata. This is the
// only shape by which corrected data reaches downstream export.
type AuditedRecord struct {
	Record *Record       `json:"record"`
	Meta   AuditMetadata `json:"audit_metadata"`
}
