package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/licenceworks/hmo-audit/internal/model"
	"github.com/licenceworks/hmo-audit/internal/store"
	"github.com/licenceworks/hmo-audit/internal/validate"
)

// Manager is the review state machine for flagged records. It owns every
// FlaggedRecord exclusively: once flagged, no other component mutates the
// wrapped Record. The audit trail is append-only and is the single source of
// truth for a record's history.
//
// All mutating operations signal failure by returning false rather than an
// error; they sit behind an interactive review workflow.
type Manager struct {
	engine *validate.Engine
	store  store.Store

	mu      sync.Mutex
	records map[string]*model.FlaggedRecord
}

// NewManager creates a Manager. store may be nil for in-memory-only use in
// tests.
func NewManager(engine *validate.Engine, st store.Store) *Manager {
	return &Manager{
		engine:  engine,
		store:   st,
		records: make(map[string]*model.FlaggedRecord),
	}
}

// Hydrate loads previously persisted flagged records into memory.
func (m *Manager) Hydrate(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	flagged, err := m.store.ListFlaggedRecords(ctx, "")
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range flagged {
		fr := flagged[i]
		m.records[fr.RecordID] = &fr
	}
	return nil
}

// Flag places a record into the review workflow in PENDING state and returns
// the new record id. The FLAGGED audit entry captures the pre-flag overall
// confidence.
func (m *Manager) Flag(ctx context.Context, record *model.Record, sessionID, reason, actor string) string {
	now := time.Now().UTC()
	fr := &model.FlaggedRecord{
		RecordID:     uuid.New().String(),
		SessionID:    sessionID,
		FlagReason:   reason,
		ReviewStatus: model.ReviewPending,
		Record:       record,
		FlaggedAt:    now,
	}

	confidence := overallConfidence(record)
	fr.AuditTrail = append(fr.AuditTrail, model.AuditRecord{
		Action:           model.ActionFlagged,
		Actor:            actor,
		Timestamp:        now,
		After:            record.Snapshot(),
		Comment:          reason,
		ConfidenceBefore: confidence,
		ConfidenceAfter:  confidence,
	})

	m.mu.Lock()
	m.records[fr.RecordID] = fr
	snap := fr.Clone()
	m.mu.Unlock()

	m.persist(ctx, snap)
	return fr.RecordID
}

// Assign moves a PENDING record into IN_REVIEW for the given reviewer.
// Returns false for unknown records or records not in PENDING.
func (m *Manager) Assign(ctx context.Context, recordID, reviewer string) bool {
	m.mu.Lock()
	fr, ok := m.records[recordID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if fr.ReviewStatus != model.ReviewPending {
		m.mu.Unlock()
		return false
	}

	now := time.Now().UTC()
	fr.ReviewStatus = model.ReviewInReview
	fr.AssignedReviewer = reviewer
	fr.ReviewStarted = &now
	confidence := overallConfidence(fr.Record)
	fr.AuditTrail = append(fr.AuditTrail, model.AuditRecord{
		Action:           model.ActionReviewed,
		Actor:            reviewer,
		Timestamp:        now,
		ConfidenceBefore: confidence,
		ConfidenceAfter:  confidence,
	})
	snap := fr.Clone()
	m.mu.Unlock()

	m.persist(ctx, snap)
	return true
}

// Update applies field corrections, re-runs full validation so confidence
// scores are recomputed, and appends a CORRECTED entry with before/after
// snapshots. Review status is unchanged. Overlapping fields from concurrent
// updates are last-write-wins; the full history stays in the trail.
func (m *Manager) Update(ctx context.Context, recordID string, updates map[string]string, actor, comment string) bool {
	if len(updates) == 0 {
		return false
	}

	m.mu.Lock()
	fr, ok := m.records[recordID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	before := fr.Record.Snapshot()
	confidenceBefore := overallConfidence(fr.Record)

	for key, value := range updates {
		fr.Record.Set(key, value)
	}
	result := m.engine.Validate(fr.Record)

	fr.AuditTrail = append(fr.AuditTrail, model.AuditRecord{
		Action:           model.ActionCorrected,
		Actor:            actor,
		Timestamp:        time.Now().UTC(),
		Before:           before,
		After:            fr.Record.Snapshot(),
		Comment:          comment,
		ConfidenceBefore: confidenceBefore,
		ConfidenceAfter:  result.ConfidenceScore,
	})
	snap := fr.Clone()
	m.mu.Unlock()

	m.persist(ctx, snap)
	return true
}

// Approve transitions the record to APPROVED and stamps completion.
// Terminality is not strictly enforced: approving an already-terminal record
// still appends an entry.
func (m *Manager) Approve(ctx context.Context, recordID, actor, comment string) bool {
	return m.complete(ctx, recordID, model.ReviewApproved, model.ActionApproved, actor, comment)
}

// Reject transitions the record to REJECTED with a reason.
func (m *Manager) Reject(ctx context.Context, recordID, actor, reason string) bool {
	return m.complete(ctx, recordID, model.ReviewRejected, model.ActionRejected, actor, reason)
}

func (m *Manager) complete(ctx context.Context, recordID string, status model.ReviewStatus, action model.AuditAction, actor, comment string) bool {
	m.mu.Lock()
	fr, ok := m.records[recordID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	now := time.Now().UTC()
	fr.ReviewStatus = status
	fr.ReviewCompleted = &now
	confidence := overallConfidence(fr.Record)
	fr.AuditTrail = append(fr.AuditTrail, model.AuditRecord{
		Action:           action,
		Actor:            actor,
		Timestamp:        now,
		Comment:          comment,
		ConfidenceBefore: confidence,
		ConfidenceAfter:  confidence,
	})
	snap := fr.Clone()
	m.mu.Unlock()

	m.persist(ctx, snap)
	return true
}

// RequestRevision sends an in-flight record back for rework: the status moves
// to NEEDS_REVISION without stamping completion, so the record can be
// corrected and then approved or rejected.
func (m *Manager) RequestRevision(ctx context.Context, recordID, actor, reason string) bool {
	m.mu.Lock()
	fr, ok := m.records[recordID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	fr.ReviewStatus = model.ReviewNeedsRevision
	confidence := overallConfidence(fr.Record)
	fr.AuditTrail = append(fr.AuditTrail, model.AuditRecord{
		Action:           model.ActionReviewed,
		Actor:            actor,
		Timestamp:        time.Now().UTC(),
		Comment:          reason,
		ConfidenceBefore: confidence,
		ConfidenceAfter:  confidence,
	})
	snap := fr.Clone()
	m.mu.Unlock()

	m.persist(ctx, snap)
	return true
}

// AddComment appends a COMMENT_ADDED entry without changing state.
func (m *Manager) AddComment(ctx context.Context, recordID, actor, text string) bool {
	m.mu.Lock()
	fr, ok := m.records[recordID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	confidence := overallConfidence(fr.Record)
	fr.AuditTrail = append(fr.AuditTrail, model.AuditRecord{
		Action:           model.ActionCommentAdded,
		Actor:            actor,
		Timestamp:        time.Now().UTC(),
		Comment:          text,
		ConfidenceBefore: confidence,
		ConfidenceAfter:  confidence,
	})
	snap := fr.Clone()
	m.mu.Unlock()

	m.persist(ctx, snap)
	return true
}

// Get returns the flagged record, or nil if unknown.
func (m *Manager) Get(recordID string) *model.FlaggedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[recordID]
}

// List returns flagged records, optionally filtered by session.
func (m *Manager) List(sessionID string) []*model.FlaggedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.FlaggedRecord
	for _, fr := range m.records {
		if sessionID != "" && fr.SessionID != sessionID {
			continue
		}
		out = append(out, fr)
	}
	return out
}

// ExportAuditedData returns APPROVED records (and REJECTED ones when
// includeRejected is set) for a session, each with its audit metadata. This
// is the only path by which corrected data reaches downstream export.
func (m *Manager) ExportAuditedData(sessionID string, includeRejected bool) []model.AuditedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.AuditedRecord
	for _, fr := range m.records {
		if sessionID != "" && fr.SessionID != sessionID {
			continue
		}
		if fr.ReviewStatus != model.ReviewApproved &&
			!(includeRejected && fr.ReviewStatus == model.ReviewRejected) {
			continue
		}
		out = append(out, model.AuditedRecord{
			Record: fr.Record.Clone(),
			Meta: model.AuditMetadata{
				RecordID:        fr.RecordID,
				FlagReason:      fr.FlagReason,
				ReviewStatus:    fr.ReviewStatus,
				Reviewer:        fr.AssignedReviewer,
				ReviewCompleted: fr.ReviewCompleted,
				CorrectionCount: fr.CorrectionCount(),
			},
		})
	}
	return out
}

// persist writes a flagged record snapshot through to the store. Callers pass
// a clone taken under the lock so marshaling never races a concurrent
// mutation. Failures are logged, never returned: review operations must not
// fail on storage hiccups.
func (m *Manager) persist(ctx context.Context, fr *model.FlaggedRecord) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveFlaggedRecord(ctx, fr); err != nil {
		zap.L().Warn("audit: persist flagged record failed",
			zap.String("record_id", fr.RecordID),
			zap.Error(err),
		)
	}
}

func overallConfidence(r *model.Record) float64 {
	var sum, total float64
	for _, key := range model.FieldKeys() {
		w := model.FieldWeight(key)
		total += w
		sum += w * r.Confidence[key]
	}
	if total == 0 {
		return 0.0
	}
	return sum / total
}
