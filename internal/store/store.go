package store

import (
	"context"
	"time"

	"github.com/licenceworks/hmo-audit/internal/model"
)

// maxCachedDocuments bounds the document cache table. SetCachedDocument
// evicts the oldest entries beyond this count.
const maxCachedDocuments = 1000

// SessionFilter specifies criteria for listing processing sessions.
type SessionFilter struct {
	Status model.SessionStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline and the
// review workflow.
type Store interface {
	// Sessions. UpsertSession is keyed on the session id so the pipeline can
	// checkpoint the same session at every stage boundary.
	UpsertSession(ctx context.Context, s *model.ProcessingSession) error
	GetSession(ctx context.Context, sessionID string) (*model.ProcessingSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.ProcessingSession, error)

	// Records. SaveRecords persists a session's final structured records for
	// downstream querying; rewriting the same session replaces its rows.
	SaveRecords(ctx context.Context, sessionID string, records []*model.Record) error

	// Flagged records. SaveFlaggedRecord overwrites the snapshot; the audit
	// trail inside the payload only ever grows.
	SaveFlaggedRecord(ctx context.Context, fr *model.FlaggedRecord) error
	GetFlaggedRecord(ctx context.Context, recordID string) (*model.FlaggedRecord, error)
	ListFlaggedRecords(ctx context.Context, sessionID string) ([]model.FlaggedRecord, error)

	// Document cache, keyed by content fingerprint.
	GetCachedDocument(ctx context.Context, fingerprint string) ([]byte, error)
	SetCachedDocument(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error
	DeleteExpiredDocuments(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
