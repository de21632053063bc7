package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/licenceworks/hmo-audit/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(id string) *model.ProcessingSession {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.ProcessingSession{
		ID:           id,
		DocumentName: "register.pdf",
		Status:       model.SessionQueued,
		CurrentStage: model.StageQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSQLiteStore_SessionRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	session := newTestSession("sess-1")
	require.NoError(t, s.UpsertSession(ctx, session))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "register.pdf", got.DocumentName)
	assert.Equal(t, model.SessionQueued, got.Status)

	// Upsert with the same id replaces, not duplicates.
	session.Status = model.SessionCompleted
	session.CurrentStage = model.StageCompleted
	session.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.UpsertSession(ctx, session))

	got, err = s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, got.Status)

	all, err := s.ListSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_GetSession_NotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetSession(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteStore_ListSessions_StatusFilter(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := newTestSession("sess-a")
	b := newTestSession("sess-b")
	b.Status = model.SessionCompleted
	b.CurrentStage = model.StageCompleted
	require.NoError(t, s.UpsertSession(ctx, a))
	require.NoError(t, s.UpsertSession(ctx, b))

	done, err := s.ListSessions(ctx, SessionFilter{Status: model.SessionCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "sess-b", done[0].ID)
}

func TestSQLiteStore_FlaggedRecordRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	r := model.NewRecord()
	r.Set(model.FieldCouncil, "Leeds City Council")
	fr := &model.FlaggedRecord{
		RecordID:     "rec-1",
		SessionID:    "sess-1",
		FlagReason:   "overall confidence 0.55 below threshold 0.70",
		ReviewStatus: model.ReviewPending,
		Record:       r,
		FlaggedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SaveFlaggedRecord(ctx, fr))

	got, err := s.GetFlaggedRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, got.ReviewStatus)
	assert.Equal(t, "Leeds City Council", got.Record.Get(model.FieldCouncil))

	// Save again with a new status; the row is replaced in place.
	fr.ReviewStatus = model.ReviewApproved
	require.NoError(t, s.SaveFlaggedRecord(ctx, fr))

	bySession, err := s.ListFlaggedRecords(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, model.ReviewApproved, bySession[0].ReviewStatus)

	none, err := s.ListFlaggedRecords(ctx, "other-session")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_SaveRecords_Rewrite(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	r1 := model.NewRecord()
	r1.Set(model.FieldLicenceReference, "HMO100")
	r2 := model.NewRecord()
	r2.Set(model.FieldLicenceReference, "HMO200")

	require.NoError(t, s.SaveRecords(ctx, "sess-1", []*model.Record{r1, r2}))

	// Saving again for the same session must not error or duplicate.
	r1.Set(model.FieldLicenceReference, "HMO101")
	require.NoError(t, s.SaveRecords(ctx, "sess-1", []*model.Record{r1, r2}))

	var count int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE session_id = 'sess-1'`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 2, count)

	var ref string
	row = s.db.QueryRow(`SELECT licence_reference FROM records WHERE session_id = 'sess-1' AND record_index = 0`)
	require.NoError(t, row.Scan(&ref))
	assert.Equal(t, "HMO101", ref)
}

func TestSQLiteStore_DocumentCache(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	miss, err := s.GetCachedDocument(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, miss)

	payload := []byte(`{"text":"licence register"}`)
	require.NoError(t, s.SetCachedDocument(ctx, "deadbeef", payload, time.Hour))

	hit, err := s.GetCachedDocument(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, payload, hit)
}

func TestSQLiteStore_DocumentCache_Expiry(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SetCachedDocument(ctx, "stale", []byte("old"), -time.Hour))

	hit, err := s.GetCachedDocument(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, hit)

	n, err := s.DeleteExpiredDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
