package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/licenceworks/hmo-audit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	document_name TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	stage         TEXT NOT NULL DEFAULT 'queued',
	payload       TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS flagged_records (
	record_id     TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	review_status TEXT NOT NULL DEFAULT 'pending',
	payload       TEXT NOT NULL,
	flagged_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	session_id        TEXT NOT NULL,
	record_index      INTEGER NOT NULL,
	council           TEXT,
	licence_reference TEXT,
	hmo_address       TEXT,
	payload           TEXT NOT NULL,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (session_id, record_index)
);

CREATE TABLE IF NOT EXISTS document_cache (
	fingerprint TEXT PRIMARY KEY,
	payload     BLOB NOT NULL,
	cached_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_flagged_records_session_id ON flagged_records(session_id);
CREATE INDEX IF NOT EXISTS idx_flagged_records_review_status ON flagged_records(review_status);
CREATE INDEX IF NOT EXISTS idx_document_cache_expires_at ON document_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertSession(ctx context.Context, session *model.ProcessingSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, document_name, status, stage, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   status = excluded.status, stage = excluded.stage,
		   payload = excluded.payload, updated_at = excluded.updated_at`,
		session.ID, session.DocumentName, string(session.Status), string(session.CurrentStage),
		string(payload), session.CreatedAt, session.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert session %s", session.ID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.ProcessingSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE id = ?`,
		sessionID,
	)

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", sessionID)
	}

	var session model.ProcessingSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session")
	}
	return &session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ProcessingSession, error) {
	query := `SELECT payload FROM sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.ProcessingSession
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		var session model.ProcessingSession
		if err := json.Unmarshal([]byte(payload), &session); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal session")
		}
		sessions = append(sessions, session)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) SaveRecords(ctx context.Context, sessionID string, records []*model.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save records")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal record")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (session_id, record_index, council, licence_reference, hmo_address, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (session_id, record_index) DO UPDATE SET
			   council = excluded.council, licence_reference = excluded.licence_reference,
			   hmo_address = excluded.hmo_address, payload = excluded.payload`,
			sessionID, i, r.Get(model.FieldCouncil), r.Get(model.FieldLicenceReference),
			r.Get(model.FieldHMOAddress), string(payload), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save record %d for session %s", i, sessionID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save records")
}

func (s *SQLiteStore) SaveFlaggedRecord(ctx context.Context, fr *model.FlaggedRecord) error {
	payload, err := json.Marshal(fr)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal flagged record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flagged_records (record_id, session_id, review_status, payload, flagged_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (record_id) DO UPDATE SET
		   review_status = excluded.review_status, payload = excluded.payload,
		   updated_at = excluded.updated_at`,
		fr.RecordID, fr.SessionID, string(fr.ReviewStatus), string(payload),
		fr.FlaggedAt, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save flagged record %s", fr.RecordID)
}

func (s *SQLiteStore) GetFlaggedRecord(ctx context.Context, recordID string) (*model.FlaggedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM flagged_records WHERE record_id = ?`,
		recordID,
	)

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("flagged record not found: %s", recordID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get flagged record %s", recordID)
	}

	var fr model.FlaggedRecord
	if err := json.Unmarshal([]byte(payload), &fr); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal flagged record")
	}
	return &fr, nil
}

func (s *SQLiteStore) ListFlaggedRecords(ctx context.Context, sessionID string) ([]model.FlaggedRecord, error) {
	query := `SELECT payload FROM flagged_records`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY flagged_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list flagged records")
	}
	defer rows.Close()

	var flagged []model.FlaggedRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan flagged record")
		}
		var fr model.FlaggedRecord
		if err := json.Unmarshal([]byte(payload), &fr); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal flagged record")
		}
		flagged = append(flagged, fr)
	}
	return flagged, eris.Wrap(rows.Err(), "sqlite: list flagged records iterate")
}

func (s *SQLiteStore) GetCachedDocument(ctx context.Context, fingerprint string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM document_cache
		 WHERE fingerprint = ? AND expires_at > datetime('now')`,
		fingerprint,
	)

	var payload []byte
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached document")
	}
	return payload, nil
}

func (s *SQLiteStore) SetCachedDocument(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_cache (fingerprint, payload, cached_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   payload = excluded.payload, cached_at = excluded.cached_at,
		   expires_at = excluded.expires_at`,
		fingerprint, payload, now, expiresAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: set cached document")
	}

	// Keep the cache table bounded, dropping the oldest entries first.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM document_cache WHERE fingerprint IN (
		   SELECT fingerprint FROM document_cache
		   ORDER BY cached_at DESC LIMIT -1 OFFSET ?)`,
		maxCachedDocuments,
	)
	return eris.Wrap(err, "sqlite: evict cached documents")
}

func (s *SQLiteStore) DeleteExpiredDocuments(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM document_cache WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired documents")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}
