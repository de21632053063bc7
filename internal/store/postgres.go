package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/licenceworks/hmo-audit/internal/db"
	"github.com/licenceworks/hmo-audit/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"upsert_session": `INSERT INTO sessions (id, document_name, status, stage, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		  status = EXCLUDED.status, stage = EXCLUDED.stage,
		  payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
	"get_session": `SELECT payload FROM sessions WHERE id = $1`,
	"save_flagged_record": `INSERT INTO flagged_records (record_id, session_id, review_status, payload, flagged_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (record_id) DO UPDATE SET
		  review_status = EXCLUDED.review_status, payload = EXCLUDED.payload,
		  updated_at = EXCLUDED.updated_at`,
	"get_flagged_record":  `SELECT payload FROM flagged_records WHERE record_id = $1`,
	"get_cached_document": `SELECT payload FROM document_cache WHERE fingerprint = $1 AND expires_at > now()`,
	"set_cached_document": `INSERT INTO document_cache (fingerprint, payload, cached_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) DO UPDATE SET
		  payload = EXCLUDED.payload, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
	"delete_expired_documents": `DELETE FROM document_cache WHERE expires_at <= now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	document_name TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	stage         TEXT NOT NULL DEFAULT 'queued',
	payload       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS flagged_records (
	record_id     TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	review_status TEXT NOT NULL DEFAULT 'pending',
	payload       JSONB NOT NULL,
	flagged_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
	session_id        TEXT NOT NULL,
	record_index      INTEGER NOT NULL,
	council           TEXT,
	licence_reference TEXT,
	hmo_address       TEXT,
	payload           JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, record_index)
);

CREATE TABLE IF NOT EXISTS document_cache (
	fingerprint TEXT PRIMARY KEY,
	payload     BYTEA NOT NULL,
	cached_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_flagged_records_session_id ON flagged_records(session_id);
CREATE INDEX IF NOT EXISTS idx_flagged_records_review_status ON flagged_records(review_status);
CREATE INDEX IF NOT EXISTS idx_records_licence_reference ON records(licence_reference);
CREATE INDEX IF NOT EXISTS idx_records_council ON records(council);
CREATE INDEX IF NOT EXISTS idx_document_cache_expires_at ON document_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertSession(ctx context.Context, session *model.ProcessingSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, document_name, status, stage, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status, stage = EXCLUDED.stage,
		   payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		session.ID, session.DocumentName, string(session.Status), string(session.CurrentStage),
		payload, session.CreatedAt, session.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert session %s", session.ID)
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.ProcessingSession, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("session not found: %s", sessionID)
		}
		return nil, eris.Wrapf(err, "postgres: get session %s", sessionID)
	}

	var session model.ProcessingSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal session")
	}
	return &session, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ProcessingSession, error) {
	query := `SELECT payload FROM sessions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.ProcessingSession
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		var session model.ProcessingSession
		if err := json.Unmarshal(payload, &session); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal session")
		}
		sessions = append(sessions, session)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

// recordColumns is the flat shape bulk-upserted into the records table.
var recordColumns = []string{
	"session_id", "record_index", "council", "licence_reference", "hmo_address", "payload", "created_at",
}

func (s *PostgresStore) SaveRecords(ctx context.Context, sessionID string, records []*model.Record) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for i, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal record")
		}
		rows = append(rows, []any{
			sessionID, i, r.Get(model.FieldCouncil), r.Get(model.FieldLicenceReference),
			r.Get(model.FieldHMOAddress), payload, now,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "records",
		Columns:      recordColumns,
		ConflictKeys: []string{"session_id", "record_index"},
	}, rows)
	return eris.Wrapf(err, "postgres: save records for session %s", sessionID)
}

func (s *PostgresStore) SaveFlaggedRecord(ctx context.Context, fr *model.FlaggedRecord) error {
	payload, err := json.Marshal(fr)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal flagged record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO flagged_records (record_id, session_id, review_status, payload, flagged_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (record_id) DO UPDATE SET
		   review_status = EXCLUDED.review_status, payload = EXCLUDED.payload,
		   updated_at = EXCLUDED.updated_at`,
		fr.RecordID, fr.SessionID, string(fr.ReviewStatus), payload,
		fr.FlaggedAt, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save flagged record %s", fr.RecordID)
}

func (s *PostgresStore) GetFlaggedRecord(ctx context.Context, recordID string) (*model.FlaggedRecord, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM flagged_records WHERE record_id = $1`,
		recordID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("flagged record not found: %s", recordID)
		}
		return nil, eris.Wrapf(err, "postgres: get flagged record %s", recordID)
	}

	var fr model.FlaggedRecord
	if err := json.Unmarshal(payload, &fr); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal flagged record")
	}
	return &fr, nil
}

func (s *PostgresStore) ListFlaggedRecords(ctx context.Context, sessionID string) ([]model.FlaggedRecord, error) {
	query := `SELECT payload FROM flagged_records`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = $1`
		args = append(args, sessionID)
	}
	query += ` ORDER BY flagged_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list flagged records")
	}
	defer rows.Close()

	var flagged []model.FlaggedRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan flagged record")
		}
		var fr model.FlaggedRecord
		if err := json.Unmarshal(payload, &fr); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal flagged record")
		}
		flagged = append(flagged, fr)
	}
	return flagged, eris.Wrap(rows.Err(), "postgres: list flagged records iterate")
}

func (s *PostgresStore) GetCachedDocument(ctx context.Context, fingerprint string) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM document_cache WHERE fingerprint = $1 AND expires_at > now()`,
		fingerprint,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached document")
	}
	return payload, nil
}

func (s *PostgresStore) SetCachedDocument(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO document_cache (fingerprint, payload, cached_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   payload = EXCLUDED.payload, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		fingerprint, payload, now, expiresAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: set cached document")
	}

	// Keep the cache table bounded, dropping the oldest entries first.
	_, err = s.pool.Exec(ctx,
		`DELETE FROM document_cache WHERE fingerprint IN (
		   SELECT fingerprint FROM document_cache
		   ORDER BY cached_at DESC OFFSET $1)`,
		maxCachedDocuments,
	)
	return eris.Wrap(err, "postgres: evict cached documents")
}

func (s *PostgresStore) DeleteExpiredDocuments(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM document_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired documents")
	}
	return int(tag.RowsAffected()), nil
}
