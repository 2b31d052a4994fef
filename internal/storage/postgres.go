package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"deepresearch/config"
	"deepresearch/internal/research"
)

// PostgresStorage persists sessions and pages in PostgreSQL. Structured
// counters live in JSONB columns; the schema is created on startup.
type PostgresStorage struct {
	db           *sql.DB
	historyLimit int
}

func NewPostgresStorage(cfg config.PostgresConfig, historyLimit int) (*PostgresStorage, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, errors.New("postgres not configured (storage.postgres.url or host/dbname)")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if historyLimit <= 0 {
		historyLimit = 100
	}
	ps := &PostgresStorage{db: db, historyLimit: historyLimit}
	if err := ps.ensureSchema(); err != nil {
		return nil, err
	}
	return ps, nil
}

func (s *PostgresStorage) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS research_sessions (
    id TEXT PRIMARY KEY,
    query TEXT NOT NULL,
    status TEXT NOT NULL,
    start_time TIMESTAMPTZ NOT NULL,
    end_time TIMESTAMPTZ,
    total_pages INT NOT NULL DEFAULT 0,
    max_depth_reached INT NOT NULL DEFAULT 0,
    final_answer TEXT,
    summary TEXT,
    confidence DOUBLE PRECISION,
    metadata JSONB,
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS research_pages (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    url TEXT NOT NULL,
    depth INT NOT NULL,
    relevance DOUBLE PRECISION,
    record JSONB NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS research_pages_session_idx ON research_pages (session_id);
CREATE TABLE IF NOT EXISTS research_history (
    session_id TEXT PRIMARY KEY,
    snapshot JSONB NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
`)
	return err
}

func (s *PostgresStorage) SaveSession(ctx context.Context, sess *research.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var end any
	if !sess.EndTime.IsZero() {
		end = sess.EndTime
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO research_sessions (id, query, status, start_time, end_time, total_pages, max_depth_reached, final_answer, summary, confidence, metadata, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    end_time = EXCLUDED.end_time,
    total_pages = EXCLUDED.total_pages,
    max_depth_reached = EXCLUDED.max_depth_reached,
    final_answer = EXCLUDED.final_answer,
    summary = EXCLUDED.summary,
    confidence = EXCLUDED.confidence,
    metadata = EXCLUDED.metadata,
    updated_at = NOW()
`, sess.ID, sess.Query, string(sess.Status), sess.StartTime, end, sess.TotalPages, sess.MaxDepthReached,
		sess.FinalAnswer, sess.Summary, sess.Confidence, meta)
	return err
}

func (s *PostgresStorage) SavePage(ctx context.Context, sessionID string, p research.PageRecord) error {
	record, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal page record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO research_pages (session_id, url, depth, relevance, record)
VALUES ($1,$2,$3,$4,$5)
`, sessionID, p.URL, p.Depth, p.RelevanceScore, record)
	return err
}

func (s *PostgresStorage) SaveFinalAnswer(ctx context.Context, sessionID, answer, summary string, confidence float64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE research_sessions SET final_answer=$2, summary=$3, confidence=$4, updated_at=NOW() WHERE id=$1
`, sessionID, answer, summary, confidence)
	return err
}

// AppendHistory upserts the terminal snapshot and prunes entries beyond
// the cap, oldest first.
func (s *PostgresStorage) AppendHistory(ctx context.Context, sess *research.Session) error {
	snapshot, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO research_history (session_id, snapshot, created_at)
VALUES ($1,$2,NOW())
ON CONFLICT (session_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, created_at = NOW()
`, sess.ID, snapshot); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
DELETE FROM research_history WHERE session_id NOT IN (
    SELECT session_id FROM research_history ORDER BY created_at DESC LIMIT $1
)
`, s.historyLimit)
	return err
}

func (s *PostgresStorage) GetSession(ctx context.Context, id string) (*research.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, query, status, start_time, end_time, total_pages, max_depth_reached,
       COALESCE(final_answer,''), COALESCE(summary,''), COALESCE(confidence,0), metadata
FROM research_sessions WHERE id=$1
`, id)
	var sess research.Session
	var status string
	var end sql.NullTime
	var meta []byte
	if err := row.Scan(&sess.ID, &sess.Query, &status, &sess.StartTime, &end, &sess.TotalPages,
		&sess.MaxDepthReached, &sess.FinalAnswer, &sess.Summary, &sess.Confidence, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, err
	}
	sess.Status = research.SessionStatus(status)
	if end.Valid {
		sess.EndTime = end.Time
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &sess, nil
}

func (s *PostgresStorage) History(ctx context.Context, limit int) ([]*research.Session, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT snapshot FROM research_history ORDER BY created_at DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*research.Session
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, err
		}
		var sess research.Session
		if err := json.Unmarshal(snapshot, &sess); err != nil {
			return nil, fmt.Errorf("unmarshal history snapshot: %w", err)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// Close releases the database pool.
func (s *PostgresStorage) Close() error { return s.db.Close() }
