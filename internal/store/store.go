// Package store persists transcription sessions and their results in a
// SQLite timeline with configurable retention.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
	_ "modernc.org/sqlite"
)

// Transcript is one recorded transcription result.
type Transcript struct {
	ID        int64
	SessionID string
	Source    string // "file" or "stream"
	Text      string
	CreatedAt time.Time
}

// Store wraps the SQLite-backed transcript timeline. With retention mode
// "ephemeral" it is a no-op shell and holds no database.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the transcript store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("transcript store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    kind TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    source TEXT,
    text TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_created ON transcripts(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendSession ensures a session row exists. kind distinguishes live
// recording sessions from one-shot file requests.
func (s *Store) AppendSession(ctx context.Context, sessionID, kind string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, kind, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET kind=excluded.kind`,
		sessionID, kind, s.clock().UTC())
	return err
}

// AppendTranscript writes one timeline entry. source is "file" or
// "stream" for transcription results and "status" for progress notes.
func (s *Store) AppendTranscript(ctx context.Context, sessionID, source, text string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, source, text, created_at)
		 VALUES(?, ?, ?, ?)`,
		sessionID, source, text, s.clock().UTC())
	return err
}

// ListSessionTranscripts retrieves up to limit transcripts for a session
// ordered ascending by time.
func (s *Store) ListSessionTranscripts(ctx context.Context, sessionID string, limit int) ([]Transcript, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, source, text, created_at
		 FROM transcripts WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var tr Transcript
		var created string
		if err := rows.Scan(&tr.ID, &tr.SessionID, &tr.Source, &tr.Text, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			tr.CreatedAt = ts
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Prune applies the configured retention: drop rows older than the
// retention window and cap the number of retained sessions.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
