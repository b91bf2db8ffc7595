// Package debuglog persists the debug trail of every session in SQLite: gateway calls,
// assembled image prompts, pipeline errors and per-session settings.
package debuglog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"novel_ai/debuglog/migrations"
	"novel_ai/gemini"
	"novel_ai/tasks"
)

// Store is the SQLite-backed debug log.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// InsertCall stores one gateway attempt.
func (s *Store) InsertCall(ctx context.Context, sessionID string, rec gemini.CallRecord) error {
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO api_calls (
	session_id, kind, model, tier, cache_key, status, success,
	duration_ms, request_bytes, response_bytes, payload, error, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		sessionID,
		string(rec.Kind),
		rec.Model,
		string(rec.Tier),
		rec.CacheKey,
		rec.Status,
		rec.Success,
		rec.Duration.Milliseconds(),
		rec.RequestBytes,
		rec.ResponseBytes,
		rec.Payload,
		rec.Error,
		toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("insert api call: %w", err)
	}
	return nil
}

// InsertImagePrompt stores one assembled image prompt.
func (s *Store) InsertImagePrompt(ctx context.Context, sessionID string, rec tasks.PromptRecord) error {
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO image_prompts (session_id, cache_key, asset_id, task_type, prompt, refs, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		sessionID,
		rec.CacheKey,
		rec.AssetID,
		string(rec.Type),
		rec.Prompt,
		strings.Join(rec.References, ","),
		toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("insert image prompt: %w", err)
	}
	return nil
}

// InsertError stores one pipeline failure.
func (s *Store) InsertError(ctx context.Context, sessionID, stage, message string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO errors (session_id, stage, message, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, stage, message, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}

// RecordError logs err for sessionID and never fails.
func (s *Store) RecordError(ctx context.Context, sessionID, stage string, err error) {
	if err == nil {
		return
	}
	if ierr := s.InsertError(context.WithoutCancel(ctx), sessionID, stage, err.Error()); ierr != nil {
		log.Printf("[debuglog] %v", ierr)
	}
}

// Clear removes every record of sessionID except its settings.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear log: %w", err)
	}
	for _, table := range []string{"api_calls", "image_prompts", "errors"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE session_id = ?", sessionID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear log: %w", err)
	}
	return nil
}

// GetSetting returns one stored setting.
func (s *Store) GetSetting(ctx context.Context, sessionID, key string) (string, bool, error) {
	var value string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE session_id = ? AND key = ?`, sessionID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// PutSetting stores one setting, replacing any previous value.
func (s *Store) PutSetting(ctx context.Context, sessionID, key, value string) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO settings (session_id, key, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, sessionID, key, value, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// ForSession returns the sink the gateway and the executor of one session write to.
func (s *Store) ForSession(sessionID string) *SessionLog {
	return &SessionLog{store: s, sessionID: sessionID}
}

// SessionLog writes a single session's records. Failures are logged and dropped.
type SessionLog struct {
	store     *Store
	sessionID string
}

// RecordCall implements gemini.Recorder.
func (l *SessionLog) RecordCall(ctx context.Context, rec gemini.CallRecord) {
	if err := l.store.InsertCall(context.WithoutCancel(ctx), l.sessionID, rec); err != nil {
		log.Printf("[debuglog] %v", err)
	}
}

// RecordImagePrompt implements tasks.PromptRecorder.
func (l *SessionLog) RecordImagePrompt(ctx context.Context, rec tasks.PromptRecord) {
	if err := l.store.InsertImagePrompt(context.WithoutCancel(ctx), l.sessionID, rec); err != nil {
		log.Printf("[debuglog] %v", err)
	}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
