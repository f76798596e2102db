// Package session persists per-user conversation state in SQLite.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bimabot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.SessionStore. One row per user; the
// whole session (step, answers, language) is upserted in one statement.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		user_id     TEXT PRIMARY KEY,
		step        TEXT NOT NULL,
		answers     TEXT NOT NULL DEFAULT '{}',
		language    TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns the stored session for userID, or a fresh default
// session when the user has never been seen. It never fails for "not found".
func (s *SQLiteStore) Load(ctx context.Context, userID string) (domain.Session, error) {
	var (
		step     string
		answers  string
		language sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT step, answers, language FROM sessions WHERE user_id = ?`, userID,
	).Scan(&step, &answers, &language)
	if err == sql.ErrNoRows {
		return domain.NewSession(userID), nil
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session %s: %w", userID, err)
	}

	sess := domain.Session{
		UserID:  userID,
		Step:    domain.StepID(step),
		Answers: map[string]string{},
	}
	if language.Valid {
		sess.Language = language.String
	}
	if err := json.Unmarshal([]byte(answers), &sess.Answers); err != nil {
		// A corrupt answers blob must not brick the user; start them over.
		s.logger.Error("corrupt answers blob, resetting session", "user", userID, "err", err)
		return domain.NewSession(userID), nil
	}
	if !sess.Step.Valid() {
		s.logger.Error("unknown step in stored session, resetting", "user", userID, "step", step)
		return domain.NewSession(userID), nil
	}
	return sess, nil
}

// Commit upserts the full session atomically.
func (s *SQLiteStore) Commit(ctx context.Context, sess domain.Session) error {
	if !sess.Step.Valid() {
		return fmt.Errorf("commit session %s: unknown step %q", sess.UserID, sess.Step)
	}
	for key := range sess.Answers {
		if !domain.ValidAnswerField(key) {
			return fmt.Errorf("commit session %s: unknown answer field %q", sess.UserID, key)
		}
	}

	answers, err := json.Marshal(sess.Answers)
	if err != nil {
		return fmt.Errorf("commit session %s: %w", sess.UserID, err)
	}
	var language sql.NullString
	if sess.Language != "" {
		language = sql.NullString{String: sess.Language, Valid: true}
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, step, answers, language, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   step = excluded.step,
		   answers = excluded.answers,
		   language = excluded.language,
		   updated_at = excluded.updated_at`,
		sess.UserID, string(sess.Step), string(answers), language, now, now,
	)
	if err != nil {
		return fmt.Errorf("commit session %s: %w", sess.UserID, err)
	}
	return nil
}

// ListAll returns every stored session, most recently active first.
// Read-only; used by reporting and the sessions CLI command.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, step, answers, language FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var (
			sess     domain.Session
			step     string
			answers  string
			language sql.NullString
		)
		if err := rows.Scan(&sess.UserID, &step, &answers, &language); err != nil {
			return nil, err
		}
		sess.Step = domain.StepID(step)
		sess.Answers = map[string]string{}
		if language.Valid {
			sess.Language = language.String
		}
		if err := json.Unmarshal([]byte(answers), &sess.Answers); err != nil {
			s.logger.Warn("skipping session with corrupt answers", "user", sess.UserID, "err", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
