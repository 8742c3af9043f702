// Package store provides a SQLite-backed history store for the assistant.
// Each chat session has its own message thread. Messages and feedback are
// persisted across restarts; prior turns are replayed into the model's
// context window on subsequent questions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Role identifies the author of a history message. The values mirror the
// role labels used in the persisted transcripts.
type Role string

const (
	// RoleHuman is a message sent by the user.
	RoleHuman Role = "human"
	// RoleAI is an answer produced by the assistant.
	RoleAI Role = "ai"
)

// Message is a single persisted turn in a session.
type Message struct {
	// Role is the author of the message.
	Role Role
	// Content is the text of the message.
	Content string
	// Metadata is an optional JSON blob attached to assistant messages
	// (tool trace, citations). Empty for user messages.
	Metadata string
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time
}

// Feedback is a user rating for the most recent answer in a session.
type Feedback struct {
	// Rating is the 1-5 score.
	Rating int
	// Comment is optional free text.
	Comment string
	// CreatedAt is when the feedback was persisted.
	CreatedAt time.Time
}

// HistoryStore persists and retrieves chat history keyed by session ID.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// AddUserMessage persists a user question for the session.
	AddUserMessage(ctx context.Context, sessionID, content string) error
	// AddAIMessage persists an assistant answer with optional JSON metadata.
	AddAIMessage(ctx context.Context, sessionID, content, metadata string) error
	// AddFeedback persists a 1-5 rating with optional comment.
	AddFeedback(ctx context.Context, sessionID string, rating int, comment string) error
	// Messages returns the full session transcript, oldest-first.
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	// Recent returns the most recent n messages, oldest-first, so they can
	// be prepended to the model's message slice directly.
	Recent(ctx context.Context, sessionID string, n int) ([]Message, error)
	// FeedbackFor returns all feedback recorded for the session, oldest-first.
	FeedbackFor(ctx context.Context, sessionID string) ([]Feedback, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the history database. It
// resolves to ~/.policychat/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".policychat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS messages (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session    TEXT    NOT NULL,
    role       TEXT    NOT NULL CHECK(role IN ('human','ai')),
    content    TEXT    NOT NULL,
    metadata   TEXT    NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_messages_session_created
    ON messages (session, created_at);

CREATE TABLE IF NOT EXISTS feedback (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session    TEXT    NOT NULL,
    rating     INTEGER NOT NULL CHECK(rating BETWEEN 1 AND 5),
    comment    TEXT    NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_session
    ON feedback (session, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// AddUserMessage persists a user question for the session.
func (s *SQLiteStore) AddUserMessage(ctx context.Context, sessionID, content string) error {
	return s.insertMessage(ctx, sessionID, RoleHuman, content, "")
}

// AddAIMessage persists an assistant answer with optional JSON metadata.
func (s *SQLiteStore) AddAIMessage(ctx context.Context, sessionID, content, metadata string) error {
	return s.insertMessage(ctx, sessionID, RoleAI, content, metadata)
}

func (s *SQLiteStore) insertMessage(ctx context.Context, sessionID string, role Role, content, metadata string) error {
	const q = `INSERT INTO messages (session, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sessionID, string(role), content, metadata, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: add message: %w", err)
	}
	return nil
}

// AddFeedback persists a 1-5 rating with optional comment. Out-of-range
// ratings are rejected here rather than relying on the CHECK constraint so
// the error message is actionable.
func (s *SQLiteStore) AddFeedback(ctx context.Context, sessionID string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("store: rating %d out of range [1, 5]", rating)
	}
	const q = `INSERT INTO feedback (session, rating, comment, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sessionID, rating, comment, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: add feedback: %w", err)
	}
	return nil
}

// Messages returns the full session transcript, oldest-first.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	const q = `
SELECT role, content, metadata, created_at
FROM   messages
WHERE  session = ?
ORDER  BY created_at ASC, id ASC`
	return s.queryMessages(ctx, q, sessionID)
}

// Recent returns the most recent n messages, oldest-first. Uses a subquery
// to select the tail then re-orders for injection into the model context.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	const q = `
SELECT role, content, metadata, created_at FROM (
    SELECT id, role, content, metadata, created_at
    FROM   messages
    WHERE  session = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`
	return s.queryMessages(ctx, q, sessionID, n)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, q string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Metadata, &ts); err != nil {
			return nil, fmt.Errorf("store: messages scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: messages rows: %w", err)
	}
	return msgs, nil
}

// FeedbackFor returns all feedback recorded for the session, oldest-first.
func (s *SQLiteStore) FeedbackFor(ctx context.Context, sessionID string) ([]Feedback, error) {
	const q = `
SELECT rating, comment, created_at
FROM   feedback
WHERE  session = ?
ORDER  BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: feedback: %w", err)
	}
	defer rows.Close()

	var fbs []Feedback
	for rows.Next() {
		var f Feedback
		var ts int64
		if err := rows.Scan(&f.Rating, &f.Comment, &ts); err != nil {
			return nil, fmt.Errorf("store: feedback scan: %w", err)
		}
		f.CreatedAt = time.Unix(ts, 0)
		fbs = append(fbs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: feedback rows: %w", err)
	}
	return fbs, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
