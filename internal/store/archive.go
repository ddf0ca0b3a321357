// Package store keeps a write-only diagnostic archive of chat turns in SQLite.
// Nothing in it is ever loaded back into a live conversation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"NexusChat/internal/session"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	start_time DATETIME,
	backend TEXT
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	role TEXT,
	content TEXT,
	timestamp INTEGER,
	context_digest TEXT,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);
CREATE TABLE IF NOT EXISTS failures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	kind TEXT,
	message TEXT,
	attempts INTEGER,
	occurred_at DATETIME,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);`

// Failure is one terminal turn error.
type Failure struct {
	Kind       string
	Message    string
	Attempts   int
	OccurredAt time.Time
}

// Archive records sessions, turns and failures.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the archive at path.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordSession upserts the session row.
func (a *Archive) RecordSession(ctx context.Context, s *session.Session) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, start_time, backend) VALUES (?, ?, ?)",
		s.ID, s.StartTime, s.Backend,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// RecordTurn stores msg with the digest of the context it was sent with.
func (a *Archive) RecordTurn(ctx context.Context, sessionID string, msg session.Message, contextDigest string) error {
	var ts sql.NullInt64
	if msg.Timestamp != nil {
		ts = sql.NullInt64{Int64: *msg.Timestamp, Valid: true}
	}

	_, err := a.db.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content, timestamp, context_digest) VALUES (?, ?, ?, ?, ?)",
		sessionID, msg.Role, msg.Content, ts, contextDigest,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// RecordFailure stores a terminal turn error.
func (a *Archive) RecordFailure(ctx context.Context, sessionID string, f Failure) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO failures (session_id, kind, message, attempts, occurred_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, f.Kind, f.Message, f.Attempts, f.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save failure: %w", err)
	}
	return nil
}

// Turns returns the archived messages of a session in insertion order.
func (a *Archive) Turns(ctx context.Context, sessionID string) ([]session.Message, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []session.Message
	for rows.Next() {
		var msg session.Message
		var ts sql.NullInt64
		if err := rows.Scan(&msg.Role, &msg.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if ts.Valid {
			v := ts.Int64
			msg.Timestamp = &v
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Failures returns the archived failures of a session.
func (a *Archive) Failures(ctx context.Context, sessionID string) ([]Failure, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT kind, message, attempts, occurred_at FROM failures WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Kind, &f.Message, &f.Attempts, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
