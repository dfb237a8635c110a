// Package journal persists what the avatar did: committed chat messages and
// activity transitions. It is an audit surface, never read on the hot path.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hware/marionette/internal/chat"
	"github.com/hware/marionette/internal/state"
)

// Journal wraps a sqlite database. Safe for concurrent use; the connection
// pool is capped at one so writers serialize in the driver.
type Journal struct {
	conn *sql.DB
}

// Transition is one recorded activity change.
type Transition struct {
	ID        string
	State     string
	Command   string
	FilePath  string
	Message   string
	Timestamp time.Time
}

func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %q: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	if err := runMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Journal{conn: conn}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.conn == nil {
		return nil
	}
	return j.conn.Close()
}

// RecordMessage stores one committed chat message.
func (j *Journal) RecordMessage(ctx context.Context, channelID string, msg chat.Message) error {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := j.conn.ExecContext(ctx, `
INSERT OR IGNORE INTO messages (id, channel_id, author, content, created_at)
VALUES (?, ?, ?, ?, ?)
`, id, channelID, msg.Author, msg.Content, formatTimestamp(ts))
	if err != nil {
		return fmt.Errorf("failed to record message %q: %w", id, err)
	}
	return nil
}

// RecordTransition stores one activity change with its payload.
func (j *Journal) RecordTransition(ctx context.Context, to state.Activity, data state.Data) error {
	_, err := j.conn.ExecContext(ctx, `
INSERT INTO transitions (id, state, command, file_path, message, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, uuid.NewString(), string(to), data.Command, data.FilePath, data.Message, formatTimestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record transition to %s: %w", to, err)
	}
	return nil
}

// RecentMessages returns up to n messages for a channel, oldest first.
func (j *Journal) RecentMessages(ctx context.Context, channelID string, n int) ([]chat.Message, error) {
	rows, err := j.conn.QueryContext(ctx, `
SELECT id, author, content, created_at FROM (
	SELECT id, author, content, created_at
	FROM messages WHERE channel_id = ?
	ORDER BY created_at DESC, id DESC LIMIT ?
) ORDER BY created_at ASC, id ASC
`, channelID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		var raw string
		if err := rows.Scan(&m.ID, &m.Author, &m.Content, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if m.Timestamp, err = parseTimestamp(raw); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentTransitions returns up to n transitions, newest first.
func (j *Journal) RecentTransitions(ctx context.Context, n int) ([]Transition, error) {
	rows, err := j.conn.QueryContext(ctx, `
SELECT id, state, command, file_path, message, created_at
FROM transitions ORDER BY created_at DESC, id DESC LIMIT ?
`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var raw string
		if err := rows.Scan(&t.ID, &t.State, &t.Command, &t.FilePath, &t.Message, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		if t.Timestamp, err = parseTimestamp(raw); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create messages and transitions",
		sql: `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	author TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transitions (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	command TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON messages(channel_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transitions_created ON transitions(created_at);
`,
	},
}

func runMigrations(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`); err != nil {
		return fmt.Errorf("failed to ensure _meta table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', '0')`); err != nil {
		return fmt.Errorf("failed to initialize schema version: %w", err)
	}

	var currentRaw string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&currentRaw); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	currentVersion, err := strconv.Atoi(currentRaw)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", currentRaw, err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("failed migration %03d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE _meta SET value = ? WHERE key = 'schema_version'`, strconv.Itoa(m.version)); err != nil {
			return fmt.Errorf("failed to set schema version %03d: %w", m.version, err)
		}
	}
	return tx.Commit()
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}
