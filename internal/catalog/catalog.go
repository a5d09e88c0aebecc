// Package catalog keeps a local sqlite index of sessions and their raw log
// segments so rotated (and compressed) segments stay discoverable without
// scanning the data directory.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/johns/actlog/internal/rawlog"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP,
	events     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS segments (
	path       TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	events     INTEGER NOT NULL,
	bytes      INTEGER NOT NULL,
	compressed INTEGER NOT NULL,
	first_ts   TIMESTAMP,
	last_ts    TIMESTAMP,
	closed_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_segments_session ON segments(session_id);
`

// SessionRow is one catalog session record.
type SessionRow struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
	Events    int
}

// SegmentRow is one catalog segment record.
type SegmentRow struct {
	Path       string
	SessionID  string
	Events     int
	Bytes      int64
	Compressed bool
	First      time.Time
	Last       time.Time
	ClosedAt   time.Time
}

// Catalog wraps the sqlite database.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database at path.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

// BeginSession records a new active session.
func (c *Catalog) BeginSession(id string, started time.Time) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, started_at) VALUES (?, ?)`,
		id, started,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession marks a session ended and records its total event count.
func (c *Catalog) EndSession(id string, ended time.Time, events int) error {
	_, err := c.db.Exec(
		`UPDATE sessions SET ended_at = ?, events = ? WHERE id = ?`,
		ended, events, id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// AddSegment records a closed segment.
func (c *Catalog) AddSegment(info rawlog.SegmentInfo) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO segments
		 (path, session_id, events, bytes, compressed, first_ts, last_ts, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		info.Path, info.SessionID, info.Events, info.Bytes,
		info.Compressed, info.First, info.Last, info.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// Sessions returns all sessions, most recent first.
func (c *Catalog) Sessions() ([]SessionRow, error) {
	rows, err := c.db.Query(
		`SELECT id, started_at, ended_at, events FROM sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var s SessionRow
		var ended sql.NullTime
		if err := rows.Scan(&s.ID, &s.StartedAt, &ended, &s.Events); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Segments returns the segments of one session in rotation order.
func (c *Catalog) Segments(sessionID string) ([]SegmentRow, error) {
	rows, err := c.db.Query(
		`SELECT path, session_id, events, bytes, compressed, first_ts, last_ts, closed_at
		 FROM segments WHERE session_id = ? ORDER BY closed_at, path`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var out []SegmentRow
	for rows.Next() {
		var s SegmentRow
		var first, last sql.NullTime
		if err := rows.Scan(&s.Path, &s.SessionID, &s.Events, &s.Bytes,
			&s.Compressed, &first, &last, &s.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		s.First = first.Time
		s.Last = last.Time
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
