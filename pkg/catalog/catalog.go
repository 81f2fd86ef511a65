// Package catalog keeps a SQLite index of finished recordings and
// screenshots so that captures can be listed after the process exits.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Capture kinds.
const (
	KindRecording  = "recording"
	KindScreenshot = "screenshot"
)

const schema = `
CREATE TABLE IF NOT EXISTS captures (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	kind            TEXT    NOT NULL,
	device_udid     TEXT    NOT NULL,
	device_name     TEXT    NOT NULL DEFAULT '',
	path            TEXT    NOT NULL,
	state           TEXT    NOT NULL,
	frames_accepted INTEGER NOT NULL DEFAULT 0,
	frames_dropped  INTEGER NOT NULL DEFAULT 0,
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	fps             REAL    NOT NULL DEFAULT 0,
	error           TEXT    NOT NULL DEFAULT '',
	created_at      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS captures_device ON captures(device_udid, created_at);
`

// Entry is one catalogued capture.
type Entry struct {
	ID             int64         `json:"id"`
	Kind           string        `json:"kind"`
	DeviceUDID     string        `json:"device_udid"`
	DeviceName     string        `json:"device_name,omitempty"`
	Path           string        `json:"path"`
	State          string        `json:"state"`
	FramesAccepted uint64        `json:"frames_accepted"`
	FramesDropped  uint64        `json:"frames_dropped"`
	Duration       time.Duration `json:"duration"`
	FPS            float64       `json:"fps"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ListOptions filter List.
type ListOptions struct {
	DeviceUDID string
	Kind       string
	Limit      int
}

// Catalog is a SQLite-backed capture index.
type Catalog struct {
	db    *sql.DB
	clock func() time.Time
}

// Options configure Open.
type Options struct {
	BusyTimeout time.Duration
	Clock       func() time.Time
}

// Open opens or creates the catalog at path with WAL journaling.
func Open(path string, opts Options) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("catalog: path must not be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("catalog: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 10 * time.Second
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: schema: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Catalog{db: db, clock: clock}, nil
}

// OpenMemory opens a private in-memory catalog.
func OpenMemory() (*Catalog, error) {
	return Open(":memory:", Options{})
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Add stores e and returns it with ID and CreatedAt filled.
func (c *Catalog) Add(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.Path) == "" {
		return Entry{}, errors.New("catalog: entry path must not be empty")
	}
	if e.Kind == "" {
		e.Kind = KindRecording
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.clock()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO captures (kind, device_udid, device_name, path, state,
			frames_accepted, frames_dropped, duration_ms, fps, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.DeviceUDID, e.DeviceName, e.Path, e.State,
		int64(e.FramesAccepted), int64(e.FramesDropped), e.Duration.Milliseconds(), e.FPS, e.Error,
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: insert id: %w", err)
	}
	e.ID = id
	return e, nil
}

// List returns entries newest first.
func (c *Catalog) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	query := `SELECT id, kind, device_udid, device_name, path, state, frames_accepted,
		frames_dropped, duration_ms, fps, error, created_at FROM captures`
	var (
		where []string
		args  []any
	)
	if opts.DeviceUDID != "" {
		where = append(where, "device_udid = ?")
		args = append(args, opts.DeviceUDID)
	}
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, opts.Kind)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			accepted, dropped int64
			durationMS        int64
			created           string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.DeviceUDID, &e.DeviceName, &e.Path, &e.State,
			&accepted, &dropped, &durationMS, &e.FPS, &e.Error, &created); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		e.FramesAccepted = uint64(accepted)
		e.FramesDropped = uint64(dropped)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("catalog: parse created_at %q: %w", created, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
