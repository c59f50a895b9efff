// Package audit defines the append-only StateTransition journal spec.md §6
// lists as optional: an in-memory implementation that is always available,
// and a modernc.org/sqlite-backed one for durability across restarts.
// Grounded on the teacher's pkg/db (sql.Open("sqlite", path), single-writer
// connection pool, schema-on-open) scoped down to one table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"fundingarb/internal/model"
)

// Journal is an append-only sink for StateTransition records.
type Journal interface {
	Record(ctx context.Context, t model.StateTransition) error
	Since(ctx context.Context, since time.Time) ([]model.StateTransition, error)
	Close() error
}

// MemoryJournal is the default Journal: an in-memory ring buffer. The
// reconciler reconstructs position/balance truth from the venue on cold
// start, so losing this history on restart is not a correctness problem.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []model.StateTransition
	maxSize int
}

// NewMemory constructs a MemoryJournal retaining at most maxSize entries.
func NewMemory(maxSize int) *MemoryJournal {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	return &MemoryJournal{maxSize: maxSize}
}

func (j *MemoryJournal) Record(_ context.Context, t model.StateTransition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, t)
	if len(j.entries) > j.maxSize {
		j.entries = j.entries[len(j.entries)-j.maxSize:]
	}
	return nil
}

func (j *MemoryJournal) Since(_ context.Context, since time.Time) ([]model.StateTransition, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.StateTransition, 0, len(j.entries))
	for _, e := range j.entries {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *MemoryJournal) Close() error { return nil }

const schema = `
CREATE TABLE IF NOT EXISTS state_transitions (
	id             TEXT PRIMARY KEY,
	timestamp      DATETIME NOT NULL,
	entity_type    TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	from_state     TEXT NOT NULL,
	to_state       TEXT NOT NULL,
	event          TEXT NOT NULL,
	correlation_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_state_transitions_timestamp ON state_transitions(timestamp);
`

// SQLiteJournal persists StateTransitions to a single-table sqlite database
// using the pure-Go modernc.org/sqlite driver, matching the teacher's own
// driver choice.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) a sqlite-backed journal at path.
func NewSQLite(path string) (*SQLiteJournal, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Record(ctx context.Context, t model.StateTransition) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO state_transitions (id, timestamp, entity_type, entity_id, from_state, to_state, event, correlation_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Timestamp, t.EntityType, t.EntityID, t.FromState, t.ToState, t.Event, t.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("audit: insert transition: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Since(ctx context.Context, since time.Time) ([]model.StateTransition, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, timestamp, entity_type, entity_id, from_state, to_state, event, correlation_id
		 FROM state_transitions WHERE timestamp > ? ORDER BY timestamp ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("audit: query transitions: %w", err)
	}
	defer rows.Close()

	var out []model.StateTransition
	for rows.Next() {
		var t model.StateTransition
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.EntityType, &t.EntityID, &t.FromState, &t.ToState, &t.Event, &t.CorrelationID); err != nil {
			return nil, fmt.Errorf("audit: scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error { return j.db.Close() }
