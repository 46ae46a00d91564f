package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/evebox/evebox-go/internal/evtypes"
)

// excludedFromIndex lists top-level keys never folded into the FTS
// source_values column: packet data is binary-ish base64, payload is the
// same, and rule is a long denormalised copy of the signature text already
// searchable via alert.signature.
var excludedFromIndex = map[string]bool{
	"packet":  true,
	"payload": true,
	"rule":    true,
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	timestamp     INTEGER NOT NULL,
	archived      INTEGER NOT NULL DEFAULT 0,
	escalated     INTEGER NOT NULL DEFAULT 0,
	source        TEXT NOT NULL,
	source_values TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_archived ON events(archived);
CREATE INDEX IF NOT EXISTS idx_events_escalated ON events(escalated);

CREATE VIRTUAL TABLE IF NOT EXISTS fts USING fts5(
	source_values,
	content='events',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS events_ai AFTER INSERT ON events BEGIN
	INSERT INTO fts(rowid, source_values) VALUES (new.rowid, new.source_values);
END;

CREATE TRIGGER IF NOT EXISTS events_ad AFTER DELETE ON events BEGIN
	INSERT INTO fts(fts, rowid, source_values) VALUES('delete', old.rowid, old.source_values);
END;
`

// SQLiteSink persists records to a single-writer SQLite database with an
// FTS5 mirror for free-text search.
type SQLiteSink struct {
	db *sql.DB

	mu      sync.Mutex
	pending []evtypes.Record
}

// OpenSQLite opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func OpenSQLite(path string) (*SQLiteSink, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY
	// under concurrent commit/retention/query load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteSink{db: db}, nil
}

// DB exposes the underlying connection for the query and retention layers.
func (s *SQLiteSink) DB() *sql.DB {
	return s.db
}

// Submit buffers rec for the next Commit. The bool return requests an
// immediate commit; no current code path triggers it, so it is always
// false (see DESIGN.md). The processor decides when to commit from
// Pending() against its own batch-size threshold.
func (s *SQLiteSink) Submit(rec evtypes.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, rec)
	return false, nil
}

// Pending reports the number of buffered, uncommitted records.
func (s *SQLiteSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Commit writes all buffered records in a single transaction and clears the
// buffer. On failure the buffer is left untouched so the caller can retry.
func (s *SQLiteSink) Commit(ctx context.Context) (int, error) {
	s.mu.Lock()
	batch := s.pending
	s.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (timestamp, archived, escalated, source, source_values)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range batch {
		raw, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("marshal record: %w", err)
		}
		archived := 0
		if rec.HasTag("evebox.archived") {
			archived = 1
		}
		ts, _ := rec.Timestamp()
		if _, err := stmt.ExecContext(ctx, ts.UnixNano(), archived, 0, string(raw), flatten(rec)); err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	s.mu.Lock()
	s.pending = s.pending[len(batch):]
	s.mu.Unlock()

	return len(batch), nil
}

// Close checkpoints the WAL and closes the connection.
func (s *SQLiteSink) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// flatten renders rec's leaf values as a single space-joined string for
// FTS5 indexing, skipping excludedFromIndex keys at the top level.
func flatten(rec evtypes.Record) string {
	var sb strings.Builder
	for k, v := range rec {
		if excludedFromIndex[k] {
			continue
		}
		flattenValue(v, &sb)
	}
	return sb.String()
}

func flattenValue(v any, sb *strings.Builder) {
	switch t := v.(type) {
	case map[string]any:
		for _, nested := range t {
			flattenValue(nested, sb)
		}
	case []any:
		for _, nested := range t {
			flattenValue(nested, sb)
		}
	case string:
		sb.WriteString(t)
		sb.WriteByte(' ')
	case nil:
	default:
		fmt.Fprintf(sb, "%v ", t)
	}
}
