// Package configdb owns the users/sessions/filters/kv database, distinct
// from the events store, that backs authentication and auto-archive
// filters.
package configdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS migration_history (
	version    INTEGER PRIMARY KEY,
	applied_at INTEGER DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	created_at    INTEGER DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	created_at INTEGER DEFAULT (strftime('%s', 'now')),
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS filters (
	filter_id TEXT PRIMARY KEY,
	sensor    TEXT NOT NULL DEFAULT '*',
	src_ip    TEXT NOT NULL DEFAULT '*',
	dest_ip   TEXT NOT NULL DEFAULT '*',
	sid       TEXT NOT NULL DEFAULT '*',
	comment   TEXT,
	created_at INTEGER DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB wraps the config database connection.
type DB struct {
	conn *sql.DB
}

// Open creates or opens the config database at path (or in-memory if path
// is ":memory:") and runs its migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open config db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping config db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate applies schema, rewriting a legacy integer-version "schema" table
// (if one is found) into migration_history with synthetic entries so later
// migrations apply exactly once.
func (db *DB) migrate() error {
	var legacyExists int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema'`).Scan(&legacyExists)
	if err != nil {
		return fmt.Errorf("check legacy schema table: %w", err)
	}

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if legacyExists > 0 {
		rows, err := db.conn.Query(`SELECT version FROM schema ORDER BY version`)
		if err != nil {
			return fmt.Errorf("read legacy schema versions: %w", err)
		}
		var versions []int
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return fmt.Errorf("scan legacy schema version: %w", err)
			}
			versions = append(versions, v)
		}
		rows.Close()
		for _, v := range versions {
			if _, err := db.conn.Exec(`INSERT OR IGNORE INTO migration_history (version) VALUES (?)`, v); err != nil {
				return fmt.Errorf("backfill migration_history: %w", err)
			}
		}
	}
	return nil
}

// CreateUser inserts a user with a bcrypt-hashed password.
func (db *DB) CreateUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = db.conn.Exec(`INSERT INTO users (username, password_hash) VALUES (?, ?)`, username, string(hash))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// CheckCredentials reports whether password matches the stored hash for
// username.
func (db *DB) CheckCredentials(username, password string) (bool, error) {
	var hash string
	err := db.conn.QueryRow(`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

// CreateSession issues a new session for username, valid for ttl.
func (db *DB) CreateSession(username string, ttl time.Duration) (string, error) {
	id := uuid.New().String()
	expiresAt := time.Now().Add(ttl).Unix()
	_, err := db.conn.Exec(`INSERT INTO sessions (session_id, username, expires_at) VALUES (?, ?, ?)`, id, username, expiresAt)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// LookupSession returns the username for a valid, unexpired session id,
// sweeping expired sessions as a side effect. ok is false both for a
// missing session and an expired one.
func (db *DB) LookupSession(sessionID string) (username string, ok bool, err error) {
	if _, sweepErr := db.conn.Exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now().Unix()); sweepErr != nil {
		return "", false, fmt.Errorf("sweep expired sessions: %w", sweepErr)
	}

	err = db.conn.QueryRow(`SELECT username FROM sessions WHERE session_id = ?`, sessionID).Scan(&username)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup session: %w", err)
	}
	return username, true, nil
}

// DeleteSession logs a session id out.
func (db *DB) DeleteSession(sessionID string) error {
	_, err := db.conn.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Filter is one auto-archive rule row.
type Filter struct {
	ID      string
	Sensor  string
	SrcIP   string
	DestIP  string
	SID     string
	Comment string
}

// AddFilter inserts a new auto-archive filter, returning its id.
func (db *DB) AddFilter(f Filter) (string, error) {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	_, err := db.conn.Exec(`
		INSERT INTO filters (filter_id, sensor, src_ip, dest_ip, sid, comment)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, orStar(f.Sensor), orStar(f.SrcIP), orStar(f.DestIP), orStar(f.SID), f.Comment)
	if err != nil {
		return "", fmt.Errorf("add filter: %w", err)
	}
	return f.ID, nil
}

// RemoveFilter deletes a filter by id.
func (db *DB) RemoveFilter(id string) error {
	_, err := db.conn.Exec(`DELETE FROM filters WHERE filter_id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove filter: %w", err)
	}
	return nil
}

// ListFilters returns every auto-archive filter row, used to (re)build the
// in-memory auto-archive index at startup.
func (db *DB) ListFilters() ([]Filter, error) {
	rows, err := db.conn.Query(`SELECT filter_id, sensor, src_ip, dest_ip, sid, COALESCE(comment, '') FROM filters`)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	defer rows.Close()

	var out []Filter
	for rows.Next() {
		var f Filter
		if err := rows.Scan(&f.ID, &f.Sensor, &f.SrcIP, &f.DestIP, &f.SID, &f.Comment); err != nil {
			return nil, fmt.Errorf("scan filter: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetKV reads a kv-table value, returning ok=false if absent.
func (db *DB) GetKV(key string) (value string, ok bool, err error) {
	err = db.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get kv %s: %w", key, err)
	}
	return value, true, nil
}

// SetKV upserts a kv-table value.
func (db *DB) SetKV(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
