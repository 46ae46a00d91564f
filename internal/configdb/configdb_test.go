package configdb

import (
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateUserAndCheckCredentials(t *testing.T) {
	db := openTest(t)

	if err := db.CreateUser("admin", "hunter2"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	ok, err := db.CheckCredentials("admin", "hunter2")
	if err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	if !ok {
		t.Fatal("expected credentials to match")
	}

	ok, err = db.CheckCredentials("admin", "wrong")
	if err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	if ok {
		t.Fatal("expected credentials not to match")
	}

	ok, err = db.CheckCredentials("nobody", "hunter2")
	if err != nil {
		t.Fatalf("CheckCredentials: %v", err)
	}
	if ok {
		t.Fatal("expected unknown user to not match")
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := openTest(t)
	if err := db.CreateUser("admin", "hunter2"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	id, err := db.CreateSession("admin", time.Hour)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	username, ok, err := db.LookupSession(id)
	if err != nil {
		t.Fatalf("LookupSession: %v", err)
	}
	if !ok || username != "admin" {
		t.Fatalf("LookupSession = (%q, %v), want (admin, true)", username, ok)
	}

	if err := db.DeleteSession(id); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	_, ok, err = db.LookupSession(id)
	if err != nil {
		t.Fatalf("LookupSession after delete: %v", err)
	}
	if ok {
		t.Fatal("expected session to be gone after DeleteSession")
	}
}

func TestLookupSessionSweepsExpired(t *testing.T) {
	db := openTest(t)
	if err := db.CreateUser("admin", "hunter2"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	id, err := db.CreateSession("admin", -time.Minute)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, ok, err := db.LookupSession(id)
	if err != nil {
		t.Fatalf("LookupSession: %v", err)
	}
	if ok {
		t.Fatal("expected expired session to be rejected")
	}

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected expired session row to be swept, got %d rows", count)
	}
}

func TestFilterCRUD(t *testing.T) {
	db := openTest(t)

	id, err := db.AddFilter(Filter{SrcIP: "10.0.0.1", Comment: "test filter"})
	if err != nil {
		t.Fatalf("AddFilter: %v", err)
	}

	filters, err := db.ListFilters()
	if err != nil {
		t.Fatalf("ListFilters: %v", err)
	}
	if len(filters) != 1 {
		t.Fatalf("got %d filters, want 1", len(filters))
	}
	f := filters[0]
	if f.ID != id || f.SrcIP != "10.0.0.1" || f.Sensor != "*" || f.DestIP != "*" || f.SID != "*" {
		t.Fatalf("unexpected filter: %+v", f)
	}

	if err := db.RemoveFilter(id); err != nil {
		t.Fatalf("RemoveFilter: %v", err)
	}
	filters, err = db.ListFilters()
	if err != nil {
		t.Fatalf("ListFilters after remove: %v", err)
	}
	if len(filters) != 0 {
		t.Fatalf("got %d filters after remove, want 0", len(filters))
	}
}

func TestKVRoundTrip(t *testing.T) {
	db := openTest(t)

	if _, ok, err := db.GetKV("missing"); err != nil || ok {
		t.Fatalf("GetKV(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := db.SetKV("last-geoip-update", "2026-07-01"); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	v, ok, err := db.GetKV("last-geoip-update")
	if err != nil || !ok || v != "2026-07-01" {
		t.Fatalf("GetKV = (%q, %v, %v), want (2026-07-01, true, nil)", v, ok, err)
	}

	if err := db.SetKV("last-geoip-update", "2026-07-31"); err != nil {
		t.Fatalf("SetKV overwrite: %v", err)
	}
	v, _, _ = db.GetKV("last-geoip-update")
	if v != "2026-07-31" {
		t.Fatalf("GetKV after overwrite = %q, want 2026-07-31", v)
	}
}

func TestLegacySchemaTableBackfilled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	pre, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := pre.conn.Exec(`CREATE TABLE schema (version INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create legacy schema table: %v", err)
	}
	if _, err := pre.conn.Exec(`INSERT INTO schema (version) VALUES (1), (2), (3)`); err != nil {
		t.Fatalf("seed legacy schema table: %v", err)
	}
	pre.Close()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("reopen with legacy schema table: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM migration_history`).Scan(&count); err != nil {
		t.Fatalf("count migration_history: %v", err)
	}
	if count != 3 {
		t.Fatalf("migration_history has %d rows, want 3 backfilled from legacy schema table", count)
	}
}
