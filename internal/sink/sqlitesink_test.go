package sink

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/evebox/evebox-go/internal/evtypes"
)

func newRecord(t *testing.T, sig string) evtypes.Record {
	t.Helper()
	rec, err := evtypes.ParseRecord([]byte(`{"timestamp":"2024-01-01T00:00:00Z","event_type":"alert","alert":{"signature":"` + sig + `"}}`))
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	return rec
}

func TestSQLiteSinkSubmitAndCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	full, err := s.Submit(newRecord(t, "ET POLICY test"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if full {
		t.Fatalf("expected batch not yet full after one submit")
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", s.Pending())
	}

	n, err := s.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n != 1 {
		t.Fatalf("Commit returned %d, want 1", n)
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending() after commit = %d, want 0", s.Pending())
	}

	var count int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Fatalf("events row count = %d, want 1", count)
	}

	var matched int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM fts WHERE fts MATCH 'POLICY'").Scan(&matched); err != nil {
		t.Fatalf("fts query: %v", err)
	}
	if matched != 1 {
		t.Fatalf("fts match count = %d, want 1", matched)
	}
}

func TestSQLiteSinkSubmitNeverRequestsImmediateCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	for i := 0; i < 150; i++ {
		full, err := s.Submit(newRecord(t, "ET POLICY test"))
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if full {
			t.Fatalf("Submit requested immediate commit at i=%d, want never", i)
		}
	}
	if s.Pending() != 150 {
		t.Fatalf("Pending() = %d, want 150", s.Pending())
	}
}

func TestSQLiteSinkCommitEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	n, err := s.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n != 0 {
		t.Fatalf("Commit on empty buffer returned %d, want 0", n)
	}
}

func TestSQLiteSinkArchivedFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	rec := newRecord(t, "ET POLICY test")
	rec.AddTag("evebox.archived")
	if _, err := s.Submit(rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	var archived int
	if err := s.DB().QueryRow("SELECT archived FROM events LIMIT 1").Scan(&archived); err != nil {
		t.Fatalf("query archived: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want 1", archived)
	}
}
