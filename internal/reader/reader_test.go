package reader

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return p
}

func TestNextRecord(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "eve.json",
		"{\"timestamp\":\"2024-01-01T00:00:01Z\"}\n"+
			"{\"timestamp\":\"2024-01-01T00:00:02Z\"}\n"+
			"{\"timestamp\":\"2024-01-01T00:00:03Z\"}\n")

	r := New(p)
	var got []string
	for i := 0; i < 3; i++ {
		rec, err := r.NextRecord()
		if err != nil {
			t.Fatalf("NextRecord: %v", err)
		}
		if rec == nil {
			t.Fatalf("expected record %d, got nil", i)
		}
		ts, _ := rec.String("timestamp")
		got = append(got, ts)
	}
	if r.LineNo() != 3 {
		t.Errorf("LineNo = %d, want 3", r.LineNo())
	}
	rec, err := r.NextRecord()
	if err != nil {
		t.Fatalf("NextRecord at EOF: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil at EOF, got %v", rec)
	}
}

func TestNextRecordPartialLine(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "eve.json")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.WriteString("{\"timestamp\":\"2024-01-01T00:00:01Z\"}\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	partial := "{\"timestamp\":\"2024-01-01T00:00:02Z\""
	if _, err := f.WriteString(partial); err != nil {
		t.Fatalf("write partial: %v", err)
	}

	r := New(p)
	rec, err := r.NextRecord()
	if err != nil {
		t.Fatalf("NextRecord: %v", err)
	}
	if rec == nil {
		t.Fatal("expected first record")
	}

	// Partial line: should return nil, not error, and not advance.
	rec, err = r.NextRecord()
	if err != nil {
		t.Fatalf("NextRecord on partial line: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil for partial line, got %v", rec)
	}
	if r.LineNo() != 1 {
		t.Errorf("LineNo = %d, want 1 (partial line must not count)", r.LineNo())
	}

	// Finish the line; a retry should now succeed.
	if _, err := f.WriteString("}\n"); err != nil {
		t.Fatalf("finish line: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rec, err = r.NextRecord()
	if err != nil {
		t.Fatalf("NextRecord after completion: %v", err)
	}
	if rec == nil {
		t.Fatal("expected second record after completion")
	}
	ts, _ := rec.String("timestamp")
	if ts != "2024-01-01T00:00:02Z" {
		t.Errorf("timestamp = %q", ts)
	}
}

func TestNextRecordParseError(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "eve.json", "not json\n{\"timestamp\":\"2024-01-01T00:00:01Z\"}\n")

	r := New(p)
	_, err := r.NextRecord()
	if err == nil {
		t.Fatal("expected parse error on first line")
	}
	if r.LineNo() != 1 {
		t.Errorf("LineNo = %d, want 1 (reader must advance past the bad line)", r.LineNo())
	}

	rec, err := r.NextRecord()
	if err != nil {
		t.Fatalf("NextRecord after bad line: %v", err)
	}
	if rec == nil {
		t.Fatal("expected second record to parse fine")
	}
}

func TestGotoLineAndEnd(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "eve.json", "a\nb\nc\nd\n")

	r := New(p)
	n, err := r.GotoLine(2)
	if err != nil {
		t.Fatalf("GotoLine: %v", err)
	}
	if n != 2 {
		t.Errorf("GotoLine returned %d, want 2", n)
	}

	r2 := New(p)
	n, err = r2.GotoEnd()
	if err != nil {
		t.Fatalf("GotoEnd: %v", err)
	}
	if n != 4 {
		t.Errorf("GotoEnd returned %d, want 4", n)
	}
}

func TestIsFileChangedTruncation(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "eve.json", "{\"timestamp\":\"2024-01-01T00:00:01Z\"}\n{\"timestamp\":\"2024-01-01T00:00:02Z\"}\n")

	r := New(p)
	if _, err := r.NextRecord(); err != nil {
		t.Fatalf("NextRecord: %v", err)
	}
	if _, err := r.NextRecord(); err != nil {
		t.Fatalf("NextRecord: %v", err)
	}
	if r.IsFileChanged() {
		t.Fatal("expected no change before truncation")
	}

	if err := os.WriteFile(p, []byte("{\"timestamp\":\"2024-01-01T00:00:10Z\"}\n"), 0644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if !r.IsFileChanged() {
		t.Fatal("expected change to be detected after truncation")
	}
}

func TestIsFileChangedMissingDiskFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "eve.json", "{\"timestamp\":\"2024-01-01T00:00:01Z\"}\n")

	r := New(p)
	if _, err := r.NextRecord(); err != nil {
		t.Fatalf("NextRecord: %v", err)
	}
	if err := os.Remove(p); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if r.IsFileChanged() {
		t.Fatal("a missing on-disk file must not be treated as a rotation while a handle is still open")
	}
}

func TestIsFileChangedBothAbsent(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if r.IsFileChanged() {
		t.Fatal("expected false when neither open nor on-disk file exists")
	}
}
