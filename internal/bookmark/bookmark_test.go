package bookmark

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/evebox/evebox-go/internal/reader"
)

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	inode := uint64(42)
	b := Bookmark{Path: "/var/log/eve.json", Offset: 10, Size: 1024, Sys: Sys{Inode: &inode}}

	name := filepath.Join(dir, "test.bookmark")
	if err := b.Write(name); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := FromFile(name)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if got.Path != b.Path || got.Offset != b.Offset || got.Size != b.Size {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, b)
	}
	if got.Sys.Inode == nil || *got.Sys.Inode != inode {
		t.Errorf("inode not preserved: got %+v", got.Sys)
	}
}

func TestFilenameDeterministic(t *testing.T) {
	dir := t.TempDir()
	a := Filename("/var/log/eve.json", dir)
	b := Filename("/var/log/eve.json", dir)
	if a != b {
		t.Errorf("Filename not deterministic: %q != %q", a, b)
	}
	if Filename("/var/log/other.json", dir) == a {
		t.Error("different inputs produced the same bookmark filename")
	}
}

func TestFilenameLegacyPreferred(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "eve.json")
	legacy := input + ".bookmark"
	if err := os.WriteFile(legacy, []byte("{}"), 0644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}
	if got := Filename(input, dir); got != legacy {
		t.Errorf("Filename = %q, want legacy %q", got, legacy)
	}
}

func TestIsValid(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "eve.json")
	if err := os.WriteFile(p, []byte("0123456789"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fi, err := os.Stat(p)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	inode := reader.Inode(fi)

	b := Bookmark{Path: p, Offset: 1, Size: 10, Sys: Sys{Inode: inode}}
	if err := b.IsValid(); err != nil {
		t.Errorf("expected valid bookmark, got error: %v", err)
	}

	tooBig := Bookmark{Path: p, Offset: 1, Size: 100, Sys: Sys{Inode: inode}}
	if err := tooBig.IsValid(); err == nil {
		t.Error("expected invalid bookmark when recorded size exceeds file size")
	}

	missing := Bookmark{Path: filepath.Join(dir, "gone.json"), Offset: 1, Size: 0}
	if err := missing.IsValid(); err == nil {
		t.Error("expected invalid bookmark for missing path")
	}
}

func TestChooseDir(t *testing.T) {
	dir := t.TempDir()
	got, err := ChooseDir("", filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("ChooseDir: %v", err)
	}
	if got != filepath.Join(dir, "data") {
		t.Errorf("ChooseDir = %q", got)
	}
}
