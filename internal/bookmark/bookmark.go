// Package bookmark persists and validates the (path, offset, size, inode)
// tuple that lets a Reader resume a tailed file exactly where it left off.
package bookmark

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evebox/evebox-go/internal/reader"
)

// Bookmark is the on-disk record of how far a single input file has been
// durably ingested.
type Bookmark struct {
	Path   string `json:"path"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
	Sys    Sys    `json:"sys"`
}

// Sys carries platform-specific identity; Inode is nil on platforms where
// it can't be determined.
type Sys struct {
	Inode *uint64 `json:"inode"`
}

// FromMetadata builds a Bookmark from a reader's current position.
func FromMetadata(m *reader.Metadata) Bookmark {
	return Bookmark{
		Path:   m.Filename,
		Offset: m.LineNo,
		Size:   m.Size,
		Sys:    Sys{Inode: m.Inode},
	}
}

// FromFile reads a whole bookmark file and parses it.
func FromFile(filename string) (Bookmark, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Bookmark{}, err
	}
	var b Bookmark
	if err := json.Unmarshal(data, &b); err != nil {
		return Bookmark{}, fmt.Errorf("parse bookmark %s: %w", filename, err)
	}
	return b, nil
}

// Write replaces filename's contents with the JSON-encoded bookmark plus a
// trailing newline.
func (b Bookmark) Write(filename string) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(filename, data, 0644)
}

// IsValid reports whether the bookmark still describes the file on disk:
// the path must exist, the recorded inode (if known) must match the
// current one, and the current size must be at least the recorded size.
func (b Bookmark) IsValid() error {
	fi, err := os.Stat(b.Path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", b.Path, err)
	}
	if b.Sys.Inode != nil {
		cur := reader.Inode(fi)
		if cur != nil && *cur != *b.Sys.Inode {
			return fmt.Errorf("inode mismatch for %s: recorded=%d current=%d", b.Path, *b.Sys.Inode, *cur)
		}
	}
	if uint64(fi.Size()) < b.Size {
		return fmt.Errorf("file %s has shrunk below recorded size %d", b.Path, b.Size)
	}
	return nil
}

// Filename computes the sidecar bookmark path for inputPath inside dir:
// md5hex(inputPath) + ".bookmark". If a legacy "<inputPath>.bookmark" file
// already exists, it is returned instead so existing deployments keep
// working across an upgrade.
func Filename(inputPath, dir string) string {
	legacy := inputPath + ".bookmark"
	if _, err := os.Stat(legacy); err == nil {
		return legacy
	}
	sum := md5.Sum([]byte(inputPath))
	name := hex.EncodeToString(sum[:]) + ".bookmark"
	if resolved, err := filepath.Abs(dir); err == nil {
		return filepath.Join(resolved, name)
	}
	return filepath.Join(dir, name)
}

// ChooseDir picks the bookmark directory in priority order: an explicit
// per-input directory, then a global data directory, then the current
// working directory — the first of these that is writable (tested by
// creating and removing a probe file).
func ChooseDir(perInput, global string) (string, error) {
	for _, candidate := range []string{perInput, global} {
		if candidate == "" {
			continue
		}
		if writable(candidate) {
			return candidate, nil
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if writable(cwd) {
		return cwd, nil
	}
	return "", fmt.Errorf("no writable bookmark directory found among %q, %q, %q", perInput, global, cwd)
}

func writable(dir string) bool {
	if dir == "" {
		return false
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	probe := filepath.Join(dir, ".evebox-write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(probe)
	return true
}
