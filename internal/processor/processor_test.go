package processor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/evebox/evebox-go/internal/bookmark"
	"github.com/evebox/evebox-go/internal/evtypes"
	"github.com/evebox/evebox-go/internal/logging"
	"github.com/evebox/evebox-go/internal/reader"
)

// fakeSink buffers submitted records and always reports full (and thus
// commits) once it holds a single record, so Oneshot runs drain quickly.
type fakeSink struct {
	mu        sync.Mutex
	buffered  []evtypes.Record
	committed []evtypes.Record
	commits   int
}

func (s *fakeSink) Submit(rec evtypes.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered = append(s.buffered, rec)
	return true, nil
}

func (s *fakeSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffered)
}

func (s *fakeSink) Commit(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.buffered)
	s.committed = append(s.committed, s.buffered...)
	s.buffered = nil
	s.commits++
	return n, nil
}

func writeEveFile(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, "eve.json")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write eve file: %v", err)
	}
	return p
}

func TestProcessorOneshotDrainsAndCommits(t *testing.T) {
	dir := t.TempDir()
	path := writeEveFile(t, dir,
		`{"timestamp":"2024-01-01T00:00:01Z","event_type":"alert"}`,
		`{"timestamp":"2024-01-01T00:00:02Z","event_type":"alert"}`,
	)

	s := &fakeSink{}
	bmPath := filepath.Join(dir, "eve.json.bookmark")
	p := &Processor{
		Reader:           reader.New(path),
		Sink:             s,
		BookmarkFilename: bmPath,
		Oneshot:          true,
		Log:              logging.Nop(),
	}

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not finish oneshot run in time")
	}

	if len(s.committed) != 2 {
		t.Fatalf("committed %d records, want 2", len(s.committed))
	}
	if s.commits == 0 {
		t.Fatalf("expected at least one commit")
	}

	bm, err := bookmark.FromFile(bmPath)
	if err != nil {
		t.Fatalf("read bookmark: %v", err)
	}
	if bm.Offset != 2 {
		t.Fatalf("bookmark offset = %d, want 2", bm.Offset)
	}
}

func TestProcessorResumesFromBookmark(t *testing.T) {
	dir := t.TempDir()
	path := writeEveFile(t, dir,
		`{"timestamp":"2024-01-01T00:00:01Z","event_type":"alert"}`,
		`{"timestamp":"2024-01-01T00:00:02Z","event_type":"alert"}`,
		`{"timestamp":"2024-01-01T00:00:03Z","event_type":"alert"}`,
	)

	bmPath := filepath.Join(dir, "eve.json.bookmark")
	seed := bookmark.Bookmark{Path: path, Offset: 2, Size: 1}
	if err := seed.Write(bmPath); err != nil {
		t.Fatalf("seed bookmark: %v", err)
	}

	s := &fakeSink{}
	p := &Processor{
		Reader:           reader.New(path),
		Sink:             s,
		BookmarkFilename: bmPath,
		Oneshot:          true,
		Log:              logging.Nop(),
	}

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not finish oneshot run in time")
	}

	if len(s.committed) != 1 {
		t.Fatalf("committed %d records, want 1 (resumed past first two lines)", len(s.committed))
	}
}

func TestProcessorContextCancellation(t *testing.T) {
	dir := t.TempDir()
	path := writeEveFile(t, dir)

	s := &fakeSink{}
	p := &Processor{
		Reader: reader.New(path),
		Sink:   s,
		Log:    logging.Nop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop after context cancellation")
	}
}
