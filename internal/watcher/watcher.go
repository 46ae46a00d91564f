// Package watcher discovers EVE log files matching a set of glob patterns
// and spawns a Processor for each newly observed path.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/evebox/evebox-go/internal/bookmark"
	"github.com/evebox/evebox-go/internal/filters"
	"github.com/evebox/evebox-go/internal/processor"
	"github.com/evebox/evebox-go/internal/reader"
	"github.com/evebox/evebox-go/internal/sink"
)

// PollInterval is how often patterns are re-globbed for newly created files.
const PollInterval = 15 * time.Second

// Watcher owns one Processor per discovered file, all sharing a single
// Sink and the base Filter Chain.
type Watcher struct {
	Patterns     []string
	Sink         sink.Sink
	BaseFilters  *filters.Chain
	BookmarkDir  string
	GlobalDir    string
	Oneshot      bool
	BatchSize    int
	ReportPeriod time.Duration
	Log          *zap.Logger

	// Fatal receives an error whenever a spawned Processor's Run returns
	// while its context is still live (in Oneshot mode, that happens once
	// the file has been read to EOF); the daemon's main loop treats this as
	// a fatal condition per the documented exit codes.
	Fatal chan error

	mu      sync.Mutex
	known   map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Watcher. Fatal is buffered so a single failing file
// doesn't block discovery of others.
func New(patterns []string, sk sink.Sink, baseFilters *filters.Chain, log *zap.Logger) *Watcher {
	return &Watcher{
		Patterns:    patterns,
		Sink:        sk,
		BaseFilters: baseFilters,
		Log:         log,
		Fatal:       make(chan error, 16),
		known:       make(map[string]context.CancelFunc),
	}
}

// Run polls Patterns every PollInterval until ctx is cancelled, spawning a
// Processor goroutine for each newly discovered file.
func (w *Watcher) Run(ctx context.Context) {
	w.scan(ctx)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	for _, pattern := range w.Patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			w.Log.Error("invalid glob pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, path := range matches {
			w.mu.Lock()
			_, exists := w.known[path]
			w.mu.Unlock()
			if exists {
				continue
			}
			w.spawn(ctx, path)
		}
	}
}

func (w *Watcher) spawn(ctx context.Context, path string) {
	fileCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.known[path] = cancel
	w.mu.Unlock()

	dir, err := bookmark.ChooseDir(w.BookmarkDir, w.GlobalDir)
	if err != nil {
		w.Log.Error("no writable bookmark directory for file, skipping", zap.String("path", path), zap.Error(err))
		w.mu.Lock()
		delete(w.known, path)
		w.mu.Unlock()
		return
	}
	bookmarkFilename := bookmark.Filename(path, dir)

	chain := w.BaseFilters.WithFilter(&filters.CustomFieldFilter{Field: "agent_filename", Value: path})

	p := &processor.Processor{
		Reader:           reader.New(path),
		Sink:             w.Sink,
		Filters:          chain,
		BookmarkFilename: bookmarkFilename,
		End:              !w.Oneshot,
		Oneshot:          w.Oneshot,
		BatchSize:        w.BatchSize,
		ReportInterval:   w.ReportPeriod,
		Log:              w.Log.With(zap.String("filename", path)),
	}

	w.Log.Info("watching new file", zap.String("path", path))
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.known, path)
			w.mu.Unlock()
		}()
		p.Run(fileCtx)
		if fileCtx.Err() == nil {
			select {
			case w.Fatal <- fmt.Errorf("processor for %s stopped unexpectedly", path):
			default:
			}
		}
	}()
}
