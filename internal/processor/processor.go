// Package processor binds a reader, filter chain, sink and bookmark into the
// read-filter-submit-commit loop that drains one tailed EVE file.
package processor

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/evebox/evebox-go/internal/bookmark"
	"github.com/evebox/evebox-go/internal/filters"
	"github.com/evebox/evebox-go/internal/reader"
	"github.com/evebox/evebox-go/internal/sink"
)

// DefaultBatchSize is the pending-event count at which a commit is forced
// even if the sink itself hasn't requested one.
const DefaultBatchSize = 100

// Processor drains one Reader through a filter chain into a Sink,
// checkpointing progress via a bookmark file after every successful commit.
type Processor struct {
	Reader           *reader.Reader
	Sink             sink.Sink
	Filters          *filters.Chain
	BookmarkFilename string

	// End selects where the reader starts in the absence of a valid
	// bookmark: true means the end of the file (tail mode), false the
	// beginning (replay mode).
	End bool

	// Oneshot exits the run loop on EOF instead of tailing forever.
	Oneshot bool

	// BatchSize overrides DefaultBatchSize when non-zero.
	BatchSize int

	// ReportInterval, when non-zero, logs read/commit/eof counters at
	// that cadence. Zero disables periodic reporting.
	ReportInterval time.Duration

	Log *zap.Logger
}

// initFromBookmark attempts to resume the reader from BookmarkFilename. It
// reports false if there is no bookmark, it can't be read, or it no longer
// describes the file on disk.
func (p *Processor) initFromBookmark() bool {
	if p.BookmarkFilename == "" {
		return false
	}
	bm, err := bookmark.FromFile(p.BookmarkFilename)
	if err != nil {
		p.Log.Warn("failed to load bookmark", zap.Error(err))
		return false
	}
	if err := bm.IsValid(); err != nil {
		p.Log.Info("invalid bookmark found", zap.Error(err))
		return false
	}
	if _, err := p.Reader.GotoLine(bm.Offset); err != nil {
		p.Log.Warn("failed to skip to bookmarked line", zap.Uint64("offset", bm.Offset), zap.Error(err))
		return false
	}
	p.Log.Info("valid bookmark found, resuming", zap.Uint64("offset", bm.Offset))
	return true
}

// Run drains the reader until ctx is cancelled (or, in Oneshot mode, until
// EOF). Read errors and commit failures are retried rather than fatal: a
// transient I/O error or unreachable sink should not kill the processor.
func (p *Processor) Run(ctx context.Context) {
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if !p.initFromBookmark() && p.End {
		n, err := p.Reader.GotoEnd()
		if err != nil {
			p.Log.Error("failed to skip to end of file", zap.Error(err))
		} else {
			p.Log.Info("skipped to end of file", zap.Uint64("lines", n))
		}
	}

	var commits, count, eofs int
	lastReport := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.ReportInterval > 0 && time.Since(lastReport) > p.ReportInterval {
			p.Log.Debug("processor report",
				zap.String("filename", p.Reader.Filename),
				zap.Int("count", count), zap.Int("commits", commits), zap.Int("eofs", eofs))
			count, commits, eofs = 0, 0, 0
			lastReport = time.Now()
		}

		rec, err := p.Reader.NextRecord()
		switch {
		case err != nil:
			p.Log.Error("failed to read event", zap.String("filename", p.Reader.Filename), zap.Error(err))
			if !p.sleepFor(ctx, time.Second) {
				return
			}

		case rec == nil:
			eofs++
			if p.Sink.Pending() > 0 {
				if !p.commit(ctx) {
					return
				}
				commits++
			} else if !p.Oneshot && p.Reader.IsFileChanged() {
				p.Log.Info("file may have been rotated, will reopen", zap.String("filename", p.Reader.Filename))
				if err := p.Reader.Reopen(); err != nil {
					p.Log.Error("failed to reopen", zap.String("filename", p.Reader.Filename), zap.Error(err))
				}
			}

			if p.Oneshot {
				p.report(count, commits, eofs)
				return
			}
			if !p.sleepFor(ctx, time.Second) {
				return
			}

		default:
			if p.Filters != nil {
				p.Filters.Run(rec)
			}
			count++
			full, err := p.Sink.Submit(rec)
			if err != nil {
				p.Log.Error("failed to submit event", zap.Error(err))
			} else if full || p.Sink.Pending() >= batchSize {
				if !p.commit(ctx) {
					return
				}
				commits++
			}
		}

		runtime.Gosched()
	}
}

// sleepFor blocks for d or until ctx is cancelled, reporting whether it
// completed the full sleep.
func (p *Processor) sleepFor(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// commit retries until the sink accepts the batch, then writes a bookmark.
// It only gives up if ctx is cancelled mid-retry.
func (p *Processor) commit(ctx context.Context) bool {
	for {
		if _, err := p.Sink.Commit(ctx); err != nil {
			p.Log.Error("failed to commit events, will retry", zap.Error(err))
			if !p.sleepFor(ctx, time.Second) {
				return false
			}
			continue
		}
		p.writeBookmark()
		return true
	}
}

func (p *Processor) writeBookmark() {
	if p.BookmarkFilename == "" {
		return
	}
	meta := p.Reader.Metadata()
	if meta == nil {
		return
	}
	bm := bookmark.FromMetadata(meta)
	if err := bm.Write(p.BookmarkFilename); err != nil {
		p.Log.Error("failed to write bookmark", zap.String("filename", p.BookmarkFilename), zap.Error(err))
	}
}

func (p *Processor) report(count, commits, eofs int) {
	p.Log.Info("processor stopped",
		zap.String("filename", p.Reader.Filename),
		zap.Int("count", count), zap.Int("commits", commits), zap.Int("eofs", eofs))
}
