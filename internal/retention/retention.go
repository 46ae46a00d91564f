// Package retention periodically deletes aged-out, non-escalated events and
// auto-archives aged alerts that haven't been archived yet.
package retention

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/evebox/evebox-go/internal/evtypes"
)

// pollInterval is the loop's steady-state cadence.
const pollInterval = 60 * time.Second

// fullBatchPause is how long to wait before re-running immediately after a
// full batch was deleted (there may be more to do right away).
const fullBatchPause = time.Second

// deleteBatchSize caps rows removed per iteration so a single delete
// doesn't hold SQLite's write lock for long.
const deleteBatchSize = 1000

// Loop runs the retention delete and auto-archive-by-age tasks.
type Loop struct {
	DB *sql.DB

	// RetentionDays is the age past which non-escalated events are
	// permanently deleted. Zero disables deletion.
	RetentionDays int

	// ArchiveAgeDays is the age past which un-archived alerts get
	// evebox.archived/evebox.auto-archived tags applied. Zero disables
	// auto-archiving.
	ArchiveAgeDays int

	Log *zap.Logger
}

// Run blocks until ctx is cancelled, running both tasks every pollInterval
// (or sooner, if a full delete batch suggests there is more to do).
func (l *Loop) Run(ctx context.Context) {
	for {
		wait := pollInterval

		if l.RetentionDays > 0 {
			n, err := l.deleteAged(ctx)
			if err != nil {
				l.Log.Error("retention delete failed", zap.Error(err))
			} else if n > 0 {
				l.Log.Info("retention deleted events", zap.Int("count", n))
				if n >= deleteBatchSize {
					wait = fullBatchPause
				}
			}
		}

		if l.ArchiveAgeDays > 0 {
			n, err := l.autoArchiveAged(ctx)
			if err != nil {
				l.Log.Error("auto-archive by age failed", zap.Error(err))
			} else if n > 0 {
				l.Log.Info("auto-archived aged alerts", zap.Int("count", n))
			}
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// deleteAged removes up to deleteBatchSize events older than the retention
// cutoff that are not escalated, returning how many rows were removed.
func (l *Loop) deleteAged(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Duration(l.RetentionDays) * 24 * time.Hour).UnixNano()
	res, err := l.DB.ExecContext(ctx, `
		DELETE FROM events WHERE rowid IN (
			SELECT rowid FROM events WHERE timestamp < ? AND escalated = 0 LIMIT ?
		)
	`, cutoff, deleteBatchSize)
	if err != nil {
		return 0, fmt.Errorf("delete aged events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// autoArchiveAged tags un-archived alerts older than the archive-age cutoff
// with evebox.archived/evebox.auto-archived, flipping the archived column
// to match. Tags live inside the JSON source column, so each candidate row
// is read, mutated in Go, and written back individually.
func (l *Loop) autoArchiveAged(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Duration(l.ArchiveAgeDays) * 24 * time.Hour).UnixNano()

	rows, err := l.DB.QueryContext(ctx, `
		SELECT rowid, source FROM events
		WHERE timestamp < ? AND archived = 0
		  AND json_extract(source, '$.event_type') = 'alert'
		LIMIT ?
	`, cutoff, deleteBatchSize)
	if err != nil {
		return 0, fmt.Errorf("select aged alerts: %w", err)
	}

	type candidate struct {
		rowid  int64
		source string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.rowid, &c.source); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan aged alert: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate aged alerts: %w", err)
	}
	rows.Close()

	updated := 0
	for _, c := range candidates {
		rec, err := evtypes.ParseRecord([]byte(c.source))
		if err != nil {
			l.Log.Warn("skipping unparseable event during auto-archive", zap.Int64("rowid", c.rowid), zap.Error(err))
			continue
		}
		rec.AddTag("evebox.archived")
		rec.AddTag("evebox.auto-archived")
		raw, err := json.Marshal(rec)
		if err != nil {
			return updated, fmt.Errorf("marshal auto-archived event: %w", err)
		}
		if _, err := l.DB.ExecContext(ctx, `UPDATE events SET archived = 1, source = ? WHERE rowid = ?`, raw, c.rowid); err != nil {
			return updated, fmt.Errorf("update auto-archived event %d: %w", c.rowid, err)
		}
		updated++
	}
	return updated, nil
}
