// Package histogram builds zero-filled time-bucketed event counts for the
// reporting endpoints.
package histogram

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/evebox/evebox-go/internal/query"
	"github.com/evebox/evebox-go/internal/query/sqlbuilder"
)

// Bucket is one left-aligned time slot and its event count.
type Bucket struct {
	Time  time.Time
	Count int
}

// intervalTable pairs a range upper bound with the bucket interval to use
// for ranges up to and including it; the last entry (zero upper bound) is
// the catch-all.
var intervalTable = []struct {
	upTo     time.Duration
	interval time.Duration
}{
	{60 * time.Second, time.Second},
	{time.Hour, 60 * time.Second},
	{3 * time.Hour, 120 * time.Second},
	{6 * time.Hour, 180 * time.Second},
	{12 * time.Hour, 300 * time.Second},
	{24 * time.Hour, 900 * time.Second},
	{3 * 24 * time.Hour, 3600 * time.Second},
	{7 * 24 * time.Hour, 10800 * time.Second},
	{14 * 24 * time.Hour, 43200 * time.Second},
}

const catchAllInterval = 86400 * time.Second

// SelectInterval picks the bucket width for a span, per the fixed table.
func SelectInterval(span time.Duration) time.Duration {
	for _, row := range intervalTable {
		if span <= row.upTo {
			return row.interval
		}
	}
	return catchAllInterval
}

// Build queries db for events matching elements within [tmin, tmax] (tmin
// zero means "query the store for the earliest event"), and returns a
// contiguous, zero-filled series from tmin through tmax inclusive. An empty
// store with no matching events yields an empty series.
func Build(ctx context.Context, db *sql.DB, elements []query.Element, tmin, tmax time.Time, interval time.Duration) ([]Bucket, error) {
	if tmin.IsZero() {
		found, err := earliestTimestamp(ctx, db, elements)
		if err != nil {
			return nil, err
		}
		if found.IsZero() {
			return nil, nil
		}
		tmin = found
	}

	if interval <= 0 {
		interval = SelectInterval(tmax.Sub(tmin))
	}

	counts, err := countByBucket(ctx, db, elements, tmin, tmax, interval)
	if err != nil {
		return nil, err
	}

	return fillGaps(counts, tmin, tmax, interval), nil
}

func earliestTimestamp(ctx context.Context, db *sql.DB, elements []query.Element) (time.Time, error) {
	q := sqlbuilder.Build(elements, sqlbuilder.Options{HasFTS: true, Order: "asc", Limit: 1})
	var ts int64
	row := db.QueryRowContext(ctx, q.SQL, q.Args...)
	if err := row.Scan(new(int64), &ts, new(int), new(int), new(string)); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("query earliest timestamp: %w", err)
	}
	return time.Unix(0, ts).UTC(), nil
}

func countByBucket(ctx context.Context, db *sql.DB, elements []query.Element, tmin, tmax time.Time, interval time.Duration) (map[int64]int, error) {
	withBounds := append([]query.Element{}, elements...)
	withBounds = append(withBounds,
		query.Element{Kind: query.KindFrom, Time: tmin},
		query.Element{Kind: query.KindTo, Time: tmax},
	)
	q := sqlbuilder.Build(withBounds, sqlbuilder.Options{HasFTS: true})

	rows, err := db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query histogram rows: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	intervalNs := interval.Nanoseconds()
	for rows.Next() {
		var id, ts int64
		var archived, escalated int
		var source string
		if err := rows.Scan(&id, &ts, &archived, &escalated, &source); err != nil {
			return nil, fmt.Errorf("scan histogram row: %w", err)
		}
		bucket := (ts / intervalNs) * intervalNs
		counts[bucket]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate histogram rows: %w", err)
	}
	return counts, nil
}

func fillGaps(counts map[int64]int, tmin, tmax time.Time, interval time.Duration) []Bucket {
	intervalNs := interval.Nanoseconds()
	first := (tmin.UnixNano() / intervalNs) * intervalNs
	last := (tmax.UnixNano() / intervalNs) * intervalNs

	var out []Bucket
	for b := first; b <= last; b += intervalNs {
		out = append(out, Bucket{Time: time.Unix(0, b).UTC(), Count: counts[b]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
