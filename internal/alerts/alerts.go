// Package alerts groups raw alert events into the deduplicated inbox view
// the triage UI queries against.
package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/evebox/evebox-go/internal/evtypes"
	"github.com/evebox/evebox-go/internal/query"
	"github.com/evebox/evebox-go/internal/query/sqlbuilder"
)

// Group is one aggregated alert: the newest event in the group decorated
// with the counts and timestamp bounds a caller needs to render it.
type Group struct {
	SignatureID   uint64
	SrcIP         string
	DestIP        string
	Count         int
	EscalatedCount int
	MinTimestamp  time.Time
	MaxTimestamp  time.Time
	Newest        evtypes.Record
}

type groupKey struct {
	sig  uint64
	src  string
	dest string
}

// Aggregate runs elements (as built by the query parser) against db,
// restricted to event_type=alert, and groups the hits by
// (signature_id, src_ip, dest_ip).
func Aggregate(ctx context.Context, db *sql.DB, elements []query.Element) ([]Group, error) {
	q := sqlbuilder.Build(elements, sqlbuilder.Options{
		HasFTS:    true,
		EventType: "alert",
		Order:     "asc",
	})

	rows, err := db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	groups := make(map[groupKey]*Group)
	var order []groupKey

	for rows.Next() {
		var id int64
		var ts int64
		var archived, escalated int
		var source string
		if err := rows.Scan(&id, &ts, &archived, &escalated, &source); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		rec, err := evtypes.ParseRecord([]byte(source))
		if err != nil {
			return nil, fmt.Errorf("parse alert row %d: %w", id, err)
		}

		sig, _ := rec.Uint64("alert.signature_id")
		src, _ := rec.String("src_ip")
		dest, _ := rec.String("dest_ip")
		key := groupKey{sig: sig, src: src, dest: dest}

		t := time.Unix(0, ts).UTC()

		g, ok := groups[key]
		if !ok {
			g = &Group{SignatureID: sig, SrcIP: src, DestIP: dest, MinTimestamp: t, MaxTimestamp: t, Newest: rec}
			groups[key] = g
			order = append(order, key)
		}
		g.Count++
		if escalated != 0 || rec.HasTag("evebox.escalated") {
			g.EscalatedCount++
		}
		if t.Before(g.MinTimestamp) {
			g.MinTimestamp = t
		}
		if !t.Before(g.MaxTimestamp) {
			g.MaxTimestamp = t
			g.Newest = rec
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rows: %w", err)
	}

	out := make([]Group, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	return out, nil
}
