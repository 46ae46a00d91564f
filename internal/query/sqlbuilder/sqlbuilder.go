// Package sqlbuilder composes parameterised SQL (against the SQLite events
// table, with FTS5 when available) from a parsed query-element sequence.
package sqlbuilder

import (
	"fmt"
	"strings"

	"github.com/evebox/evebox-go/internal/query"
)

// Options configures the emitted query.
type Options struct {
	// HasFTS reports whether the events database has a usable fts5 index;
	// when false, free-string terms fall back to a LIKE scan.
	HasFTS bool
	// EventType, when non-empty, restricts the query to a single
	// event_type (used by the Alert Aggregator).
	EventType string
	// GroupBy, when non-empty, is appended as a GROUP BY clause.
	GroupBy string
	Limit   int
	Order   string // "asc" or "desc" on timestamp
}

// Query is a ready-to-execute parameterised statement.
type Query struct {
	SQL  string
	Args []any
}

// BuildWhere composes the WHERE predicate list and bound args shared by
// Build and by callers needing a custom SELECT shape (the aggregation
// endpoint's GROUP BY over a json_extract'd field, for instance).
func BuildWhere(elements []query.Element, opts Options) (where []string, args []any, needsFTSJoin bool) {
	for _, el := range elements {
		switch el.Kind {
		case query.KindString:
			if opts.HasFTS {
				needsFTSJoin = true
				clause := "fts MATCH ?"
				if el.Negated {
					clause = "rowid NOT IN (SELECT rowid FROM fts WHERE fts MATCH ?)"
				}
				where = append(where, clause)
				args = append(args, `"`+strings.ReplaceAll(el.Str, `"`, `""`)+`"`)
			} else {
				op := "LIKE"
				if el.Negated {
					op = "NOT LIKE"
				}
				where = append(where, fmt.Sprintf("source_values %s ?", op))
				args = append(args, "%"+el.Str+"%")
			}

		case query.KindKeyValue:
			lower := strings.ToLower(el.Key)
			if lower == "@ip" || lower == "@mac" {
				fields := query.IPMacFields(query.SchemaClassic)
				var ors []string
				for _, f := range fields {
					ors = append(ors, fmt.Sprintf("json_extract(source, '$.%s') = ?", f))
					args = append(args, el.Value)
				}
				clause := "(" + strings.Join(ors, " OR ") + ")"
				if el.Negated {
					clause = "NOT " + clause
				}
				where = append(where, clause)
				continue
			}
			path := query.MapField(el.Key, query.SchemaClassic)
			op := "="
			if el.Negated {
				op = "!="
			}
			where = append(where, fmt.Sprintf("json_extract(source, '$.%s') %s ?", path, op))
			args = append(args, el.Value)

		case query.KindFrom:
			where = append(where, "timestamp >= ?")
			args = append(args, el.Time.UnixNano())

		case query.KindTo:
			where = append(where, "timestamp <= ?")
			args = append(args, el.Time.UnixNano())
		}
	}

	if opts.EventType != "" {
		where = append(where, "json_extract(source, '$.event_type') = ?")
		args = append(args, opts.EventType)
	}

	return where, args, needsFTSJoin
}

// Build composes a SELECT over events (and, for free-string terms, a join
// against fts) satisfying elements under opts.
func Build(elements []query.Element, opts Options) Query {
	where, args, needsFTSJoin := BuildWhere(elements, opts)

	var sb strings.Builder
	sb.WriteString("SELECT rowid AS id, timestamp, archived, escalated, source FROM events")
	if needsFTSJoin {
		sb.WriteString(", fts")
		where = append([]string{"events.rowid = fts.rowid"}, where...)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if opts.GroupBy != "" {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(opts.GroupBy)
	}
	order := "DESC"
	if strings.EqualFold(opts.Order, "asc") {
		order = "ASC"
	}
	sb.WriteString(" ORDER BY timestamp " + order)
	if opts.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", opts.Limit))
	}

	return Query{SQL: sb.String(), Args: args}
}
