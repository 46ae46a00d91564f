// Package dslbuilder composes an Elasticsearch search-DSL document from a
// parsed query-element sequence, mirroring sqlbuilder's semantic contract
// for the Elastic-backed sink.
package dslbuilder

import (
	"strings"

	"github.com/evebox/evebox-go/internal/query"
)

// Options configures the emitted query document.
type Options struct {
	Schema    query.Schema
	EventType string
	Size      int
	SortAsc   bool
}

// clause is a single Elasticsearch leaf query.
type clause map[string]any

// Build composes a query object suitable for the "query" field of a search
// request body, plus any requested size/sort directives as a full request
// document.
func Build(elements []query.Element, opts Options) map[string]any {
	var must []clause
	var mustNot []clause

	for _, el := range elements {
		switch el.Kind {
		case query.KindString:
			c := clause{"query_string": map[string]any{"query": el.Str, "default_operator": "AND", "lenient": true}}
			if el.Negated {
				mustNot = append(mustNot, c)
			} else {
				must = append(must, c)
			}

		case query.KindKeyValue:
			lower := strings.ToLower(el.Key)
			if lower == "@ip" || lower == "@mac" {
				fields := query.IPMacFields(opts.Schema)
				var should []clause
				for _, f := range fields {
					should = append(should, clause{"term": map[string]any{f: el.Value}})
				}
				c := clause{"bool": map[string]any{"should": toAny(should), "minimum_should_match": 1}}
				if el.Negated {
					mustNot = append(mustNot, c)
				} else {
					must = append(must, c)
				}
				continue
			}
			field := query.MapField(el.Key, opts.Schema)
			c := clause{"match": map[string]any{field: el.Value}}
			if el.Negated {
				mustNot = append(mustNot, c)
			} else {
				must = append(must, c)
			}

		case query.KindFrom:
			tsField := query.MapField("timestamp", opts.Schema)
			must = append(must, clause{"range": map[string]any{
				tsField: map[string]any{"gte": el.Time.UTC().Format("2006-01-02T15:04:05.000Z")},
			}})

		case query.KindTo:
			tsField := query.MapField("timestamp", opts.Schema)
			must = append(must, clause{"range": map[string]any{
				tsField: map[string]any{"lte": el.Time.UTC().Format("2006-01-02T15:04:05.000Z")},
			}})
		}
	}

	if opts.EventType != "" {
		field := query.MapField("event_type", opts.Schema)
		must = append(must, clause{"term": map[string]any{field: opts.EventType}})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = toAny(must)
	} else {
		boolQuery["must"] = []any{map[string]any{"match_all": map[string]any{}}}
	}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = toAny(mustNot)
	}

	doc := map[string]any{
		"query": map[string]any{"bool": boolQuery},
	}
	if opts.Size > 0 {
		doc["size"] = opts.Size
	}
	order := "desc"
	if opts.SortAsc {
		order = "asc"
	}
	tsField := query.MapField("timestamp", opts.Schema)
	doc["sort"] = []any{map[string]any{tsField: map[string]any{"order": order}}}

	return doc
}

func toAny(cs []clause) []any {
	out := make([]any, len(cs))
	for i, c := range cs {
		out[i] = map[string]any(c)
	}
	return out
}
