package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/evebox/evebox-go/internal/alerts"
	"github.com/evebox/evebox-go/internal/errkind"
	"github.com/evebox/evebox-go/internal/query"
)

// tagFilter is one comma-separated tags= element: a tag name plus whether
// its absence (rather than presence) is required.
type tagFilter struct {
	tag     string
	negated bool
}

func parseTagFilters(s string) []tagFilter {
	var out []tagFilter
	for _, tag := range splitCSV(s) {
		negated := false
		if len(tag) > 0 && (tag[0] == '-' || tag[0] == '!') {
			negated = true
			tag = tag[1:]
		}
		if tag != "" {
			out = append(out, tagFilter{tag: tag, negated: negated})
		}
	}
	return out
}

func filterGroupsByTags(groups []alerts.Group, filters []tagFilter) []alerts.Group {
	out := groups[:0]
	for _, g := range groups {
		match := true
		for _, f := range filters {
			has := g.Newest.HasTag(f.tag)
			if has == f.negated {
				match = false
				break
			}
		}
		if match {
			out = append(out, g)
		}
	}
	return out
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	elements, err := query.Parse(q.Get("q"), "+0000")
	if err != nil {
		writeError(w, errkind.Wrap(errkind.BadRequest, err))
		return
	}
	if sensor := q.Get("sensor"); sensor != "" {
		elements = append(elements, query.Element{Kind: query.KindKeyValue, Key: "host", Value: sensor})
	}

	groups, err := alerts.Aggregate(r.Context(), s.DB, elements)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err))
		return
	}

	// tags live inside the JSON source blob, not as a queryable column, so
	// the presence/absence filter is applied in Go against the group's
	// representative (newest) event rather than pushed into the SQL WHERE.
	tagFilters := parseTagFilters(q.Get("tags"))
	if len(tagFilters) > 0 {
		groups = filterGroupsByTags(groups, tagFilters)
	}

	out := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		var source map[string]any
		if raw, err := json.Marshal(g.Newest); err == nil {
			_ = json.Unmarshal(raw, &source)
		}
		out = append(out, map[string]any{
			"_source": source,
			"_metadata": map[string]any{
				"count":          g.Count,
				"escalated_count": g.EscalatedCount,
				"min_timestamp":  g.MinTimestamp.UTC().Format(time.RFC3339Nano),
				"max_timestamp":  g.MaxTimestamp.UTC().Format(time.RFC3339Nano),
				"aggregate":      true,
			},
		})
	}

	writeJSON(w, map[string]any{"events": out})
}

// handleAlertGroupMutate bulk-applies action to every event within a group's
// inclusive [min_timestamp, max_timestamp] window matching (signature_id,
// src_ip, dest_ip).
func (s *Server) handleAlertGroupMutate(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SignatureID  uint64 `json:"signature_id"`
			SrcIP        string `json:"src_ip"`
			DestIP       string `json:"dest_ip"`
			MinTimestamp string `json:"min_timestamp"`
			MaxTimestamp string `json:"max_timestamp"`
			Comment      string `json:"comment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errBadRequest("malformed alert-group body"))
			return
		}
		minT, err := time.Parse(time.RFC3339Nano, body.MinTimestamp)
		if err != nil {
			writeError(w, errBadRequest("invalid min_timestamp"))
			return
		}
		maxT, err := time.Parse(time.RFC3339Nano, body.MaxTimestamp)
		if err != nil {
			writeError(w, errBadRequest("invalid max_timestamp"))
			return
		}

		n, err := s.mutateAlertGroup(r, body.SignatureID, body.SrcIP, body.DestIP, minT, maxT, action, body.Comment)
		if err != nil {
			writeError(w, errkind.Wrap(errkind.Internal, err))
			return
		}
		writeJSON(w, map[string]any{"ok": true, "count": n})
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
