package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/evebox/evebox-go/internal/errkind"
	"github.com/evebox/evebox-go/internal/histogram"
	"github.com/evebox/evebox-go/internal/query"
	"github.com/evebox/evebox-go/internal/query/sqlbuilder"
)

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	elements, err := query.Parse(q.Get("q"), "+0000")
	if err != nil {
		writeError(w, errkind.Wrap(errkind.BadRequest, err))
		return
	}

	var interval time.Duration
	if v := q.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, errBadRequest("invalid interval"))
			return
		}
		interval = d
	}

	tmin, tmax := timeBoundsFromElements(elements)
	if tmax.IsZero() {
		tmax = time.Now().UTC()
	}

	buckets, err := histogram.Build(r.Context(), s.DB, elements, tmin, tmax, interval)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err))
		return
	}

	out := make([]map[string]any, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, map[string]any{
			"time":  b.Time.Format(time.RFC3339),
			"count": b.Count,
		})
	}
	writeJSON(w, map[string]any{"data": out})
}

// timeBoundsFromElements extracts any explicit @from/@to bounds a query
// string supplied; Build resolves a zero tmin to the store's earliest
// event itself.
func timeBoundsFromElements(elements []query.Element) (tmin, tmax time.Time) {
	for _, el := range elements {
		switch el.Kind {
		case query.KindFrom:
			tmin = el.Time
		case query.KindTo:
			tmax = el.Time
		}
	}
	return tmin, tmax
}

// handleAgg implements the top-N/rare-N aggregation report: GROUP BY a
// json_extract'd field, ordered by count.
func (s *Server) handleAgg(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	field := q.Get("field")
	if field == "" {
		writeError(w, errBadRequest("field is required"))
		return
	}

	elements, err := query.Parse(q.Get("q"), "+0000")
	if err != nil {
		writeError(w, errkind.Wrap(errkind.BadRequest, err))
		return
	}

	size := 10
	if v := q.Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	countOrder := "DESC"
	if strings.EqualFold(q.Get("order"), "rare") {
		countOrder = "ASC"
	}

	mapped := query.MapField(field, s.Schema)
	where, args, needsFTSJoin := sqlbuilder.BuildWhere(elements, sqlbuilder.Options{HasFTS: s.HasFTS})

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("SELECT json_extract(source, '$.%s') AS value, COUNT(*) AS cnt FROM events", mapped))
	if needsFTSJoin {
		sb.WriteString(", fts")
		where = append([]string{"events.rowid = fts.rowid"}, where...)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" GROUP BY value ORDER BY cnt " + countOrder)
	sb.WriteString(fmt.Sprintf(" LIMIT %d", size))

	rows, err := s.DB.QueryContext(r.Context(), sb.String(), args...)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err))
		return
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var value string
		var count int
		if err := rows.Scan(&value, &count); err != nil {
			writeError(w, errkind.Wrap(errkind.Internal, err))
			return
		}
		out = append(out, map[string]any{"key": value, "count": count})
	}
	if err := rows.Err(); err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err))
		return
	}

	writeJSON(w, map[string]any{"rows": out})
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	rows, err := s.DB.QueryContext(r.Context(),
		`SELECT DISTINCT json_extract(source, '$.host') AS host FROM events WHERE json_extract(source, '$.host') IS NOT NULL`)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err))
		return
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			writeError(w, errkind.Wrap(errkind.Internal, err))
			return
		}
		out = append(out, host)
	}
	writeJSON(w, map[string]any{"sensors": out})
}
