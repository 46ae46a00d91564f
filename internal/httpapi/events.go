package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/evebox/evebox-go/internal/errkind"
	"github.com/evebox/evebox-go/internal/evtypes"
	"github.com/evebox/evebox-go/internal/query"
	"github.com/evebox/evebox-go/internal/query/sqlbuilder"
)

const defaultEventSize = 500

// eventRow is the flat shape scanned from a sqlbuilder result row.
type eventRow struct {
	ID        int64
	Timestamp int64
	Archived  int
	Escalated int
	Source    string
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	elements, err := query.Parse(q.Get("q"), "+0000")
	if err != nil {
		writeError(w, errkind.Wrap(errkind.BadRequest, err))
		return
	}

	size := defaultEventSize
	if v := q.Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	order := q.Get("order")
	if order == "" {
		order = "desc"
	}

	opts := sqlbuilder.Options{HasFTS: s.HasFTS, EventType: q.Get("event_type"), Order: order, Limit: size}
	built := sqlbuilder.Build(elements, opts)

	rows, err := s.DB.QueryContext(r.Context(), built.SQL, built.Args...)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err))
		return
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var row eventRow
		if err := rows.Scan(&row.ID, &row.Timestamp, &row.Archived, &row.Escalated, &row.Source); err != nil {
			writeError(w, errkind.Wrap(errkind.Internal, err))
			return
		}
		out = append(out, eventEnvelope(row))
	}
	if err := rows.Err(); err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err))
		return
	}

	writeJSON(w, map[string]any{"events": out})
}

func (s *Server) handleEventByID(w http.ResponseWriter, r *http.Request) {
	row, err := s.loadEventRow(r, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, eventEnvelope(row))
}

func (s *Server) loadEventRow(r *http.Request, idStr string) (eventRow, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return eventRow{}, errBadRequest("invalid event id")
	}
	var row eventRow
	row.ID = id
	err = s.DB.QueryRowContext(r.Context(),
		`SELECT timestamp, archived, escalated, source FROM events WHERE rowid = ?`, id,
	).Scan(&row.Timestamp, &row.Archived, &row.Escalated, &row.Source)
	if err == sql.ErrNoRows {
		return eventRow{}, errNotFound("event not found")
	}
	if err != nil {
		return eventRow{}, errkind.Wrap(errkind.Internal, err)
	}
	return row, nil
}

func eventEnvelope(row eventRow) map[string]any {
	var source map[string]any
	_ = json.Unmarshal([]byte(row.Source), &source)
	return map[string]any{
		"_id":     strconv.FormatInt(row.ID, 10),
		"_source": source,
	}
}

func (s *Server) handleEventArchive(w http.ResponseWriter, r *http.Request) {
	s.mutateEvent(w, r, "archive", func(rec evtypes.Record) {
		rec.AddTag("evebox.archived")
	})
}

func (s *Server) handleEventEscalate(w http.ResponseWriter, r *http.Request) {
	s.mutateEvent(w, r, "escalate", func(rec evtypes.Record) {
		rec.AddTag("evebox.escalated")
	})
}

func (s *Server) handleEventDeescalate(w http.ResponseWriter, r *http.Request) {
	s.mutateEvent(w, r, "de-escalate", func(rec evtypes.Record) {
		rec.RemoveTag("evebox.escalated")
	})
}

func (s *Server) handleEventComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errBadRequest("malformed comment body"))
		return
	}
	s.mutateEvent(w, r, "comment", func(rec evtypes.Record) {
		rec.AppendHistory(evtypes.HistoryEntry{
			Username:  usernameFromContext(r.Context()),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Action:    "comment",
			Comment:   body.Comment,
		})
	})
}

// mutateEvent loads an event by id, applies mutate, writes back the
// archived/escalated flag columns alongside the rewritten source JSON, and
// records a history entry for the action. Idempotent mutations (archiving
// an already-archived event, escalating an already-escalated one) are safe
// since AddTag/RemoveTag are themselves idempotent.
func (s *Server) mutateEvent(w http.ResponseWriter, r *http.Request, action string, mutate func(evtypes.Record)) {
	row, err := s.loadEventRow(r, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := evtypes.ParseRecord([]byte(row.Source))
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err))
		return
	}

	mutate(rec)
	if action != "comment" {
		rec.AppendHistory(evtypes.HistoryEntry{
			Username:  usernameFromContext(r.Context()),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Action:    action,
		})
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Internal, err))
		return
	}

	archived := 0
	if rec.HasTag("evebox.archived") {
		archived = 1
	}
	escalated := 0
	if rec.HasTag("evebox.escalated") {
		escalated = 1
	}

	_, err = s.DB.ExecContext(r.Context(),
		`UPDATE events SET archived = ?, escalated = ?, source = ? WHERE rowid = ?`,
		archived, escalated, raw, row.ID,
	)
	if err != nil {
		writeError(w, errkind.Wrap(errkind.Sink, err))
		return
	}

	writeJSON(w, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
