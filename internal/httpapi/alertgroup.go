package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/evebox/evebox-go/internal/evtypes"
)

// mutateAlertGroup applies action to every alert event matching the group's
// (signature_id, src_ip, dest_ip) within [minT, maxT], rewriting tags/history
// the same way a single-event mutation would.
func (s *Server) mutateAlertGroup(r *http.Request, sig uint64, srcIP, destIP string, minT, maxT time.Time, action, comment string) (int, error) {
	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT rowid, source FROM events
		WHERE timestamp >= ? AND timestamp <= ?
		  AND json_extract(source, '$.event_type') = 'alert'
		  AND json_extract(source, '$.alert.signature_id') = ?
		  AND json_extract(source, '$.src_ip') = ?
		  AND json_extract(source, '$.dest_ip') = ?
	`, minT.UnixNano(), maxT.UnixNano(), sig, srcIP, destIP)
	if err != nil {
		return 0, fmt.Errorf("select alert group: %w", err)
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
			return 0, fmt.Errorf("scan alert group row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate alert group rows: %w", err)
	}
	rows.Close()

	username := usernameFromContext(r.Context())
	updated := 0
	for _, c := range candidates {
		rec, err := evtypes.ParseRecord([]byte(c.source))
		if err != nil {
			continue
		}

		switch action {
		case "archive":
			rec.AddTag("evebox.archived")
		case "star":
			rec.AddTag("evebox.escalated")
		case "unstar":
			rec.RemoveTag("evebox.escalated")
		}
		rec.AppendHistory(evtypes.HistoryEntry{
			Username:  username,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Action:    action,
			Comment:   comment,
		})

		raw, err := json.Marshal(rec)
		if err != nil {
			return updated, fmt.Errorf("marshal alert group event: %w", err)
		}
		archived := 0
		if rec.HasTag("evebox.archived") {
			archived = 1
		}
		escalated := 0
		if rec.HasTag("evebox.escalated") {
			escalated = 1
		}
		if _, err := s.DB.ExecContext(r.Context(),
			`UPDATE events SET archived = ?, escalated = ?, source = ? WHERE rowid = ?`,
			archived, escalated, raw, c.rowid,
		); err != nil {
			return updated, fmt.Errorf("update alert group event %d: %w", c.rowid, err)
		}
		updated++
	}
	return updated, nil
}
