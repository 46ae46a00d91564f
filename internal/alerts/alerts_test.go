package alerts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/evebox/evebox-go/internal/evtypes"
	"github.com/evebox/evebox-go/internal/sink"
)

func alertRecord(t *testing.T, sig uint64, src, dest string, ts time.Time) evtypes.Record {
	t.Helper()
	body := `{"timestamp":"` + ts.UTC().Format(time.RFC3339Nano) + `","event_type":"alert","src_ip":"` + src + `","dest_ip":"` + dest + `","alert":{"signature_id":` + itoa(sig) + `,"signature":"test sig"}}`
	rec, err := evtypes.ParseRecord([]byte(body))
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	return rec
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestAggregateScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := sink.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := alertRecord(t, 2001, "10.0.0.1", "10.0.0.2", base.Add(time.Duration(i)*time.Minute))
		if _, err := s.Submit(rec); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if _, err := s.Submit(alertRecord(t, 2002, "10.0.0.3", "10.0.0.4", base)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Submit(alertRecord(t, 2003, "10.0.0.5", "10.0.0.6", base)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	groups, err := Aggregate(context.Background(), s.DB(), nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}

	var main *Group
	for i := range groups {
		if groups[i].SignatureID == 2001 {
			main = &groups[i]
		}
	}
	if main == nil {
		t.Fatalf("group for signature 2001 not found in %+v", groups)
	}
	if main.Count != 5 {
		t.Errorf("count = %d, want 5", main.Count)
	}
	if main.EscalatedCount != 0 {
		t.Errorf("escalated count = %d, want 0", main.EscalatedCount)
	}
	if !main.MinTimestamp.Equal(base) {
		t.Errorf("min timestamp = %v, want %v", main.MinTimestamp, base)
	}
	want := base.Add(4 * time.Minute)
	if !main.MaxTimestamp.Equal(want) {
		t.Errorf("max timestamp = %v, want %v", main.MaxTimestamp, want)
	}
	newestTS, _ := main.Newest.Timestamp()
	if !newestTS.Equal(want) {
		t.Errorf("newest event timestamp = %v, want %v", newestTS, want)
	}
}
