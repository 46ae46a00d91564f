package filters

import (
	"testing"

	"github.com/evebox/evebox-go/internal/autoarchive"
	"github.com/evebox/evebox-go/internal/evtypes"
)

func TestMetadataFilterEnsuresScaffolding(t *testing.T) {
	rec := evtypes.Record{}
	f := MetadataFilter{Filename: "/var/log/eve.json"}
	f.Run(rec)

	evebox, ok := rec["evebox"].(map[string]any)
	if !ok {
		t.Fatal("expected evebox object to be created")
	}
	if evebox["filename"] != "/var/log/eve.json" {
		t.Errorf("filename = %v", evebox["filename"])
	}
	if _, ok := rec["tags"]; !ok {
		t.Error("expected tags array to be created")
	}
}

func TestAutoArchiveFilterByMetadata(t *testing.T) {
	rec := evtypes.Record{
		"alert": map[string]any{
			"metadata": map[string]any{
				"evebox-action": []any{"archive"},
			},
		},
	}
	f := AutoArchiveFilter{}
	f.Run(rec)

	if !rec.HasTag("evebox.archived") || !rec.HasTag("evebox.auto-archived") {
		t.Errorf("expected archive tags, got %v", rec["tags"])
	}
}

func TestAutoArchiveFilterByIndex(t *testing.T) {
	idx := autoarchive.New()
	idx.Load([]autoarchive.Entry{{SignatureID: 2001}})

	rec := evtypes.Record{
		"alert": map[string]any{
			"signature_id": float64(2001),
		},
	}
	f := AutoArchiveFilter{Index: idx}
	f.Run(rec)

	if !rec.HasTag("evebox.archived") {
		t.Error("expected index match to trigger auto-archive")
	}
}

func TestAutoArchiveFilterNoMatch(t *testing.T) {
	rec := evtypes.Record{
		"alert": map[string]any{"signature_id": float64(2001)},
	}
	f := AutoArchiveFilter{Index: autoarchive.New()}
	f.Run(rec)

	if rec.HasTag("evebox.archived") {
		t.Error("did not expect archive tag with empty index")
	}
}

func TestChainOrderAndExtend(t *testing.T) {
	var order []string
	record := func(name string) Filter {
		return runFunc(func(rec evtypes.Record) {
			order = append(order, name)
		})
	}

	base := NewChain(record("a"), record("b"))
	extended := base.WithFilter(record("c"))

	extended.Run(evtypes.Record{})
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("unexpected order: %v", order)
	}

	order = nil
	base.Run(evtypes.Record{})
	if len(order) != 2 {
		t.Errorf("base chain must be unaffected by WithFilter, got %v", order)
	}
}

type runFunc func(evtypes.Record)

func (f runFunc) Run(rec evtypes.Record) { f(rec) }

func TestCustomFieldFilter(t *testing.T) {
	rec := evtypes.Record{}
	f := CustomFieldFilter{Field: "deployment", Value: "office-1"}
	f.Run(rec)
	if rec["deployment"] != "office-1" {
		t.Errorf("got %v", rec["deployment"])
	}
}
