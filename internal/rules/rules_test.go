package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRuleFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestFindBySid(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "local.rules",
		`alert tcp any any -> any any (msg:"ET POLICY test"; sid:2001; rev:1;)`+"\n"+
			`alert tcp any any -> any any (msg:"another"; sid:2002; rev:2;)`+"\n")

	m := New(nil, []string{filepath.Join(dir, "*.rules")})
	m.scan()

	got, ok := m.Find(2001)
	if !ok {
		t.Fatal("expected sid 2001 to be found")
	}
	if got == "" {
		t.Error("rule text empty")
	}
	if _, ok := m.Find(9999); ok {
		t.Error("unexpected hit for unknown sid")
	}
}

func TestLineContinuationAndComments(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "local.rules",
		"alert tcp any any -> any any (msg:\"split\"; \\\n"+
			"sid:3001; rev:1;)\n"+
			"# alert tcp any any -> any any (msg:\"disabled\"; sid:3002; rev:1;)\n")

	m := New(nil, []string{filepath.Join(dir, "*.rules")})
	m.scan()

	if _, ok := m.Find(3001); !ok {
		t.Error("expected continuation-joined rule to be indexed")
	}
	if _, ok := m.Find(3002); !ok {
		t.Error("expected commented-out rule to remain indexed")
	}
}

func TestRescanOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	p := writeRuleFile(t, dir, "local.rules",
		`alert tcp any any -> any any (msg:"v1"; sid:4001; rev:1;)`+"\n")

	m := New(nil, []string{filepath.Join(dir, "*.rules")})
	m.scan()
	if _, ok := m.Find(4001); !ok {
		t.Fatal("expected initial rule")
	}

	// Ensure a detectable mtime bump on filesystems with coarse resolution.
	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(p, []byte(`alert tcp any any -> any any (msg:"v1"; sid:4001; rev:1;)`+"\n"+
		`alert tcp any any -> any any (msg:"v2"; sid:4002; rev:1;)`+"\n"), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := os.Chtimes(p, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	m.scan()
	if _, ok := m.Find(4002); !ok {
		t.Error("expected rescan to pick up new sid after mtime change")
	}
}

func TestNestedParenInOption(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "local.rules",
		`alert tcp any any -> any any (msg:"nested (paren) test"; pcre:"/foo(bar)/"; sid:5001; rev:1;)`+"\n")

	m := New(nil, []string{filepath.Join(dir, "*.rules")})
	m.scan()
	if _, ok := m.Find(5001); !ok {
		t.Error("expected rule with nested parens in options to still be indexed")
	}
}
