// Package rules maintains a signature-id -> rule-text map, rebuilt from a
// set of Suricata rule files on a polling interval.
package rules

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval matches the reference implementation's 6 second
// rescan cadence.
const DefaultPollInterval = 6 * time.Second

// Map is a hot-reloadable signature-id -> rule-text map, safe for
// concurrent lookups while a background poller swaps in fresh data.
type Map struct {
	log      *zap.Logger
	patterns []string

	mu       sync.RWMutex
	bySid    map[uint64]string
	mtimes   map[string]time.Time

	stop chan struct{}
}

// New builds a Map over the given glob patterns. Call Start to begin
// polling; the map is empty (all lookups miss) until the first scan.
func New(log *zap.Logger, patterns []string) *Map {
	if log == nil {
		log = zap.NewNop()
	}
	return &Map{
		log:      log,
		patterns: patterns,
		bySid:    map[uint64]string{},
		mtimes:   map[string]time.Time{},
		stop:     make(chan struct{}),
	}
}

// Start performs an initial scan, then polls every interval in a background
// goroutine until Stop is called.
func (m *Map) Start(interval time.Duration) {
	m.scan()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.scan()
			}
		}
	}()
}

// Stop halts the background poller.
func (m *Map) Stop() {
	close(m.stop)
}

// Find returns the raw rule text for sid, if known.
func (m *Map) Find(sid uint64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.bySid[sid]
	return s, ok
}

// scan walks every configured glob pattern, re-tokenising any file whose
// mtime is newer than last seen, and swaps in a freshly built map under the
// write lock (copy-on-write: readers never block on a rescan in progress).
func (m *Map) scan() {
	m.mu.RLock()
	next := make(map[uint64]string, len(m.bySid))
	for k, v := range m.bySid {
		next[k] = v
	}
	nextMtimes := make(map[string]time.Time, len(m.mtimes))
	for k, v := range m.mtimes {
		nextMtimes[k] = v
	}
	m.mu.RUnlock()

	changed := false
	for _, pattern := range m.patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			m.log.Debug("bad rule glob pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, path := range matches {
			fi, err := os.Stat(path)
			if err != nil {
				continue
			}
			if last, ok := nextMtimes[path]; ok && !fi.ModTime().After(last) {
				continue
			}
			rules, err := parseFile(path)
			if err != nil {
				m.log.Debug("failed to parse rule file", zap.String("path", path), zap.Error(err))
				continue
			}
			for sid, text := range rules {
				next[sid] = text
			}
			nextMtimes[path] = fi.ModTime()
			changed = true
		}
	}

	if !changed {
		return
	}
	m.mu.Lock()
	m.bySid = next
	m.mtimes = nextMtimes
	m.mu.Unlock()
}

// parseFile tokenises one rule file into sid -> raw line. Each logical rule
// may span several physical lines joined by a trailing backslash; comment
// lines (leading '#') are still indexed, since a commented-out rule keeps
// its sid reference alive for lookup purposes.
func parseFile(path string) (map[uint64]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	result := map[uint64]string{}
	for _, logical := range joinContinuations(string(data)) {
		line := strings.TrimSpace(logical)
		if line == "" {
			continue
		}
		body := line
		if strings.HasPrefix(body, "#") {
			body = strings.TrimSpace(strings.TrimPrefix(body, "#"))
		}
		sid, ok := extractSid(body)
		if !ok {
			continue
		}
		result[sid] = line
	}
	return result, nil
}

// joinContinuations splits data into logical lines, merging any physical
// line ending in a trailing backslash with the one that follows.
func joinContinuations(data string) []string {
	physical := strings.Split(data, "\n")
	var logical []string
	var cur strings.Builder
	for _, line := range physical {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasSuffix(trimmed, "\\") {
			cur.WriteString(strings.TrimSuffix(trimmed, "\\"))
			continue
		}
		cur.WriteString(trimmed)
		logical = append(logical, cur.String())
		cur.Reset()
	}
	if cur.Len() > 0 {
		logical = append(logical, cur.String())
	}
	return logical
}

// extractSid finds the option list — the parenthesised, possibly nested
// and quote-aware tail of a Suricata rule — and pulls out "sid:N".
func extractSid(line string) (uint64, bool) {
	open := strings.IndexByte(line, '(')
	if open < 0 {
		return 0, false
	}
	body := extractBalanced(line[open:])
	if body == "" {
		return 0, false
	}
	for _, opt := range splitOptions(body) {
		opt = strings.TrimSpace(opt)
		if !strings.HasPrefix(opt, "sid:") {
			continue
		}
		val := strings.TrimSpace(strings.TrimPrefix(opt, "sid:"))
		sid, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			continue
		}
		return sid, true
	}
	return 0, false
}

// extractBalanced returns the contents of the first balanced (...) group
// starting at s[0]=='(', honouring nested brackets and quoted strings
// (where parentheses/quotes don't count toward nesting).
func extractBalanced(s string) string {
	if len(s) == 0 || s[0] != '(' {
		return ""
	}
	depth := 0
	inQuote := false
	var escaped bool
	for i, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case inQuote:
			// ignore structural characters while inside a quoted value
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth == 0 {
				return s[1:i]
			}
		}
	}
	return ""
}

// splitOptions splits a rule's option body on ';' while respecting quoted
// strings, so a semicolon inside a quoted PCRE/content option doesn't
// terminate an option early.
func splitOptions(body string) []string {
	var opts []string
	var cur strings.Builder
	inQuote := false
	escaped := false
	for _, r := range body {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
			cur.WriteRune(r)
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ';' && !inQuote:
			opts = append(opts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		opts = append(opts, cur.String())
	}
	return opts
}
