// Package autoarchive maintains an in-memory index of operator-configured
// auto-archive filters and tests incoming alerts for membership.
package autoarchive

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/evebox/evebox-go/internal/evtypes"
)

const wildcard = "*"

// Entry is one auto-archive rule. Absent fields act as wildcards.
type Entry struct {
	Sensor       string
	SrcIP        string
	DestIP       string
	SignatureID  uint64
	Comment      string
}

// Index is a read-mostly set of 4-tuple keys, rebuilt wholesale whenever
// the underlying filter list changes.
type Index struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// New builds an empty index.
func New() *Index {
	return &Index{keys: map[string]struct{}{}}
}

// Load rebuilds the index from entries, replacing the current contents.
func (idx *Index) Load(entries []Entry) {
	next := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		next[fullKey(e)] = struct{}{}
	}
	idx.mu.Lock()
	idx.keys = next
	idx.mu.Unlock()
}

// Add inserts a single entry without rebuilding the rest of the index.
func (idx *Index) Add(e Entry) {
	idx.mu.Lock()
	idx.keys[fullKey(e)] = struct{}{}
	idx.mu.Unlock()
}

// Remove deletes a single entry.
func (idx *Index) Remove(e Entry) {
	idx.mu.Lock()
	delete(idx.keys, fullKey(e))
	idx.mu.Unlock()
}

func fullKey(e Entry) string {
	sensor := e.Sensor
	if sensor == "" {
		sensor = wildcard
	}
	src := e.SrcIP
	if src == "" {
		src = wildcard
	}
	dst := e.DestIP
	if dst == "" {
		dst = wildcard
	}
	return fmt.Sprintf("%s,%s,%s,%d", sensor, src, dst, e.SignatureID)
}

// IsMatch computes the four candidate keys for rec (full 4-tuple, 3-tuple
// dropping sensor, sensor+sid, sid-only) and reports a hit on any of them.
func (idx *Index) IsMatch(rec evtypes.Record) bool {
	sid, ok := rec.Uint64("alert.signature_id")
	if !ok {
		return false
	}
	sensor, _ := rec.String("host")
	src, _ := rec.String("src_ip")
	dst, _ := rec.String("dest_ip")
	sidStr := strconv.FormatUint(sid, 10)

	candidates := []string{
		fmt.Sprintf("%s,%s,%s,%s", orWildcard(sensor), orWildcard(src), orWildcard(dst), sidStr),
		fmt.Sprintf("%s,%s,%s,%s", wildcard, orWildcard(src), orWildcard(dst), sidStr),
		fmt.Sprintf("%s,%s,%s,%s", orWildcard(sensor), wildcard, wildcard, sidStr),
		fmt.Sprintf("%s,%s,%s,%s", wildcard, wildcard, wildcard, sidStr),
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, key := range candidates {
		if _, ok := idx.keys[key]; ok {
			return true
		}
	}
	return false
}

func orWildcard(s string) string {
	if s == "" {
		return wildcard
	}
	return s
}
