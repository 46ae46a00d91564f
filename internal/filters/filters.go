// Package filters implements the ordered, mutate-in-place enrichment chain
// applied to every event between read and write.
package filters

import (
	"os"

	"go.uber.org/zap"

	"github.com/evebox/evebox-go/internal/autoarchive"
	"github.com/evebox/evebox-go/internal/evtypes"
	"github.com/evebox/evebox-go/internal/geoip"
	"github.com/evebox/evebox-go/internal/rules"
)

// Filter is a single pure record-to-record transform. Filters never fail;
// they log and continue.
type Filter interface {
	Run(rec evtypes.Record)
}

// Chain is an ordered sequence of filters, applied in order to every event.
type Chain struct {
	filters []Filter
}

// NewChain builds a chain from the given filters, applied in the given
// order.
func NewChain(fs ...Filter) *Chain {
	return &Chain{filters: fs}
}

// WithFilter returns a new chain with f appended — used by the Pattern
// Watcher to extend a shared base chain with a per-file filter without
// mutating the original.
func (c *Chain) WithFilter(f Filter) *Chain {
	next := make([]Filter, len(c.filters), len(c.filters)+1)
	copy(next, c.filters)
	next = append(next, f)
	return &Chain{filters: next}
}

// Run applies every filter in order to rec.
func (c *Chain) Run(rec evtypes.Record) {
	for _, f := range c.filters {
		f.Run(rec)
	}
}

// MetadataFilter stamps hostname, optional filename, and ensures the
// evebox/tags scaffolding that later filters assume exists.
type MetadataFilter struct {
	Filename string
}

func (f MetadataFilter) Run(rec evtypes.Record) {
	evebox := rec.Evebox()
	if f.Filename != "" {
		evebox["filename"] = f.Filename
	}
	if hostname, err := os.Hostname(); err == nil {
		evebox["hostname"] = hostname
	}
	rec.Tags()
}

// GeoIPFilter enriches src_ip/dest_ip with location data.
type GeoIPFilter struct {
	GeoIP *geoip.GeoIP
}

func (f GeoIPFilter) Run(rec evtypes.Record) {
	if f.GeoIP == nil {
		return
	}
	f.GeoIP.Enrich(rec)
}

// RuleFilter joins alert.signature_id to the rule text recorded in the Rule
// Map, unless alert.rule is already a string.
type RuleFilter struct {
	Rules *rules.Map
	log   *zap.Logger
}

// NewRuleFilter builds a RuleFilter; log may be nil.
func NewRuleFilter(m *rules.Map, log *zap.Logger) RuleFilter {
	if log == nil {
		log = zap.NewNop()
	}
	return RuleFilter{Rules: m, log: log}
}

func (f RuleFilter) Run(rec evtypes.Record) {
	if _, ok := rec.String("alert.rule"); ok {
		return
	}
	sid, ok := rec.Uint64("alert.signature_id")
	if !ok {
		return
	}
	alert, ok := rec["alert"].(map[string]any)
	if !ok {
		return
	}
	if text, ok := f.Rules.Find(sid); ok {
		alert["rule"] = text
	} else {
		f.log.Debug("no rule found for signature id", zap.Uint64("sid", sid))
	}
}

// CustomFieldFilter sets a fixed key/value pair on every event, used for
// operator-configured constant tags (e.g. a deployment label).
type CustomFieldFilter struct {
	Field string
	Value any
}

func (f CustomFieldFilter) Run(rec evtypes.Record) {
	rec[f.Field] = f.Value
}

// AutoArchiveFilter tags alerts as archived, either because the rule
// requested it via metadata or because the event matches the operator's
// Auto-Archive Index.
type AutoArchiveFilter struct {
	Index *autoarchive.Index
}

func (f AutoArchiveFilter) Run(rec evtypes.Record) {
	action, hasAction := rec.StringSlice0("alert.metadata.evebox-action")
	matched := hasAction && action == "archive"
	if !matched && f.Index != nil {
		matched = f.Index.IsMatch(rec)
	}
	if !matched {
		return
	}
	rec.AddTag("evebox.archived")
	rec.AddTag("evebox.auto-archived")
}
