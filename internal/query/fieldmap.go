package query

import "strings"

// Schema selects which physical field layout a query builder targets.
type Schema int

const (
	SchemaClassic Schema = iota
	SchemaECS
)

// ipMacFields is the disjunction set @ip/@mac expand into.
var ipMacFields = []string{
	"src_ip", "dest_ip",
	"dhcp.assigned_ip", "dhcp.client_ip", "dhcp.next_server_ip",
	"dhcp.routers", "dhcp.relay_ip", "dhcp.subnet_mask",
}

// IPMacFields returns the physical field set @ip/@mac expand into, mapped
// through schema.
func IPMacFields(schema Schema) []string {
	out := make([]string, len(ipMacFields))
	for i, f := range ipMacFields {
		out[i] = MapField(f, schema)
	}
	return out
}

var ecsRemap = map[string]string{
	"src_ip":    "source.address",
	"dest_ip":   "destination.address",
	"dns.rrname": "dns.question.name",
	"host":      "agent.name",
	"timestamp": "@timestamp",
}

// MapField maps a logical field name to its physical counterpart for the
// given schema. Under ECS, unrecognised fields are prefixed with
// "suricata.eve.". Under classic, the field is returned unchanged; no
// ".keyword" suffix is added here or by the query builders, so classic term
// queries use the bare field name.
func MapField(logical string, schema Schema) string {
	if schema != SchemaECS {
		return logical
	}
	if mapped, ok := ecsRemap[logical]; ok {
		return mapped
	}
	if strings.HasPrefix(logical, "suricata.eve.") {
		return logical
	}
	return "suricata.eve." + logical
}
