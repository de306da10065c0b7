package logparse

import "strings"

// hostKeys is the fixed priority order for host identity extraction. The
// order must stay stable: correlation edges and topology nodes are built
// from these identifiers and reordering would change graph shape between
// runs.
var hostKeys = []string{
	"ComputerName", "computerName",
	"host",
	"device_name", "device",
	"hostname",
	"name",
	"testName",
}

var hostIPKeys = []string{
	"ip", "device_ip", "deviceIp", "managementIpAddr", "dst_ip", "src_ip",
}

// HostIdentifiers extracts host-like identifiers from a decoded JSON
// payload: the first named host in priority order, then the affected
// component, then every raw IP field. Duplicates are removed preserving
// first-seen order. Only string values count.
func HostIdentifiers(fields map[string]any) []string {
	if len(fields) == 0 {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	for _, k := range hostKeys {
		if v := trimmedString(fields[k]); v != "" {
			add(v)
			break
		}
	}

	if ac, ok := fields["affectedComponent"].(map[string]any); ok {
		if v := trimmedString(ac["name"]); v != "" {
			add(v)
		} else if v := trimmedString(ac["id"]); v != "" {
			add(v)
		}
	}

	for _, k := range hostIPKeys {
		add(trimmedString(fields[k]))
	}

	return out
}

// HostIdentifiersFromRaw extracts host identifiers from a raw log line when
// it is a JSON payload; plain-text lines yield none.
func HostIdentifiersFromRaw(raw string) []string {
	fields, ok := ParseJSONObject(raw)
	if !ok {
		return nil
	}
	return HostIdentifiers(fields)
}

func trimmedString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
