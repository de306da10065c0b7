// Package logparse turns raw log lines into low-cardinality templated
// strings suitable for embedding-based clustering. It routes lines to an OS
// family by source name, extracts (component, pid, content), normalizes JSON
// integration payloads onto a stable key subset, and strips high-cardinality
// tokens (timestamps, IPs, long numerics).
package logparse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OS families recognized by the router.
const (
	OSLinux   = "linux"
	OSMacOS   = "macos"
	OSWindows = "windows"
	OSNetwork = "network"
	OSUnknown = "unknown"
)

// AllOS lists the OS families that own vector-store collections.
func AllOS() []string {
	return []string{OSLinux, OSMacOS, OSWindows, OSNetwork}
}

// Result is a parsed log line.
type Result struct {
	OS        string
	Component string
	PID       string // empty when the line carries no pid
	Content   string // sanitized message content
	EnvID     string // from integration payloads, may be empty
	Host      string
	Fields    map[string]any // decoded JSON fields for integration payloads
}

// Normalize parses and sanitizes a raw line. The returned templated string is
// deterministic: the same (source, os, line) always yields the same output.
func Normalize(source, os, line string) (string, Result) {
	line = strings.TrimSpace(line)
	res := Result{OS: os}

	if IsIntegrationSource(source) {
		if fields, ok := ParseJSONObject(line); ok {
			res = normalizeIntegration(source, os, fields)
			templated := RenderTemplate(res.Component, res.PID, res.Content)
			return templated, res
		}
	}

	component, pid, content := extractParts(source, os, line)
	res.Component = component
	res.PID = pid
	res.Content = Sanitize(content)
	templated := RenderTemplate(res.Component, res.PID, res.Content)
	return templated, res
}

// RenderTemplate builds the templated line from parsed parts. The pid is
// reduced to a placeholder: its presence matters for grouping, its value is
// high-cardinality noise.
func RenderTemplate(component, pid, content string) string {
	if component == "" {
		component = OSUnknown
	}
	if pid != "" {
		return component + "[<pid>]: " + content
	}
	return component + ": " + content
}

// ParseJSONObject decodes s when it looks like a JSON object. Non-object
// payloads (arrays, scalars, malformed text) report ok=false.
func ParseJSONObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, false
	}
	return fields, true
}

// stringField stringifies a scalar JSON value; non-scalar values and missing
// keys yield "".
func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return formatJSONNumber(t)
	case bool:
		return fmt.Sprintf("%t", t)
	}
	return ""
}

// firstField returns the first non-empty scalar among keys, in order.
func firstField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(fields, k); s != "" {
			return s
		}
	}
	return ""
}

func formatJSONNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
