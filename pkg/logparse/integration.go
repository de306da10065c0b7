package logparse

import (
	"encoding/json"
	"strings"
)

// stableKeys is the fixed, ordered projection for JSON integration payloads.
// Only these keys survive into the templated content; everything else is
// either high-cardinality or vendor noise.
var stableKeys = []string{
	"type",
	"status", "Status",
	"severity", "Severity",
	"metric", "Metric",
	"test", "test_name", "TestName",
	"name", "Name",
	"service", "Service",
	"component", "Component",
	"ComputerName",
	"message", "Message",
	"error", "Error",
	"summary", "Summary",
}

// prunedKeys are removed before the fallback JSON dump: per-event unique
// values that would defeat clustering.
var prunedKeys = []string{
	"TimeGenerated", "time", "ts", "timestamp",
	"ip", "IP",
	"Id", "id", "uuid", "request_id", "ray_id",
}

// normalizeIntegration projects a decoded integration payload onto a
// low-cardinality content string and extracts env/host identity.
func normalizeIntegration(source, os string, fields map[string]any) Result {
	res := Result{
		OS:     os,
		Fields: fields,
		EnvID:  firstField(fields, "EnvironmentId", "env_id", "environment_id"),
		Host:   firstField(fields, "ComputerName", "Host", "host", "component", "Component"),
	}

	var content string
	if strings.HasPrefix(strings.ToLower(source), "scom:") {
		content = scomContent(fields, res.Host)
	} else {
		content = stableKeyContent(fields)
	}
	if content == "" {
		content = prunedDump(fields)
	}

	res.Component = res.Host
	if res.Component == "" {
		res.Component = integrationName(source)
	}
	res.Content = Sanitize(content)
	return res
}

// scomContent renders the dedicated SCOM form: the channel, display level,
// host and message carry all the signal these events have.
func scomContent(fields map[string]any, host string) string {
	parts := []string{"scom"}
	for _, v := range []string{
		stringField(fields, "Channel"),
		stringField(fields, "LevelDisplayName"),
		host,
		stringField(fields, "Message"),
	} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 1 {
		return ""
	}
	return strings.Join(parts, " ")
}

// stableKeyContent renders "k=v" pairs for the stable key subset, in fixed
// order so identical payloads always template identically.
func stableKeyContent(fields map[string]any) string {
	var parts []string
	for _, k := range stableKeys {
		if v := stringField(fields, k); v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, " ")
}

// prunedDump is the last resort for payloads that match no stable key: a
// key-sorted JSON dump with known high-cardinality fields removed.
func prunedDump(fields map[string]any) string {
	pruned := make(map[string]any, len(fields))
	for k, v := range fields {
		pruned[k] = v
	}
	for _, k := range prunedKeys {
		delete(pruned, k)
	}
	b, err := json.Marshal(pruned)
	if err != nil {
		return ""
	}
	return string(b)
}

// integrationName is the source's integration prefix ("scom:HOST" -> "scom").
func integrationName(source string) string {
	if i := strings.IndexByte(source, ':'); i > 0 {
		return strings.ToLower(source[:i])
	}
	return strings.ToLower(source)
}
