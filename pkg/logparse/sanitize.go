package logparse

import (
	"regexp"
	"strings"
)

// maxContentLen caps templated content; embedding quality degrades past this
// and long tails are almost always stack traces or dumps.
const maxContentLen = 180

var (
	// ISO-8601 timestamps, with optional fractional seconds and zone.
	isoTimestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)

	// Dotted-quad IPv4 addresses.
	ipv4Re = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// Integer runs of four or more digits: pids, ports, counters, ids.
	longNumberRe = regexp.MustCompile(`\b\d{4,}\b`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Sanitize strips the high-cardinality tokens that would otherwise explode
// cluster granularity: ISO timestamps become <ts>, IPv4 addresses <ip>, and
// integers of four or more digits <num>. Whitespace collapses to single
// spaces and the result is capped at 180 characters. Sanitize is idempotent.
func Sanitize(s string) string {
	s = isoTimestampRe.ReplaceAllString(s, "<ts>")
	s = ipv4Re.ReplaceAllString(s, "<ip>")
	s = longNumberRe.ReplaceAllString(s, "<num>")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return truncate(s, maxContentLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
