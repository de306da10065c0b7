package correlate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/loglens/loglens/pkg/logparse"
)

// The redis fallback groups the raw stream tail by normalized line text,
// needing neither embeddings nor the vector store. It exists for demo
// environments where the vector store is cold or unavailable.

const (
	fallbackStream    = "logs"
	fallbackScanCount = 300
	fallbackKeyMax    = 180
)

var (
	digitRunRe   = regexp.MustCompile(`\d+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// fallbackJoinKeys are the JSON fields whose values describe an integration
// line; their order fixes the normalized key.
var fallbackJoinKeys = []string{"type", "ruleName", "testName", "summary", "Message", "Name"}

func normalizeFallbackKey(text string) string {
	t := strings.ToLower(text)
	t = digitRunRe.ReplaceAllString(t, "<n>")
	t = whitespaceRe.ReplaceAllString(t, " ")
	t = strings.TrimSpace(t)
	if runes := []rune(t); len(runes) > fallbackKeyMax {
		t = string(runes[:fallbackKeyMax])
	}
	return t
}

// fallbackText reduces a raw line to its descriptive text: for JSON payloads
// the named fields joined with " | ", otherwise the line itself.
func fallbackText(line string) string {
	fields, ok := logparse.ParseJSONObject(line)
	if !ok {
		return line
	}
	var parts []string
	for _, key := range fallbackJoinKeys {
		switch v := fields[key].(type) {
		case string:
			if v != "" {
				parts = append(parts, v)
			}
		case float64:
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	if len(parts) == 0 {
		return line
	}
	return strings.Join(parts, " | ")
}

type fallbackLine struct {
	raw    string
	source string
	os     string
	text   string
}

func (c *Correlator) redisFallback(ctx context.Context, p Params) Result {
	params := map[string]any{
		"algorithm": "redis_fallback",
		"basis":     "stream",
	}
	if c.rdb == nil {
		return Result{Clusters: []Cluster{}, Params: params}
	}

	msgs, err := c.rdb.XRevRangeN(ctx, fallbackStream, "+", "-", fallbackScanCount).Result()
	if err != nil {
		c.logger.Warn("Redis fallback scan failed", "error", err)
		params["error"] = "fallback_failed"
		return Result{Clusters: []Cluster{}, Params: params}
	}

	groups := map[string][]fallbackLine{}
	var order []string
	for _, msg := range msgs {
		source, _ := msg.Values["source"].(string)
		line, _ := msg.Values["line"].(string)
		if line == "" {
			continue
		}
		text := fallbackText(line)
		key := normalizeFallbackKey(text)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], fallbackLine{
			raw:    line,
			source: source,
			os:     logparse.OSFromSource(source),
			text:   text,
		})
	}

	sort.SliceStable(order, func(i, j int) bool {
		return len(groups[order[i]]) > len(groups[order[j]])
	})

	clusters := make([]Cluster, 0, len(order))
	for idx, key := range order {
		lines := groups[key]
		cl := Cluster{
			ID:              clusterID(idx),
			Size:            len(lines),
			Medoid:          lines[0].text,
			OSBreakdown:     map[string]int{},
			SourceBreakdown: map[string]int{},
			HostBreakdown:   map[string]int{},
			SampleLogs:      []SampleLog{},
		}
		for _, l := range lines {
			cl.OSBreakdown[l.os]++
			if l.source != "" {
				cl.SourceBreakdown[l.source]++
			}
			for _, host := range logparse.HostIdentifiersFromRaw(l.raw) {
				cl.HostBreakdown[host]++
			}
			if len(cl.SampleLogs) < p.IncludeLogsPerCluster {
				cl.SampleLogs = append(cl.SampleLogs, SampleLog{
					Raw:    l.raw,
					Source: l.source,
					OS:     l.os,
				})
			}
		}
		clusters = append(clusters, cl)
	}
	return Result{Clusters: clusters, Params: params}
}
