package llm

import (
	"context"
	"fmt"
	"strings"
)

// heuristicRule maps keyword hits in the cluster text to a failure category.
type heuristicRule struct {
	keywords       []string
	failureType    string
	recommendation string
}

// Rules are checked in order; the first hit wins, so the more specific
// categories come before the generic connectivity ones.
var heuristicRules = []heuristicRule{
	{
		keywords:       []string{"i/o error", "disk", "filesystem", "read-only file system", "smartd"},
		failureType:    "disk_failure",
		recommendation: "Check disk health and replace the failing device before the filesystem degrades further.",
	},
	{
		keywords:       []string{"out of memory", "oom", "cannot allocate memory"},
		failureType:    "memory_pressure",
		recommendation: "Identify the process exhausting memory and raise limits or fix the leak.",
	},
	{
		keywords:       []string{"authentication failure", "login failed", "access denied", "permission denied", "invalid credentials", "unauthorized"},
		failureType:    "auth_failure",
		recommendation: "Verify credentials and review recent access policy changes.",
	},
	{
		keywords:       []string{"certificate", "tls", "x509", "handshake"},
		failureType:    "tls_error",
		recommendation: "Check certificate validity and trust chain on both endpoints.",
	},
	{
		keywords:       []string{"servfail", "dns", "name resolution"},
		failureType:    "dns_failure",
		recommendation: "Inspect the resolver chain and upstream DNS server health.",
	},
	{
		keywords:       []string{"link down", "interface down", "updown", "carrier lost", "port down"},
		failureType:    "network_link_failure",
		recommendation: "Inspect the physical link and switch port counters for the affected interface.",
	},
	{
		keywords:       []string{"timeout", "timed out", "unreachable", "connection refused", "no route to host"},
		failureType:    "connectivity_timeout",
		recommendation: "Check network path and the health of the remote endpoint.",
	},
	{
		keywords:       []string{"terminated unexpectedly", "crash", "segfault", "panic", "service stopped", "restarting"},
		failureType:    "service_crash",
		recommendation: "Collect the crash context and restart the service under supervision.",
	},
}

// Heuristic is a keyword classifier. It never errors, which makes it the
// safe fallback behind the chat-based classifier.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) ClassifyCluster(ctx context.Context, in Input) (Classification, CallMeta, error) {
	if err := ctx.Err(); err != nil {
		return Classification{}, CallMeta{}, err
	}

	text := strings.ToLower(corpusText(in))
	for _, rule := range heuristicRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return Classification{
					FailureType:    rule.failureType,
					Confidence:     0.7,
					Recommendation: rule.recommendation,
					Summary:        summarize(in, rule.failureType),
				}, CallMeta{Success: true}, nil
			}
		}
	}
	return Classification{
		FailureType:    "anomalous_pattern",
		Confidence:     0.4,
		Recommendation: "Review the sample logs; no known failure signature matched.",
		Summary:        summarize(in, "anomalous_pattern"),
	}, CallMeta{Success: true}, nil
}

// corpusText concatenates the medoid and evidence so a keyword anywhere in
// the cluster can trigger a rule.
func corpusText(in Input) string {
	var b strings.Builder
	b.WriteString(in.Medoid)
	for _, e := range in.Evidence {
		b.WriteByte('\n')
		if e.Raw != "" {
			b.WriteString(e.Raw)
		} else {
			b.WriteString(e.Templated)
		}
	}
	return b.String()
}

func summarize(in Input, failureType string) string {
	medoid := in.Medoid
	const maxLen = 120
	if len(medoid) > maxLen {
		medoid = medoid[:maxLen]
	}
	return fmt.Sprintf("%s on %s: %s", failureType, in.OS, medoid)
}
