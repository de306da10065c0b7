package logparse

import "strings"

// Severity levels used for cluster overlays and incident projection.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityHealthy  = "healthy"
)

var criticalKeywords = []string{
	"failed", "error", "critical", "i/o error", "out of memory", "servfail",
}

// SeverityFromText classifies a medoid or summary line by keyword. Incident
// projection additionally treats timeouts as critical.
func SeverityFromText(text string, timeoutCritical bool) string {
	t := strings.ToLower(text)
	for _, kw := range criticalKeywords {
		if strings.Contains(t, kw) {
			return SeverityCritical
		}
	}
	if timeoutCritical && strings.Contains(t, "timeout") {
		return SeverityCritical
	}
	return SeverityWarning
}

// severityRank orders severities for escalation.
var severityRank = map[string]int{
	SeverityHealthy:  0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// EscalateSeverity returns the more severe of the two levels.
func EscalateSeverity(current, candidate string) string {
	if severityRank[candidate] > severityRank[current] {
		return candidate
	}
	return current
}
