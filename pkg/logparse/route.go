package logparse

import "strings"

// integrationPrefixes mark sources whose lines are JSON payloads from a
// monitoring integration rather than plain OS log text.
var integrationPrefixes = []string{"scom:", "squaredup:", "catalyst:", "thousandeyes:"}

// IsIntegrationSource reports whether the source emits JSON integration
// payloads.
func IsIntegrationSource(source string) bool {
	s := strings.ToLower(source)
	for _, p := range integrationPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// OSFromSource routes a source name to its OS family. Routing is prefix and
// substring based; unrecognized sources map to OSUnknown.
func OSFromSource(source string) string {
	s := strings.ToLower(source)
	switch {
	case strings.HasPrefix(s, "scom:"), strings.HasPrefix(s, "squaredup:"):
		return OSWindows
	case strings.HasPrefix(s, "catalyst:"), strings.HasPrefix(s, "thousandeyes:"):
		return OSNetwork
	case strings.Contains(s, "linux.log"):
		return OSLinux
	case strings.Contains(s, "mac.log"):
		return OSMacOS
	case strings.Contains(s, "windows"):
		return OSWindows
	}
	return OSUnknown
}

// sourceComponent derives a component name from a source, using the suffix
// after the integration prefix when present ("scom:SCOM-MS01" -> "SCOM-MS01").
func sourceComponent(source string) string {
	if i := strings.IndexByte(source, ':'); i >= 0 && i+1 < len(source) {
		return source[i+1:]
	}
	return source
}
