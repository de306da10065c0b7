package logparse

import "regexp"

// syslogRe matches the classic BSD syslog shape shared by the linux and
// macos producers: "Jan  2 15:04:05 host component[pid]: message".
var syslogRe = regexp.MustCompile(`^[A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\s+(\S+)\s+([\w.\-/]+)(?:\[(\d+)\])?:\s*(.*)$`)

// networkRe matches Cisco-style device messages with a facility tag:
// "%LINK-3-UPDOWN: Interface GigabitEthernet0/1, changed state to down".
var networkRe = regexp.MustCompile(`^%([\w-]+):\s*(.*)$`)

// extractParts pulls (component, pid, content) from a plain-text line using
// the OS family's parser. Lines that match no shape fall back to the source
// or to "unknown" so downstream grouping still has a key.
func extractParts(source, os, line string) (component, pid, content string) {
	switch os {
	case OSLinux, OSMacOS:
		if m := syslogRe.FindStringSubmatch(line); m != nil {
			return m[2], m[3], m[4]
		}
		return OSUnknown, "", line
	case OSNetwork:
		if m := networkRe.FindStringSubmatch(line); m != nil {
			return m[1], "", m[2]
		}
		return sourceComponent(source), "", line
	case OSWindows:
		return sourceComponent(source), "", line
	}
	return OSUnknown, "", line
}
