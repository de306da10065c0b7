package aggregate

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loglens/loglens/pkg/logparse"
)

// issueLog is one log line retained for an open issue. The JSON shape is
// what gets published to issues:candidates when the issue closes.
type issueLog struct {
	Templated string `json:"templated"`
	Raw       string `json:"raw"`
	Component string `json:"component"`
	PID       string `json:"pid,omitempty"`
	Time      int64  `json:"time"`
}

// issue groups consecutive activity of one (os, component, pid) tuple.
type issue struct {
	os         string
	key        string
	createdAt  time.Time
	lastSeenAt time.Time
	logs       []issueLog
}

// closedIssue is an issue that went idle and is ready to publish.
type closedIssue struct {
	OS      string
	Key     string
	Summary string
	Logs    []issueLog
}

// issueRegistry tracks open issues in memory. Only the most recent maxLogs
// lines per issue are retained; that is also the cap on what gets published.
type issueRegistry struct {
	mu      sync.Mutex
	maxLogs int
	issues  map[string]*issue
}

func newIssueRegistry(maxLogs int) *issueRegistry {
	if maxLogs < 1 {
		maxLogs = 1
	}
	return &issueRegistry{maxLogs: maxLogs, issues: make(map[string]*issue)}
}

// issueKey builds the grouping key. The pid slot collapses to "nopid" so
// pid-less components still group together.
func issueKey(os string, parsed logparse.Result) string {
	pid := parsed.PID
	if pid == "" {
		pid = "nopid"
	}
	component := strings.ToLower(parsed.Component)
	if component == "" {
		component = logparse.OSUnknown
	}
	return fmt.Sprintf("%s|%s|%s", os, component, pid)
}

// Track records a log line against its issue, opening the issue if needed.
func (r *issueRegistry) Track(os string, parsed logparse.Result, raw, templated string, now time.Time) {
	key := issueKey(os, parsed)

	r.mu.Lock()
	defer r.mu.Unlock()

	is, ok := r.issues[key]
	if !ok {
		is = &issue{os: os, key: key, createdAt: now}
		r.issues[key] = is
	}
	is.lastSeenAt = now
	is.logs = append(is.logs, issueLog{
		Templated: templated,
		Raw:       raw,
		Component: parsed.Component,
		PID:       parsed.PID,
		Time:      now.Unix(),
	})
	if len(is.logs) > r.maxLogs {
		is.logs = is.logs[len(is.logs)-r.maxLogs:]
	}
}

// SweepIdle closes and returns every issue idle for at least inactivity.
// Closed issues are removed from the registry.
func (r *issueRegistry) SweepIdle(now time.Time, inactivity time.Duration) []closedIssue {
	r.mu.Lock()
	defer r.mu.Unlock()

	var closed []closedIssue
	for key, is := range r.issues {
		if now.Sub(is.lastSeenAt) < inactivity {
			continue
		}
		templated := make([]string, len(is.logs))
		for i, l := range is.logs {
			templated[i] = l.Templated
		}
		closed = append(closed, closedIssue{
			OS:      is.os,
			Key:     is.key,
			Summary: strings.Join(templated, " \n"),
			Logs:    is.logs,
		})
		delete(r.issues, key)
	}
	return closed
}

// Len reports the number of open issues.
func (r *issueRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.issues)
}
