package aggregate

// sampleLog is one recent parsed log kept per cluster, published with
// cluster candidates so the enricher has evidence even before any log
// documents are queryable.
type sampleLog struct {
	Raw       string `json:"raw"`
	Templated string `json:"templated"`
	OS        string `json:"os"`
	Source    string `json:"source"`
	EnvID     string `json:"env_id,omitempty"`
}

type clusterSamples struct {
	logs     []sampleLog
	envIDs   map[string]struct{}
	envOrder []string
}

// sampleTracker keeps the most recent logs and the environment set per
// (os, cluster). Single-goroutine use from the aggregator loop.
type sampleTracker struct {
	max      int
	clusters map[string]*clusterSamples
}

func newSampleTracker(max int) *sampleTracker {
	if max < 1 {
		max = 1
	}
	return &sampleTracker{max: max, clusters: make(map[string]*clusterSamples)}
}

func (t *sampleTracker) Add(os, clusterID string, s sampleLog) {
	key := os + "|" + clusterID
	cs, ok := t.clusters[key]
	if !ok {
		cs = &clusterSamples{envIDs: make(map[string]struct{})}
		t.clusters[key] = cs
	}
	cs.logs = append(cs.logs, s)
	if len(cs.logs) > t.max {
		cs.logs = cs.logs[len(cs.logs)-t.max:]
	}
	if s.EnvID != "" {
		if _, seen := cs.envIDs[s.EnvID]; !seen {
			cs.envIDs[s.EnvID] = struct{}{}
			cs.envOrder = append(cs.envOrder, s.EnvID)
		}
	}
}

// Snapshot returns the environment ids (in first-seen order) and the recent
// logs for a cluster. Both are copies.
func (t *sampleTracker) Snapshot(os, clusterID string) ([]string, []sampleLog) {
	cs, ok := t.clusters[os+"|"+clusterID]
	if !ok {
		return []string{}, []sampleLog{}
	}
	envs := make([]string, len(cs.envOrder))
	copy(envs, cs.envOrder)
	logs := make([]sampleLog, len(cs.logs))
	copy(logs, cs.logs)
	return envs, logs
}
