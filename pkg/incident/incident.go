// Package incident projects correlated log clusters into incident rows
// carrying the evidence logs the UI displays as proof.
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/correlate"
	"github.com/loglens/loglens/pkg/logparse"
)

const (
	defaultLimit       = 100
	maxLimit           = 1000
	defaultIncludeLogs = 8
	maxIncludeLogs     = 50
	defaultPerSource   = 50
	maxPerSource       = 500

	// Incidents run a wider scan than environment overlays but still under
	// a wall-clock bound.
	maxItemsPerOS  = 600
	computeTimeout = 30 * time.Second
	cacheTTL       = 30 * time.Second
)

// Query are the list knobs. DefaultQuery supplies the values for fields the
// caller leaves unset.
type Query struct {
	Limit          int
	EnvID          string
	IncludeLogs    int
	LimitPerSource int
}

// DefaultQuery returns the knob defaults.
func DefaultQuery() Query {
	return Query{
		Limit:          defaultLimit,
		IncludeLogs:    defaultIncludeLogs,
		LimitPerSource: defaultPerSource,
	}
}

func normalize(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.IncludeLogs < 0 {
		q.IncludeLogs = 0
	}
	if q.IncludeLogs > maxIncludeLogs {
		q.IncludeLogs = maxIncludeLogs
	}
	if q.LimitPerSource <= 0 {
		q.LimitPerSource = defaultPerSource
	}
	if q.LimitPerSource > maxPerSource {
		q.LimitPerSource = maxPerSource
	}
	return q
}

// EvidenceLog is one raw log carried as incident evidence.
type EvidenceLog struct {
	ID     string `json:"id"`
	Raw    string `json:"raw"`
	Source string `json:"source"`
	OS     string `json:"os"`
	EnvID  string `json:"env_id"`
}

// Incident is one correlated failure group. EnvID is set only when the
// evidence points at exactly one environment.
type Incident struct {
	ID       string         `json:"id"`
	EnvIDs   []string       `json:"env_ids"`
	EnvID    *string        `json:"env_id"`
	Summary  string         `json:"summary"`
	Severity string         `json:"severity"`
	Size     int            `json:"size"`
	Logs     []EvidenceLog  `json:"logs"`
	Params   map[string]any `json:"params"`
}

// Service lists incidents derived from log clustering.
type Service struct {
	correlator *correlate.Correlator
	cfg        *config.Config
	cache      *listCache
	logger     *slog.Logger
}

// New creates the incident service.
func New(correlator *correlate.Correlator, cfg *config.Config) *Service {
	if correlator == nil {
		panic("incident: correlator is required")
	}
	if cfg == nil {
		panic("incident: config is required")
	}
	return &Service{
		correlator: correlator,
		cfg:        cfg,
		cache:      newListCache(cacheTTL),
		logger:     slog.With("component", "incident"),
	}
}

// List returns incidents from a single clustering pass over recent logs,
// scoped to q.EnvID when set. Results are cached per query for a short
// window; failures and disabled clustering degrade to an empty list.
func (s *Service) List(ctx context.Context, q Query) []Incident {
	q = normalize(q)
	key := cacheKey(q)
	if cached, ok := s.cache.get(key); ok {
		return cached
	}

	if s.cfg.DisableGlobalClustering {
		empty := []Incident{}
		s.cache.set(key, empty)
		return empty
	}

	ctx, cancel := context.WithTimeout(ctx, computeTimeout)
	defer cancel()

	res := s.correlator.LogClusters(ctx, q.EnvID, correlate.Params{
		LimitPerSource:        q.LimitPerSource,
		IncludeLogsPerCluster: q.IncludeLogs,
		MaxItemsPerOS:         maxItemsPerOS,
	})
	if ctx.Err() != nil {
		s.logger.Warn("Incident clustering hit the wall clock, serving partial result",
			"env_id", q.EnvID, "clusters", len(res.Clusters))
	}

	clusters := res.Clusters
	if len(clusters) > q.Limit {
		clusters = clusters[:q.Limit]
	}

	incidents := make([]Incident, 0, len(clusters))
	for _, c := range clusters {
		incidents = append(incidents, project(c, res.Params))
	}

	s.cache.set(key, incidents)
	return incidents
}

// project turns one cluster into an incident row. Incident severity treats
// timeouts as critical, unlike the environment overlays.
func project(c correlate.Cluster, params map[string]any) Incident {
	inc := Incident{
		ID:       c.ID,
		EnvIDs:   c.EnvIDs,
		Summary:  c.Medoid,
		Severity: logparse.SeverityFromText(c.Medoid, true),
		Size:     c.Size,
		Logs:     make([]EvidenceLog, 0, len(c.SampleLogs)),
		Params:   params,
	}
	if inc.EnvIDs == nil {
		inc.EnvIDs = []string{}
	}
	if len(c.EnvIDs) == 1 {
		env := c.EnvIDs[0]
		inc.EnvID = &env
	}
	for _, s := range c.SampleLogs {
		inc.Logs = append(inc.Logs, EvidenceLog{
			ID:     s.ID,
			Raw:    s.Raw,
			Source: s.Source,
			OS:     s.OS,
			EnvID:  s.EnvID,
		})
	}
	return inc
}

func cacheKey(q Query) string {
	env := q.EnvID
	if env == "" {
		env = "__all__"
	}
	return fmt.Sprintf("%s|%d|%d|%d", env, q.Limit, q.IncludeLogs, q.LimitPerSource)
}

// listCache holds incident lists per query key with TTL expiration.
// Expired entries are cleaned up lazily on get.
type listCache struct {
	mu      sync.RWMutex
	entries map[string]*listEntry
	ttl     time.Duration
}

type listEntry struct {
	incidents []Incident
	filledAt  time.Time
}

func newListCache(ttl time.Duration) *listCache {
	return &listCache{entries: make(map[string]*listEntry), ttl: ttl}
}

func (c *listCache) get(key string) ([]Incident, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Since(entry.filledAt) > c.ttl {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.filledAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.incidents, true
}

func (c *listCache) set(key string, incidents []Incident) {
	c.mu.Lock()
	c.entries[key] = &listEntry{incidents: incidents, filledAt: time.Now()}
	c.mu.Unlock()
}
