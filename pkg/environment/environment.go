// Package environment serves the environment views: ids discovered from
// ingested logs, per-environment host topology, and correlation overlays
// that project cluster impact onto the topology.
package environment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/correlate"
	"github.com/loglens/loglens/pkg/logparse"
	"github.com/loglens/loglens/pkg/services"
	"github.com/loglens/loglens/pkg/vectorstore"
)

const (
	// discoveryLimit caps the per-collection metadata scan for env ids.
	discoveryLimit = 500
	// envLogsLimit caps the per-collection log slice used for topology.
	envLogsLimit = 300

	// Environment correlation runs on navigation, so the knobs stay small.
	corrLimitPerSource = 80
	corrIncludeLogs    = 12
	corrMaxItemsPerOS  = 400
	corrCacheTTL       = 30 * time.Second

	// overlaySampleLogsMax caps the evidence carried per overlay cluster.
	overlaySampleLogsMax = 10
)

// Index is the slice of the vector store the environment views read.
type Index interface {
	GetWhere(ctx context.Context, collection string, where map[string]any, limit int) ([]vectorstore.Document, error)
}

// Summary is one row in the environment overview.
type Summary struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Region      string      `json:"region"`
	Status      string      `json:"status"`
	LastUpdated string      `json:"lastUpdated"`
	Clusters    int         `json:"clusters"`
	Coordinates Coordinates `json:"coordinates"`
}

// Detail is the environment detail payload. Overlays are served separately
// by Correlation, so the cluster fields here stay empty.
type Detail struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Region      *string        `json:"region"`
	Status      string         `json:"status"`
	Topology    Topology       `json:"topology"`
	Incidents   []any          `json:"incidents"`
	Clusters    []any          `json:"clusters"`
	NodeImpacts map[string]any `json:"node_impacts"`
	Params      map[string]any `json:"params"`
}

// ClusterOverlay is one correlated cluster projected onto the topology.
type ClusterOverlay struct {
	ID              string                `json:"id"`
	Size            int                   `json:"size"`
	Severity        string                `json:"severity"`
	Medoid          string                `json:"medoid"`
	HostBreakdown   map[string]int        `json:"host_breakdown"`
	OSBreakdown     map[string]int        `json:"os_breakdown"`
	SourceBreakdown map[string]int        `json:"source_breakdown"`
	SampleLogs      []correlate.SampleLog `json:"sample_logs"`
}

// ClusterWeight is one cluster's pull on a topology node.
type ClusterWeight struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
}

// NodeImpact aggregates the clusters touching one topology node.
type NodeImpact struct {
	Severity string          `json:"severity"`
	Clusters []ClusterWeight `json:"clusters"`
}

// Correlation is the environment correlation payload: topology plus the
// overlays and per-node impacts derived from clustering.
type Correlation struct {
	EnvironmentID string                 `json:"environment_id"`
	Topology      Topology               `json:"topology"`
	Clusters      []ClusterOverlay       `json:"clusters"`
	NodeImpacts   map[string]*NodeImpact `json:"node_impacts"`
	Params        map[string]any         `json:"params"`
}

// Service answers the environment queries.
type Service struct {
	store      Index
	correlator *correlate.Correlator
	cfg        *config.Config
	logger     *slog.Logger
	embedID    string
	corr       *corrCache

	// now is swapped out by tests.
	now func() time.Time
}

// New creates the environment service. embedID names the active embedding
// function and scopes the collections the service reads.
func New(store Index, correlator *correlate.Correlator, embedID string, cfg *config.Config) *Service {
	if store == nil {
		panic("environment: vector index is required")
	}
	if correlator == nil {
		panic("environment: correlator is required")
	}
	if cfg == nil {
		panic("environment: config is required")
	}
	return &Service{
		store:      store,
		correlator: correlator,
		cfg:        cfg,
		logger:     slog.With("component", "environment"),
		embedID:    embedID,
		corr:       newCorrCache(corrCacheTTL),
		now:        time.Now,
	}
}

// Discover returns the sorted env ids seen in ingested logs. With
// clustering disabled the scan is skipped; a discovery failure or timeout
// falls back to the configured simulation ids.
func (s *Service) Discover(ctx context.Context) []string {
	if s.cfg.DisableGlobalClustering {
		return sortedCopy(s.cfg.SimEnvIDs)
	}

	if t := s.cfg.EnvDiscoveryTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	seen := make(map[string]struct{})
	for _, osName := range logparse.AllOS() {
		coll := vectorstore.CollectionName(s.cfg.LogCollectionPrefix, osName, s.embedID)
		docs, err := s.store.GetWhere(ctx, coll, nil, discoveryLimit)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Warn("Environment discovery timed out, using fallback ids", "error", err)
				return sortedCopy(s.cfg.SimEnvIDs)
			}
			s.logger.Warn("Environment discovery skipped a collection", "collection", coll, "error", err)
			continue
		}
		for _, doc := range docs {
			if env := strings.TrimSpace(metaString(doc.Metadata, "env_id")); env != "" {
				seen[env] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns the environment overview rows, sorted by id.
func (s *Service) List(ctx context.Context) []Summary {
	ids := s.Discover(ctx)
	now := s.now().UTC().Format(time.RFC3339)

	items := make([]Summary, 0, len(ids))
	for _, id := range ids {
		items = append(items, Summary{
			ID:          id,
			Name:        displayName(id),
			Region:      id,
			Status:      "healthy",
			LastUpdated: now,
			Clusters:    0,
			Coordinates: RegionCoordinates(id),
		})
	}
	return items
}

// Detail returns one environment with its inferred topology. Unknown ids
// are ErrNotFound.
func (s *Service) Detail(ctx context.Context, envID string) (*Detail, error) {
	if !s.knownEnv(ctx, envID) {
		return nil, fmt.Errorf("environment %s not found in ingested data: %w", envID, services.ErrNotFound)
	}

	topo := Topology{Nodes: []TopologyNode{}, Edges: []TopologyEdge{}}
	if !s.cfg.DisableGlobalClustering {
		topo = s.buildTopology(ctx, envID)
	}

	return &Detail{
		ID:          envID,
		Name:        displayName(envID),
		Region:      nil,
		Status:      "healthy",
		Topology:    topo,
		Incidents:   []any{},
		Clusters:    []any{},
		NodeImpacts: map[string]any{},
		Params:      map[string]any{"timestamp": s.now().UTC().Format(time.RFC3339)},
	}, nil
}

// Correlation returns the environment's topology with correlation overlays
// and node impacts. Payloads are cached per environment.
func (s *Service) Correlation(ctx context.Context, envID string) (*Correlation, error) {
	if !s.knownEnv(ctx, envID) {
		return nil, fmt.Errorf("environment %s not found in ingested data: %w", envID, services.ErrNotFound)
	}

	if cached, ok := s.corr.get(envID); ok {
		return cached, nil
	}

	payload := &Correlation{
		EnvironmentID: envID,
		Topology:      Topology{Nodes: []TopologyNode{}, Edges: []TopologyEdge{}},
		Clusters:      []ClusterOverlay{},
		NodeImpacts:   map[string]*NodeImpact{},
		Params:        map[string]any{"disabled": true},
	}
	if !s.cfg.DisableGlobalClustering {
		payload.Topology = s.buildTopology(ctx, envID)
		res := s.correlator.Environment(ctx, envID, correlate.Params{
			LimitPerSource:        corrLimitPerSource,
			IncludeLogsPerCluster: corrIncludeLogs,
			MaxItemsPerOS:         corrMaxItemsPerOS,
		})
		payload.Clusters, payload.NodeImpacts = buildOverlays(res.Clusters)
		payload.Params = res.Params
	}

	s.corr.set(envID, payload)
	return payload, nil
}

func (s *Service) knownEnv(ctx context.Context, envID string) bool {
	for _, id := range s.Discover(ctx) {
		if id == envID {
			return true
		}
	}
	return false
}

// buildOverlays projects correlated clusters onto hosts. Clusters whose
// sample logs name no host are dropped: they cannot be placed on the
// topology. Overlays come back sorted by size, largest first.
func buildOverlays(clusters []correlate.Cluster) ([]ClusterOverlay, map[string]*NodeImpact) {
	overlays := make([]ClusterOverlay, 0, len(clusters))
	impacts := make(map[string]*NodeImpact)

	for _, c := range clusters {
		hostCounts := make(map[string]int)
		for _, sample := range c.SampleLogs {
			for _, host := range logparse.HostIdentifiersFromRaw(sample.Raw) {
				hostCounts[host]++
			}
		}
		if len(hostCounts) == 0 {
			continue
		}

		severity := c.Severity
		if severity == "" {
			severity = logparse.SeverityFromText(c.Medoid, false)
		}
		samples := c.SampleLogs
		if len(samples) > overlaySampleLogsMax {
			samples = samples[:overlaySampleLogsMax]
		}

		overlays = append(overlays, ClusterOverlay{
			ID:              c.ID,
			Size:            c.Size,
			Severity:        severity,
			Medoid:          c.Medoid,
			HostBreakdown:   hostCounts,
			OSBreakdown:     orEmptyCounts(c.OSBreakdown),
			SourceBreakdown: orEmptyCounts(c.SourceBreakdown),
			SampleLogs:      samples,
		})

		for host, count := range hostCounts {
			impact := impacts[host]
			if impact == nil {
				impact = &NodeImpact{Severity: logparse.SeverityHealthy, Clusters: []ClusterWeight{}}
				impacts[host] = impact
			}
			impact.Clusters = append(impact.Clusters, ClusterWeight{ID: c.ID, Weight: count})
			impact.Severity = logparse.EscalateSeverity(impact.Severity, severity)
		}
	}

	sort.SliceStable(overlays, func(i, j int) bool { return overlays[i].Size > overlays[j].Size })
	return overlays, impacts
}

// displayName turns an env id into a title-cased label: env-001 reads as
// "Env 001".
func displayName(envID string) string {
	words := strings.Fields(strings.ReplaceAll(envID, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}

func orEmptyCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

// corrEntry holds one cached correlation payload.
type corrEntry struct {
	payload  *Correlation
	filledAt time.Time
}

// corrCache caches correlation payloads per environment with TTL
// expiration. Expired entries are cleaned up lazily on get.
type corrCache struct {
	mu      sync.RWMutex
	entries map[string]*corrEntry
	ttl     time.Duration
}

func newCorrCache(ttl time.Duration) *corrCache {
	return &corrCache{entries: make(map[string]*corrEntry), ttl: ttl}
}

func (c *corrCache) get(envID string) (*Correlation, bool) {
	c.mu.RLock()
	entry, ok := c.entries[envID]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Since(entry.filledAt) > c.ttl {
		c.mu.Lock()
		if current, ok := c.entries[envID]; ok && time.Since(current.filledAt) > c.ttl {
			delete(c.entries, envID)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.payload, true
}

func (c *corrCache) set(envID string, payload *Correlation) {
	c.mu.Lock()
	c.entries[envID] = &corrEntry{payload: payload, filledAt: time.Now()}
	c.mu.Unlock()
}
