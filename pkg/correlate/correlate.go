// Package correlate groups related failures across sources. The default
// mode clusters the online prototypes with HDBSCAN; cheaper fallbacks
// cluster recent log documents in a single pass or group raw stream lines
// by normalized text.
package correlate

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/logparse"
	"github.com/loglens/loglens/pkg/vectorstore"
)

// Index is the slice of the vector store the correlator reads.
type Index interface {
	GetWhere(ctx context.Context, collection string, where map[string]any, limit int) ([]vectorstore.Document, error)
}

// Params are the clustering knobs, already normalized by the time the
// algorithms see them.
type Params struct {
	LimitPerSource        int
	Threshold             float64
	MinSize               int
	IncludeLogsPerCluster int
	Algorithm             string // "hdbscan" or "single_pass"
	Basis                 string // "prototypes" or "logs"
	MinClusterSize        int
	MinSamples            int // 0 defaults to MinClusterSize
	MaxItemsPerOS         int // 0 defaults to CORRELATION_MAX_ITEMS_PER_OS
}

// DefaultParams returns the knob defaults for a config.
func DefaultParams(cfg *config.Config) Params {
	return Params{
		LimitPerSource:        200,
		Threshold:             cfg.ClusterDistanceThreshold,
		MinSize:               cfg.ClusterMinSize,
		IncludeLogsPerCluster: 20,
		Algorithm:             "hdbscan",
		Basis:                 "prototypes",
		MinClusterSize:        5,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (c *Correlator) normalize(p Params) Params {
	if p.LimitPerSource <= 0 {
		p.LimitPerSource = 200
	}
	maxItems := p.MaxItemsPerOS
	if maxItems <= 0 {
		maxItems = c.cfg.CorrelationMaxItemsPerOS
	}
	if maxItems <= 0 {
		maxItems = 2000
	}
	p.LimitPerSource = clampInt(p.LimitPerSource, 1, 2000)
	if p.LimitPerSource > maxItems {
		p.LimitPerSource = maxItems
	}
	if p.Threshold <= 0 {
		p.Threshold = c.cfg.ClusterDistanceThreshold
	}
	if p.MinSize <= 0 {
		p.MinSize = c.cfg.ClusterMinSize
	}
	if p.MinSize < 1 {
		p.MinSize = 1
	}
	p.IncludeLogsPerCluster = clampInt(p.IncludeLogsPerCluster, 0, 200)
	if p.MinClusterSize <= 0 {
		p.MinClusterSize = 5
	}
	p.MinClusterSize = clampInt(p.MinClusterSize, 2, 1000)
	if p.MinSamples < 0 {
		p.MinSamples = 0
	}
	if p.Algorithm == "" {
		p.Algorithm = "hdbscan"
	}
	if p.Basis == "" {
		p.Basis = "prototypes"
	}
	return p
}

// SampleLog is one evidence log attached to a correlated cluster.
type SampleLog struct {
	ID        string `json:"id,omitempty"`
	Raw       string `json:"raw"`
	Templated string `json:"templated,omitempty"`
	Source    string `json:"source,omitempty"`
	OS        string `json:"os,omitempty"`
	EnvID     string `json:"env_id,omitempty"`
}

// Cluster is one correlated group of failures.
type Cluster struct {
	ID              string         `json:"id"`
	Size            int            `json:"size"`
	Medoid          string         `json:"medoid"`
	Label           string         `json:"label,omitempty"`
	Severity        string         `json:"severity,omitempty"`
	OSBreakdown     map[string]int `json:"os_breakdown,omitempty"`
	SourceBreakdown map[string]int `json:"source_breakdown,omitempty"`
	HostBreakdown   map[string]int `json:"host_breakdown,omitempty"`
	EnvIDs          []string       `json:"env_ids,omitempty"`
	SampleLogs      []SampleLog    `json:"sample_logs"`
}

// Result is a correlation payload: clusters plus the parameters that
// produced them.
type Result struct {
	Clusters []Cluster      `json:"clusters"`
	Params   map[string]any `json:"params"`
}

// item is one clusterable unit: a prototype or a log document.
type item struct {
	id       string
	os       string
	document string
	vector   []float64
	metadata map[string]any
}

// Correlator runs the correlation modes over the vector store and the raw
// stream.
type Correlator struct {
	rdb     *redis.Client
	store   Index
	cfg     *config.Config
	embedID string
	logger  *slog.Logger
}

// New creates a correlator. rdb may be nil when the redis fallback mode is
// disabled.
func New(rdb *redis.Client, store Index, embedID string, cfg *config.Config) *Correlator {
	if store == nil {
		panic("correlate: vector index is required")
	}
	if cfg == nil {
		panic("correlate: config is required")
	}
	return &Correlator{
		rdb:     rdb,
		store:   store,
		cfg:     cfg,
		embedID: embedID,
		logger:  slog.With("component", "correlate"),
	}
}

// Global runs the configured global correlation mode. It never returns an
// error: failures degrade to an empty payload with an error marker so the
// query layer stays demo-friendly.
func (c *Correlator) Global(ctx context.Context, p Params) Result {
	p = c.normalize(p)

	if c.cfg.DisableGlobalClustering {
		return Result{Clusters: []Cluster{}, Params: map[string]any{"disabled": true}}
	}
	if c.cfg.CorrelationFallbackRedis {
		return c.redisFallback(ctx, p)
	}
	if c.cfg.DisableHDBSCAN {
		cheap := p
		cheap.LimitPerSource = clampInt(cheap.LimitPerSource, 1, 20)
		cheap.IncludeLogsPerCluster = clampInt(cheap.IncludeLogsPerCluster, 0, 10)
		return c.singlePassOverLogs(ctx, cheap, "")
	}
	if p.Algorithm == "single_pass" || p.Basis == "logs" {
		return c.singlePassOverLogs(ctx, p, "")
	}

	res, err := c.hdbscanOverPrototypes(ctx, p)
	if err != nil {
		c.logger.Error("Global clustering failed", "error", err)
		return Result{Clusters: []Cluster{}, Params: map[string]any{
			"algorithm": "hdbscan",
			"basis":     "prototypes",
			"error":     "clustering_failed",
		}}
	}
	if len(res.Clusters) == 0 {
		fallback := p
		fallback.Algorithm = "single_pass"
		fallback.Basis = "logs"
		if fallback.MinSize = p.MinSize / 2; fallback.MinSize < 2 {
			fallback.MinSize = 2
		}
		return c.singlePassOverLogs(ctx, fallback, "")
	}
	return res
}

// LogClusters runs the single-pass clustering over recent log documents,
// optionally scoped to one environment. Incidents and environment overlays
// build on this directly, bypassing the global-mode flag dispatch.
func (c *Correlator) LogClusters(ctx context.Context, envID string, p Params) Result {
	p = c.normalize(p)
	return c.singlePassOverLogs(ctx, p, envID)
}

// Environment runs the env-scoped correlation: a single pass over that
// environment's log documents with severity overlays.
func (c *Correlator) Environment(ctx context.Context, envID string, p Params) Result {
	res := c.LogClusters(ctx, envID, p)
	for i := range res.Clusters {
		res.Clusters[i].Severity = logparse.SeverityFromText(res.Clusters[i].Medoid, false)
	}
	res.Params["env_id"] = envID
	return res
}

func (c *Correlator) hdbscanOverPrototypes(ctx context.Context, p Params) (Result, error) {
	items, err := c.gatherPrototypes(ctx, p.LimitPerSource)
	if err != nil {
		return Result{}, err
	}

	params := map[string]any{
		"algorithm":                "hdbscan",
		"basis":                    "prototypes",
		"min_cluster_size":         p.MinClusterSize,
		"limit_per_source":         p.LimitPerSource,
		"include_logs_per_cluster": p.IncludeLogsPerCluster,
		"items":                    len(items),
	}
	if p.MinSamples > 0 {
		params["min_samples"] = p.MinSamples
	}
	if len(items) == 0 {
		return Result{Clusters: []Cluster{}, Params: params}, nil
	}

	groups := hdbscanGroups(vectorsOf(items), p.MinClusterSize, p.MinSamples)
	clusters := c.buildClusters(ctx, items, groups, p.IncludeLogsPerCluster, true)
	return Result{Clusters: clusters, Params: params}, nil
}

func (c *Correlator) singlePassOverLogs(ctx context.Context, p Params, envID string) Result {
	items := c.gatherLogs(ctx, p.LimitPerSource, envID)

	params := map[string]any{
		"algorithm":        "single_pass",
		"basis":            "logs",
		"threshold":        p.Threshold,
		"min_size":         p.MinSize,
		"limit_per_source": p.LimitPerSource,
		"items":            len(items),
	}
	if len(items) == 0 {
		return Result{Clusters: []Cluster{}, Params: params}
	}

	groups := singlePassGroups(vectorsOf(items), p.Threshold, p.MinSize)
	clusters := c.buildClusters(ctx, items, groups, p.IncludeLogsPerCluster, false)
	return Result{Clusters: clusters, Params: params}
}

// gatherPrototypes pulls recent prototypes with embeddings from every OS
// collection.
func (c *Correlator) gatherPrototypes(ctx context.Context, limitPerSource int) ([]item, error) {
	var items []item
	for _, os := range logparse.AllOS() {
		coll := vectorstore.CollectionName(c.cfg.ProtoCollectionPrefix, os, c.embedID)
		docs, err := c.store.GetWhere(ctx, coll, nil, limitPerSource)
		if err != nil {
			return nil, err
		}
		items = appendItems(items, docs, os)
	}
	return items, nil
}

// gatherLogs pulls recent log documents, optionally scoped to one
// environment. Per-OS failures are logged and skipped so one bad collection
// cannot empty the whole payload.
func (c *Correlator) gatherLogs(ctx context.Context, limitPerSource int, envID string) []item {
	var where map[string]any
	if envID != "" {
		where = map[string]any{"env_id": envID}
	}

	var items []item
	for _, os := range logparse.AllOS() {
		coll := vectorstore.CollectionName(c.cfg.LogCollectionPrefix, os, c.embedID)
		docs, err := c.store.GetWhere(ctx, coll, where, limitPerSource)
		if err != nil {
			c.logger.Warn("Skipping collection in correlation", "collection", coll, "error", err)
			continue
		}
		items = appendItems(items, docs, os)
	}
	return items
}

func appendItems(items []item, docs []vectorstore.Document, os string) []item {
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			continue
		}
		vec := make([]float64, len(doc.Embedding))
		for i, f := range doc.Embedding {
			vec[i] = float64(f)
		}
		items = append(items, item{
			id:       doc.ID,
			os:       os,
			document: doc.Text,
			vector:   vec,
			metadata: doc.Metadata,
		})
	}
	return items
}

func vectorsOf(items []item) [][]float64 {
	out := make([][]float64, len(items))
	for i := range items {
		out[i] = items[i].vector
	}
	return out
}

// buildClusters projects index groups into the cluster payload. For the
// prototypes basis, sample logs come from the per-OS log collections via
// each member's cluster_id; for the logs basis the members are the logs.
func (c *Correlator) buildClusters(ctx context.Context, items []item, groups [][]int, includeLogs int, prototypesBasis bool) []Cluster {
	clusters := make([]Cluster, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		cl := Cluster{
			Size:            len(group),
			Medoid:          items[medoidIndex(items, group)].document,
			OSBreakdown:     map[string]int{},
			SourceBreakdown: map[string]int{},
			HostBreakdown:   map[string]int{},
			SampleLogs:      []SampleLog{},
		}

		labelCounts := map[string]int{}
		for _, idx := range group {
			it := items[idx]
			cl.OSBreakdown[it.os]++
			if src := metaString(it.metadata, "source"); src != "" {
				cl.SourceBreakdown[src]++
			}
			if label := metaString(it.metadata, "label"); label != "" && label != "unknown" {
				labelCounts[label]++
			}
		}
		cl.Label = majorityKey(labelCounts)

		if prototypesBasis {
			cl.SampleLogs = c.prototypeSampleLogs(ctx, items, group, includeLogs)
		} else {
			cl.SampleLogs = memberSampleLogs(items, group, includeLogs)
		}

		seenEnv := map[string]struct{}{}
		for _, s := range cl.SampleLogs {
			for _, host := range logparse.HostIdentifiersFromRaw(s.Raw) {
				cl.HostBreakdown[host]++
			}
			if s.EnvID != "" {
				if _, ok := seenEnv[s.EnvID]; !ok {
					seenEnv[s.EnvID] = struct{}{}
					cl.EnvIDs = append(cl.EnvIDs, s.EnvID)
				}
			}
		}
		clusters = append(clusters, cl)
	}

	sort.SliceStable(clusters, func(i, j int) bool { return clusters[i].Size > clusters[j].Size })
	for i := range clusters {
		clusters[i].ID = clusterID(i)
	}
	return clusters
}

// prototypeSampleLogs pulls logs assigned to the group's prototypes, up to
// the include cap across the whole cluster.
func (c *Correlator) prototypeSampleLogs(ctx context.Context, items []item, group []int, includeLogs int) []SampleLog {
	out := []SampleLog{}
	if includeLogs <= 0 {
		return out
	}
	for _, idx := range group {
		remaining := includeLogs - len(out)
		if remaining <= 0 {
			break
		}
		it := items[idx]
		coll := vectorstore.CollectionName(c.cfg.LogCollectionPrefix, it.os, c.embedID)
		docs, err := c.store.GetWhere(ctx, coll, map[string]any{"cluster_id": it.id}, remaining)
		if err != nil {
			c.logger.Warn("Failed to pull sample logs", "cluster_id", it.id, "error", err)
			continue
		}
		for _, doc := range docs {
			out = append(out, SampleLog{
				ID:        doc.ID,
				Raw:       metaString(doc.Metadata, "raw"),
				Templated: doc.Text,
				Source:    metaString(doc.Metadata, "source"),
				OS:        metaString(doc.Metadata, "os"),
				EnvID:     metaString(doc.Metadata, "env_id"),
			})
		}
	}
	return out
}

func memberSampleLogs(items []item, group []int, includeLogs int) []SampleLog {
	out := []SampleLog{}
	for _, idx := range group {
		if len(out) >= includeLogs {
			break
		}
		it := items[idx]
		out = append(out, SampleLog{
			ID:        it.id,
			Raw:       metaString(it.metadata, "raw"),
			Templated: it.document,
			Source:    metaString(it.metadata, "source"),
			OS:        it.os,
			EnvID:     metaString(it.metadata, "env_id"),
		})
	}
	return out
}

// medoidIndex returns the group member with the minimal summed distance to
// the other members.
func medoidIndex(items []item, group []int) int {
	if len(group) == 1 {
		return group[0]
	}
	best, bestSum := group[0], 0.0
	for i, a := range group {
		var sum float64
		for _, b := range group {
			if a == b {
				continue
			}
			sum += cosineDistance64(items[a].vector, items[b].vector)
		}
		if i == 0 || sum < bestSum {
			best, bestSum = a, sum
		}
	}
	return best
}

func majorityKey(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}

func clusterID(idx int) string {
	return "gcluster_" + strconv.Itoa(idx)
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
