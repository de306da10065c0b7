// Package enrich implements the cluster enricher: the worker that consumes
// cluster candidates, gathers prototype context and evidence logs, asks the
// classifier for a verdict and publishes alerts.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/llm"
	"github.com/loglens/loglens/pkg/metrics"
	"github.com/loglens/loglens/pkg/vectorstore"
)

const (
	candidateStream = "clusters:candidates"
	alertStream     = "alerts"

	groupName    = "clusters_enrichers"
	consumerName = "cluster_enricher_1"

	readBatchSize = 5
	neighborK     = 8
	evidenceLimit = 30

	// idlePollDelay paces the loop when reads are non-blocking and the
	// stream is empty.
	idlePollDelay = 50 * time.Millisecond
)

// VectorIndex is the slice of the vector store the enricher needs.
type VectorIndex interface {
	Get(ctx context.Context, collection string, ids []string) ([]vectorstore.Document, error)
	GetWhere(ctx context.Context, collection string, where map[string]any, limit int) ([]vectorstore.Document, error)
	Query(ctx context.Context, collection string, vector []float32, k int) ([]vectorstore.Match, error)
	UpdateMetadata(ctx context.Context, collection, id string, patch map[string]any) error
}

// Enricher consumes clusters:candidates through the clusters_enrichers group.
type Enricher struct {
	rdb        *redis.Client
	store      VectorIndex
	classifier llm.Classifier
	cfg        *config.Config
	metrics    *metrics.Metrics
	logger     *slog.Logger
	embedID    string

	block time.Duration
}

// New creates the enricher worker. embedID names the active embedding
// function and scopes the collections the enricher reads.
func New(rdb *redis.Client, store VectorIndex, classifier llm.Classifier, embedID string, cfg *config.Config, m *metrics.Metrics) *Enricher {
	if rdb == nil {
		panic("enrich: redis client is required")
	}
	if store == nil {
		panic("enrich: vector index is required")
	}
	if classifier == nil {
		panic("enrich: classifier is required")
	}
	if cfg == nil {
		panic("enrich: config is required")
	}
	block := cfg.StreamBlock
	if block == 0 {
		block = time.Second
	}
	return &Enricher{
		rdb:        rdb,
		store:      store,
		classifier: classifier,
		cfg:        cfg,
		metrics:    m,
		logger:     slog.With("worker", groupName),
		embedID:    embedID,
		block:      block,
	}
}

func (e *Enricher) Name() string { return groupName }

// Run consumes cluster candidates until the context is cancelled.
func (e *Enricher) Run(ctx context.Context) error {
	if err := e.ensureGroup(ctx); err != nil {
		return err
	}
	e.logger.Info("Cluster enricher started", "stream", candidateStream, "batch_size", readBatchSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.pollOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 && e.block < 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePollDelay):
			}
		}
	}
}

func (e *Enricher) ensureGroup(ctx context.Context) error {
	err := e.rdb.XGroupCreateMkStream(ctx, candidateStream, groupName, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", groupName, err)
	}
	return nil
}

func (e *Enricher) pollOnce(ctx context.Context) (int, error) {
	streams, err := e.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: consumerName,
		Streams:  []string{candidateStream, ">"},
		Count:    readBatchSize,
		Block:    e.block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("read from %s: %w", candidateStream, err)
	}

	var seen int
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if ctx.Err() != nil {
				return seen, ctx.Err()
			}
			seen++
			e.handleCandidate(ctx, msg)
		}
	}
	return seen, nil
}

// handleCandidate always acks. Retrying a candidate whose enrichment failed
// halfway would publish duplicate alerts, so failures are logged and the
// candidate is consumed either way.
func (e *Enricher) handleCandidate(ctx context.Context, msg redis.XMessage) {
	defer func() {
		if err := e.rdb.XAck(ctx, candidateStream, groupName, msg.ID).Err(); err != nil {
			e.logger.Error("Failed to ack candidate", "stream_id", msg.ID, "error", err)
		}
	}()

	if err := e.enrich(ctx, msg); err != nil {
		e.logger.Error("Failed to enrich candidate", "stream_id", msg.ID, "error", err)
	}
}

// candidateSample mirrors the sample_logs entries the aggregator publishes.
type candidateSample struct {
	Raw       string `json:"raw"`
	Templated string `json:"templated"`
	OS        string `json:"os"`
	Source    string `json:"source"`
	EnvID     string `json:"env_id,omitempty"`
}

func (e *Enricher) enrich(ctx context.Context, msg redis.XMessage) error {
	os := stringValue(msg.Values, "os")
	clusterID := stringValue(msg.Values, "cluster_id")
	if clusterID == "" {
		return fmt.Errorf("candidate %s has no cluster_id", msg.ID)
	}

	protoColl := vectorstore.CollectionName(e.cfg.ProtoCollectionPrefix, os, e.embedID)
	protos, err := e.store.Get(ctx, protoColl, []string{clusterID})
	if err != nil {
		return fmt.Errorf("fetch prototype %s: %w", clusterID, err)
	}
	var medoid string
	var centroid []float32
	if len(protos) > 0 {
		medoid = protos[0].Text
		centroid = protos[0].Embedding
	} else {
		e.logger.Warn("Prototype missing for candidate", "cluster_id", clusterID, "os", os)
	}

	neighbors, err := e.templateNeighbors(ctx, os, centroid)
	if err != nil {
		return err
	}

	evidence, envIDs, err := e.gatherEvidence(ctx, os, clusterID, msg.Values)
	if err != nil {
		return err
	}

	result, meta, err := e.classifier.ClassifyCluster(ctx, llm.Input{
		OS:        os,
		ClusterID: clusterID,
		Medoid:    medoid,
		Neighbors: neighbors,
		Evidence:  evidence,
	})
	e.metrics.LLMRequest(meta.Success, meta.Tokens, meta.Latency)
	if err != nil {
		return fmt.Errorf("classify cluster %s: %w", clusterID, err)
	}

	if err := e.publishAlert(ctx, os, clusterID, result, envIDs, evidence); err != nil {
		return err
	}

	if len(protos) > 0 {
		e.learnPrototypeLabel(ctx, protoColl, clusterID, result)
	}
	return nil
}

// templateNeighbors looks up the nearest known templates for the centroid.
// A corrupted template index must not block classification, so the two
// error signatures it produces are swallowed.
func (e *Enricher) templateNeighbors(ctx context.Context, os string, centroid []float32) ([]llm.Neighbor, error) {
	if len(centroid) == 0 {
		return nil, nil
	}
	coll := vectorstore.CollectionName(e.cfg.TemplateCollectionPrefix, os, e.embedID)
	matches, err := e.store.Query(ctx, coll, centroid, neighborK)
	if err != nil {
		if isCorruptedIndex(err) {
			e.logger.Warn("Template index unreadable, classifying without neighbors",
				"collection", coll, "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("query template neighbors: %w", err)
	}

	neighbors := make([]llm.Neighbor, 0, len(matches))
	for _, m := range matches {
		neighbors = append(neighbors, llm.Neighbor{
			ID:       m.Document.ID,
			Document: m.Document.Text,
			Distance: m.Distance,
		})
	}
	return neighbors, nil
}

func isCorruptedIndex(err error) bool {
	text := err.Error()
	return strings.Contains(text, "Nothing found on disk") ||
		strings.Contains(text, "hnsw segment reader")
}

// gatherEvidence pulls up to 30 logs assigned to the cluster. When the log
// collection has nothing yet (the assignment writes are best-effort), the
// candidate's own sample logs serve instead.
func (e *Enricher) gatherEvidence(ctx context.Context, os, clusterID string, values map[string]any) ([]llm.EvidenceLog, []string, error) {
	coll := vectorstore.CollectionName(e.cfg.LogCollectionPrefix, os, e.embedID)
	docs, err := e.store.GetWhere(ctx, coll, map[string]any{"cluster_id": clusterID}, evidenceLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch evidence logs: %w", err)
	}

	var evidence []llm.EvidenceLog
	var envIDs []string
	seenEnv := make(map[string]struct{})
	addEnv := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seenEnv[id]; ok {
			return
		}
		seenEnv[id] = struct{}{}
		envIDs = append(envIDs, id)
	}

	for _, doc := range docs {
		evidence = append(evidence, llm.EvidenceLog{
			ID:        doc.ID,
			Raw:       metaString(doc.Metadata, "raw"),
			Templated: doc.Text,
			Source:    metaString(doc.Metadata, "source"),
			OS:        metaString(doc.Metadata, "os"),
			EnvID:     metaString(doc.Metadata, "env_id"),
		})
		addEnv(metaString(doc.Metadata, "env_id"))
	}

	if len(evidence) == 0 {
		var samples []candidateSample
		if raw := stringValue(values, "sample_logs"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &samples); err != nil {
				e.logger.Warn("Unparseable sample_logs on candidate", "cluster_id", clusterID, "error", err)
			}
		}
		for _, s := range samples {
			evidence = append(evidence, llm.EvidenceLog{
				Raw:       s.Raw,
				Templated: s.Templated,
				Source:    s.Source,
				OS:        s.OS,
				EnvID:     s.EnvID,
			})
			addEnv(s.EnvID)
		}
	}

	if len(envIDs) == 0 {
		if raw := stringValue(values, "env_ids"); raw != "" {
			var fromCandidate []string
			if err := json.Unmarshal([]byte(raw), &fromCandidate); err == nil {
				for _, id := range fromCandidate {
					addEnv(id)
				}
			}
		}
	}
	return evidence, envIDs, nil
}

func (e *Enricher) publishAlert(ctx context.Context, os, clusterID string, result llm.Classification, envIDs []string, evidence []llm.EvidenceLog) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	envJSON, err := json.Marshal(envIDs)
	if err != nil {
		return fmt.Errorf("marshal env ids: %w", err)
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}

	fields := map[string]any{
		"type":          "cluster",
		"os":            os,
		"cluster_id":    clusterID,
		"failure_type":  result.FailureType,
		"confidence":    strconv.FormatFloat(result.Confidence, 'f', -1, 64),
		"result":        string(resultJSON),
		"env_ids":       string(envJSON),
		"evidence_logs": string(evidenceJSON),
	}
	if result.Summary != "" {
		fields["summary"] = result.Summary
	}
	if result.Recommendation != "" {
		fields["solution"] = result.Recommendation
	}
	if len(envIDs) == 1 {
		fields["env_id"] = envIDs[0]
	}

	entryID, err := e.rdb.XAdd(ctx, &redis.XAddArgs{Stream: alertStream, Values: fields}).Result()
	if err != nil {
		return fmt.Errorf("publish alert for %s: %w", clusterID, err)
	}

	hashKey := "alert:" + entryID
	if err := e.rdb.HSet(ctx, hashKey, fields).Err(); err != nil {
		return fmt.Errorf("store alert hash %s: %w", hashKey, err)
	}
	if err := e.rdb.Expire(ctx, hashKey, e.cfg.AlertsTTL).Err(); err != nil {
		e.logger.Warn("Failed to set alert TTL", "key", hashKey, "error", err)
	}

	e.metrics.AlertPublished(os)
	e.logger.Info("Published alert",
		"alert_id", entryID,
		"os", os,
		"cluster_id", clusterID,
		"failure_type", result.FailureType,
		"confidence", result.Confidence)
	return nil
}

// learnPrototypeLabel writes the verdict back onto the prototype so future
// correlation passes see a labeled cluster. Best-effort.
func (e *Enricher) learnPrototypeLabel(ctx context.Context, protoColl, clusterID string, result llm.Classification) {
	patch := map[string]any{
		"label":     result.FailureType,
		"rationale": "llm_cluster",
	}
	if result.Recommendation != "" {
		patch["solution"] = result.Recommendation
	}
	if err := e.store.UpdateMetadata(ctx, protoColl, clusterID, patch); err != nil {
		e.logger.Warn("Failed to update prototype label",
			"cluster_id", clusterID, "error", err)
	}
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

func stringValue(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
