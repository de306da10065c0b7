// Package aggregate implements the issues aggregator: the worker that
// consumes raw log events from the logs stream, normalizes them, assigns
// them to online clusters and turns sustained activity into cluster
// candidates and closed issues.
package aggregate

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

	"github.com/loglens/loglens/pkg/cluster"
	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/logparse"
	"github.com/loglens/loglens/pkg/metrics"
	"github.com/loglens/loglens/pkg/vectorstore"
)

const (
	logStream       = "logs"
	candidateStream = "clusters:candidates"
	issueStream     = "issues:candidates"

	groupName    = "issues_aggregator"
	consumerName = "aggregator_1"

	readBatchSize = 100
	ackBatchSize  = 500

	lastCandidateTTL = time.Hour

	// idlePollDelay paces the loop when reads are non-blocking and the
	// stream is empty.
	idlePollDelay = 50 * time.Millisecond
)

// Aggregator consumes the logs stream through the issues_aggregator group.
type Aggregator struct {
	rdb      *redis.Client
	store    *vectorstore.Store
	assigner *cluster.Assigner
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	issues  *issueRegistry
	samples *sampleTracker
	embedID string

	// now is swapped out by tests.
	now   func() time.Time
	block time.Duration
}

// New creates the aggregator worker.
func New(rdb *redis.Client, store *vectorstore.Store, assigner *cluster.Assigner, cfg *config.Config, m *metrics.Metrics) *Aggregator {
	if rdb == nil {
		panic("aggregate: redis client is required")
	}
	if store == nil {
		panic("aggregate: vector store is required")
	}
	if assigner == nil {
		panic("aggregate: cluster assigner is required")
	}
	if cfg == nil {
		panic("aggregate: config is required")
	}
	block := cfg.StreamBlock
	if block == 0 {
		block = time.Second
	}
	return &Aggregator{
		rdb:      rdb,
		store:    store,
		assigner: assigner,
		cfg:      cfg,
		metrics:  m,
		logger:   slog.With("worker", groupName),
		issues:   newIssueRegistry(cfg.IssueMaxLogsForLLM),
		samples:  newSampleTracker(cfg.IssueSampleLogsMax),
		embedID:  store.Provider().Name(),
		now:      time.Now,
		block:    block,
	}
}

func (a *Aggregator) Name() string { return groupName }

// Run consumes the logs stream until the context is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	if err := a.ensureGroup(ctx); err != nil {
		return err
	}
	a.logger.Info("Issues aggregator started",
		"stream", logStream,
		"batch_size", readBatchSize,
		"min_logs_for_classification", a.cfg.ClusterMinLogsForClassify)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := a.pollOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 && a.block < 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idlePollDelay):
			}
		}
	}
}

// ensureGroup creates the consumer group at the stream tail, tolerating the
// group already existing.
func (a *Aggregator) ensureGroup(ctx context.Context) error {
	err := a.rdb.XGroupCreateMkStream(ctx, logStream, groupName, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group %s: %w", groupName, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// pollOnce reads one batch, processes it, acks the successes and sweeps
// idle issues. Returns the number of messages read.
func (a *Aggregator) pollOnce(ctx context.Context) (int, error) {
	streams, err := a.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: consumerName,
		Streams:  []string{logStream, ">"},
		Count:    readBatchSize,
		Block:    a.block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("read from %s: %w", logStream, err)
	}

	var seen int
	var acks []string
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if ctx.Err() != nil {
				return seen, ctx.Err()
			}
			seen++
			if err := a.processMessage(ctx, msg); err != nil {
				a.logger.Error("Failed to process log event, leaving unacked",
					"stream_id", msg.ID, "error", err)
				continue
			}
			acks = append(acks, msg.ID)
		}
	}
	a.ackBatch(ctx, acks)
	a.sweepIdleIssues(ctx)
	return seen, nil
}

func (a *Aggregator) processMessage(ctx context.Context, msg redis.XMessage) error {
	source := stringValue(msg.Values, "source")
	line := stringValue(msg.Values, "line")

	os := logparse.OSFromSource(source)
	templated, parsed := logparse.Normalize(source, os, line)
	a.metrics.LogProcessed(os)

	clusterID, err := a.assigner.AssignOrCreate(ctx, os, templated)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		a.logger.Warn("Cluster assignment failed, continuing without cluster",
			"stream_id", msg.ID, "error", err)
		clusterID = ""
	}

	a.recordLogDocument(ctx, msg.ID, os, source, line, templated, parsed, clusterID)
	a.issues.Track(os, parsed, line, templated, a.now())

	if clusterID == "" {
		return nil
	}
	a.samples.Add(os, clusterID, sampleLog{
		Raw:       line,
		Templated: templated,
		OS:        os,
		Source:    source,
		EnvID:     parsed.EnvID,
	})
	return a.bumpClusterCount(ctx, os, clusterID)
}

// recordLogDocument upserts the log into the per-OS vector collection so the
// enricher and the correlators can find it later. Best-effort: a vector
// store hiccup must not hold up stream consumption.
func (a *Aggregator) recordLogDocument(ctx context.Context, id, os, source, line, templated string, parsed logparse.Result, clusterID string) {
	meta := map[string]any{
		"raw":    line,
		"source": source,
		"os":     os,
	}
	if parsed.EnvID != "" {
		meta["env_id"] = parsed.EnvID
	}
	if clusterID != "" {
		meta["cluster_id"] = clusterID
	}

	coll := vectorstore.CollectionName(a.cfg.LogCollectionPrefix, os, a.embedID)
	err := a.store.Upsert(ctx, coll, []vectorstore.Document{
		{ID: id, Text: templated, Metadata: meta},
	})
	if err != nil {
		a.logger.Warn("Failed to persist log document", "stream_id", id, "error", err)
	}
}

// bumpClusterCount increments the per-cluster counter and publishes a
// candidate at the classification threshold, or re-publishes per the
// republish policy.
func (a *Aggregator) bumpClusterCount(ctx context.Context, os, clusterID string) error {
	countKey := fmt.Sprintf("cluster:count:%s:%s", os, clusterID)
	count, err := a.rdb.Incr(ctx, countKey).Result()
	if err != nil {
		return fmt.Errorf("incr %s: %w", countKey, err)
	}

	minCount := int64(a.cfg.ClusterMinLogsForClassify)
	switch {
	case count == minCount:
		return a.publishCandidate(ctx, os, clusterID)
	case a.cfg.CandidateRepublishEvery > 0 &&
		count > minCount &&
		count%int64(a.cfg.CandidateRepublishEvery) == 0:
		if !a.republishAllowed(ctx, os, clusterID) {
			return nil
		}
		if err := a.publishCandidate(ctx, os, clusterID); err != nil {
			return err
		}
		a.markCandidatePublished(ctx, os, clusterID)
	}
	return nil
}

// republishAllowed rate-limits re-publishes using the last-candidate
// timestamp key. Missing key means the cluster may publish again.
func (a *Aggregator) republishAllowed(ctx context.Context, os, clusterID string) bool {
	tsKey := fmt.Sprintf("cluster:last_candidate_ts:%s:%s", os, clusterID)
	val, err := a.rdb.Get(ctx, tsKey).Result()
	if errors.Is(err, redis.Nil) {
		return true
	}
	if err != nil {
		a.logger.Warn("Failed to read last candidate timestamp, skipping republish",
			"key", tsKey, "error", err)
		return false
	}
	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return true
	}
	elapsed := a.now().Sub(time.Unix(ts, 0))
	return elapsed >= a.cfg.CandidateRepublishMinInterval
}

func (a *Aggregator) markCandidatePublished(ctx context.Context, os, clusterID string) {
	tsKey := fmt.Sprintf("cluster:last_candidate_ts:%s:%s", os, clusterID)
	if err := a.rdb.SetEx(ctx, tsKey, strconv.FormatInt(a.now().Unix(), 10), lastCandidateTTL).Err(); err != nil {
		a.logger.Warn("Failed to record candidate timestamp", "key", tsKey, "error", err)
	}
}

func (a *Aggregator) publishCandidate(ctx context.Context, os, clusterID string) error {
	envIDs, logs := a.samples.Snapshot(os, clusterID)
	envJSON, err := json.Marshal(envIDs)
	if err != nil {
		return fmt.Errorf("marshal env ids: %w", err)
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("marshal sample logs: %w", err)
	}

	err = a.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: candidateStream,
		Values: map[string]any{
			"os":          os,
			"cluster_id":  clusterID,
			"env_ids":     string(envJSON),
			"sample_logs": string(logsJSON),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish candidate for %s: %w", clusterID, err)
	}

	a.metrics.CandidatePublished(os)
	a.logger.Info("Published cluster candidate",
		"os", os, "cluster_id", clusterID, "env_count", len(envIDs))
	return nil
}

func (a *Aggregator) ackBatch(ctx context.Context, ids []string) {
	for start := 0; start < len(ids); start += ackBatchSize {
		end := start + ackBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := a.rdb.XAck(ctx, logStream, groupName, ids[start:end]...).Err(); err != nil {
			a.logger.Error("Failed to ack messages", "count", end-start, "error", err)
		}
	}
}

// sweepIdleIssues publishes and drops every issue that has been quiet past
// the inactivity window.
func (a *Aggregator) sweepIdleIssues(ctx context.Context) {
	closed := a.issues.SweepIdle(a.now(), a.cfg.IssueInactivity)
	for _, is := range closed {
		logsJSON, err := json.Marshal(is.Logs)
		if err != nil {
			a.logger.Error("Failed to marshal issue logs", "issue_key", is.Key, "error", err)
			continue
		}
		err = a.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: issueStream,
			Values: map[string]any{
				"os":                is.OS,
				"issue_key":         is.Key,
				"templated_summary": is.Summary,
				"logs":              string(logsJSON),
			},
		}).Err()
		if err != nil {
			a.logger.Error("Failed to publish closed issue", "issue_key", is.Key, "error", err)
			continue
		}
		a.metrics.IssueClosed(is.OS)
		a.logger.Info("Closed idle issue", "issue_key", is.Key, "log_count", len(is.Logs))
	}
}

func stringValue(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
