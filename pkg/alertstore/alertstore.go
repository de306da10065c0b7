// Package alertstore is the query-side contract over published alerts: the
// alerts stream is the time-ordered index, the alert:<id> hashes carry the
// full payloads with a TTL, and the persisted/feedback sets track operator
// decisions.
package alertstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/services"
)

const alertStream = "alerts"

// Feedback kinds accepted by AddFeedback.
const (
	FeedbackCorrect   = "correct"
	FeedbackIncorrect = "incorrect"
)

// Alert is the merged view of one alert for list responses.
type Alert struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	OS        string           `json:"os"`
	IssueKey  string           `json:"issue_key,omitempty"`
	ClusterID string           `json:"cluster_id"`
	Summary   string           `json:"summary,omitempty"`
	Solution  string           `json:"solution,omitempty"`
	Result    map[string]any   `json:"result"`
	Persisted bool             `json:"persisted"`
	Feedback  string           `json:"feedback,omitempty"`
	EnvID     string           `json:"env_id,omitempty"`
	EnvIDs    []string         `json:"env_ids"`
	Logs      []map[string]any `json:"logs"`
}

// Store reads and mutates alert state in Redis.
type Store struct {
	rdb    *redis.Client
	cfg    *config.Config
	logger *slog.Logger
}

// New creates the alert store.
func New(rdb *redis.Client, cfg *config.Config) *Store {
	if rdb == nil {
		panic("alertstore: redis client is required")
	}
	if cfg == nil {
		panic("alertstore: config is required")
	}
	return &Store{rdb: rdb, cfg: cfg, logger: slog.With("component", "alertstore")}
}

// List returns up to limit alerts, newest first. Recent stream entries come
// first, topped up with older persisted alerts whose stream entries have
// been trimmed. An envID filter keeps alerts whose env_ids contain it or
// whose single env_id equals it.
func (s *Store) List(ctx context.Context, limit int, envID string) ([]Alert, error) {
	if limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	persisted, err := s.rdb.SMembers(ctx, s.cfg.AlertsPersistedSet).Result()
	if err != nil {
		s.logger.Warn("Failed to read persisted set, listing without it", "error", err)
		persisted = nil
	}
	persistedSet := make(map[string]bool, len(persisted))
	for _, id := range persisted {
		persistedSet[id] = true
	}

	entries, err := s.rdb.XRevRangeN(ctx, alertStream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("scan %s stream: %w", alertStream, err)
	}

	seen := make(map[string]bool, len(entries))
	out := make([]Alert, 0, limit)

	if len(entries) > 0 {
		hashes, err := s.fetchHashes(ctx, entryIDs(entries))
		if err != nil {
			return nil, err
		}
		for i, entry := range entries {
			seen[entry.ID] = true
			fields := hashes[i]
			if len(fields) == 0 {
				// Hash expired; the stream entry still carries the full payload.
				fields = stringifyValues(entry.Values)
			}
			out = append(out, buildAlert(entry.ID, fields, persistedSet[entry.ID]))
		}
	}

	// Top up with persisted alerts older than the stream window.
	if remaining := limit - len(out); remaining > 0 && len(persisted) > 0 {
		var candidates []string
		for _, id := range persisted {
			if !seen[id] {
				candidates = append(candidates, id)
			}
		}
		sort.Sort(sort.Reverse(sort.StringSlice(candidates)))
		if len(candidates) > remaining {
			candidates = candidates[:remaining]
		}
		if len(candidates) > 0 {
			hashes, err := s.fetchHashes(ctx, candidates)
			if err != nil {
				return nil, err
			}
			for i, id := range candidates {
				if len(hashes[i]) == 0 {
					continue
				}
				out = append(out, buildAlert(id, hashes[i], true))
			}
		}
	}

	// Stream ids are time-prefixed, so sorting by id is sorting by time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if envID != "" {
		filtered := out[:0]
		for _, a := range out {
			if a.EnvID == envID || containsString(a.EnvIDs, envID) {
				filtered = append(filtered, a)
			}
		}
		out = filtered
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Persist removes the TTL from an alert hash and records it in the
// persisted set. A missing hash is reconstructed from the stream entry;
// a missing entry is ErrNotFound, a malformed id is ErrInvalidInput.
func (s *Store) Persist(ctx context.Context, id string) error {
	if !streamIDValid(id) {
		return fmt.Errorf("alert id %q: %w", id, services.ErrInvalidInput)
	}

	key := hashKey(id)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check alert hash %s: %w", key, err)
	}
	if exists == 0 {
		entries, err := s.rdb.XRange(ctx, alertStream, id, id).Result()
		if err != nil {
			return fmt.Errorf("scan stream for alert %s: %w", id, err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("alert %s: %w", id, services.ErrNotFound)
		}
		fields := stringifyValues(entries[0].Values)
		fields["id"] = id
		if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
			return fmt.Errorf("rebuild alert hash %s: %w", key, err)
		}
	}

	pipe := s.rdb.Pipeline()
	pipe.Persist(ctx, key)
	pipe.SAdd(ctx, s.cfg.AlertsPersistedSet, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("persist alert %s: %w", id, err)
	}

	s.logger.Info("Alert persisted", "alert_id", id)
	return nil
}

// AddFeedback records operator feedback on an alert. The two feedback sets
// stay mutually exclusive: one pipeline sets the hash field, adds to the
// target set and removes from the other.
func (s *Store) AddFeedback(ctx context.Context, id, kind string) error {
	if !streamIDValid(id) {
		return fmt.Errorf("alert id %q: %w", id, services.ErrInvalidInput)
	}
	if kind != FeedbackCorrect && kind != FeedbackIncorrect {
		return services.NewValidationError("feedback", "must be correct or incorrect")
	}

	key := hashKey(id)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check alert hash %s: %w", key, err)
	}
	if exists == 0 {
		return fmt.Errorf("alert %s: %w", id, services.ErrNotFound)
	}

	target, opposite := s.cfg.AlertsFeedbackCorrect, s.cfg.AlertsFeedbackIncorrect
	if kind == FeedbackIncorrect {
		target, opposite = opposite, target
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "feedback", kind)
	pipe.SAdd(ctx, target, id)
	pipe.SRem(ctx, opposite, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record feedback for %s: %w", id, err)
	}

	s.logger.Info("Alert feedback recorded", "alert_id", id, "feedback", kind)
	return nil
}

// fetchHashes pipelines one HGETALL per id, returning results in id order.
// Missing hashes come back as empty maps.
func (s *Store) fetchHashes(ctx context.Context, ids []string) ([]map[string]string, error) {
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, hashKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("fetch alert hashes: %w", err)
	}

	out := make([]map[string]string, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			fields = nil
		}
		out[i] = fields
	}
	return out, nil
}

// buildAlert merges one alert's hash (or stream fallback) fields into the
// response shape. Unparseable JSON fields degrade to empty values rather
// than failing the listing.
func buildAlert(id string, fields map[string]string, persisted bool) Alert {
	result := parseResult(fields["result"])
	envIDs := parseEnvIDs(fields["env_ids"])

	summary := fields["summary"]
	if summary == "" {
		summary, _ = result["summary"].(string)
	}
	solution := fields["solution"]
	if solution == "" {
		solution, _ = result["recommendation"].(string)
	}
	envID := fields["env_id"]
	if envID == "" && len(envIDs) == 1 {
		envID = envIDs[0]
	}

	return Alert{
		ID:        id,
		Type:      fields["type"],
		OS:        fields["os"],
		IssueKey:  fields["issue_key"],
		ClusterID: fields["cluster_id"],
		Summary:   summary,
		Solution:  solution,
		Result:    result,
		Persisted: persisted,
		Feedback:  fields["feedback"],
		EnvID:     envID,
		EnvIDs:    envIDs,
		Logs:      parseLogs(fields["evidence_logs"]),
	}
}

// parseResult decodes the result JSON. Some historical producers wrote
// single-quoted pseudo-JSON; coercing quotes recovers those. Anything still
// unparseable is preserved raw.
func parseResult(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		return result
	}
	coerced := strings.ReplaceAll(raw, "'", `"`)
	if err := json.Unmarshal([]byte(coerced), &result); err == nil {
		return result
	}
	return map[string]any{"raw": raw}
}

func parseEnvIDs(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return []string{}
	}
	return ids
}

func parseLogs(raw string) []map[string]any {
	if raw == "" {
		return []map[string]any{}
	}
	var logs []map[string]any
	if err := json.Unmarshal([]byte(raw), &logs); err != nil {
		return []map[string]any{}
	}
	return logs
}

func hashKey(id string) string {
	return "alert:" + id
}

// streamIDValid reports whether id has the <ms>-<seq> shape of a stream
// entry id. Alert ids are always full stream entry ids, so anything else
// is rejected before it reaches Redis.
func streamIDValid(id string) bool {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok || ms == "" || seq == "" {
		return false
	}
	for _, r := range ms {
		if r < '0' || r > '9' {
			return false
		}
	}
	for _, r := range seq {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func entryIDs(entries []redis.XMessage) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func stringifyValues(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
