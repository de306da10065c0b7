package alertstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/services"
)

func testConfig() *config.Config {
	return &config.Config{
		AlertsTTL:               time.Hour,
		AlertsPersistedSet:      "alerts:persisted",
		AlertsFeedbackCorrect:   "alerts:feedback:correct",
		AlertsFeedbackIncorrect: "alerts:feedback:incorrect",
	}
}

type alertFixture struct {
	store *Store
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	cfg   *config.Config
}

func setupStore(t *testing.T) *alertFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := testConfig()
	return &alertFixture{store: New(rdb, cfg), mr: mr, rdb: rdb, cfg: cfg}
}

// publish mirrors what the enricher writes: a stream entry plus a hash
// mirror with a TTL. Explicit ids keep the ordering assertions stable.
func (f *alertFixture) publish(t *testing.T, id string, fields map[string]any) {
	t.Helper()
	ctx := context.Background()
	err := f.rdb.XAdd(ctx, &redis.XAddArgs{Stream: alertStream, ID: id, Values: fields}).Err()
	require.NoError(t, err)
	require.NoError(t, f.rdb.HSet(ctx, hashKey(id), fields).Err())
	require.NoError(t, f.rdb.Expire(ctx, hashKey(id), f.cfg.AlertsTTL).Err())
}

// publishStreamOnly adds a stream entry without the hash mirror, the state
// an alert is in once its hash TTL fired.
func (f *alertFixture) publishStreamOnly(t *testing.T, id string, fields map[string]any) {
	t.Helper()
	err := f.rdb.XAdd(context.Background(), &redis.XAddArgs{Stream: alertStream, ID: id, Values: fields}).Err()
	require.NoError(t, err)
}

func alertFields(clusterID, summary string, envIDs string) map[string]any {
	return map[string]any{
		"type":          "cluster",
		"os":            "linux",
		"cluster_id":    clusterID,
		"failure_type":  "disk_failure",
		"confidence":    "0.9",
		"result":        `{"failure_type":"disk_failure","confidence":0.9,"recommendation":"replace disk","summary":"` + summary + `"}`,
		"env_ids":       envIDs,
		"evidence_logs": `[{"raw":"kernel: sector write failure","source":"tail:/var/log/linux.log"}]`,
		"summary":       summary,
		"solution":      "replace disk",
	}
}

func ids(alerts []Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.ID
	}
	return out
}

func TestListNewestFirst(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	f.publish(t, "100-1", alertFields("cluster_a", "disk errors on db-1", `["env-001"]`))
	f.publish(t, "200-1", alertFields("cluster_b", "auth failures on web-1", `["env-002"]`))
	f.publish(t, "300-1", alertFields("cluster_c", "oom kills on app-1", `["env-003"]`))

	alerts, err := f.store.List(ctx, 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"300-1", "200-1", "100-1"}, ids(alerts))

	first := alerts[0]
	assert.Equal(t, "cluster", first.Type)
	assert.Equal(t, "linux", first.OS)
	assert.Equal(t, "cluster_c", first.ClusterID)
	assert.Equal(t, "oom kills on app-1", first.Summary)
	assert.Equal(t, "replace disk", first.Solution)
	assert.Equal(t, "disk_failure", first.Result["failure_type"])
	assert.Equal(t, []string{"env-003"}, first.EnvIDs)
	assert.Equal(t, "env-003", first.EnvID, "single env id is promoted")
	require.Len(t, first.Logs, 1)
	assert.Equal(t, "kernel: sector write failure", first.Logs[0]["raw"])
	assert.False(t, first.Persisted)
}

func TestListRespectsLimit(t *testing.T) {
	f := setupStore(t)

	f.publish(t, "100-1", alertFields("cluster_a", "a", `[]`))
	f.publish(t, "200-1", alertFields("cluster_b", "b", `[]`))
	f.publish(t, "300-1", alertFields("cluster_c", "c", `[]`))

	alerts, err := f.store.List(context.Background(), 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"300-1", "200-1"}, ids(alerts))
}

func TestListEmptyStream(t *testing.T) {
	f := setupStore(t)

	alerts, err := f.store.List(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestListFallsBackToStreamEntryWhenHashExpired(t *testing.T) {
	f := setupStore(t)

	f.publishStreamOnly(t, "100-1", alertFields("cluster_gone", "hash expired", `["env-001"]`))

	alerts, err := f.store.List(context.Background(), 10, "")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "cluster_gone", alerts[0].ClusterID)
	assert.Equal(t, "hash expired", alerts[0].Summary)
	assert.Equal(t, []string{"env-001"}, alerts[0].EnvIDs)
}

func TestListTopsUpWithPersistedAlerts(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	f.publish(t, "100-1", alertFields("cluster_old", "oldest", `[]`))
	f.publish(t, "200-1", alertFields("cluster_mid", "middle", `[]`))
	f.publish(t, "300-1", alertFields("cluster_new", "newest", `[]`))
	require.NoError(t, f.store.Persist(ctx, "100-1"))

	// Trim the stream down to the newest entry. The persisted alert
	// survives through its hash; the unpersisted middle one is gone.
	require.NoError(t, f.rdb.XTrimMaxLen(ctx, alertStream, 1).Err())

	alerts, err := f.store.List(ctx, 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"300-1", "100-1"}, ids(alerts))
	assert.False(t, alerts[0].Persisted)
	assert.True(t, alerts[1].Persisted)
}

func TestListFiltersByEnvID(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	f.publish(t, "100-1", alertFields("cluster_a", "a", `["env-001","env-002"]`))
	f.publish(t, "200-1", alertFields("cluster_b", "b", `["env-003"]`))
	f.publish(t, "300-1", alertFields("cluster_c", "c", `[]`))

	alerts, err := f.store.List(ctx, 10, "env-002")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "cluster_a", alerts[0].ClusterID)

	alerts, err = f.store.List(ctx, 10, "env-003")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "cluster_b", alerts[0].ClusterID)

	alerts, err = f.store.List(ctx, 10, "env-999")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestPersistRemovesTTLAndRecordsID(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	f.publish(t, "100-1", alertFields("cluster_a", "a", `[]`))
	require.Greater(t, f.mr.TTL(hashKey("100-1")), time.Duration(0))

	require.NoError(t, f.store.Persist(ctx, "100-1"))

	assert.Equal(t, time.Duration(0), f.mr.TTL(hashKey("100-1")), "TTL removed")
	members, err := f.rdb.SMembers(ctx, f.cfg.AlertsPersistedSet).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"100-1"}, members)

	alerts, err := f.store.List(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Persisted)
}

func TestPersistRebuildsHashFromStream(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	f.publishStreamOnly(t, "100-1", alertFields("cluster_a", "rebuilt", `["env-001"]`))
	require.NoError(t, f.store.Persist(ctx, "100-1"))

	fields, err := f.rdb.HGetAll(ctx, hashKey("100-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, "cluster_a", fields["cluster_id"])
	assert.Equal(t, "100-1", fields["id"])
	assert.Equal(t, time.Duration(0), f.mr.TTL(hashKey("100-1")))
}

func TestPersistUnknownAlert(t *testing.T) {
	f := setupStore(t)
	f.publish(t, "100-1", alertFields("cluster_a", "a", `[]`))

	err := f.store.Persist(context.Background(), "999-1")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestMalformedAlertIDIsInvalidInput(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"", "garbage", "100", "100-", "-1", "100-1-2", "10x-1"} {
		assert.ErrorIs(t, f.store.Persist(ctx, id), services.ErrInvalidInput, "persist %q", id)
		assert.ErrorIs(t, f.store.AddFeedback(ctx, id, FeedbackCorrect), services.ErrInvalidInput, "feedback %q", id)
	}
}

func TestAddFeedbackKeepsSetsExclusive(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	f.publish(t, "100-1", alertFields("cluster_a", "a", `[]`))

	require.NoError(t, f.store.AddFeedback(ctx, "100-1", FeedbackCorrect))
	fb, err := f.rdb.HGet(ctx, hashKey("100-1"), "feedback").Result()
	require.NoError(t, err)
	assert.Equal(t, FeedbackCorrect, fb)
	assert.True(t, f.rdb.SIsMember(ctx, f.cfg.AlertsFeedbackCorrect, "100-1").Val())
	assert.False(t, f.rdb.SIsMember(ctx, f.cfg.AlertsFeedbackIncorrect, "100-1").Val())

	// Flipping the verdict moves the id to the other set.
	require.NoError(t, f.store.AddFeedback(ctx, "100-1", FeedbackIncorrect))
	fb, err = f.rdb.HGet(ctx, hashKey("100-1"), "feedback").Result()
	require.NoError(t, err)
	assert.Equal(t, FeedbackIncorrect, fb)
	assert.False(t, f.rdb.SIsMember(ctx, f.cfg.AlertsFeedbackCorrect, "100-1").Val())
	assert.True(t, f.rdb.SIsMember(ctx, f.cfg.AlertsFeedbackIncorrect, "100-1").Val())

	alerts, err := f.store.List(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, FeedbackIncorrect, alerts[0].Feedback)
}

func TestAddFeedbackValidatesKind(t *testing.T) {
	f := setupStore(t)
	f.publish(t, "100-1", alertFields("cluster_a", "a", `[]`))

	err := f.store.AddFeedback(context.Background(), "100-1", "maybe")
	assert.True(t, services.IsValidationError(err))
}

func TestAddFeedbackUnknownAlert(t *testing.T) {
	f := setupStore(t)

	err := f.store.AddFeedback(context.Background(), "999-1", FeedbackCorrect)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestParseResult(t *testing.T) {
	t.Run("valid json", func(t *testing.T) {
		result := parseResult(`{"failure_type":"oom","confidence":0.8}`)
		assert.Equal(t, "oom", result["failure_type"])
	})

	t.Run("single-quoted pseudo json is coerced", func(t *testing.T) {
		result := parseResult(`{'failure_type': 'disk_failure'}`)
		assert.Equal(t, "disk_failure", result["failure_type"])
	})

	t.Run("unparseable is preserved raw", func(t *testing.T) {
		result := parseResult("not json at all")
		assert.Equal(t, "not json at all", result["raw"])
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, parseResult(""))
	})
}

func TestBuildAlertPromotions(t *testing.T) {
	fields := map[string]string{
		"type":       "cluster",
		"os":         "linux",
		"cluster_id": "cluster_x",
		"result":     `{"summary":"from result","recommendation":"from result too"}`,
		"env_ids":    `["env-005"]`,
	}
	a := buildAlert("1-0", fields, false)
	assert.Equal(t, "from result", a.Summary, "summary falls back to the result payload")
	assert.Equal(t, "from result too", a.Solution)
	assert.Equal(t, "env-005", a.EnvID)
}
