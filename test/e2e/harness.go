// Package e2e provides end-to-end test infrastructure for the loglens
// pipeline: real workers under a real supervisor, miniredis for the streams
// and an on-disk vector store, with only the LLM backend swappable.
package e2e

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/pkg/aggregate"
	"github.com/loglens/loglens/pkg/alertstore"
	"github.com/loglens/loglens/pkg/api"
	"github.com/loglens/loglens/pkg/cluster"
	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/correlate"
	"github.com/loglens/loglens/pkg/embedding"
	"github.com/loglens/loglens/pkg/enrich"
	"github.com/loglens/loglens/pkg/environment"
	"github.com/loglens/loglens/pkg/incident"
	"github.com/loglens/loglens/pkg/llm"
	"github.com/loglens/loglens/pkg/metrics"
	"github.com/loglens/loglens/pkg/producer"
	"github.com/loglens/loglens/pkg/retention"
	"github.com/loglens/loglens/pkg/runner"
	"github.com/loglens/loglens/pkg/vectorstore"
)

// Consumer groups are created before the workers start so that logs
// published right after NewTestApp returns are always delivered.
const (
	logStream           = "logs"
	candidateStream     = "clusters:candidates"
	aggregatorGroupName = "issues_aggregator"
	enricherGroupName   = "clusters_enrichers"
)

// TestApp boots a complete loglens instance for e2e testing.
type TestApp struct {
	Config     *config.Config
	Redis      *miniredis.Miniredis
	RDB        *redis.Client
	Store      *vectorstore.Store
	Classifier llm.Classifier
	Supervisor *runner.Supervisor
	Server     *api.Server

	// BaseURL points at the running HTTP server, e.g. "http://127.0.0.1:54321".
	BaseURL string

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg        *config.Config
	classifier llm.Classifier
	producers  bool
	noEnricher bool
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithClassifier sets the classifier the enricher calls. The default is the
// keyword heuristic.
func WithClassifier(classifier llm.Classifier) TestAppOption {
	return func(c *testAppConfig) { c.classifier = classifier }
}

// WithProducers starts the synthetic log producer alongside the workers.
func WithProducers() TestAppOption {
	return func(c *testAppConfig) { c.producers = true }
}

// WithoutEnricher leaves the enricher out, so candidates accumulate in the
// stream instead of becoming alerts.
func WithoutEnricher() TestAppOption {
	return func(c *testAppConfig) { c.noEnricher = true }
}

// NewTestApp creates and starts a full loglens test instance.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	if tc.classifier == nil {
		tc.classifier = llm.NewHeuristic()
	}

	ctx := context.Background()

	// 1. Redis and the vector store.
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store, err := vectorstore.Open(ctx,
		filepath.Join(t.TempDir(), "loglens.db"),
		embedding.NewLocal(tc.cfg.EmbeddingsDim))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	embedID := store.Provider().Name()

	// 2. Consumer groups, before any worker or producer runs.
	require.NoError(t, rdb.XGroupCreateMkStream(ctx, logStream, aggregatorGroupName, "$").Err())
	require.NoError(t, rdb.XGroupCreateMkStream(ctx, candidateStream, enricherGroupName, "$").Err())

	// 3. Pipeline workers under the supervisor.
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	assigner := cluster.NewAssigner(store, tc.cfg.ProtoCollectionPrefix, embedID,
		tc.cfg.OnlineClusterDistanceThreshold, m)
	workers := []runner.Runner{
		aggregate.New(rdb, store, assigner, tc.cfg, m),
		retention.New(rdb, store, embedID, tc.cfg),
	}
	if !tc.noEnricher {
		workers = append(workers, enrich.New(rdb, store, tc.classifier, embedID, tc.cfg, m))
	}
	if tc.producers {
		workers = append(workers, producer.New(rdb, tc.cfg))
	}

	supervisor := runner.NewSupervisor(workers...)
	supervisor.Start(ctx)

	// 4. HTTP server over the query services.
	correlator := correlate.New(rdb, store, embedID, tc.cfg)
	server := api.NewServer(api.Deps{
		Alerts:       alertstore.New(rdb, tc.cfg),
		Incidents:    incident.New(correlator, tc.cfg),
		Environments: environment.New(store, correlator, embedID, tc.cfg),
		Correlation:  correlate.NewService(correlator),
		Redis:        rdb,
		Registry:     registry,
		Config:       tc.cfg,
	})
	httpServer := httptest.NewServer(server.Router())

	app := &TestApp{
		Config:     tc.cfg,
		Redis:      mr,
		RDB:        rdb,
		Store:      store,
		Classifier: tc.classifier,
		Supervisor: supervisor,
		Server:     server,
		BaseURL:    httpServer.URL,
		t:          t,
	}

	// Register cleanup in reverse-creation order.
	t.Cleanup(func() {
		httpServer.Close()
		supervisor.Stop()
	})

	return app
}

// defaultTestConfig tightens the thresholds and intervals so one burst of a
// few log lines crosses the classification threshold within a test run.
func defaultTestConfig() *config.Config {
	return &config.Config{
		EmbeddingsDim: 128,

		LogCollectionPrefix:      "logs_",
		ProtoCollectionPrefix:    "prototypes_",
		TemplateCollectionPrefix: "templates_",

		OnlineClusterDistanceThreshold: 0.35,
		ClusterMinLogsForClassify:      3,
		CandidateRepublishEvery:        0,
		CandidateRepublishMinInterval:  5 * time.Minute,

		ClusterDistanceThreshold: 0.45,
		ClusterMinSize:           2,
		CorrelationMaxItemsPerOS: 2000,

		IssueInactivity:    time.Minute,
		IssueMaxLogsForLLM: 20,
		IssueSampleLogsMax: 10,

		// Non-blocking reads: miniredis serves XREADGROUP without BLOCK.
		StreamBlock: -1,

		AlertsTTL:               time.Hour,
		AlertsPersistedSet:      "alerts:persisted",
		AlertsFeedbackCorrect:   "alerts:feedback:correct",
		AlertsFeedbackIncorrect: "alerts:feedback:incorrect",

		EnvDiscoveryTimeout: 2 * time.Second,
		SimEnvIDs:           []string{"env-001"},
		SimRateHz:           200,

		RetentionSweepInterval: time.Minute,
	}
}
