package environment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/correlate"
	"github.com/loglens/loglens/pkg/logparse"
	"github.com/loglens/loglens/pkg/services"
	"github.com/loglens/loglens/pkg/vectorstore"
)

// fakeIndex serves canned documents per collection and counts reads. One
// collection can be made to fail.
type fakeIndex struct {
	mu       sync.Mutex
	calls    int
	docs     map[string][]vectorstore.Document
	failColl string
	failErr  error
}

func (f *fakeIndex) GetWhere(_ context.Context, collection string, _ map[string]any, _ int) ([]vectorstore.Document, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failColl != "" && collection == f.failColl {
		return nil, f.failErr
	}
	return f.docs[collection], nil
}

func (f *fakeIndex) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stallingIndex parks every read until the caller's context expires.
type stallingIndex struct{}

func (stallingIndex) GetWhere(ctx context.Context, _ string, _ map[string]any, _ int) ([]vectorstore.Document, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func envConfig() *config.Config {
	return &config.Config{
		LogCollectionPrefix:      "logs_",
		ProtoCollectionPrefix:    "prototypes_",
		ClusterDistanceThreshold: 0.45,
		ClusterMinSize:           2,
		CorrelationMaxItemsPerOS: 2000,
		EnvDiscoveryTimeout:      time.Second,
		SimEnvIDs:                []string{"env-009", "env-008"},
	}
}

func newEnvService(index Index, cfg *config.Config) *Service {
	return New(index, correlate.New(nil, index, "test", cfg), "test", cfg)
}

func logDoc(id, text, raw, env string, vec []float32) vectorstore.Document {
	return vectorstore.Document{
		ID:        id,
		Text:      text,
		Embedding: vec,
		Metadata:  map[string]any{"raw": raw, "source": "app", "env_id": env},
	}
}

func linuxCollection() string {
	return vectorstore.CollectionName("logs_", "linux", "test")
}

func TestRegionCoordinatesRotation(t *testing.T) {
	cases := []struct {
		envID string
		want  Coordinates
	}{
		{"env-001", Coordinates{Lat: 61.2181, Lng: -149.9003}}, // Anchorage
		{"env-002", Coordinates{Lat: 25.7617, Lng: -80.1918}},  // Miami
		{"env-006", Coordinates{Lat: 42.3601, Lng: -71.0589}},  // Boston
		{"env-007", Coordinates{Lat: 61.2181, Lng: -149.9003}}, // wraps around
		{"ENV-003", Coordinates{Lat: 21.3069, Lng: -157.8583}}, // case-insensitive
		{"env-", Coordinates{Lat: 61.2181, Lng: -149.9003}},    // no digits counts as 1
		{"env-000", Coordinates{Lat: 42.3601, Lng: -71.0589}},  // zero wraps backwards
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RegionCoordinates(tc.envID), tc.envID)
	}
}

func TestRegionCoordinatesKeywords(t *testing.T) {
	cases := []struct {
		envID string
		want  Coordinates
	}{
		{"us-east-1", Coordinates{Lat: 39.0438, Lng: -77.4878}},
		{"staging-virginia", Coordinates{Lat: 39.0438, Lng: -77.4878}},
		{"us-east-2", Coordinates{Lat: 35.2271, Lng: -80.8431}},
		{"us-west-2", Coordinates{Lat: 45.5152, Lng: -122.6784}},
		{"west-cluster", Coordinates{Lat: 37.4419, Lng: -122.1430}},
		// The bare "west" rule outranks the EU entries, so eu-west ids land
		// on the US west coast. Pinned so a rule reorder shows up in review.
		{"eu-west-2", Coordinates{Lat: 37.4419, Lng: -122.1430}},
		{"prod-london", Coordinates{Lat: 51.5074, Lng: -0.1278}},
		{"us-central-dc", Coordinates{Lat: 41.2524, Lng: -95.9980}},
		{"tokyo-prod", Coordinates{Lat: 35.6762, Lng: 139.6503}},
		{"mystery-zone", Coordinates{Lat: 39.0438, Lng: -77.4878}}, // default
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RegionCoordinates(tc.envID), tc.envID)
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Env 001", displayName("env-001"))
	assert.Equal(t, "Us East 1", displayName("us-east-1"))
	assert.Equal(t, "Prod", displayName("PROD"))
}

func TestDiscoverReturnsSortedDistinctIDs(t *testing.T) {
	index := &fakeIndex{docs: map[string][]vectorstore.Document{
		linuxCollection(): {
			logDoc("l1", "a", "a", "env-002", nil),
			logDoc("l2", "b", "b", "env-001", nil),
			logDoc("l3", "c", "c", "env-002", nil),
			logDoc("l4", "d", "d", "  ", nil),
		},
		vectorstore.CollectionName("logs_", "windows", "test"): {
			logDoc("w1", "e", "e", "env-003", nil),
		},
	}}
	svc := newEnvService(index, envConfig())

	ids := svc.Discover(context.Background())
	assert.Equal(t, []string{"env-001", "env-002", "env-003"}, ids)
}

func TestDiscoverEmptyStoreYieldsNoEnvironments(t *testing.T) {
	svc := newEnvService(&fakeIndex{docs: map[string][]vectorstore.Document{}}, envConfig())

	// An empty store is an answer, not a failure: no fallback ids.
	assert.Empty(t, svc.Discover(context.Background()))
}

func TestDiscoverFallsBackOnTimeout(t *testing.T) {
	cfg := envConfig()
	cfg.EnvDiscoveryTimeout = 20 * time.Millisecond
	svc := newEnvService(stallingIndex{}, cfg)

	ids := svc.Discover(context.Background())
	assert.Equal(t, []string{"env-008", "env-009"}, ids, "fallback ids come back sorted")
}

func TestDiscoverSkipsFailingCollections(t *testing.T) {
	index := &fakeIndex{
		docs: map[string][]vectorstore.Document{
			linuxCollection(): {logDoc("l1", "a", "a", "env-001", nil)},
		},
		failColl: vectorstore.CollectionName("logs_", "windows", "test"),
		failErr:  errors.New("no such table"),
	}
	svc := newEnvService(index, envConfig())

	assert.Equal(t, []string{"env-001"}, svc.Discover(context.Background()))
}

func TestDiscoverUsesSimIDsWhenClusteringDisabled(t *testing.T) {
	cfg := envConfig()
	cfg.DisableGlobalClustering = true
	index := &fakeIndex{docs: map[string][]vectorstore.Document{}}
	svc := newEnvService(index, cfg)

	assert.Equal(t, []string{"env-008", "env-009"}, svc.Discover(context.Background()))
	assert.Zero(t, index.callCount(), "disabled clustering must not scan the store")
}

func TestListShape(t *testing.T) {
	index := &fakeIndex{docs: map[string][]vectorstore.Document{
		linuxCollection(): {logDoc("l1", "a", "a", "env-002", nil)},
	}}
	svc := newEnvService(index, envConfig())
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	items := svc.List(context.Background())
	require.Len(t, items, 1)

	want := Summary{
		ID:          "env-002",
		Name:        "Env 002",
		Region:      "env-002",
		Status:      "healthy",
		LastUpdated: "2025-06-01T12:00:00Z",
		Clusters:    0,
		Coordinates: Coordinates{Lat: 25.7617, Lng: -80.1918},
	}
	assert.Equal(t, want, items[0])
}

func TestDetailUnknownEnvironment(t *testing.T) {
	svc := newEnvService(&fakeIndex{docs: map[string][]vectorstore.Document{}}, envConfig())

	_, err := svc.Detail(context.Background(), "env-404")
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestDetailBuildsTopology(t *testing.T) {
	index := &fakeIndex{docs: map[string][]vectorstore.Document{
		linuxCollection(): {
			logDoc("l1", "web error", `{"host": "web-1", "from": "web-1", "to": "db-1"}`, "env-001", nil),
			logDoc("l2", "db ok", `{"host": "db-1"}`, "env-001", nil),
			logDoc("l3", "plain", "kernel: plain text line", "env-001", nil),
			logDoc("l4", "svc", `{"name": "checkout", "depends_on": ["db-1", 7]}`, "env-001", nil),
		},
	}}
	svc := newEnvService(index, envConfig())

	detail, err := svc.Detail(context.Background(), "env-001")
	require.NoError(t, err)

	assert.Equal(t, "env-001", detail.ID)
	assert.Equal(t, "Env 001", detail.Name)
	assert.Nil(t, detail.Region)
	assert.Equal(t, "healthy", detail.Status)
	assert.Empty(t, detail.Incidents)
	assert.Empty(t, detail.Clusters)
	assert.Empty(t, detail.NodeImpacts)
	assert.Contains(t, detail.Params, "timestamp")

	wantNodes := []TopologyNode{
		{ID: "web-1", Label: "web-1", Type: "server", Status: "healthy"},
		{ID: "db-1", Label: "db-1", Type: "server", Status: "healthy"},
		{ID: "checkout", Label: "checkout", Type: "server", Status: "healthy"},
	}
	assert.Equal(t, wantNodes, detail.Topology.Nodes)

	wantEdges := []TopologyEdge{
		{From: "web-1", To: "db-1", Status: "healthy"},
		{From: "db-1", To: "checkout", Status: "healthy"},
	}
	assert.Equal(t, wantEdges, detail.Topology.Edges)
}

func TestCorrelationOverlaysAndImpacts(t *testing.T) {
	diskErr := `{"host": "web-1", "msg": "disk error"}`
	dbErr := `{"host": "db-1", "msg": "disk error"}`
	cacheSlow := `{"host": "cache-1", "msg": "latency high"}`
	index := &fakeIndex{docs: map[string][]vectorstore.Document{
		linuxCollection(): {
			// Three groups, far apart in embedding space: a hosted error
			// cluster, a hosted warning cluster, and a hostless one.
			logDoc("e1", "disk error on device", diskErr, "env-001", []float32{1, 0, 0}),
			logDoc("e2", "disk error on device", diskErr, "env-001", []float32{1, 0, 0}),
			logDoc("e3", "disk error on device", dbErr, "env-001", []float32{1, 0, 0}),
			logDoc("c1", "cache latency high", cacheSlow, "env-001", []float32{0, 1, 0}),
			logDoc("c2", "cache latency high", cacheSlow, "env-001", []float32{0, 1, 0}),
			logDoc("p1", "reboot scheduled", "reboot scheduled", "env-001", []float32{0, 0, 1}),
			logDoc("p2", "reboot scheduled", "reboot scheduled", "env-001", []float32{0, 0, 1}),
		},
	}}
	svc := newEnvService(index, envConfig())

	corr, err := svc.Correlation(context.Background(), "env-001")
	require.NoError(t, err)
	assert.Equal(t, "env-001", corr.EnvironmentID)
	assert.Equal(t, "env-001", corr.Params["env_id"])

	// The plain-text cluster names no hosts and cannot be placed.
	require.Len(t, corr.Clusters, 2)

	disk := corr.Clusters[0]
	assert.Equal(t, 3, disk.Size)
	assert.Equal(t, logparse.SeverityCritical, disk.Severity)
	assert.Equal(t, "disk error on device", disk.Medoid)
	assert.Equal(t, map[string]int{"web-1": 2, "db-1": 1}, disk.HostBreakdown)
	assert.Equal(t, map[string]int{"linux": 3}, disk.OSBreakdown)
	require.Len(t, disk.SampleLogs, 3)

	cache := corr.Clusters[1]
	assert.Equal(t, 2, cache.Size)
	assert.Equal(t, logparse.SeverityWarning, cache.Severity)
	assert.Equal(t, map[string]int{"cache-1": 2}, cache.HostBreakdown)

	require.Contains(t, corr.NodeImpacts, "web-1")
	web := corr.NodeImpacts["web-1"]
	assert.Equal(t, logparse.SeverityCritical, web.Severity)
	assert.Equal(t, []ClusterWeight{{ID: disk.ID, Weight: 2}}, web.Clusters)

	require.Contains(t, corr.NodeImpacts, "cache-1")
	assert.Equal(t, logparse.SeverityWarning, corr.NodeImpacts["cache-1"].Severity)
}

func TestCorrelationCachesPayload(t *testing.T) {
	index := &fakeIndex{docs: map[string][]vectorstore.Document{
		linuxCollection(): {
			logDoc("e1", "disk error", `{"host": "web-1"}`, "env-001", []float32{1, 0}),
			logDoc("e2", "disk error", `{"host": "web-1"}`, "env-001", []float32{1, 0}),
		},
	}}
	svc := newEnvService(index, envConfig())
	ctx := context.Background()

	first, err := svc.Correlation(ctx, "env-001")
	require.NoError(t, err)
	cold := index.callCount()

	second, err := svc.Correlation(ctx, "env-001")
	require.NoError(t, err)
	assert.Same(t, first, second, "warm request must hit the cache")

	// The warm request only re-runs discovery for the known-env check.
	assert.Equal(t, cold+len(logparse.AllOS()), index.callCount())
}

func TestCorrelationDisabledClustering(t *testing.T) {
	cfg := envConfig()
	cfg.DisableGlobalClustering = true
	cfg.SimEnvIDs = []string{"env-001"}
	index := &fakeIndex{docs: map[string][]vectorstore.Document{}}
	svc := newEnvService(index, cfg)

	corr, err := svc.Correlation(context.Background(), "env-001")
	require.NoError(t, err)
	assert.Empty(t, corr.Topology.Nodes)
	assert.Empty(t, corr.Clusters)
	assert.Equal(t, map[string]any{"disabled": true}, corr.Params)
	assert.Zero(t, index.callCount())
}

func TestCorrelationUnknownEnvironment(t *testing.T) {
	svc := newEnvService(&fakeIndex{docs: map[string][]vectorstore.Document{}}, envConfig())

	_, err := svc.Correlation(context.Background(), "env-404")
	require.ErrorIs(t, err, services.ErrNotFound)
}
