package correlate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/vectorstore"
)

// countingIndex serves canned documents and counts GetWhere calls. A delay
// keeps fills in flight long enough for dedupe assertions.
type countingIndex struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	docs  map[string][]vectorstore.Document
}

func (x *countingIndex) GetWhere(_ context.Context, collection string, _ map[string]any, _ int) ([]vectorstore.Document, error) {
	x.mu.Lock()
	x.calls++
	x.mu.Unlock()
	if x.delay > 0 {
		time.Sleep(x.delay)
	}
	return x.docs[collection], nil
}

func (x *countingIndex) callCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.calls
}

// blockingIndex parks every GetWhere until release is closed.
type blockingIndex struct {
	release chan struct{}
}

func (b *blockingIndex) GetWhere(context.Context, string, map[string]any, int) ([]vectorstore.Document, error) {
	<-b.release
	return nil, nil
}

func serviceConfig() *config.Config {
	return &config.Config{
		LogCollectionPrefix:      "logs_",
		ProtoCollectionPrefix:    "prototypes_",
		ClusterDistanceThreshold: 0.45,
		ClusterMinSize:           4,
		CorrelationMaxItemsPerOS: 2000,
	}
}

func newCountingService() (*Service, *countingIndex) {
	index := &countingIndex{docs: map[string][]vectorstore.Document{}}
	return NewService(New(nil, index, "test", serviceConfig())), index
}

func TestServiceCachesGlobalResults(t *testing.T) {
	svc, index := newCountingService()
	ctx := context.Background()

	first := svc.Global(ctx, Params{})
	cold := index.callCount()
	require.Greater(t, cold, 0)

	second := svc.Global(ctx, Params{})
	assert.Equal(t, cold, index.callCount(), "warm request must not touch the store")
	assert.Equal(t, first, second)
}

func TestServiceKeysCacheByParams(t *testing.T) {
	svc, index := newCountingService()
	ctx := context.Background()

	svc.Global(ctx, Params{LimitPerSource: 100})
	cold := index.callCount()

	svc.Global(ctx, Params{LimitPerSource: 150})
	assert.Greater(t, index.callCount(), cold, "distinct params get distinct entries")

	svc.Global(ctx, Params{LimitPerSource: 100})
	svc.Global(ctx, Params{LimitPerSource: 150})
	assert.Equal(t, 2*cold, index.callCount())
}

func TestServiceDeduplicatesConcurrentFills(t *testing.T) {
	sequential, seqIndex := newCountingService()
	sequential.Global(context.Background(), Params{})
	oneFill := seqIndex.callCount()

	svc, index := newCountingService()
	index.delay = 5 * time.Millisecond

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			svc.Global(context.Background(), Params{})
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, oneFill, index.callCount(), "concurrent identical requests share one computation")
}

func TestServiceCallerTimeout(t *testing.T) {
	index := &blockingIndex{release: make(chan struct{})}
	svc := NewService(New(nil, index, "test", serviceConfig()))
	defer close(index.release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := svc.Global(ctx, Params{})
	assert.Empty(t, res.Clusters)
	assert.Equal(t, "clustering_timeout", res.Params["error"])
}

func TestServiceCachesGraph(t *testing.T) {
	svc, index := newCountingService()
	ctx := context.Background()

	first := svc.Graph(ctx, Params{})
	cold := index.callCount()
	require.Greater(t, cold, 0)

	second := svc.Graph(ctx, Params{})
	assert.Equal(t, cold, index.callCount())
	assert.Equal(t, first, second)
	assert.NotNil(t, first.Nodes)
	assert.NotNil(t, first.Edges)
}

func TestServiceGraphAndGlobalAreSeparateEntries(t *testing.T) {
	svc, index := newCountingService()
	ctx := context.Background()

	svc.Global(ctx, Params{})
	afterGlobal := index.callCount()
	svc.Graph(ctx, Params{})
	assert.Greater(t, index.callCount(), afterGlobal)
}

func TestPayloadCacheExpiry(t *testing.T) {
	cache := newPayloadCache(20 * time.Millisecond)
	cache.set("k", "v")

	got, ok := cache.get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	time.Sleep(30 * time.Millisecond)
	_, ok = cache.get("k")
	assert.False(t, ok, "expired entries are dropped lazily")
}
