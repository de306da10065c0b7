package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const (
	// cacheTTL bounds how stale a served correlation payload can be.
	cacheTTL = 30 * time.Second
	// computeTimeout caps one clustering run. Timed-out payloads are cached
	// like any other so a struggling store is not hammered.
	computeTimeout = 30 * time.Second
	// maxConcurrent caps clustering runs across all routes.
	maxConcurrent = 2
)

// Service fronts the correlator for the query layer: identical requests
// within the TTL are served from cache, concurrent identical requests share
// one computation, and at most maxConcurrent computations run at once.
type Service struct {
	correlator *Correlator
	cache      *payloadCache
	group      singleflight.Group
	gate       *semaphore.Weighted
	logger     *slog.Logger
}

// NewService creates the cached correlation service.
func NewService(correlator *Correlator) *Service {
	if correlator == nil {
		panic("correlate: correlator is required")
	}
	return &Service{
		correlator: correlator,
		cache:      newPayloadCache(cacheTTL),
		gate:       semaphore.NewWeighted(maxConcurrent),
		logger:     slog.With("component", "correlate_service"),
	}
}

// Global serves the global correlation for p, computing it when the cache
// is cold.
func (s *Service) Global(ctx context.Context, p Params) Result {
	p = s.correlator.normalize(p)
	key := routeKey("global", p)
	if cached, ok := s.cache.get(key); ok {
		return cached.(Result)
	}
	payload := s.fill(ctx, key,
		func(ctx context.Context) any { return s.correlator.Global(ctx, p) },
		func() any { return timeoutResult(p) },
	)
	return payload.(Result)
}

// Graph serves the graph projection of the global correlation.
func (s *Service) Graph(ctx context.Context, p Params) Graph {
	p.IncludeLogsPerCluster = clampInt(p.IncludeLogsPerCluster, 0, 50)
	p = s.correlator.normalize(p)
	key := routeKey("graph", p)
	if cached, ok := s.cache.get(key); ok {
		return cached.(Graph)
	}
	payload := s.fill(ctx, key,
		func(ctx context.Context) any { return s.correlator.GraphProjection(ctx, p) },
		func() any { return timeoutGraph() },
	)
	return payload.(Graph)
}

// fill computes and caches the payload for key, deduplicating concurrent
// fills. The computation runs against a detached timeout context so one
// departing caller cannot poison the shared result; a caller whose own
// context ends first gets the timeout payload without waiting.
func (s *Service) fill(ctx context.Context, key string, compute func(context.Context) any, onTimeout func() any) any {
	ch := s.group.DoChan(key, func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.Background(), computeTimeout)
		defer cancel()

		payload := s.run(fillCtx, key, compute, onTimeout)
		s.cache.set(key, payload)
		return payload, nil
	})

	select {
	case res := <-ch:
		return res.Val
	case <-ctx.Done():
		s.logger.Warn("Caller gave up waiting for correlation", "key", key)
		return onTimeout()
	}
}

func (s *Service) run(ctx context.Context, key string, compute func(context.Context) any, onTimeout func() any) any {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		s.logger.Warn("Correlation gate saturated", "key", key)
		return onTimeout()
	}

	done := make(chan any, 1)
	go func() {
		defer s.gate.Release(1)
		done <- compute(ctx)
	}()

	select {
	case payload := <-done:
		return payload
	case <-ctx.Done():
		// The computation keeps running until it notices the context; the
		// buffered channel lets it finish without leaking.
		s.logger.Warn("Correlation run timed out", "key", key)
		return onTimeout()
	}
}

// routeKey canonicalizes a request for caching and deduplication. Params
// are normalized before keying, so equivalent requests share one entry.
func routeKey(route string, p Params) string {
	return fmt.Sprintf("%s|%+v", route, p)
}

func timeoutResult(p Params) Result {
	return Result{Clusters: []Cluster{}, Params: map[string]any{
		"algorithm": p.Algorithm,
		"basis":     p.Basis,
		"error":     "clustering_timeout",
	}}
}

func timeoutGraph() Graph {
	return Graph{Nodes: []GraphNode{}, Edges: []GraphEdge{}, Params: map[string]any{
		"error": "clustering_timeout",
	}}
}
