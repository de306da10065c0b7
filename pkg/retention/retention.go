// Package retention keeps the hot data bounded: it trims the Redis streams
// to their configured maximum lengths and prunes log documents that have
// aged out of the vector store. Every sweep is idempotent, so overlapping
// runs from a restart are harmless.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/logparse"
	"github.com/loglens/loglens/pkg/vectorstore"
)

const (
	logStream   = "logs"
	alertStream = "alerts"
)

// Sweeper is the supervised worker enforcing retention policies.
type Sweeper struct {
	rdb      *redis.Client
	store    *vectorstore.Store
	cfg      *config.Config
	embedID  string
	logger   *slog.Logger
	interval time.Duration

	// now is swapped out by tests.
	now func() time.Time
}

// New creates the retention sweeper.
func New(rdb *redis.Client, store *vectorstore.Store, embedID string, cfg *config.Config) *Sweeper {
	if rdb == nil {
		panic("retention: redis client is required")
	}
	if store == nil {
		panic("retention: vector store is required")
	}
	if cfg == nil {
		panic("retention: config is required")
	}
	interval := cfg.RetentionSweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		rdb:      rdb,
		store:    store,
		cfg:      cfg,
		embedID:  embedID,
		logger:   slog.With("worker", "retention"),
		interval: interval,
		now:      time.Now,
	}
}

func (s *Sweeper) Name() string { return "retention" }

// Run sweeps once at startup and then on every tick until the context is
// cancelled. Individual sweep failures are logged, not fatal: retention
// must not take the pipeline down with it.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Retention sweeper started",
		"interval", s.interval,
		"logs_maxlen", s.cfg.LogsStreamMaxLen,
		"alerts_maxlen", s.cfg.AlertsStreamMaxLen,
		"log_docs_retention", s.cfg.LogDocsRetention)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if err := s.trimStreams(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Retention: stream trim failed", "error", err)
	}
	if err := s.pruneLogDocs(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Retention: log document prune failed", "error", err)
	}
}

// trimStreams caps the logs and alerts streams. Trimming is approximate
// (XTRIM ~): exactness costs Redis work and the cap is a safety valve, not
// an accounting boundary.
func (s *Sweeper) trimStreams(ctx context.Context) error {
	for _, t := range []struct {
		stream string
		maxLen int64
	}{
		{logStream, s.cfg.LogsStreamMaxLen},
		{alertStream, s.cfg.AlertsStreamMaxLen},
	} {
		if t.maxLen <= 0 {
			continue
		}
		if err := s.rdb.XTrimMaxLenApprox(ctx, t.stream, t.maxLen, 0).Err(); err != nil {
			return fmt.Errorf("trim stream %s: %w", t.stream, err)
		}
	}
	return nil
}

// pruneLogDocs removes aged log documents from every per-OS collection.
// Prototype and template collections are never pruned: they carry cluster
// identity.
func (s *Sweeper) pruneLogDocs(ctx context.Context) error {
	if s.cfg.LogDocsRetention <= 0 {
		return nil
	}
	cutoff := s.now().Add(-s.cfg.LogDocsRetention)

	var total int64
	for _, os := range logparse.AllOS() {
		collection := vectorstore.CollectionName(s.cfg.LogCollectionPrefix, os, s.embedID)
		removed, err := s.store.PruneOlderThan(ctx, collection, cutoff)
		if err != nil {
			return fmt.Errorf("prune collection %s: %w", collection, err)
		}
		total += removed
	}
	if total > 0 {
		s.logger.Info("Retention: pruned aged log documents", "count", total)
	}
	return nil
}
