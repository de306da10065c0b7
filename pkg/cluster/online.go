// Package cluster implements online cluster assignment: each templated line
// is matched against the per-OS prototype collection and either joins the
// nearest prototype or seeds a new one.
package cluster

import (
	"context"
	"encoding/hex"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loglens/loglens/pkg/metrics"
	"github.com/loglens/loglens/pkg/vectorstore"
)

// PrototypeIndex is the slice of the vector store the assigner needs.
type PrototypeIndex interface {
	QueryText(ctx context.Context, collection, text string, k int) ([]vectorstore.Match, error)
	Upsert(ctx context.Context, collection string, docs []vectorstore.Document) error
}

// Assigner assigns templated lines to clusters.
type Assigner struct {
	index     PrototypeIndex
	prefix    string
	embedID   string
	threshold float64
	metrics   *metrics.Metrics
}

// NewAssigner creates an assigner. metrics may be nil.
func NewAssigner(index PrototypeIndex, prefix, embedID string, threshold float64, m *metrics.Metrics) *Assigner {
	if index == nil {
		panic("cluster.NewAssigner: index is required")
	}
	return &Assigner{
		index:     index,
		prefix:    prefix,
		embedID:   embedID,
		threshold: threshold,
		metrics:   m,
	}
}

// AssignOrCreate returns the cluster id for a templated line: the nearest
// prototype when its distance is within the threshold, otherwise a freshly
// created one.
//
// Store failures never fail the caller. A failed lookup is treated as "no
// neighbor"; a failed prototype write is logged and the generated id is
// returned anyway, so the stream counters keep the cluster visible even if
// its prototype lags behind.
func (a *Assigner) AssignOrCreate(ctx context.Context, os, templated string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	collection := vectorstore.CollectionName(a.prefix, os, a.embedID)

	matches, err := a.index.QueryText(ctx, collection, templated, 1)
	if err != nil {
		slog.Warn("Prototype lookup failed, treating as empty",
			"collection", collection, "error", err)
		matches = nil
	}
	if len(matches) > 0 && matches[0].Distance <= a.threshold {
		a.metrics.ClusterAssigned(os)
		return matches[0].ID, nil
	}

	id := NewClusterID()
	doc := vectorstore.Document{
		ID:   id,
		Text: templated,
		Metadata: map[string]any{
			"os":             os,
			"label":          "unknown",
			"rationale":      "online",
			"size":           1,
			"exemplar_count": 0,
			"created_by":     "online",
		},
	}
	if err := a.index.Upsert(ctx, collection, []vectorstore.Document{doc}); err != nil {
		slog.Error("Failed to persist new prototype",
			"collection", collection, "cluster_id", id, "error", err)
	}

	a.metrics.ClusterCreated(os)
	return id, nil
}

// NewClusterID generates "cluster_" plus twelve hex characters.
func NewClusterID() string {
	u := uuid.New()
	return "cluster_" + hex.EncodeToString(u[:])[:12]
}
