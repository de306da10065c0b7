// Package llm classifies log clusters. The production path talks to an
// OpenAI-compatible chat endpoint in JSON mode; a keyword heuristic serves
// as the offline default and as the fallback when the backend misbehaves.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Neighbor is a nearby template shown to the classifier for context.
type Neighbor struct {
	ID       string  `json:"id"`
	Document string  `json:"document"`
	Distance float64 `json:"distance"`
}

// EvidenceLog is one log line supporting the classification.
type EvidenceLog struct {
	ID        string `json:"id,omitempty"`
	Raw       string `json:"raw"`
	Templated string `json:"templated,omitempty"`
	Source    string `json:"source,omitempty"`
	OS        string `json:"os,omitempty"`
	EnvID     string `json:"env_id,omitempty"`
}

// Input is the full classification context for one cluster.
type Input struct {
	OS        string
	ClusterID string
	Medoid    string
	Neighbors []Neighbor
	Evidence  []EvidenceLog
}

// Classification is the classifier verdict.
type Classification struct {
	FailureType    string  `json:"failure_type"`
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation,omitempty"`
	Summary        string  `json:"summary,omitempty"`
}

// CallMeta describes the backend call that produced a classification.
type CallMeta struct {
	Tokens  int
	Latency time.Duration
	Success bool
}

// Classifier classifies clusters.
type Classifier interface {
	ClassifyCluster(ctx context.Context, in Input) (Classification, CallMeta, error)
}

// Config selects and configures the classifier.
type Config struct {
	Provider string // "heuristic" or "openai"
	BaseURL  string
	APIKey   string
	Model    string
}

// New builds the configured classifier. The openai classifier is wrapped
// with the heuristic fallback so a flapping backend degrades instead of
// stalling enrichment.
func New(cfg Config) (Classifier, error) {
	switch cfg.Provider {
	case "", "heuristic":
		return NewHeuristic(), nil
	case "openai":
		oc, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		return WithFallback(oc, NewHeuristic()), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// fallbackClassifier tries the primary and degrades to the fallback on any
// error, preserving the failed call's metadata for metrics.
type fallbackClassifier struct {
	primary  Classifier
	fallback Classifier
}

// WithFallback wraps primary so classification never fails outright.
func WithFallback(primary, fallback Classifier) Classifier {
	return &fallbackClassifier{primary: primary, fallback: fallback}
}

func (f *fallbackClassifier) ClassifyCluster(ctx context.Context, in Input) (Classification, CallMeta, error) {
	result, meta, err := f.primary.ClassifyCluster(ctx, in)
	if err == nil {
		return result, meta, nil
	}

	slog.Warn("Primary classifier failed, using fallback",
		"cluster_id", in.ClusterID, "os", in.OS, "error", err)

	result, _, ferr := f.fallback.ClassifyCluster(ctx, in)
	if ferr != nil {
		return Classification{}, meta, fmt.Errorf("fallback classifier: %w", ferr)
	}
	meta.Success = false
	return result, meta, nil
}
