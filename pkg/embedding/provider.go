// Package embedding provides text embedding providers for the clustering
// pipeline. A provider turns templated log lines into unit-length vectors;
// the vector store namespaces its collections by provider identity so
// switching providers never mixes incompatible dimensions.
package embedding

import (
	"context"
	"fmt"
)

// Provider embeds batches of texts into fixed-dimension vectors.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name identifies the provider and model, e.g. "local::feature-hash-256".
	// It namespaces vector-store collections.
	Name() string
	// Dimension is the length of the vectors this provider produces.
	Dimension() int
}

// Config selects and configures a provider.
type Config struct {
	Provider  string // "local" or "openai"
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
}

// New builds the configured provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "local":
		return NewLocal(cfg.Dimension), nil
	case "openai":
		return NewOpenAI(cfg)
	}
	return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
}
