package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI embeds via an OpenAI-compatible /embeddings endpoint. A custom base
// URL covers the self-hosted servers exposing the same wire shape (TEI,
// vLLM, LocalAI, Ollama).
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAI creates the provider from config. The model name is required;
// the dimension must match what the endpoint returns.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai embeddings: model is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		dim:    cfg.Dimension,
	}, nil
}

func (o *OpenAI) Name() string {
	return "openai::" + o.model
}

func (o *OpenAI) Dimension() int {
	return o.dim
}

// Embed sends one batched request and reassembles results by index, since
// the API does not guarantee response order.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
