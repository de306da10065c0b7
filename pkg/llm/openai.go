package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are an SRE assistant that classifies clusters of similar log lines.
Given a cluster medoid, nearby known templates and sample evidence logs, respond
with a single JSON object with keys:
  "failure_type": short snake_case category (e.g. "disk_failure", "auth_failure"),
  "confidence": number between 0 and 1,
  "recommendation": one-sentence remediation,
  "summary": one-sentence description of the incident.
Respond with JSON only.`

const (
	maxPromptEvidence  = 30
	maxPromptNeighbors = 8
)

// OpenAI classifies clusters through an OpenAI-compatible chat endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds the chat-based classifier. BaseURL may point at any
// OpenAI-compatible server (Ollama, vLLM, a proxy).
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required for the openai provider")
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cc), model: cfg.Model}, nil
}

func (o *OpenAI) ClassifyCluster(ctx context.Context, in Input) (Classification, CallMeta, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(in)},
		},
	})
	meta := CallMeta{Latency: time.Since(start)}
	if err != nil {
		return Classification{}, meta, fmt.Errorf("chat completion: %w", err)
	}
	meta.Tokens = resp.Usage.TotalTokens
	if len(resp.Choices) == 0 {
		return Classification{}, meta, fmt.Errorf("chat completion returned no choices")
	}

	result, err := parseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		return Classification{}, meta, err
	}
	meta.Success = true
	return result, meta, nil
}

func buildUserPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "os: %s\ncluster: %s\nmedoid: %s\n", in.OS, in.ClusterID, in.Medoid)

	if len(in.Neighbors) > 0 {
		b.WriteString("\nnearby known templates:\n")
		for i, n := range in.Neighbors {
			if i >= maxPromptNeighbors {
				break
			}
			fmt.Fprintf(&b, "- (distance %.3f) %s\n", n.Distance, n.Document)
		}
	}
	if len(in.Evidence) > 0 {
		b.WriteString("\nevidence logs:\n")
		for i, e := range in.Evidence {
			if i >= maxPromptEvidence {
				break
			}
			line := e.Raw
			if line == "" {
				line = e.Templated
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	return b.String()
}

// parseClassification tolerates models that wrap the JSON object in prose or
// code fences by cutting to the outermost braces before decoding.
func parseClassification(content string) (Classification, error) {
	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	var result Classification
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return Classification{}, fmt.Errorf("parse classification response: %w", err)
	}
	if result.FailureType == "" {
		return Classification{}, fmt.Errorf("classification response missing failure_type")
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}
