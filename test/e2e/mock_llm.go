package e2e

import (
	"context"
	"sync"

	"github.com/loglens/loglens/pkg/llm"
)

// ScriptedClassifier replays queued verdicts in order and falls back to the
// keyword heuristic when the script runs out. It records every input so
// tests can assert what the enricher actually sent.
type ScriptedClassifier struct {
	mu     sync.Mutex
	script []llm.Classification
	calls  []llm.Input

	fallback llm.Classifier
}

// NewScriptedClassifier creates a classifier that replays the given verdicts.
func NewScriptedClassifier(script ...llm.Classification) *ScriptedClassifier {
	return &ScriptedClassifier{
		script:   script,
		fallback: llm.NewHeuristic(),
	}
}

func (c *ScriptedClassifier) ClassifyCluster(ctx context.Context, in llm.Input) (llm.Classification, llm.CallMeta, error) {
	c.mu.Lock()
	c.calls = append(c.calls, in)
	if len(c.script) > 0 {
		verdict := c.script[0]
		c.script = c.script[1:]
		c.mu.Unlock()
		return verdict, llm.CallMeta{Success: true}, nil
	}
	c.mu.Unlock()
	return c.fallback.ClassifyCluster(ctx, in)
}

// Calls returns a copy of the recorded classification inputs.
func (c *ScriptedClassifier) Calls() []llm.Input {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Input, len(c.calls))
	copy(out, c.calls)
	return out
}
