package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicClassifier(t *testing.T) {
	tests := []struct {
		name        string
		medoid      string
		evidence    []EvidenceLog
		failureType string
	}{
		{
			name:        "disk failure from medoid",
			medoid:      "kernel: blk_update_request: I/O error, dev sda, sector <num>",
			failureType: "disk_failure",
		},
		{
			name:        "oom",
			medoid:      "kernel: Out of memory: Killed process <num> (java)",
			failureType: "memory_pressure",
		},
		{
			name:        "auth failure",
			medoid:      "sshd[<pid>]: authentication failure for user root from <ip>",
			failureType: "auth_failure",
		},
		{
			name:        "link down beats generic timeout ordering",
			medoid:      "%LINK-3-UPDOWN: Interface GigabitEthernet0/1, changed state to down",
			failureType: "network_link_failure",
		},
		{
			name:        "dns",
			medoid:      "named[<pid>]: query failed (SERVFAIL) for example.com",
			failureType: "dns_failure",
		},
		{
			name:   "keyword in evidence only",
			medoid: "app: request handling degraded",
			evidence: []EvidenceLog{
				{Raw: "app: upstream connection refused at <ts>"},
			},
			failureType: "connectivity_timeout",
		},
		{
			name:        "no match falls back to anomalous",
			medoid:      "app: heartbeat ok seq <num>",
			failureType: "anomalous_pattern",
		},
	}

	h := NewHeuristic()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, meta, err := h.ClassifyCluster(context.Background(), Input{
				OS:        "linux",
				ClusterID: "cluster_abc",
				Medoid:    tt.medoid,
				Evidence:  tt.evidence,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.failureType, result.FailureType)
			assert.True(t, meta.Success)
			assert.NotEmpty(t, result.Recommendation)
			assert.Contains(t, result.Summary, tt.failureType)
		})
	}
}

func TestHeuristicClassifierCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewHeuristic().ClassifyCluster(ctx, Input{Medoid: "x"})
	assert.Error(t, err)
}

func TestOpenAIClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "{\"failure_type\":\"disk_failure\",\"confidence\":0.92,\"recommendation\":\"replace disk\",\"summary\":\"disk errors on web-1\"}"}}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 40, "total_tokens": 140}
		}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI(Config{Provider: "openai", BaseURL: srv.URL, APIKey: "k", Model: "test-model"})
	require.NoError(t, err)

	result, meta, err := c.ClassifyCluster(context.Background(), Input{
		OS:     "linux",
		Medoid: "kernel: I/O error on sda",
		Neighbors: []Neighbor{
			{ID: "cluster_old", Document: "kernel: I/O error on sdb", Distance: 0.12},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "disk_failure", result.FailureType)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
	assert.Equal(t, "replace disk", result.Recommendation)
	assert.Equal(t, 140, meta.Tokens)
	assert.True(t, meta.Success)
	assert.Greater(t, meta.Latency, time.Duration(0))
}

func TestOpenAIClassifierRequiresModel(t *testing.T) {
	_, err := NewOpenAI(Config{Provider: "openai"})
	assert.Error(t, err)
}

func TestParseClassification(t *testing.T) {
	t.Run("strips code fences", func(t *testing.T) {
		result, err := parseClassification("```json\n{\"failure_type\":\"dns_failure\",\"confidence\":0.8}\n```")
		require.NoError(t, err)
		assert.Equal(t, "dns_failure", result.FailureType)
	})

	t.Run("clamps confidence", func(t *testing.T) {
		result, err := parseClassification(`{"failure_type":"x","confidence":3.5}`)
		require.NoError(t, err)
		assert.Equal(t, 1.0, result.Confidence)
	})

	t.Run("rejects missing failure_type", func(t *testing.T) {
		_, err := parseClassification(`{"confidence":0.5}`)
		assert.Error(t, err)
	})

	t.Run("rejects non-json", func(t *testing.T) {
		_, err := parseClassification("the cluster looks like a disk failure")
		assert.Error(t, err)
	})
}

type erroringClassifier struct{}

func (erroringClassifier) ClassifyCluster(context.Context, Input) (Classification, CallMeta, error) {
	return Classification{}, CallMeta{Latency: 5 * time.Millisecond}, fmt.Errorf("backend down")
}

func TestWithFallback(t *testing.T) {
	c := WithFallback(erroringClassifier{}, NewHeuristic())
	result, meta, err := c.ClassifyCluster(context.Background(), Input{
		OS:     "linux",
		Medoid: "kernel: Out of memory: Killed process 1234",
	})
	require.NoError(t, err)
	assert.Equal(t, "memory_pressure", result.FailureType)
	assert.False(t, meta.Success)
	assert.Equal(t, 5*time.Millisecond, meta.Latency)
}

func TestNewFactory(t *testing.T) {
	t.Run("defaults to heuristic", func(t *testing.T) {
		c, err := New(Config{})
		require.NoError(t, err)
		_, ok := c.(*Heuristic)
		assert.True(t, ok)
	})

	t.Run("openai wrapped with fallback", func(t *testing.T) {
		c, err := New(Config{Provider: "openai", Model: "m", APIKey: "k"})
		require.NoError(t, err)
		_, ok := c.(*fallbackClassifier)
		assert.True(t, ok)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(Config{Provider: "mystery"})
		assert.Error(t, err)
	})
}
