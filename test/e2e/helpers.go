package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/pkg/vectorstore"
)

const (
	waitTimeout = 15 * time.Second
	waitTick    = 50 * time.Millisecond
)

// ────────────────────────────────────────────────────────────
// Stream Helpers
// ────────────────────────────────────────────────────────────

// PublishLog appends one raw log event to the logs stream.
func (app *TestApp) PublishLog(t *testing.T, source, line string) {
	t.Helper()
	err := app.RDB.XAdd(context.Background(), &redis.XAddArgs{
		Stream: logStream,
		Values: map[string]any{"source": source, "line": line},
	}).Err()
	require.NoError(t, err)
}

// PublishBurst publishes n lines from the same source, rendering each from
// its index so repeats share a template while the variable parts differ.
func (app *TestApp) PublishBurst(t *testing.T, source string, n int, render func(i int) string) {
	t.Helper()
	for i := 0; i < n; i++ {
		app.PublishLog(t, source, render(i))
	}
}

// ────────────────────────────────────────────────────────────
// HTTP Client Helpers
// ────────────────────────────────────────────────────────────

// GetAlerts calls GET /alerts with an optional raw query string.
func (app *TestApp) GetAlerts(t *testing.T, query string) []any {
	t.Helper()
	path := "/alerts"
	if query != "" {
		path += "?" + query
	}
	return app.getJSONArray(t, path, http.StatusOK)
}

// PersistAlert calls POST /alerts/:id/persist.
func (app *TestApp) PersistAlert(t *testing.T, id string) map[string]any {
	t.Helper()
	return app.postJSON(t, "/alerts/"+id+"/persist", http.StatusOK)
}

// SendAlertFeedback calls POST /alerts/:id/feedback.
func (app *TestApp) SendAlertFeedback(t *testing.T, id, kind string) map[string]any {
	t.Helper()
	return app.postJSON(t, fmt.Sprintf("/alerts/%s/feedback?feedback=%s", id, kind), http.StatusOK)
}

// GetEnvironments calls GET /environments and returns the items array.
func (app *TestApp) GetEnvironments(t *testing.T) []any {
	t.Helper()
	body := app.getJSON(t, "/environments", http.StatusOK)
	items, ok := body["items"].([]any)
	require.True(t, ok, "environments response has no items array: %v", body)
	return items
}

// GetEnvironmentCorrelation calls GET /environments/:id/correlation.
func (app *TestApp) GetEnvironmentCorrelation(t *testing.T, envID string) map[string]any {
	t.Helper()
	return app.getJSON(t, "/environments/"+envID+"/correlation", http.StatusOK)
}

// GetGlobalCorrelation calls GET /correlation/global with a raw query string.
func (app *TestApp) GetGlobalCorrelation(t *testing.T, query string) map[string]any {
	t.Helper()
	path := "/correlation/global"
	if query != "" {
		path += "?" + query
	}
	return app.getJSON(t, path, http.StatusOK)
}

// GetCorrelationGraph calls GET /correlation/graph with a raw query string.
func (app *TestApp) GetCorrelationGraph(t *testing.T, query string) map[string]any {
	t.Helper()
	path := "/correlation/graph"
	if query != "" {
		path += "?" + query
	}
	return app.getJSON(t, path, http.StatusOK)
}

// GetIncidents calls GET /incidents with a raw query string.
func (app *TestApp) GetIncidents(t *testing.T, query string) []any {
	t.Helper()
	path := "/incidents"
	if query != "" {
		path += "?" + query
	}
	return app.getJSONArray(t, path, http.StatusOK)
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	body := app.httpGet(t, path, expectedStatus)
	out := map[string]any{}
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &out), "GET %s: %s", path, string(body))
	}
	return out
}

func (app *TestApp) getJSONArray(t *testing.T, path string, expectedStatus int) []any {
	t.Helper()
	body := app.httpGet(t, path, expectedStatus)
	var out []any
	require.NoError(t, json.Unmarshal(body, &out), "GET %s: %s", path, string(body))
	return out
}

func (app *TestApp) httpGet(t *testing.T, path string, expectedStatus int) []byte {
	t.Helper()
	resp, err := http.Get(app.BaseURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: %s", path, string(body))
	return body
}

func (app *TestApp) postJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	resp, err := http.Post(app.BaseURL+path, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: %s", path, string(body))
	out := map[string]any{}
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &out), "POST %s: %s", path, string(body))
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Polling Helpers
// ────────────────────────────────────────────────────────────
//
// The closures below run on Eventually's goroutine, so they use plain HTTP
// and client calls and report false instead of failing the test mid-poll.

// WaitForAlerts polls GET /alerts until at least min alerts are listed and
// returns them newest-first.
func (app *TestApp) WaitForAlerts(t *testing.T, min int) []map[string]any {
	t.Helper()
	var alerts []map[string]any
	require.Eventuallyf(t, func() bool {
		resp, err := http.Get(app.BaseURL + "/alerts")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var out []map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return false
		}
		if len(out) < min {
			return false
		}
		alerts = out
		return true
	}, waitTimeout, waitTick, "expected at least %d alerts", min)
	return alerts
}

// WaitForLogDocs polls the per-OS log collection until it holds at least min
// documents. The correlation endpoints cache their first result, so tests
// must wait for ingestion here before querying them.
func (app *TestApp) WaitForLogDocs(t *testing.T, os string, min int) {
	t.Helper()
	coll := vectorstore.CollectionName(app.Config.LogCollectionPrefix, os, app.Store.Provider().Name())
	require.Eventuallyf(t, func() bool {
		n, err := app.Store.Count(context.Background(), coll)
		return err == nil && n >= min
	}, waitTimeout, waitTick, "expected at least %d documents in %s", min, coll)
}

// WaitForStreamLen polls until the stream holds at least min entries.
func (app *TestApp) WaitForStreamLen(t *testing.T, stream string, min int64) {
	t.Helper()
	require.Eventuallyf(t, func() bool {
		n, err := app.RDB.XLen(context.Background(), stream).Result()
		return err == nil && n >= min
	}, waitTimeout, waitTick, "expected at least %d entries in stream %s", min, stream)
}

// WaitForEnvironment polls GET /environments until the environment shows up
// in discovery.
func (app *TestApp) WaitForEnvironment(t *testing.T, envID string) {
	t.Helper()
	require.Eventuallyf(t, func() bool {
		resp, err := http.Get(app.BaseURL + "/environments")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var out struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return false
		}
		for _, item := range out.Items {
			if item.ID == envID {
				return true
			}
		}
		return false
	}, waitTimeout, waitTick, "environment %s never appeared in discovery", envID)
}
