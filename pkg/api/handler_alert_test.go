package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/pkg/alertstore"
)

func diskAlertFields(clusterID, summary, envIDs string) map[string]any {
	return map[string]any{
		"type":          "cluster",
		"os":            "linux",
		"cluster_id":    clusterID,
		"result":        `{"failure_type":"disk_failure","confidence":0.9,"recommendation":"replace disk","summary":"` + summary + `"}`,
		"env_ids":       envIDs,
		"evidence_logs": `[{"raw":"kernel: sector write failure","source":"tail:/var/log/linux.log"}]`,
		"summary":       summary,
		"solution":      "replace disk",
	}
}

func TestListAlerts(t *testing.T) {
	f := setupAPI(t)
	f.seedAlert(t, "1000-0", diskAlertFields("c1", "disk failing", `["env-001"]`))
	f.seedAlert(t, "2000-0", diskAlertFields("c2", "pool exhausted", `["env-002"]`))

	w := f.do(t, http.MethodGet, "/alerts")
	require.Equal(t, http.StatusOK, w.Code)

	var alerts []alertstore.Alert
	decodeBody(t, w, &alerts)
	require.Len(t, alerts, 2)
	assert.Equal(t, "2000-0", alerts[0].ID, "newest first")
	assert.Equal(t, "pool exhausted", alerts[0].Summary)
	assert.Equal(t, []string{"env-002"}, alerts[0].EnvIDs)
	assert.False(t, alerts[0].Persisted)

	t.Run("env filter", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/alerts?env_id=env-001")
		require.Equal(t, http.StatusOK, w.Code)
		var filtered []alertstore.Alert
		decodeBody(t, w, &filtered)
		require.Len(t, filtered, 1)
		assert.Equal(t, "1000-0", filtered[0].ID)
	})

	t.Run("malformed limit", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/alerts?limit=abc")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("limit caps the page", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/alerts?limit=1")
		require.Equal(t, http.StatusOK, w.Code)
		var capped []alertstore.Alert
		decodeBody(t, w, &capped)
		assert.Len(t, capped, 1)
	})
}

func TestPersistAlert(t *testing.T) {
	f := setupAPI(t)
	f.seedAlert(t, "1000-0", diskAlertFields("c1", "disk failing", `["env-001"]`))

	w := f.do(t, http.MethodPost, "/alerts/1000-0/persist")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, StatusResponse{Status: "ok", ID: "1000-0"}, resp)

	members, err := f.rdb.SMembers(context.Background(), f.cfg.AlertsPersistedSet).Result()
	require.NoError(t, err)
	assert.Contains(t, members, "1000-0")

	t.Run("unknown alert", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/alerts/9999-0/persist")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAlertFeedback(t *testing.T) {
	f := setupAPI(t)
	f.seedAlert(t, "1000-0", diskAlertFields("c1", "disk failing", `["env-001"]`))

	w := f.do(t, http.MethodPost, "/alerts/1000-0/feedback?feedback=correct")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, StatusResponse{Status: "ok", ID: "1000-0", Feedback: "correct"}, resp)

	stored, err := f.rdb.HGet(context.Background(), "alert:1000-0", "feedback").Result()
	require.NoError(t, err)
	assert.Equal(t, "correct", stored)

	t.Run("invalid kind", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/alerts/1000-0/feedback?feedback=meh")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing kind", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/alerts/1000-0/feedback")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown alert", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/alerts/9999-0/feedback?feedback=correct")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
