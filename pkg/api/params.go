package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loglens/loglens/pkg/correlate"
	"github.com/loglens/loglens/pkg/services"
)

// intQuery parses an optional integer query parameter. Absent or blank
// values return def; malformed values are a ValidationError.
func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, services.NewValidationError(name, "must be an integer")
	}
	return v, nil
}

// floatQuery parses an optional float query parameter.
func floatQuery(c *gin.Context, name string, def float64) (float64, error) {
	raw, ok := c.GetQuery(name)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, services.NewValidationError(name, "must be a number")
	}
	return v, nil
}

// correlationParams binds the shared correlation knobs. Only syntax is
// validated here; the correlator clamps ranges when it normalizes.
func correlationParams(c *gin.Context, includeLogsDefault int) (correlate.Params, error) {
	var p correlate.Params
	var err error

	if p.LimitPerSource, err = intQuery(c, "limit_per_source", 200); err != nil {
		return p, err
	}
	if p.Threshold, err = floatQuery(c, "threshold", 0); err != nil {
		return p, err
	}
	if p.MinSize, err = intQuery(c, "min_size", 0); err != nil {
		return p, err
	}
	if p.IncludeLogsPerCluster, err = intQuery(c, "include_logs_per_cluster", includeLogsDefault); err != nil {
		return p, err
	}
	if p.MinClusterSize, err = intQuery(c, "min_cluster_size", 5); err != nil {
		return p, err
	}
	if p.MinSamples, err = intQuery(c, "min_samples", 0); err != nil {
		return p, err
	}
	p.Algorithm = c.DefaultQuery("algorithm", "hdbscan")
	p.Basis = c.DefaultQuery("basis", "prototypes")
	return p, nil
}
