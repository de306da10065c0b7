// Package metrics exposes Prometheus counters for the pipeline. Recording
// is best-effort: every method is a no-op on a nil receiver so callers can
// hold a nil *Metrics when recording is disabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline collectors.
type Metrics struct {
	logsProcessed       *prometheus.CounterVec
	clustersCreated     *prometheus.CounterVec
	clusterAssignments  *prometheus.CounterVec
	candidatesPublished *prometheus.CounterVec
	alertsPublished     *prometheus.CounterVec
	issuesClosed        *prometheus.CounterVec
	llmRequests         *prometheus.CounterVec
	llmTokens           prometheus.Counter
	llmLatency          prometheus.Histogram
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_logs_processed_total",
			Help: "Log lines consumed from the ingest stream.",
		}, []string{"os"}),
		clustersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_clusters_created_total",
			Help: "New prototypes created by the online clusterer.",
		}, []string{"os"}),
		clusterAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_cluster_assignments_total",
			Help: "Logs assigned to an existing cluster.",
		}, []string{"os"}),
		candidatesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_candidates_published_total",
			Help: "Cluster candidates published for enrichment.",
		}, []string{"os"}),
		alertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_alerts_published_total",
			Help: "Enriched alerts appended to the alerts stream.",
		}, []string{"os"}),
		issuesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_issues_closed_total",
			Help: "Idle issues closed and published.",
		}, []string{"os"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_llm_requests_total",
			Help: "LLM classification calls by outcome.",
		}, []string{"outcome"}),
		llmTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_llm_tokens_total",
			Help: "Total tokens reported by the LLM backend.",
		}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loglens_llm_latency_seconds",
			Help:    "LLM classification latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.logsProcessed, m.clustersCreated, m.clusterAssignments,
		m.candidatesPublished, m.alertsPublished, m.issuesClosed,
		m.llmRequests, m.llmTokens, m.llmLatency,
	)
	return m
}

// LogProcessed counts one consumed log line.
func (m *Metrics) LogProcessed(os string) {
	if m == nil {
		return
	}
	m.logsProcessed.WithLabelValues(os).Inc()
}

// ClusterCreated counts a new prototype.
func (m *Metrics) ClusterCreated(os string) {
	if m == nil {
		return
	}
	m.clustersCreated.WithLabelValues(os).Inc()
}

// ClusterAssigned counts an assignment to an existing prototype.
func (m *Metrics) ClusterAssigned(os string) {
	if m == nil {
		return
	}
	m.clusterAssignments.WithLabelValues(os).Inc()
}

// CandidatePublished counts a published cluster candidate.
func (m *Metrics) CandidatePublished(os string) {
	if m == nil {
		return
	}
	m.candidatesPublished.WithLabelValues(os).Inc()
}

// AlertPublished counts a published alert.
func (m *Metrics) AlertPublished(os string) {
	if m == nil {
		return
	}
	m.alertsPublished.WithLabelValues(os).Inc()
}

// IssueClosed counts an idle-closed issue.
func (m *Metrics) IssueClosed(os string) {
	if m == nil {
		return
	}
	m.issuesClosed.WithLabelValues(os).Inc()
}

// LLMRequest records one classification call.
func (m *Metrics) LLMRequest(success bool, tokens int, latency time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.llmRequests.WithLabelValues(outcome).Inc()
	if tokens > 0 {
		m.llmTokens.Add(float64(tokens))
	}
	m.llmLatency.Observe(latency.Seconds())
}
