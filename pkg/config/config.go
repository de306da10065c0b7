// Package config holds the runtime configuration for the loglens pipeline.
// All values are loaded from environment variables with defaults that run
// out of the box against a local Redis and the bundled local embedder.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration, shared by the workers and the
// HTTP query layer.
type Config struct {
	// HTTP
	HTTPPort string

	// Redis (streams, hashes, sets, counters)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Vector store (embedded SQLite file)
	VectorDBPath string

	// Embeddings
	EmbeddingsProvider string // "local" or "openai"
	EmbeddingsBaseURL  string
	EmbeddingsAPIKey   string
	EmbeddingsModel    string
	EmbeddingsDim      int

	// LLM classification
	LLMProvider string // "heuristic" or "openai"
	LLMBaseURL  string
	LLMAPIKey   string
	LLMModel    string

	// Collection naming
	LogCollectionPrefix      string
	ProtoCollectionPrefix    string
	TemplateCollectionPrefix string

	// Online clustering
	OnlineClusterDistanceThreshold float64
	ClusterMinLogsForClassify      int
	CandidateRepublishEvery        int
	CandidateRepublishMinInterval  time.Duration

	// Cross-source correlation
	ClusterDistanceThreshold float64
	ClusterMinSize           int
	CorrelationMaxItemsPerOS int

	// Issue aggregation
	IssueInactivity    time.Duration
	IssueMaxLogsForLLM int
	IssueSampleLogsMax int

	// Worker stream reads. Negative means non-blocking polls.
	StreamBlock time.Duration

	// Alerts
	AlertsTTL               time.Duration
	AlertsPersistedSet      string
	AlertsFeedbackCorrect   string
	AlertsFeedbackIncorrect string

	// Feature toggles
	DisableHDBSCAN           bool
	DisableGlobalClustering  bool
	CorrelationFallbackRedis bool
	EnableClusterEnricher    bool
	EnableClusterMetrics     bool
	EnableProducers          bool

	// Environment discovery and simulation
	EnvDiscoveryTimeout time.Duration
	SimEnvIDs           []string
	SimRateHz           int

	// Retention
	RetentionSweepInterval time.Duration
	LogsStreamMaxLen       int64
	AlertsStreamMaxLen     int64
	LogDocsRetention       time.Duration
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		VectorDBPath: getEnv("VECTOR_DB_PATH", "./data/loglens.db"),

		EmbeddingsProvider: getEnv("EMBEDDINGS_PROVIDER", "local"),
		EmbeddingsBaseURL:  os.Getenv("EMBEDDINGS_BASE_URL"),
		EmbeddingsAPIKey:   os.Getenv("EMBEDDINGS_API_KEY"),
		EmbeddingsModel:    getEnv("EMBEDDINGS_MODEL", "text-embedding-3-small"),

		LLMProvider: getEnv("LLM_PROVIDER", "heuristic"),
		LLMBaseURL:  os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:   os.Getenv("LLM_API_KEY"),
		LLMModel:    getEnv("LLM_MODEL", "gpt-4o-mini"),

		LogCollectionPrefix:      getEnv("CHROMA_LOG_COLLECTION_PREFIX", "logs_"),
		ProtoCollectionPrefix:    getEnv("CHROMA_PROTO_COLLECTION_PREFIX", "prototypes_"),
		TemplateCollectionPrefix: getEnv("CHROMA_TEMPLATE_COLLECTION_PREFIX", "templates_"),

		AlertsPersistedSet:      getEnv("ALERTS_PERSISTED_SET", "alerts:persisted"),
		AlertsFeedbackCorrect:   getEnv("ALERTS_FEEDBACK_CORRECT_SET", "alerts:feedback:correct"),
		AlertsFeedbackIncorrect: getEnv("ALERTS_FEEDBACK_INCORRECT_SET", "alerts:feedback:incorrect"),

		DisableHDBSCAN:           getEnvBool("DISABLE_HDBSCAN", false),
		DisableGlobalClustering:  getEnvBool("DISABLE_GLOBAL_CLUSTERING", false),
		CorrelationFallbackRedis: getEnvBool("CORRELATION_FALLBACK_REDIS", false),
		EnableClusterEnricher:    getEnvBool("ENABLE_CLUSTER_ENRICHER", true),
		EnableClusterMetrics:     getEnvBool("ENABLE_CLUSTER_METRICS", true),
		EnableProducers:          getEnvBool("ENABLE_PRODUCERS", false),

		SimEnvIDs: splitCSV(getEnv("SIM_ENV_IDS", "env-001,env-002,env-003")),
	}

	if cfg.EmbeddingsDim, err = getEnvInt("EMBEDDINGS_DIM", defaultEmbeddingsDim(cfg.EmbeddingsProvider)); err != nil {
		return nil, err
	}
	if cfg.OnlineClusterDistanceThreshold, err = getEnvFloat("ONLINE_CLUSTER_DISTANCE_THRESHOLD", 0.35); err != nil {
		return nil, err
	}
	if cfg.ClusterMinLogsForClassify, err = getEnvInt("CLUSTER_MIN_LOGS_FOR_CLASSIFICATION", 10); err != nil {
		return nil, err
	}
	if cfg.CandidateRepublishEvery, err = getEnvInt("CLUSTER_CANDIDATE_REPUBLISH_EVERY", 0); err != nil {
		return nil, err
	}
	if cfg.CandidateRepublishMinInterval, err = getEnvSeconds("CLUSTER_CANDIDATE_REPUBLISH_MIN_INTERVAL_SEC", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.ClusterDistanceThreshold, err = getEnvFloat("CLUSTER_DISTANCE_THRESHOLD", 0.45); err != nil {
		return nil, err
	}
	if cfg.ClusterMinSize, err = getEnvInt("CLUSTER_MIN_SIZE", 4); err != nil {
		return nil, err
	}
	if cfg.CorrelationMaxItemsPerOS, err = getEnvInt("CORRELATION_MAX_ITEMS_PER_OS", 2000); err != nil {
		return nil, err
	}
	if cfg.IssueInactivity, err = getEnvSeconds("ISSUE_INACTIVITY_SEC", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.IssueMaxLogsForLLM, err = getEnvInt("ISSUE_MAX_LOGS_FOR_LLM", 20); err != nil {
		return nil, err
	}
	if cfg.IssueSampleLogsMax, err = getEnvInt("ISSUE_SAMPLE_LOGS_MAX", 10); err != nil {
		return nil, err
	}
	blockMS, err := getEnvInt("STREAM_BLOCK_MS", 1000)
	if err != nil {
		return nil, err
	}
	if blockMS < 0 {
		cfg.StreamBlock = -1
	} else {
		cfg.StreamBlock = time.Duration(blockMS) * time.Millisecond
	}
	if cfg.AlertsTTL, err = getEnvSeconds("ALERTS_TTL_SEC", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.EnvDiscoveryTimeout, err = getEnvSeconds("ENV_DISCOVERY_TIMEOUT_SEC", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.SimRateHz, err = getEnvInt("SIM_RATE_HZ", 5); err != nil {
		return nil, err
	}
	if cfg.RetentionSweepInterval, err = getEnvSeconds("RETENTION_SWEEP_INTERVAL_SEC", 300*time.Second); err != nil {
		return nil, err
	}
	logsMaxLen, err := getEnvInt("LOGS_STREAM_MAX_LEN", 100000)
	if err != nil {
		return nil, err
	}
	cfg.LogsStreamMaxLen = int64(logsMaxLen)
	alertsMaxLen, err := getEnvInt("ALERTS_STREAM_MAX_LEN", 10000)
	if err != nil {
		return nil, err
	}
	cfg.AlertsStreamMaxLen = int64(alertsMaxLen)
	if cfg.LogDocsRetention, err = getEnvSeconds("LOG_DOCS_RETENTION_SEC", 72*time.Hour); err != nil {
		return nil, err
	}

	if cfg.ClusterMinLogsForClassify < 1 {
		return nil, fmt.Errorf("CLUSTER_MIN_LOGS_FOR_CLASSIFICATION must be >= 1, got %d", cfg.ClusterMinLogsForClassify)
	}
	if cfg.EmbeddingsDim < 1 {
		return nil, fmt.Errorf("EMBEDDINGS_DIM must be >= 1, got %d", cfg.EmbeddingsDim)
	}

	return cfg, nil
}

func defaultEmbeddingsDim(provider string) int {
	if provider == "openai" {
		return 1536
	}
	return 256
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

// getEnvSeconds reads a duration expressed as a number of seconds, matching
// the *_SEC naming convention of the knobs.
func getEnvSeconds(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	secs, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	switch val {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
