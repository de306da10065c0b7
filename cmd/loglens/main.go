// LogLens pipeline server — consumes log streams from Redis, clusters
// recurring symptoms online, enriches sustained clusters into alerts and
// serves the correlation query API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/loglens/loglens/pkg/aggregate"
	"github.com/loglens/loglens/pkg/alertstore"
	"github.com/loglens/loglens/pkg/api"
	"github.com/loglens/loglens/pkg/cluster"
	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/correlate"
	"github.com/loglens/loglens/pkg/embedding"
	"github.com/loglens/loglens/pkg/enrich"
	"github.com/loglens/loglens/pkg/environment"
	"github.com/loglens/loglens/pkg/incident"
	"github.com/loglens/loglens/pkg/llm"
	"github.com/loglens/loglens/pkg/metrics"
	"github.com/loglens/loglens/pkg/producer"
	"github.com/loglens/loglens/pkg/retention"
	"github.com/loglens/loglens/pkg/runner"
	"github.com/loglens/loglens/pkg/vectorstore"
	"github.com/loglens/loglens/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting LogLens",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		slog.Error("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to Redis", "addr", cfg.RedisAddr)

	// 3. Open the vector store with the configured embedding provider
	provider, err := embedding.New(embedding.Config{
		Provider:  cfg.EmbeddingsProvider,
		BaseURL:   cfg.EmbeddingsBaseURL,
		APIKey:    cfg.EmbeddingsAPIKey,
		Model:     cfg.EmbeddingsModel,
		Dimension: cfg.EmbeddingsDim,
	})
	if err != nil {
		slog.Error("Failed to initialize embedding provider", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.VectorDBPath), 0o755); err != nil {
		slog.Error("Failed to create vector store directory", "path", cfg.VectorDBPath, "error", err)
		os.Exit(1)
	}
	store, err := vectorstore.Open(ctx, cfg.VectorDBPath, provider)
	if err != nil {
		slog.Error("Failed to open vector store", "path", cfg.VectorDBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing vector store", "error", err)
		}
	}()
	embedID := provider.Name()
	slog.Info("Vector store ready", "path", cfg.VectorDBPath, "embeddings", embedID)

	// 4. Metrics registry. The /metrics endpoint always serves the registry;
	// the pipeline counters themselves are a toggle.
	registry := prometheus.NewRegistry()
	var m *metrics.Metrics
	if cfg.EnableClusterMetrics {
		m = metrics.New(registry)
	}

	// 5. Pipeline workers
	assigner := cluster.NewAssigner(store, cfg.ProtoCollectionPrefix, embedID,
		cfg.OnlineClusterDistanceThreshold, m)
	workers := []runner.Runner{
		aggregate.New(rdb, store, assigner, cfg, m),
		retention.New(rdb, store, embedID, cfg),
	}

	if cfg.EnableClusterEnricher {
		classifier, err := llm.New(llm.Config{
			Provider: cfg.LLMProvider,
			BaseURL:  cfg.LLMBaseURL,
			APIKey:   cfg.LLMAPIKey,
			Model:    cfg.LLMModel,
		})
		if err != nil {
			slog.Error("Failed to initialize LLM classifier", "error", err)
			os.Exit(1)
		}
		workers = append(workers, enrich.New(rdb, store, classifier, embedID, cfg, m))
	} else {
		slog.Info("Cluster enricher disabled; candidate streams will not produce alerts")
	}

	if cfg.EnableProducers {
		workers = append(workers, producer.New(rdb, cfg))
		slog.Info("Synthetic producers enabled",
			"env_ids", cfg.SimEnvIDs, "rate_hz", cfg.SimRateHz)
	}

	// 6. Start workers (before the HTTP server)
	supervisor := runner.NewSupervisor(workers...)
	supervisor.Start(ctx)

	// 7. Create the HTTP server over the query services
	correlator := correlate.New(rdb, store, embedID, cfg)
	httpServer := api.NewServer(api.Deps{
		Alerts:       alertstore.New(rdb, cfg),
		Incidents:    incident.New(correlator, cfg),
		Environments: environment.New(store, correlator, embedID, cfg),
		Correlation:  correlate.NewService(correlator),
		Redis:        rdb,
		Registry:     registry,
		Config:       cfg,
	})

	// 8. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("LogLens started successfully", "workers", len(workers))

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: workers first so in-flight batches are acked
	// and their candidates published, then the HTTP server.
	done := make(chan struct{})
	go func() {
		supervisor.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Workers stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Worker shutdown timeout exceeded")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
