package producer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/pkg/config"
	"github.com/loglens/loglens/pkg/logparse"
)

func setupProducer(t *testing.T, cfg *config.Config) (*Producer, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, cfg), rdb
}

func emitN(t *testing.T, p *Producer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, p.emitOne(context.Background()))
	}
}

func readStream(t *testing.T, rdb *redis.Client) []redis.XMessage {
	t.Helper()
	msgs, err := rdb.XRange(context.Background(), logStream, "-", "+").Result()
	require.NoError(t, err)
	return msgs
}

func TestEmitCoversAllScenariosAndEnvironments(t *testing.T) {
	envs := []string{"env-001", "env-002", "env-003"}
	p, rdb := setupProducer(t, &config.Config{SimEnvIDs: envs, SimRateHz: 5})

	emitN(t, p, len(scenarios)*len(envs))
	msgs := readStream(t, rdb)
	require.Len(t, msgs, len(scenarios)*len(envs))

	sources := map[string]bool{}
	seenEnvs := map[string]bool{}
	for _, msg := range msgs {
		source, _ := msg.Values["source"].(string)
		line, _ := msg.Values["line"].(string)
		require.NotEmpty(t, source)
		require.NotEmpty(t, line)
		sources[source] = true

		os := logparse.OSFromSource(source)
		assert.NotEqual(t, logparse.OSUnknown, os, "source %q must route to a known OS", source)

		templated, res := logparse.Normalize(source, os, line)
		assert.NotEmpty(t, templated)
		if logparse.IsIntegrationSource(source) {
			assert.Contains(t, envs, res.EnvID, "integration payload must carry a rotating env id")
			seenEnvs[res.EnvID] = true
		}
	}

	assert.ElementsMatch(t,
		[]string{"linux.log", "mac.log", "scom:SCOM-MS01", "catalyst:DNAC-01", "thousandeyes:TE-01"},
		keys(sources))
	assert.Len(t, seenEnvs, len(envs), "a full rotation visits every environment")
}

func TestEmitTemplatesSameSymptomIdentically(t *testing.T) {
	p, rdb := setupProducer(t, &config.Config{SimEnvIDs: []string{"env-001"}, SimRateHz: 5})

	// Two full sweeps: entries i and i+len(scenarios) share a scenario but
	// differ in host, pid and sector.
	emitN(t, p, len(scenarios)*2)
	msgs := readStream(t, rdb)
	require.Len(t, msgs, len(scenarios)*2)

	for i := 0; i < len(scenarios); i++ {
		first, second := msgs[i], msgs[i+len(scenarios)]
		src, _ := first.Values["source"].(string)
		if logparse.IsIntegrationSource(src) {
			// Integration templates carry the host name on purpose; only
			// the syslog families are host-invariant.
			continue
		}
		os := logparse.OSFromSource(src)

		t1, _ := logparse.Normalize(src, os, first.Values["line"].(string))
		t2, _ := logparse.Normalize(src, os, second.Values["line"].(string))
		assert.Equal(t, t1, t2, "scenario %d must template identically across hosts", i)
	}

	// Spot-check the shapes the sanitizer should have produced.
	disk, _ := logparse.Normalize("linux.log", logparse.OSLinux, msgs[0].Values["line"].(string))
	assert.Equal(t, "kernel: blk_update_request: I/O error, dev sda, sector <num> (errno=5)", disk)

	pool, _ := logparse.Normalize("linux.log", logparse.OSLinux, msgs[1].Values["line"].(string))
	assert.Contains(t, pool, "app[<pid>]:")
	assert.Contains(t, pool, "HikariPool-1")
}

func TestEmitHostsFollowEnvNaming(t *testing.T) {
	p, rdb := setupProducer(t, &config.Config{SimEnvIDs: []string{"env-042"}, SimRateHz: 5})

	emitN(t, p, len(scenarios))
	for _, msg := range readStream(t, rdb) {
		source, _ := msg.Values["source"].(string)
		line, _ := msg.Values["line"].(string)
		if !logparse.IsIntegrationSource(source) {
			continue
		}
		_, res := logparse.Normalize(source, logparse.OSFromSource(source), line)
		assert.Equal(t, "env-042", res.EnvID)
		if res.Host != "" {
			assert.Contains(t, res.Host, "env-042-")
		}
	}
}

func TestRunEmitsUntilCancelled(t *testing.T) {
	p, rdb := setupProducer(t, &config.Config{SimEnvIDs: []string{"env-001"}, SimRateHz: 200})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := rdb.XLen(context.Background(), logStream).Result()
		return err == nil && n >= 3
	}, 2*time.Second, 10*time.Millisecond, "producer should emit at the configured rate")

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after cancellation")
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	p := New(rdb, &config.Config{})
	assert.Equal(t, defaultRateHz, p.rate)
	assert.Equal(t, []string{"env-001"}, p.envIDs)
	assert.Equal(t, "sim_producer", p.Name())
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
