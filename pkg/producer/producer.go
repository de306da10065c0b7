// Package producer emits synthetic log lines into the logs stream so the
// pipeline has something to chew on in demos and end-to-end tests. Lines
// come from fixed symptom templates with rotating hosts and environments,
// so repeats of the same symptom template cluster together.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loglens/loglens/pkg/config"
)

const (
	logStream = "logs"

	defaultRateHz = 5
)

var hostRoles = []string{"web", "db", "app"}

// emission is the rotating state handed to a scenario builder.
type emission struct {
	env  string
	host string
	ip   string
	ts   time.Time
	pid  int
	n    int
}

// scenario is one synthetic log family: a source name and a line builder.
type scenario struct {
	source string
	build  func(e emission) string
}

// scenarios covers the four OS families the router recognizes. Symptom
// texts match what the simulated integrations emit, so demo clusters look
// like real failures.
var scenarios = []scenario{
	{"linux.log", func(e emission) string {
		return fmt.Sprintf("%s %s kernel: blk_update_request: I/O error, dev sda, sector %d (errno=5)",
			syslogTime(e.ts), e.host, e.n)
	}},
	{"linux.log", func(e emission) string {
		return fmt.Sprintf("%s %s app[%d]: HikariPool-1 - Connection is not available, request timed out after 30000ms (SQLSTATE 08001)",
			syslogTime(e.ts), e.host, e.pid)
	}},
	{"linux.log", func(e emission) string {
		return fmt.Sprintf("%s %s kernel: Out of memory: Killed process java (pid %d) in system.slice; memory cgroup out of memory",
			syslogTime(e.ts), e.host, e.pid)
	}},
	{"mac.log", func(e emission) string {
		return fmt.Sprintf("%s %s nsurlsessiond[%d]: TLS handshake timeout after 10s while connecting to api-gateway",
			syslogTime(e.ts), e.host, e.pid)
	}},
	{"mac.log", func(e emission) string {
		return fmt.Sprintf("%s %s mDNSResponder[%d]: dns: lookup api.internal.service.local on 10.0.0.2:53: server misbehaving (SERVFAIL)",
			syslogTime(e.ts), e.host, e.pid)
	}},
	{"scom:SCOM-MS01", func(e emission) string {
		return jsonLine(map[string]any{
			"LevelDisplayName": "Error",
			"ComputerName":     e.host,
			"Channel":          "Hardware",
			"Message":          "NETDEV WATCHDOG: eth0 (ixgbe): transmit queue 0 timed out; resetting adapter",
			"TimeGenerated":    e.ts.UTC().Format(time.RFC3339),
			"ip":               e.ip,
			"EnvironmentId":    e.env,
		})
	}},
	{"scom:SCOM-MS01", func(e emission) string {
		return jsonLine(map[string]any{
			"LevelDisplayName": "Warning",
			"ComputerName":     e.host,
			"Channel":          "Application",
			"Message":          "eth0: Link is Down; carrier lost; attempting renegotiation",
			"TimeGenerated":    e.ts.UTC().Format(time.RFC3339),
			"ip":               e.ip,
			"EnvironmentId":    e.env,
		})
	}},
	{"catalyst:DNAC-01", func(e emission) string {
		return jsonLine(map[string]any{
			"name":      "Event " + e.host + " FAILED",
			"severity":  "critical",
			"device":    e.host,
			"device_ip": e.ip,
			"time":      e.ts.UTC().Format(time.RFC3339),
			"env_id":    e.env,
		})
	}},
	{"thousandeyes:TE-01", func(e emission) string {
		return jsonLine(map[string]any{
			"ruleName":  "Performance threshold exceeded",
			"testName":  "HTTP Test - " + e.host,
			"severity":  "critical",
			"summary":   "Target status FAILED",
			"startTime": e.ts.UTC().Format(time.RFC3339),
			"env_id":    e.env,
		})
	}},
}

// Producer is the supervised worker feeding the logs stream.
type Producer struct {
	rdb    *redis.Client
	envIDs []string
	rate   int
	logger *slog.Logger

	seq int

	// now is swapped out by tests.
	now func() time.Time
}

// New creates the producer worker.
func New(rdb *redis.Client, cfg *config.Config) *Producer {
	if rdb == nil {
		panic("producer: redis client is required")
	}
	if cfg == nil {
		panic("producer: config is required")
	}
	envIDs := cfg.SimEnvIDs
	if len(envIDs) == 0 {
		envIDs = []string{"env-001"}
	}
	rate := cfg.SimRateHz
	if rate <= 0 {
		rate = defaultRateHz
	}
	return &Producer{
		rdb:    rdb,
		envIDs: envIDs,
		rate:   rate,
		logger: slog.With("worker", "sim_producer"),
		now:    time.Now,
	}
}

func (p *Producer) Name() string { return "sim_producer" }

// Run emits one line per tick until the context is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Info("Simulation producer started",
		"rate_hz", p.rate, "env_count", len(p.envIDs))

	ticker := time.NewTicker(time.Second / time.Duration(p.rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.emitOne(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}
	}
}

// emitOne publishes the next line in the rotation. The rotation is an
// odometer: scenario advances fastest, then environment, then host role,
// so every scenario eventually visits every environment and host.
func (p *Producer) emitOne(ctx context.Context) error {
	step := p.seq
	sc := scenarios[step%len(scenarios)]
	step /= len(scenarios)
	envIdx := step % len(p.envIDs)
	step /= len(p.envIDs)
	role := hostRoles[step%len(hostRoles)]

	env := p.envIDs[envIdx]
	e := emission{
		env:  env,
		host: fmt.Sprintf("%s-%s-%02d", env, role, 1+p.seq%3),
		ip:   fmt.Sprintf("10.%d.0.%d", 10+envIdx, 1+p.seq%254),
		ts:   p.now(),
		pid:  1000 + p.seq%60000,
		n:    10000 + (p.seq*37)%890000,
	}

	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: logStream,
		Values: map[string]any{
			"source": sc.source,
			"line":   sc.build(e),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish synthetic log: %w", err)
	}
	p.seq++
	return nil
}

// syslogTime renders the classic BSD syslog timestamp.
func syslogTime(t time.Time) string {
	return t.Format("Jan  2 15:04:05")
}

func jsonLine(fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return "{}"
	}
	return string(b)
}
