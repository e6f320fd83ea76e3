package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if c.Ingest.Interval != 60*time.Second {
		t.Fatalf("interval %s", c.Ingest.Interval)
	}
	if c.Ingest.LiquidityThreshold != 10000 || c.Ingest.RiskFreeRate != 0.01 || c.Ingest.MonteCarloPaths != 10000 {
		t.Fatalf("unexpected pricing defaults: %+v", c.Ingest)
	}
	if c.Database.ConflictPolicy != "last_write_wins" {
		t.Fatalf("policy %q", c.Database.ConflictPolicy)
	}
	if c.Kafka.Topic != "option_chain_data" || len(c.Kafka.Brokers) != 1 || c.Kafka.Brokers[0] != "localhost:9092" {
		t.Fatalf("kafka defaults: topic=%q brokers=%v", c.Kafka.Topic, c.Kafka.Brokers)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Upstream.Symbol != "NIFTY" {
		t.Fatalf("symbol %q", c.Upstream.Symbol)
	}
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
upstream:
  symbol: BANKNIFTY
ingest:
  interval: 30s
  cycle_timeout: 20s
database:
  driver: sqlite
  dsn: ":memory:"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Upstream.Symbol != "BANKNIFTY" || c.Ingest.Interval != 30*time.Second || c.Database.Driver != "sqlite" {
		t.Fatalf("overrides not applied: %+v %+v", c.Upstream, c.Ingest)
	}
	if c.Ingest.LiquidityThreshold != 10000 {
		t.Fatalf("untouched default lost: %v", c.Ingest.LiquidityThreshold)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"driver":        "database:\n  driver: mysql\n",
		"policy":        "database:\n  conflict_policy: merge\n",
		"cycle timeout": "ingest:\n  interval: 10s\n  cycle_timeout: 30s\n",
		"mirror":        "kafka:\n  enabled: false\nclickhouse:\n  enabled: true\n",
		"yaml":          "ingest: [",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("SYMBOL", "FINNIFTY")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("POLL_INTERVAL", "90s")
	t.Setenv("LIQUIDITY_THRESHOLD", "5000")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	c, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Upstream.Symbol != "FINNIFTY" || c.Ingest.Interval != 90*time.Second || c.Ingest.LiquidityThreshold != 5000 {
		t.Fatalf("env not applied: %+v %+v", c.Upstream, c.Ingest)
	}
	if len(c.Kafka.Brokers) != 2 || c.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers %v", c.Kafka.Brokers)
	}
	if !c.Redis.Enabled {
		t.Fatalf("REDIS_URL should enable redis")
	}
}

func TestLoadWithEnvBadValue(t *testing.T) {
	t.Setenv("MONTE_CARLO_PATHS", "many")
	if _, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected parse error")
	}
}
