package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: test
server:
  port: 9090
forecast:
  workers: 2
  short:
    horizon: 5
    trees:
      num_trees: 50
  long:
    decomposition:
      yearly: false
tickers: [AAPL, msft]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Forecast.Workers)
	assert.Equal(t, 5, cfg.Forecast.Short.Horizon)
	assert.Equal(t, 10, cfg.Forecast.Short.Window, "unset keys keep defaults")
	assert.Equal(t, 50, cfg.Forecast.Short.Trees.NumTrees)
	assert.Equal(t, 90, cfg.Forecast.Long.Horizon)
	assert.False(t, cfg.Forecast.Long.Decomposition.Yearly)
	assert.True(t, cfg.Forecast.Long.Decomposition.Weekly)
	assert.Equal(t, "2y", cfg.Data.Period)
	assert.Equal(t, []string{"AAPL", "msft"}, cfg.Tickers)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "prediction.records", cfg.Kafka.Topics.Predictions)
}

func TestLoadRestoresZeroedDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 0
forecast:
  workers: 0
redis:
  cache_ttl: 0s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Forecast.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeConfig(t, "server: [\n"))
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(writeConfig(t, "data:\n  period: 7d\n"))
	assert.ErrorContains(t, err, "data.period")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		msg    string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no environment", func(c *Config) { c.Environment = "" }, "environment"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"short window", func(c *Config) { c.Forecast.Short.Window = 0 }, "forecast.short"},
		{"long horizon", func(c *Config) { c.Forecast.Long.Horizon = 0 }, "forecast.long"},
		{"sqlite", func(c *Config) { c.Data.SQLitePath = "" }, "sqlite_path"},
		{"kafka brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
		{"clickhouse host", func(c *Config) { c.ClickHouse.Enabled = true }, "clickhouse.host"},
		{"redis addr", func(c *Config) { c.Redis.Enabled = true }, "redis.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			err := c.Validate()
			if tc.msg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestApplyEnvEnablesServices(t *testing.T) {
	env := map[string]string{
		"TICKERS":         "aapl, tsla ,",
		"KAFKA_BROKERS":   "k1:9092,k2:9092",
		"CLICKHOUSE_HOST": "ch",
		"REDIS_ADDR":      "redis:6379",
		"PORT":            "not-a-number",
		"LOG_LEVEL":       "debug",
	}
	c := Default()
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, []string{"aapl", "tsla"}, c.Tickers)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.ClickHouse.Enabled)
	assert.Equal(t, "ch", c.ClickHouse.Host)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, 8080, c.Server.Port, "bad PORT keeps the configured value")
	assert.Equal(t, "debug", c.Log.Level)
	assert.NoError(t, c.Validate())
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("SQLITE_PATH", "/tmp/other.db")
	cfg, err := LoadWithEnv(writeConfig(t, "environment: prod\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", cfg.Data.SQLitePath)
}
