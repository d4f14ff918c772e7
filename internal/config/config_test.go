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
	path := filepath.Join(t.TempDir(), "icm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "icm.db", cfg.DatabasePath)
	assert.Equal(t, 30*time.Second, cfg.SourceTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestApplyFile(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/icm/icm.db
redis:
  addr: localhost:6379
  log_ttl: 2h
kafka:
  brokers: [k1:9092, k2:9092]
  topic: payouts
source:
  base_url: https://erp.example.com/api
  timeout: 5s
  max_retries: 0
  breaker:
    failures: 2
    timeout: 1m
engine:
  parallelism: 4
log:
  level: debug
`)
	cfg := Default()
	require.NoError(t, applyFile(&cfg, path))

	assert.Equal(t, "/var/lib/icm/icm.db", cfg.DatabasePath)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2*time.Hour, cfg.LogTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "payouts", cfg.KafkaTopic)
	assert.Equal(t, "https://erp.example.com/api", cfg.SourceBaseURL)
	assert.Equal(t, 5*time.Second, cfg.SourceTimeout)
	assert.Equal(t, 0, cfg.SourceMaxRetries, "explicit zero retries is kept")
	assert.Equal(t, uint32(2), cfg.BreakerFailures)
	assert.Equal(t, time.Minute, cfg.BreakerTimeout)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "icm", cfg.MongoDatabase, "unset keys keep defaults")
}

func TestApplyFile_BadDuration(t *testing.T) {
	path := writeConfig(t, "source:\n  timeout: soon\n")
	cfg := Default()
	err := applyFile(&cfg, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source.timeout")
}

func TestApplyFile_Missing(t *testing.T) {
	cfg := Default()
	err := applyFile(&cfg, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{
		"ICM_DB_PATH":          "/tmp/x.db",
		"ICM_KAFKA_BROKERS":    " a:1 , b:2 ,",
		"ICM_SOURCE_TIMEOUT":   "750ms",
		"ICM_PARALLELISM":      "8",
		"ICM_BREAKER_FAILURES": "9",
		"ICM_LOG_LEVEL":        "warn",
		"ICM_MONGO_URI":        "  ",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.DatabasePath)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.KafkaBrokers)
	assert.Equal(t, 750*time.Millisecond, cfg.SourceTimeout)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, uint32(9), cfg.BreakerFailures)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Empty(t, cfg.MongoURI, "blank values are ignored")
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"duration": {"ICM_LOG_TTL": "forever"},
		"int":      {"ICM_PARALLELISM": "many"},
		"uint":     {"ICM_BREAKER_FAILURES": "-1"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			assert.Error(t, applyEnv(&cfg, envMap(env)))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero timeout", func(c *Config) { c.SourceTimeout = 0 }, "source timeout"},
		{"negative retries", func(c *Config) { c.SourceMaxRetries = -1 }, "retries"},
		{"negative parallelism", func(c *Config) { c.Parallelism = -2 }, "parallelism"},
		{"brokers without topic", func(c *Config) {
			c.KafkaBrokers = []string{"k:9092"}
			c.KafkaTopic = ""
		}, "kafka topic"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database:\n  path: from-file.db\nengine:\n  parallelism: 2\n")
	t.Setenv("ICM_DB_PATH", "from-env.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DatabasePath)
	assert.Equal(t, 2, cfg.Parallelism)
}
