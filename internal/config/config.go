// Package config resolves runtime settings for the icm command.
//
// Settings are resolved in priority order: defaults, then an optional YAML
// file, then environment variables. A .env file in the working directory
// is loaded into the environment first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved configuration.
type Config struct {
	DatabasePath string

	MongoURI      string
	MongoDatabase string

	RedisAddr string
	LogTTL    time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	SourceBaseURL    string
	SourceTimeout    time.Duration
	SourceMaxRetries int
	SourcePageSize   int
	BreakerFailures  uint32
	BreakerTimeout   time.Duration

	Parallelism int
	LogLevel    string
}

// configFile mirrors the YAML schema. Durations are Go duration strings.
type configFile struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	Redis struct {
		Addr   string `yaml:"addr"`
		LogTTL string `yaml:"log_ttl"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Source struct {
		BaseURL    string `yaml:"base_url"`
		Timeout    string `yaml:"timeout"`
		MaxRetries *int   `yaml:"max_retries"`
		PageSize   int    `yaml:"page_size"`
		Breaker    struct {
			Failures uint32 `yaml:"failures"`
			Timeout  string `yaml:"timeout"`
		} `yaml:"breaker"`
	} `yaml:"source"`
	Engine struct {
		Parallelism int `yaml:"parallelism"`
	} `yaml:"engine"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DatabasePath:     "icm.db",
		MongoDatabase:    "icm",
		LogTTL:           24 * time.Hour,
		KafkaTopic:       "commission-executions",
		SourceTimeout:    30 * time.Second,
		SourceMaxRetries: 3,
		SourcePageSize:   500,
		BreakerFailures:  5,
		BreakerTimeout:   30 * time.Second,
		LogLevel:         "info",
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.DatabasePath, f.Database.Path)
	setString(&cfg.MongoURI, f.Mongo.URI)
	setString(&cfg.MongoDatabase, f.Mongo.Database)
	setString(&cfg.RedisAddr, f.Redis.Addr)
	setString(&cfg.KafkaTopic, f.Kafka.Topic)
	setString(&cfg.SourceBaseURL, f.Source.BaseURL)
	setString(&cfg.LogLevel, f.Log.Level)
	if len(f.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = f.Kafka.Brokers
	}
	if f.Source.MaxRetries != nil {
		cfg.SourceMaxRetries = *f.Source.MaxRetries
	}
	if f.Source.PageSize > 0 {
		cfg.SourcePageSize = f.Source.PageSize
	}
	if f.Source.Breaker.Failures > 0 {
		cfg.BreakerFailures = f.Source.Breaker.Failures
	}
	if f.Engine.Parallelism > 0 {
		cfg.Parallelism = f.Engine.Parallelism
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"redis.log_ttl", f.Redis.LogTTL, &cfg.LogTTL},
		{"source.timeout", f.Source.Timeout, &cfg.SourceTimeout},
		{"source.breaker.timeout", f.Source.Breaker.Timeout, &cfg.BreakerTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config %s: %s: %w", path, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

// applyEnv overrides cfg from ICM_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get("ICM_DB_PATH"); ok {
		cfg.DatabasePath = v
	}
	if v, ok := get("ICM_MONGO_URI"); ok {
		cfg.MongoURI = v
	}
	if v, ok := get("ICM_MONGO_DATABASE"); ok {
		cfg.MongoDatabase = v
	}
	if v, ok := get("ICM_REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := get("ICM_KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	if v, ok := get("ICM_KAFKA_TOPIC"); ok {
		cfg.KafkaTopic = v
	}
	if v, ok := get("ICM_SOURCE_URL"); ok {
		cfg.SourceBaseURL = v
	}
	if v, ok := get("ICM_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}

	durations := map[string]*time.Duration{
		"ICM_LOG_TTL":         &cfg.LogTTL,
		"ICM_SOURCE_TIMEOUT":  &cfg.SourceTimeout,
		"ICM_BREAKER_TIMEOUT": &cfg.BreakerTimeout,
	}
	for key, dst := range durations {
		v, ok := get(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"ICM_SOURCE_MAX_RETRIES": &cfg.SourceMaxRetries,
		"ICM_SOURCE_PAGE_SIZE":   &cfg.SourcePageSize,
		"ICM_PARALLELISM":        &cfg.Parallelism,
	}
	for key, dst := range ints {
		v, ok := get(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := get("ICM_BREAKER_FAILURES"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("env ICM_BREAKER_FAILURES: %w", err)
		}
		cfg.BreakerFailures = uint32(n)
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.SourceTimeout <= 0 {
		errs = append(errs, errors.New("source timeout must be positive"))
	}
	if c.SourceMaxRetries < 0 {
		errs = append(errs, errors.New("source max retries must not be negative"))
	}
	if c.Parallelism < 0 {
		errs = append(errs, errors.New("parallelism must not be negative"))
	}
	if c.LogTTL < 0 {
		errs = append(errs, errors.New("log TTL must not be negative"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
