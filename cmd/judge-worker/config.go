package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"klausjudge/internal/common/cache"
	"klausjudge/internal/common/db"
	"klausjudge/internal/common/mq"
	"klausjudge/internal/common/storage"
	"klausjudge/internal/judge/queue"
	"klausjudge/internal/judge/sandbox/engine"
	"klausjudge/internal/judge/sandbox/profile"
	"klausjudge/internal/judge/sandbox/runner"
	"klausjudge/internal/judge/service"
	"klausjudge/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	defaultServerAddr      = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultEventsTopic     = "judge.verdict"
	defaultArchivePrefix   = "results"
	defaultProgressTTL     = 30 * time.Minute
	redacted               = "xxxxx"
)

// WorkerConfig holds claim loop settings.
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency" toml:"concurrency"`
	PollIntervalMs    int64         `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	ErrorBackoffMs    int64         `yaml:"error_backoff_ms" toml:"error_backoff_ms"`
	PopTimeoutSeconds int64         `yaml:"pop_timeout_seconds" toml:"pop_timeout_seconds"`
	Reclaim           ReclaimConfig `yaml:"reclaim" toml:"reclaim"`
}

// ReclaimConfig controls in-flight lease tracking and re-queueing.
type ReclaimConfig struct {
	Enabled           bool  `yaml:"enabled" toml:"enabled"`
	IntervalSeconds   int64 `yaml:"interval_seconds" toml:"interval_seconds"`
	StaleAfterSeconds int64 `yaml:"stale_after_seconds" toml:"stale_after_seconds"`
}

// ExecutionConfig holds sandbox settings.
type ExecutionConfig struct {
	WorkDir                 string                      `yaml:"work_dir" toml:"work_dir"`
	DefaultTimeLimitSeconds float64                     `yaml:"default_time_limit_seconds" toml:"default_time_limit_seconds"`
	DefaultMemoryLimitMB    int64                       `yaml:"default_memory_limit_mb" toml:"default_memory_limit_mb"`
	MaxOutputSizeKB         int64                       `yaml:"max_output_size_kb" toml:"max_output_size_kb"`
	CleanupOnSuccess        *bool                       `yaml:"cleanup_on_success" toml:"cleanup_on_success"`
	CleanupFailed           *bool                       `yaml:"cleanup_failed" toml:"cleanup_failed"`
	DockerBinary            string                      `yaml:"docker_binary" toml:"docker_binary"`
	Languages               map[string]profile.Override `yaml:"languages" toml:"languages"`
}

// JudgeConfig holds orchestrator options.
type JudgeConfig struct {
	RecordTestResults  bool  `yaml:"record_test_results" toml:"record_test_results"`
	ProgressTTLSeconds int64 `yaml:"progress_ttl_seconds" toml:"progress_ttl_seconds"`
}

// EventsConfig selects the verdict event producer. An empty driver disables events.
type EventsConfig struct {
	Driver string         `yaml:"driver" toml:"driver"`
	Topic  string         `yaml:"topic" toml:"topic"`
	Kafka  mq.KafkaConfig `yaml:"kafka" toml:"kafka"`
	NATS   mq.NATSConfig  `yaml:"nats" toml:"nats"`
}

// ArchiveConfig controls result archiving to object storage.
type ArchiveConfig struct {
	Enabled bool                `yaml:"enabled" toml:"enabled"`
	Bucket  string              `yaml:"bucket" toml:"bucket"`
	Prefix  string              `yaml:"prefix" toml:"prefix"`
	MinIO   storage.MinIOConfig `yaml:"minio" toml:"minio"`
}

// ServerConfig holds status server settings. An empty addr disables the server.
type ServerConfig struct {
	Addr    string `yaml:"addr" toml:"addr"`
	Disable bool   `yaml:"disable" toml:"disable"`
}

// AppConfig holds judge-worker config.
type AppConfig struct {
	Database  db.PostgreSQLConfig `yaml:"database" toml:"database"`
	Redis     cache.RedisConfig   `yaml:"redis" toml:"redis"`
	Worker    WorkerConfig        `yaml:"worker" toml:"worker"`
	Execution ExecutionConfig     `yaml:"execution" toml:"execution"`
	Judge     JudgeConfig         `yaml:"judge" toml:"judge"`
	Events    EventsConfig        `yaml:"events" toml:"events"`
	Archive   ArchiveConfig       `yaml:"archive" toml:"archive"`
	Server    ServerConfig        `yaml:"server" toml:"server"`
	Logging   logger.Config       `yaml:"logging" toml:"logging"`
}

// loadAppConfig reads the optional file at path, then .env and the
// environment, then fills defaults and validates.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, out *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("read config file failed: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, out)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, out)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// envBinding maps one environment variable onto a config field.
type envBinding struct {
	name string
	set  func(cfg *AppConfig, raw string) error
}

func envString(dst func(*AppConfig) *string) func(*AppConfig, string) error {
	return func(cfg *AppConfig, raw string) error {
		*dst(cfg) = raw
		return nil
	}
}

func envInt(dst func(*AppConfig) *int64) func(*AppConfig, string) error {
	return func(cfg *AppConfig, raw string) error {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		*dst(cfg) = v
		return nil
	}
}

func envBool(dst func(*AppConfig) *bool) func(*AppConfig, string) error {
	return func(cfg *AppConfig, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*dst(cfg) = v
		return nil
	}
}

func envBoolPtr(dst func(*AppConfig) **bool) func(*AppConfig, string) error {
	return func(cfg *AppConfig, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*dst(cfg) = &v
		return nil
	}
}

// Variable names are the config path joined with "_", upper-cased.
var envBindings = []envBinding{
	{"DATABASE_URL", envString(func(c *AppConfig) *string { return &c.Database.URL })},
	{"DATABASE_MAX_CONNECTIONS", func(c *AppConfig, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		c.Database.MaxConnections = v
		return nil
	}},
	{"REDIS_URL", envString(func(c *AppConfig) *string { return &c.Redis.URL })},
	{"REDIS_QUEUE_NAME", envString(func(c *AppConfig) *string { return &c.Redis.QueueName })},
	{"WORKER_CONCURRENCY", func(c *AppConfig, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		c.Worker.Concurrency = v
		return nil
	}},
	{"WORKER_POLL_INTERVAL_MS", envInt(func(c *AppConfig) *int64 { return &c.Worker.PollIntervalMs })},
	{"WORKER_ERROR_BACKOFF_MS", envInt(func(c *AppConfig) *int64 { return &c.Worker.ErrorBackoffMs })},
	{"WORKER_RECLAIM_ENABLED", envBool(func(c *AppConfig) *bool { return &c.Worker.Reclaim.Enabled })},
	{"EXECUTION_WORK_DIR", envString(func(c *AppConfig) *string { return &c.Execution.WorkDir })},
	{"EXECUTION_DEFAULT_TIME_LIMIT_SECONDS", func(c *AppConfig, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		c.Execution.DefaultTimeLimitSeconds = v
		return nil
	}},
	{"EXECUTION_DEFAULT_MEMORY_LIMIT_MB", envInt(func(c *AppConfig) *int64 { return &c.Execution.DefaultMemoryLimitMB })},
	{"EXECUTION_MAX_OUTPUT_SIZE_KB", envInt(func(c *AppConfig) *int64 { return &c.Execution.MaxOutputSizeKB })},
	{"EXECUTION_CLEANUP_ON_SUCCESS", envBoolPtr(func(c *AppConfig) **bool { return &c.Execution.CleanupOnSuccess })},
	{"EXECUTION_CLEANUP_FAILED", envBoolPtr(func(c *AppConfig) **bool { return &c.Execution.CleanupFailed })},
	{"EXECUTION_DOCKER_BINARY", envString(func(c *AppConfig) *string { return &c.Execution.DockerBinary })},
	{"JUDGE_RECORD_TEST_RESULTS", envBool(func(c *AppConfig) *bool { return &c.Judge.RecordTestResults })},
	{"EVENTS_DRIVER", envString(func(c *AppConfig) *string { return &c.Events.Driver })},
	{"EVENTS_TOPIC", envString(func(c *AppConfig) *string { return &c.Events.Topic })},
	{"EVENTS_NATS_URL", envString(func(c *AppConfig) *string { return &c.Events.NATS.URL })},
	{"EVENTS_KAFKA_BROKERS", func(c *AppConfig, raw string) error {
		c.Events.Kafka.Brokers = splitList(raw)
		return nil
	}},
	{"ARCHIVE_ENABLED", envBool(func(c *AppConfig) *bool { return &c.Archive.Enabled })},
	{"ARCHIVE_BUCKET", envString(func(c *AppConfig) *string { return &c.Archive.Bucket })},
	{"ARCHIVE_MINIO_ENDPOINT", envString(func(c *AppConfig) *string { return &c.Archive.MinIO.Endpoint })},
	{"ARCHIVE_MINIO_ACCESS_KEY", envString(func(c *AppConfig) *string { return &c.Archive.MinIO.AccessKey })},
	{"ARCHIVE_MINIO_SECRET_KEY", envString(func(c *AppConfig) *string { return &c.Archive.MinIO.SecretKey })},
	{"SERVER_ADDR", envString(func(c *AppConfig) *string { return &c.Server.Addr })},
	{"LOGGING_LEVEL", envString(func(c *AppConfig) *string { return &c.Logging.Level })},
	{"LOGGING_JSON_FORMAT", envBool(func(c *AppConfig) *bool { return &c.Logging.JSONFormat })},
	{"LOGGING_FILE_PATH", envString(func(c *AppConfig) *string { return &c.Logging.FilePath })},
}

func applyEnv(cfg *AppConfig, lookup lookupFunc) error {
	for _, b := range envBindings {
		raw, ok := lookup(b.name)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if err := b.set(cfg, raw); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", b.name, raw, err)
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyDefaults(cfg *AppConfig) {
	dbDefaults := db.DefaultPostgreSQLConfig()
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = dbDefaults.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = dbDefaults.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = dbDefaults.ConnMaxIdleTime
	}
	applyRedisDefaults(&cfg.Redis)

	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.PollIntervalMs == 0 {
		cfg.Worker.PollIntervalMs = 1000
	}
	if cfg.Worker.ErrorBackoffMs == 0 {
		cfg.Worker.ErrorBackoffMs = 5000
	}
	if cfg.Worker.PopTimeoutSeconds == 0 {
		cfg.Worker.PopTimeoutSeconds = 5
	}
	if cfg.Worker.Reclaim.IntervalSeconds == 0 {
		cfg.Worker.Reclaim.IntervalSeconds = 30
	}
	if cfg.Worker.Reclaim.StaleAfterSeconds == 0 {
		cfg.Worker.Reclaim.StaleAfterSeconds = 600
	}

	if cfg.Execution.WorkDir == "" {
		cfg.Execution.WorkDir = "/tmp/judge"
	}
	if cfg.Execution.DefaultTimeLimitSeconds == 0 {
		cfg.Execution.DefaultTimeLimitSeconds = 5
	}
	if cfg.Execution.DefaultMemoryLimitMB == 0 {
		cfg.Execution.DefaultMemoryLimitMB = 256
	}
	if cfg.Execution.MaxOutputSizeKB == 0 {
		cfg.Execution.MaxOutputSizeKB = 1024
	}
	if cfg.Execution.CleanupOnSuccess == nil {
		cfg.Execution.CleanupOnSuccess = boolPtr(true)
	}
	if cfg.Execution.CleanupFailed == nil {
		cfg.Execution.CleanupFailed = boolPtr(true)
	}
	if cfg.Execution.DockerBinary == "" {
		cfg.Execution.DockerBinary = "docker"
	}

	if cfg.Judge.ProgressTTLSeconds == 0 {
		cfg.Judge.ProgressTTLSeconds = int64(defaultProgressTTL / time.Second)
	}
	cfg.Events.Driver = strings.ToLower(strings.TrimSpace(cfg.Events.Driver))
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaultEventsTopic
	}
	if cfg.Events.Kafka.ClientID == "" {
		cfg.Events.Kafka.ClientID = "judge-worker"
	}
	if cfg.Events.NATS.Name == "" {
		cfg.Events.NATS.Name = "judge-worker"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = defaultArchivePrefix
	}
	if cfg.Server.Addr == "" && !cfg.Server.Disable {
		cfg.Server.Addr = defaultServerAddr
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	if cfg.QueueName == "" {
		cfg.QueueName = defaults.QueueName
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}

// requireDatabase is checked only by commands that judge.
func (c *AppConfig) requireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required (database.url or DATABASE_URL)")
	}
	return nil
}

func (c *AppConfig) validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}
	if c.Execution.DefaultTimeLimitSeconds <= 0 {
		return fmt.Errorf("time limit must be positive")
	}
	if c.Execution.DefaultMemoryLimitMB <= 0 {
		return fmt.Errorf("memory limit must be positive")
	}
	if c.Worker.ErrorBackoffMs <= c.Worker.PollIntervalMs {
		return fmt.Errorf("worker error_backoff_ms must exceed poll_interval_ms")
	}
	// BRPOP timeout has whole-second resolution.
	if c.Worker.PopTimeoutSeconds < 1 {
		return fmt.Errorf("worker pop_timeout_seconds must be at least 1")
	}
	// Leases are refreshed between tests, so one test must fit inside the stale window.
	if c.Worker.Reclaim.Enabled {
		longestTestMs := profile.CompileLimits.WallTimeMs + c.defaultTimeLimitMs()
		if c.Worker.Reclaim.StaleAfterSeconds*1000 <= longestTestMs {
			return fmt.Errorf("worker.reclaim.stale_after_seconds must exceed %dms (compile ceiling plus default time limit)", longestTestMs)
		}
	}
	switch c.Events.Driver {
	case "":
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers is required for the kafka driver")
		}
	case "nats":
		if c.Events.NATS.URL == "" {
			return fmt.Errorf("events.nats.url is required for the nats driver")
		}
	default:
		return fmt.Errorf("unsupported events driver %q", c.Events.Driver)
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archiving is enabled")
		}
		if err := c.Archive.MinIO.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }

func (c *AppConfig) defaultTimeLimitMs() int64 {
	return int64(c.Execution.DefaultTimeLimitSeconds * 1000)
}

func (c *AppConfig) loopConfig(workerID string) service.LoopConfig {
	return service.LoopConfig{
		WorkerID:     workerID,
		PollInterval: time.Duration(c.Worker.PollIntervalMs) * time.Millisecond,
		ErrorBackoff: time.Duration(c.Worker.ErrorBackoffMs) * time.Millisecond,
		PopTimeout:   time.Duration(c.Worker.PopTimeoutSeconds) * time.Second,
	}
}

func (c *AppConfig) reclaimConfig() queue.ReclaimConfig {
	return queue.ReclaimConfig{
		Enabled:    c.Worker.Reclaim.Enabled,
		Interval:   time.Duration(c.Worker.Reclaim.IntervalSeconds) * time.Second,
		StaleAfter: time.Duration(c.Worker.Reclaim.StaleAfterSeconds) * time.Second,
	}
}

func (c *AppConfig) engineConfig() engine.Config {
	return engine.Config{
		Binary:         c.Execution.DockerBinary,
		MaxOutputBytes: c.Execution.MaxOutputSizeKB * 1024,
	}
}

func (c *AppConfig) runnerConfig() runner.Config {
	return runner.Config{
		WorkDir:          c.Execution.WorkDir,
		CleanupOnSuccess: *c.Execution.CleanupOnSuccess,
		CleanupFailed:    *c.Execution.CleanupFailed,
	}
}

// effectiveYAML renders the merged config with credentials masked.
func effectiveYAML(cfg AppConfig) ([]byte, error) {
	cfg.Database.URL = redactURL(cfg.Database.URL)
	cfg.Redis.URL = redactURL(cfg.Redis.URL)
	if cfg.Archive.MinIO.SecretKey != "" {
		cfg.Archive.MinIO.SecretKey = redacted
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml failed: %w", err)
	}
	return data, nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
