package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "sweepjudge.yaml"

// Load layers defaults, the YAML file and the environment, in that order.
// SWEEPJUDGE_CONFIG overrides the YAML path. A missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("SWEEPJUDGE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit YAML path.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	loadEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// loadYAML decodes path over cfg; keys absent from the file keep their
// current values.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv applies every set environment variable. For the queue and
// directory timings the legacy *_SEC keys are read first so the duration
// keys win when both are set.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SWEEPJUDGE_PORT")
	setString(&cfg.Server.CORSOrigin, "SWEEPJUDGE_CORS_ORIGIN")
	setString(&cfg.Server.APIKey, "SWEEPJUDGE_API_KEY")
	setString(&cfg.Server.BaseURL, "SWEEPJUDGE_BASE_URL")
	setFloat64(&cfg.Server.RateLimitRPS, "SWEEPJUDGE_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "SWEEPJUDGE_RATE_LIMIT_BURST")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SWEEPJUDGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SWEEPJUDGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SWEEPJUDGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SWEEPJUDGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SWEEPJUDGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "SWEEPJUDGE_LLM_MODEL")
	setDuration(&cfg.LiteLLM.Timeout, "SWEEPJUDGE_LLM_TIMEOUT")

	setString(&cfg.Logging.Level, "SWEEPJUDGE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "SWEEPJUDGE_LOG_FORMAT")
	setString(&cfg.Logging.Service, "SWEEPJUDGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SWEEPJUDGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "SWEEPJUDGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SWEEPJUDGE_BREAKER_TIMEOUT")

	// Queue. TASK_RETRY_SEC / TASK_STUCK_SEC are the legacy integer-second keys.
	setString(&cfg.Queue.WakeMode, "SWEEPJUDGE_WAKE_MODE")
	setDuration(&cfg.Queue.PollInterval, "SWEEPJUDGE_POLL_INTERVAL")
	setSeconds(&cfg.Queue.ReclaimInterval, "TASK_RETRY_SEC")
	setDuration(&cfg.Queue.ReclaimInterval, "SWEEPJUDGE_RECLAIM_INTERVAL")
	setSeconds(&cfg.Queue.StuckAfter, "TASK_STUCK_SEC")
	setDuration(&cfg.Queue.StuckAfter, "SWEEPJUDGE_STUCK_AFTER")
	setDuration(&cfg.Queue.ReviewTimeout, "SWEEPJUDGE_REVIEW_TIMEOUT")

	// Directory
	setSeconds(&cfg.Directory.HeartbeatInterval, "AGENT_HEARTBEAT_SEC")
	setDuration(&cfg.Directory.HeartbeatInterval, "SWEEPJUDGE_HEARTBEAT_INTERVAL")
	setSeconds(&cfg.Directory.StaleAfter, "AGENT_STALE_SEC")
	setDuration(&cfg.Directory.StaleAfter, "SWEEPJUDGE_STALE_AFTER")

	// Scheduler
	setDuration(&cfg.Scheduler.PopTimeout, "SWEEPJUDGE_POP_TIMEOUT")
	setDuration(&cfg.Scheduler.RetryDelay, "SWEEPJUDGE_RETRY_DELAY")
	setBool(&cfg.Scheduler.StaticFallback, "SWEEPJUDGE_STATIC_FALLBACK")

	// Harness / reviewer
	setInt(&cfg.Harness.FailurePenalty, "SWEEPJUDGE_FAILURE_PENALTY")
	setInt(&cfg.Reviewer.BaseReward, "SWEEPJUDGE_REVIEW_BASE_REWARD")
	setFloat64(&cfg.Reviewer.MaxQuality, "SWEEPJUDGE_REVIEW_MAX_QUALITY")
	setDuration(&cfg.Reviewer.SlowAfter, "SWEEPJUDGE_REVIEW_SLOW_AFTER")
	setInt(&cfg.Reviewer.SlowPenalty, "SWEEPJUDGE_REVIEW_SLOW_PENALTY")
	setFloat64(&cfg.Reviewer.StaticQuality, "SWEEPJUDGE_REVIEW_STATIC_QUALITY")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "SWEEPJUDGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "SWEEPJUDGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.ScoreTTL, "SWEEPJUDGE_CACHE_SCORE_TTL")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "SWEEPJUDGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "SWEEPJUDGE_IDEMPOTENCY_TTL")

	// Telemetry
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "SWEEPJUDGE_OTEL_SERVICE")
	setBool(&cfg.OTEL.Insecure, "SWEEPJUDGE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "SWEEPJUDGE_OTEL_SAMPLE_RATE")

	setBool(&cfg.MCP.Enabled, "SWEEPJUDGE_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "SWEEPJUDGE_MCP_API_KEY")

	setString(&cfg.Worker.DownloadDir, "SWEEPJUDGE_DOWNLOAD_DIR")
	setDuration(&cfg.Worker.FetchTimeout, "SWEEPJUDGE_FETCH_TIMEOUT")
	setInt64(&cfg.Worker.MaxFetchBytes, "SWEEPJUDGE_MAX_FETCH_BYTES")
	setInt(&cfg.Worker.MaxParallelFetches, "SWEEPJUDGE_MAX_PARALLEL_FETCHES")

	setBool(&cfg.Swarm.Respawn, "SWEEPJUDGE_RESPAWN")
}

// validate checks that required fields are set and timings are coherent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.RateLimitRPS < 0 || (cfg.Server.RateLimitRPS > 0 && cfg.Server.RateLimitBurst < 1) {
		return errors.New("server.rate_limit_burst must be >= 1 when rate limiting is enabled")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", cfg.Logging.Format)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	switch cfg.Queue.WakeMode {
	case "notify", "poll":
	default:
		return fmt.Errorf("queue.wake_mode must be notify or poll, got %q", cfg.Queue.WakeMode)
	}
	if cfg.Queue.PollInterval <= 0 || cfg.Queue.ReclaimInterval <= 0 || cfg.Queue.StuckAfter <= 0 || cfg.Queue.ReviewTimeout <= 0 {
		return errors.New("queue intervals must be positive")
	}
	if cfg.Directory.HeartbeatInterval <= 0 {
		return errors.New("directory.heartbeat_interval must be positive")
	}
	if cfg.Directory.HeartbeatInterval >= cfg.Directory.StaleAfter {
		return fmt.Errorf("directory.heartbeat_interval (%s) must be smaller than directory.stale_after (%s)",
			cfg.Directory.HeartbeatInterval, cfg.Directory.StaleAfter)
	}
	if cfg.Scheduler.PopTimeout <= 0 || cfg.Scheduler.RetryDelay < 0 {
		return errors.New("scheduler.pop_timeout must be positive and retry_delay non-negative")
	}
	if cfg.Reviewer.BaseReward < 0 {
		return errors.New("reviewer.base_reward must be >= 0")
	}
	if cfg.Reviewer.MaxQuality <= 0 {
		return errors.New("reviewer.max_quality must be positive")
	}
	for i, w := range cfg.Swarm.Workers {
		if w.ClassTag == "" || w.ID == "" {
			return fmt.Errorf("swarm.workers[%d]: class and id are required", i)
		}
	}
	return nil
}

// setEnv overwrites *dst with the parsed value of key when key is set.
// Unparseable values are reported and leave *dst unchanged.
func setEnv[T any](dst *T, key string, parse func(string) (T, error)) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := parse(raw)
	if err != nil {
		slog.Warn("ignoring malformed environment value", "key", key, "value", raw, "error", err)
		return
	}
	*dst = v
}

func setString(dst *string, key string) {
	setEnv(dst, key, func(s string) (string, error) { return s, nil })
}

func setInt(dst *int, key string)                { setEnv(dst, key, strconv.Atoi) }
func setBool(dst *bool, key string)              { setEnv(dst, key, strconv.ParseBool) }
func setDuration(dst *time.Duration, key string) { setEnv(dst, key, time.ParseDuration) }

func setInt32(dst *int32, key string) {
	setEnv(dst, key, func(s string) (int32, error) {
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	})
}

func setInt64(dst *int64, key string) {
	setEnv(dst, key, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

func setFloat64(dst *float64, key string) {
	setEnv(dst, key, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// setSeconds reads a positive whole number of seconds.
func setSeconds(dst *time.Duration, key string) {
	setEnv(dst, key, func(s string) (time.Duration, error) {
		n, err := strconv.Atoi(s)
		if err == nil && n <= 0 {
			err = fmt.Errorf("%d is not a positive number of seconds", n)
		}
		return time.Duration(n) * time.Second, err
	})
}
