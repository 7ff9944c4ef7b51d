package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8000" {
		t.Errorf("expected port 8000, got %s", cfg.Server.Port)
	}
	if cfg.Queue.StuckAfter != 300*time.Second {
		t.Errorf("expected stuck_after 300s, got %v", cfg.Queue.StuckAfter)
	}
	if cfg.Queue.ReviewTimeout != 15*time.Minute {
		t.Errorf("expected review_timeout 15m, got %v", cfg.Queue.ReviewTimeout)
	}
	if cfg.Directory.HeartbeatInterval != 30*time.Second || cfg.Directory.StaleAfter != 90*time.Second {
		t.Errorf("unexpected directory timings: %+v", cfg.Directory)
	}
	if cfg.Reviewer.BaseReward != 3 {
		t.Errorf("expected base reward 3, got %d", cfg.Reviewer.BaseReward)
	}
	if cfg.Scheduler.StaticFallback {
		t.Error("static fallback must be off by default")
	}
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	yamlDoc := `
server:
  port: "9090"
postgres:
  max_conns: 20
queue:
  wake_mode: poll
  poll_interval: 250ms
scheduler:
  static_fallback: true
  static_registry:
    Fetch_Paper: ["fetcher-1", "fetcher-2"]
swarm:
  workers:
    - class: fetcher
      id: fetcher-1
      config:
        user_agent: test/1.0
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		t.Fatal(err)
	}

	switch {
	case cfg.Server.Port != "9090", cfg.Postgres.MaxConns != 20:
		t.Errorf("server/postgres not applied: %+v %+v", cfg.Server, cfg.Postgres)
	case cfg.Queue.WakeMode != "poll", cfg.Queue.PollInterval != 250*time.Millisecond:
		t.Errorf("queue not applied: %+v", cfg.Queue)
	case !cfg.Scheduler.StaticFallback, len(cfg.Scheduler.StaticRegistry["Fetch_Paper"]) != 2:
		t.Errorf("scheduler not applied: %+v", cfg.Scheduler)
	case len(cfg.Swarm.Workers) != 1, cfg.Swarm.Workers[0].Config["user_agent"] != "test/1.0":
		t.Errorf("swarm workers not applied: %+v", cfg.Swarm.Workers)
	case cfg.Directory.StaleAfter != 90*time.Second:
		t.Errorf("absent key should keep its default, got %v", cfg.Directory.StaleAfter)
	}
}

func TestLoadYAMLFileErrors(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("server: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"missing file is fine", filepath.Join(dir, "absent.yaml"), false},
		{"unparseable file", broken, true},
		{"directory instead of file", dir, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			if err := loadYAML(&cfg, tt.path); (err != nil) != tt.wantErr {
				t.Fatalf("loadYAML(%s) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverride(t *testing.T) {
	tests := []struct {
		key, value string
		got        func(*Config) any
		want       any
	}{
		{"SWEEPJUDGE_PORT", "7070", func(c *Config) any { return c.Server.Port }, "7070"},
		{"DATABASE_URL", "postgres://test:test@db:5432/test", func(c *Config) any { return c.Postgres.DSN }, "postgres://test:test@db:5432/test"},
		{"SWEEPJUDGE_PG_MAX_CONNS", "25", func(c *Config) any { return c.Postgres.MaxConns }, int32(25)},
		{"SWEEPJUDGE_LOG_LEVEL", "warn", func(c *Config) any { return c.Logging.Level }, "warn"},
		{"SWEEPJUDGE_LOG_FORMAT", "text", func(c *Config) any { return c.Logging.Format }, "text"},
		{"SWEEPJUDGE_LOG_ASYNC", "true", func(c *Config) any { return c.Logging.Async }, true},
		{"SWEEPJUDGE_BREAKER_TIMEOUT", "1m", func(c *Config) any { return c.Breaker.Timeout }, time.Minute},
		{"SWEEPJUDGE_WAKE_MODE", "poll", func(c *Config) any { return c.Queue.WakeMode }, "poll"},
		{"SWEEPJUDGE_STATIC_FALLBACK", "true", func(c *Config) any { return c.Scheduler.StaticFallback }, true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := Defaults()
			t.Setenv(tt.key, tt.value)
			loadEnv(&cfg)
			if got := tt.got(&cfg); got != tt.want {
				t.Errorf("%s=%s gave %v (%T), want %v (%T)", tt.key, tt.value, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestLegacySecondKeys(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TASK_RETRY_SEC", "15")
	t.Setenv("TASK_STUCK_SEC", "120")
	t.Setenv("AGENT_HEARTBEAT_SEC", "5")
	t.Setenv("AGENT_STALE_SEC", "20")

	loadEnv(&cfg)

	if cfg.Queue.ReclaimInterval != 15*time.Second {
		t.Errorf("expected reclaim interval 15s, got %v", cfg.Queue.ReclaimInterval)
	}
	if cfg.Queue.StuckAfter != 2*time.Minute {
		t.Errorf("expected stuck_after 2m, got %v", cfg.Queue.StuckAfter)
	}
	if cfg.Directory.HeartbeatInterval != 5*time.Second || cfg.Directory.StaleAfter != 20*time.Second {
		t.Errorf("unexpected directory timings: %+v", cfg.Directory)
	}
}

func TestDurationKeyWinsOverLegacyKey(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TASK_STUCK_SEC", "120")
	t.Setenv("SWEEPJUDGE_STUCK_AFTER", "10m")

	loadEnv(&cfg)

	if cfg.Queue.StuckAfter != 10*time.Minute {
		t.Errorf("expected 10m, got %v", cfg.Queue.StuckAfter)
	}
}

func TestEnvIgnoresMalformed(t *testing.T) {
	cfg := Defaults()

	t.Setenv("SWEEPJUDGE_PG_MAX_CONNS", "lots")
	t.Setenv("SWEEPJUDGE_POLL_INTERVAL", "soon")
	t.Setenv("AGENT_STALE_SEC", "-4")

	loadEnv(&cfg)

	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("malformed int should be ignored, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Queue.PollInterval != 500*time.Millisecond {
		t.Errorf("malformed duration should be ignored, got %v", cfg.Queue.PollInterval)
	}
	if cfg.Directory.StaleAfter != 90*time.Second {
		t.Errorf("non-positive seconds should be ignored, got %v", cfg.Directory.StaleAfter)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "rate limit without burst",
			modify: func(c *Config) { c.Server.RateLimitBurst = 0 },
			errMsg: "server.rate_limit_burst must be >= 1",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "zero max_conns",
			modify: func(c *Config) { c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "bad log format",
			modify: func(c *Config) { c.Logging.Format = "logfmt" },
			errMsg: "logging.format must be json or text",
		},
		{
			name:   "bad wake mode",
			modify: func(c *Config) { c.Queue.WakeMode = "pubsub" },
			errMsg: "queue.wake_mode must be notify or poll",
		},
		{
			name:   "heartbeat not below stale window",
			modify: func(c *Config) { c.Directory.HeartbeatInterval = 90 * time.Second },
			errMsg: "must be smaller than directory.stale_after",
		},
		{
			name:   "negative base reward",
			modify: func(c *Config) { c.Reviewer.BaseReward = -1 },
			errMsg: "reviewer.base_reward must be >= 0",
		},
		{
			name: "worker without id",
			modify: func(c *Config) {
				c.Swarm.Workers = []WorkerSpec{{ClassTag: "fetcher"}}
			},
			errMsg: "swarm.workers[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, f CLIFlags)
	}{
		{
			name: "long flags",
			args: []string{"--port", "9090", "--log-level", "debug", "--wake-mode", "poll"},
			check: func(t *testing.T, f CLIFlags) {
				if f.Port == nil || *f.Port != "9090" || f.LogLevel == nil || *f.LogLevel != "debug" || f.WakeMode == nil || *f.WakeMode != "poll" {
					t.Errorf("long flags not captured: %+v", f)
				}
				if f.DSN != nil || f.ConfigPath != nil {
					t.Error("flags not given must stay nil")
				}
			},
		},
		{
			name: "shorthand",
			args: []string{"-p", "7070", "-c", "custom.yaml"},
			check: func(t *testing.T, f CLIFlags) {
				if f.Port == nil || *f.Port != "7070" || f.ConfigPath == nil || *f.ConfigPath != "custom.yaml" {
					t.Errorf("shorthand not captured: %+v", f)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFlags(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, f)
		})
	}

	if _, err := ParseFlags([]string{"--unknown-flag"}); err == nil {
		t.Error("unknown flag should fail")
	}
}

func TestApplyCLIWithoutFlags(t *testing.T) {
	cfg := Defaults()
	before := cfg.Server.Port + "/" + cfg.Queue.WakeMode + "/" + cfg.Logging.Level

	applyCLI(&cfg, CLIFlags{})

	if after := cfg.Server.Port + "/" + cfg.Queue.WakeMode + "/" + cfg.Logging.Level; after != before {
		t.Errorf("empty flags changed config: %s -> %s", before, after)
	}
}
