package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Full load pipeline: defaults < YAML < ENV < CLI.

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sweepjudge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const layeredYAML = `
server:
  port: "9090"
logging:
  level: debug
  format: text
queue:
  stuck_after: 4m
reviewer:
  base_reward: 5
`

func TestPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		args  []string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "yaml over defaults",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != "9090" || cfg.Reviewer.BaseReward != 5 || cfg.Logging.Format != "text" {
					t.Errorf("yaml not applied: port %s reward %d format %s", cfg.Server.Port, cfg.Reviewer.BaseReward, cfg.Logging.Format)
				}
				if cfg.Directory.StaleAfter != 90*time.Second {
					t.Errorf("unset key lost its default: %v", cfg.Directory.StaleAfter)
				}
			},
		},
		{
			name: "env over yaml",
			env: map[string]string{
				"SWEEPJUDGE_PORT":        "7070",
				"SWEEPJUDGE_LOG_LEVEL":   "warn",
				"SWEEPJUDGE_STUCK_AFTER": "90s",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != "7070" || cfg.Logging.Level != "warn" || cfg.Queue.StuckAfter != 90*time.Second {
					t.Errorf("env not applied: %s %s %v", cfg.Server.Port, cfg.Logging.Level, cfg.Queue.StuckAfter)
				}
				if cfg.Logging.Format != "text" {
					t.Errorf("yaml key without env override changed: %s", cfg.Logging.Format)
				}
			},
		},
		{
			name: "cli over env",
			env:  map[string]string{"SWEEPJUDGE_PORT": "7070", "SWEEPJUDGE_LOG_LEVEL": "warn"},
			args: []string{"--port", "3333", "--log-level", "error"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != "3333" || cfg.Logging.Level != "error" {
					t.Errorf("cli not applied: %s %s", cfg.Server.Port, cfg.Logging.Level)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, layeredYAML)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			flags, err := ParseFlags(append([]string{"--config", path}, tt.args...))
			if err != nil {
				t.Fatal(err)
			}
			cfg, resolved, err := LoadWithCLI(flags)
			if err != nil {
				t.Fatalf("LoadWithCLI: %v", err)
			}
			if resolved != path {
				t.Errorf("resolved path %s, want %s", resolved, path)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, yaml, want string
	}{
		{"heartbeat beyond stale window", "directory:\n  heartbeat_interval: 2m\n  stale_after: 1m\n", "directory.stale_after"},
		{"unknown log format", "logging:\n  format: xml\n", "logging.format"},
		{"unknown wake mode", "queue:\n  wake_mode: listen\n", "queue.wake_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error naming %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadFindsConfigFromEnv(t *testing.T) {
	t.Setenv("SWEEPJUDGE_CONFIG", writeConfig(t, "server:\n  port: \"6060\"\n"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected port 6060 from SWEEPJUDGE_CONFIG, got %s", cfg.Server.Port)
	}
}
