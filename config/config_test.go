package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "negative parallelism",
			mutate: func(cfg *Config) {
				cfg.Parallelism = -1
			},
			wantErr: "parallelism",
		},
		{
			name: "seed without url",
			mutate: func(cfg *Config) {
				cfg.Subscriptions = []SeedSubscription{{Subscriber: "42"}}
			},
			wantErr: "url cannot be empty",
		},
		{
			name: "zero max pages",
			mutate: func(cfg *Config) {
				cfg.MaxPages = 0
			},
			wantErr: "max pages",
		},
		{
			name: "empty base url",
			mutate: func(cfg *Config) {
				cfg.BaseURL = ""
			},
			wantErr: "base URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "http://"
			},
			wantErr: "base URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
			},
			wantErr: "retry backoff",
		},
		{
			name: "zero tick",
			mutate: func(cfg *Config) {
				cfg.TickInterval = 0
			},
			wantErr: "tick interval",
		},
		{
			name: "postgres without dsn",
			mutate: func(cfg *Config) {
				cfg.Store = "postgres"
			},
			wantErr: "database URL",
		},
		{
			name: "unknown store",
			mutate: func(cfg *Config) {
				cfg.Store = "redis"
			},
			wantErr: "store",
		},
		{
			name: "telegram without token",
			mutate: func(cfg *Config) {
				cfg.Notifiers = []string{"log", "telegram"}
			},
			wantErr: "bot token",
		},
		{
			name: "unknown notifier",
			mutate: func(cfg *Config) {
				cfg.Notifiers = []string{"email"}
			},
			wantErr: "unsupported notifier",
		},
		{
			name: "no notifiers",
			mutate: func(cfg *Config) {
				cfg.Notifiers = nil
			},
			wantErr: "notifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.MaxPages != 3 || cfg.NotificationCooldown != 5*time.Minute {
		t.Fatalf("unexpected defaults: pages=%d cooldown=%s", cfg.MaxPages, cfg.NotificationCooldown)
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "ssmonitor.yaml")
	yamlBody := "max_pages: 5\ntick_interval: 2m\nstore: memory\nnotifiers: [log, jsonl]\naudit_file: audit.jsonl\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvPrefix+"PAGES", "7")
	t.Setenv(EnvPrefix+"COOLDOWN", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxPages != 7 {
		t.Fatalf("max pages = %d, want env override 7", cfg.MaxPages)
	}
	if cfg.TickInterval != 2*time.Minute {
		t.Fatalf("tick = %s, want 2m from file", cfg.TickInterval)
	}
	if cfg.NotificationCooldown != 90*time.Second {
		t.Fatalf("cooldown = %s, want 90s", cfg.NotificationCooldown)
	}
	if !reflect.DeepEqual(cfg.Notifiers, []string{"log", "jsonl"}) {
		t.Fatalf("notifiers = %v", cfg.Notifiers)
	}
	if cfg.ListingTTL != 72*time.Hour {
		t.Fatalf("ttl default lost: %s", cfg.ListingTTL)
	}
}

func TestLoadSeedSubscriptions(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "ssmonitor.yaml")
	yamlBody := `subscriptions:
  - subscriber: "42"
    url: https://www.ss.lv/lv/real-estate/flats/riga/
    frequency: 4h
    max_price: 120000
    min_rooms: 2
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(cfg.Subscriptions) != 1 {
		t.Fatalf("subscriptions = %+v", cfg.Subscriptions)
	}
	seed := cfg.Subscriptions[0]
	if seed.Subscriber != "42" || seed.Frequency != "4h" || seed.MaxPrice == nil || *seed.MaxPrice != 120000 {
		t.Fatalf("seed = %+v", seed)
	}
	if seed.MinRooms == nil || *seed.MinRooms != 2 || seed.MinPrice != nil {
		t.Fatalf("seed bounds = %+v", seed)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SSMON_METRICS_ADDR=:9191\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv(EnvPrefix+"METRICS_ADDR", "")
	os.Unsetenv(EnvPrefix + "METRICS_ADDR")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MetricsAddr != ":9191" {
		t.Fatalf("metrics addr = %q, want :9191", cfg.MetricsAddr)
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvPrefix+"TICK", "soon")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "TICK") {
		t.Fatalf("expected TICK error, got %v", err)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" Log, ,telegram ,")
	if !reflect.DeepEqual(got, []string{"log", "telegram"}) {
		t.Fatalf("SplitList = %v", got)
	}
}
