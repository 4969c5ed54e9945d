package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "SSMON_"

// Load builds a Config from defaults, an optional YAML file and SSMON_* environment
// variables, in increasing order of precedence. Values from a .env file in the
// working directory are visible as environment variables; a missing file is fine.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := EnvString(EnvPrefix + "BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok, err := EnvInt(EnvPrefix + "PAGES"); err != nil {
		return fmt.Errorf("invalid %sPAGES: %w", EnvPrefix, err)
	} else if ok {
		c.MaxPages = v
	}
	if v, ok, err := EnvInt(EnvPrefix + "PARALLEL"); err != nil {
		return fmt.Errorf("invalid %sPARALLEL: %w", EnvPrefix, err)
	} else if ok {
		c.Parallelism = v
	}
	if v, ok, err := EnvDuration(EnvPrefix + "TICK"); err != nil {
		return fmt.Errorf("invalid %sTICK: %w", EnvPrefix, err)
	} else if ok {
		c.TickInterval = v
	}
	if v, ok, err := EnvDuration(EnvPrefix + "LISTING_TTL"); err != nil {
		return fmt.Errorf("invalid %sLISTING_TTL: %w", EnvPrefix, err)
	} else if ok {
		c.ListingTTL = v
	}
	if v, ok, err := EnvDuration(EnvPrefix + "COOLDOWN"); err != nil {
		return fmt.Errorf("invalid %sCOOLDOWN: %w", EnvPrefix, err)
	} else if ok {
		c.NotificationCooldown = v
	}
	if v, ok := EnvString(EnvPrefix + "STORE"); ok {
		c.Store = strings.ToLower(v)
	}
	if v, ok := EnvString(EnvPrefix + "DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := EnvString(EnvPrefix + "NOTIFIERS"); ok {
		c.Notifiers = SplitList(v)
	}
	if v, ok := EnvString(EnvPrefix + "TELEGRAM_TOKEN"); ok {
		c.TelegramToken = v
	}
	if v, ok := EnvString(EnvPrefix + "AUDIT_FILE"); ok {
		c.AuditFile = v
	}
	if v, ok := EnvString(EnvPrefix + "METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// EnvDuration parses key as a Go duration such as "90s" or "4h".
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}

// SplitList splits a comma-separated list, dropping blanks and lowercasing entries.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
