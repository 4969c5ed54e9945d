package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds monitor configuration.
type Config struct {
	BaseURL          string        `yaml:"base_url"`
	MaxPages         int           `yaml:"max_pages"`
	Parallelism      int           `yaml:"parallelism"`
	Delay            time.Duration `yaml:"delay"`
	RandomDelay      time.Duration `yaml:"random_delay"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
	UserAgent        string        `yaml:"user_agent"`
	RespectRobotsTxt bool          `yaml:"respect_robots_txt"`

	TickInterval         time.Duration `yaml:"tick_interval"`
	ListingTTL           time.Duration `yaml:"listing_ttl"`
	NotificationCooldown time.Duration `yaml:"notification_cooldown"`
	CooldownCacheSize    int           `yaml:"cooldown_cache_size"`

	Store       string `yaml:"store"` // memory or postgres
	DatabaseURL string `yaml:"database_url"`

	Notifiers     []string `yaml:"notifiers"` // log, telegram, jsonl, csv
	TelegramToken string   `yaml:"telegram_token"`
	TelegramBot   bool     `yaml:"telegram_bot"`
	AuditFile     string   `yaml:"audit_file"`

	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`

	// Subscriptions are created at startup when missing, so the monitor can run
	// without the chat bot.
	Subscriptions []SeedSubscription `yaml:"subscriptions"`
}

// SeedSubscription is a subscription declared in the config file.
type SeedSubscription struct {
	Subscriber string   `yaml:"subscriber"`
	URL        string   `yaml:"url"`
	Frequency  string   `yaml:"frequency"`
	MinPrice   *float64 `yaml:"min_price"`
	MaxPrice   *float64 `yaml:"max_price"`
	MinArea    *float64 `yaml:"min_area"`
	MaxArea    *float64 `yaml:"max_area"`
	MinRooms   *int     `yaml:"min_rooms"`
	MaxRooms   *int     `yaml:"max_rooms"`
}

// DefaultConfig returns conservative defaults for ss.lv.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://www.ss.lv",
		MaxPages:         3,
		Parallelism:      4,
		Delay:            time.Second,
		RandomDelay:      0,
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		RetryBackoff:     time.Second,
		RetryBackoffMax:  8 * time.Second,
		UserAgent:        "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt: false,

		TickInterval:         5 * time.Minute,
		ListingTTL:           72 * time.Hour,
		NotificationCooldown: 5 * time.Minute,
		CooldownCacheSize:    10000,

		Store: "memory",

		Notifiers: []string{"log"},
		AuditFile: "output/notifications.jsonl",

		Verbose: false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.ListingTTL < 0 {
		return fmt.Errorf("listing ttl cannot be negative")
	}
	if c.NotificationCooldown < 0 {
		return fmt.Errorf("notification cooldown cannot be negative")
	}
	if c.NotificationCooldown > 0 && c.CooldownCacheSize <= 0 {
		return fmt.Errorf("cooldown cache size must be positive when cooldown is enabled")
	}

	switch c.Store {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("store must be memory or postgres")
	}

	if len(c.Notifiers) == 0 {
		return fmt.Errorf("at least one notifier is required")
	}
	for _, n := range c.Notifiers {
		switch strings.TrimSpace(n) {
		case "log":
		case "telegram":
			if c.TelegramToken == "" {
				return fmt.Errorf("telegram notifier requires a bot token")
			}
		case "jsonl", "csv":
			if c.AuditFile == "" {
				return fmt.Errorf("%s notifier requires an audit file", n)
			}
		default:
			return fmt.Errorf("unsupported notifier %q", n)
		}
	}
	if c.TelegramBot && c.TelegramToken == "" {
		return fmt.Errorf("telegram bot requires a bot token")
	}

	for i, seed := range c.Subscriptions {
		if strings.TrimSpace(seed.Subscriber) == "" {
			return fmt.Errorf("subscription %d: subscriber cannot be empty", i)
		}
		if strings.TrimSpace(seed.URL) == "" {
			return fmt.Errorf("subscription %d: url cannot be empty", i)
		}
	}

	return nil
}
