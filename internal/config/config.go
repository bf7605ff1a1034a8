// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64

	RSSHubBase          string
	RetentionDays       int
	DefaultInterval     int
	MinInterval         int
	AggressiveMode      bool
	AggressiveInterval  int
	MaxConcurrentChecks int
	FetchTimeout        time.Duration
	SendRate            float64
	OpsListen           string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	cfg := &Config{
		TelegramBotToken: token,
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/relay.db"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		RSSHubBase:       strings.TrimRight(envOrDefault("RSSHUB_BASE", "https://rsshub.app"), "/"),
		OpsListen:        os.Getenv("OPS_LISTEN"),
	}

	var allowedUsers []int64
	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			allowedUsers = append(allowedUsers, uid)
		}
	}
	cfg.AllowedUsers = allowedUsers

	ints := []struct {
		key  string
		def  int
		min  int
		dest *int
	}{
		{"SENT_ITEMS_RETENTION_DAYS", 7, 1, &cfg.RetentionDays},
		{"DEFAULT_CHECK_INTERVAL", 300, 1, &cfg.DefaultInterval},
		{"MIN_CHECK_INTERVAL", 60, 1, &cfg.MinInterval},
		{"AGGRESSIVE_INTERVAL", 10, 1, &cfg.AggressiveInterval},
		{"MAX_CONCURRENT_CHECKS", 10, 1, &cfg.MaxConcurrentChecks},
	}
	for _, it := range ints {
		v, err := intEnv(it.key, it.def)
		if err != nil {
			return nil, err
		}
		if v < it.min {
			return nil, fmt.Errorf("%s must be at least %d", it.key, it.min)
		}
		*it.dest = v
	}

	if cfg.DefaultInterval < cfg.MinInterval {
		return nil, fmt.Errorf("DEFAULT_CHECK_INTERVAL (%d) is below MIN_CHECK_INTERVAL (%d)",
			cfg.DefaultInterval, cfg.MinInterval)
	}

	if raw := os.Getenv("AGGRESSIVE_MODE"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid AGGRESSIVE_MODE %q: %w", raw, err)
		}
		cfg.AggressiveMode = v
	}

	cfg.FetchTimeout = 30 * time.Second
	if raw := os.Getenv("FETCH_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid FETCH_TIMEOUT %q", raw)
		}
		cfg.FetchTimeout = d
	}

	cfg.SendRate = 20
	if raw := os.Getenv("SEND_RATE"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid SEND_RATE %q", raw)
		}
		cfg.SendRate = v
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
