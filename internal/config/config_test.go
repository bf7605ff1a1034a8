package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"TELEGRAM_BOT_TOKEN", "DATABASE_PATH", "LOG_LEVEL", "ALLOWED_USERS",
	"RSSHUB_BASE", "SENT_ITEMS_RETENTION_DAYS", "DEFAULT_CHECK_INTERVAL", "MIN_CHECK_INTERVAL",
	"AGGRESSIVE_MODE", "AGGRESSIVE_INTERVAL", "MAX_CONCURRENT_CHECKS", "FETCH_TIMEOUT",
	"SEND_RATE", "OPS_LISTEN",
}

func defaults(token string) *Config {
	return &Config{
		TelegramBotToken:    token,
		DatabasePath:        "./data/relay.db",
		LogLevel:            "info",
		RSSHubBase:          "https://rsshub.app",
		RetentionDays:       7,
		DefaultInterval:     300,
		MinInterval:         60,
		AggressiveInterval:  10,
		MaxConcurrentChecks: 10,
		FetchTimeout:        30 * time.Second,
		SendRate:            20,
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    func() *Config
		wantErr bool
	}{
		{
			name:    "missing token",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "token only, defaults applied",
			env:  map[string]string{"TELEGRAM_BOT_TOKEN": "test-token"},
			want: func() *Config { return defaults("test-token") },
		},
		{
			name: "all values set",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN":        "tok",
				"DATABASE_PATH":             "/tmp/relay.db",
				"LOG_LEVEL":                 "debug",
				"ALLOWED_USERS":             "111,222,333",
				"RSSHUB_BASE":               "https://bridge.example.com/",
				"SENT_ITEMS_RETENTION_DAYS": "30",
				"DEFAULT_CHECK_INTERVAL":    "600",
				"MIN_CHECK_INTERVAL":        "120",
				"AGGRESSIVE_MODE":           "true",
				"AGGRESSIVE_INTERVAL":       "15",
				"MAX_CONCURRENT_CHECKS":     "4",
				"FETCH_TIMEOUT":             "10s",
				"SEND_RATE":                 "5",
				"OPS_LISTEN":                ":9090",
			},
			want: func() *Config {
				return &Config{
					TelegramBotToken:    "tok",
					DatabasePath:        "/tmp/relay.db",
					LogLevel:            "debug",
					AllowedUsers:        []int64{111, 222, 333},
					RSSHubBase:          "https://bridge.example.com",
					RetentionDays:       30,
					DefaultInterval:     600,
					MinInterval:         120,
					AggressiveMode:      true,
					AggressiveInterval:  15,
					MaxConcurrentChecks: 4,
					FetchTimeout:        10 * time.Second,
					SendRate:            5,
					OpsListen:           ":9090",
				}
			},
		},
		{
			name: "allowed users with spaces",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"ALLOWED_USERS":      " 10 , 20 , ",
			},
			want: func() *Config {
				c := defaults("tok")
				c.AllowedUsers = []int64{10, 20}
				return c
			},
		},
		{
			name: "invalid user id",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"ALLOWED_USERS":      "123,abc",
			},
			wantErr: true,
		},
		{
			name: "invalid retention",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN":        "tok",
				"SENT_ITEMS_RETENTION_DAYS": "seven",
			},
			wantErr: true,
		},
		{
			name: "default interval below minimum",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN":     "tok",
				"DEFAULT_CHECK_INTERVAL": "30",
			},
			wantErr: true,
		},
		{
			name: "invalid aggressive flag",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"AGGRESSIVE_MODE":    "sometimes",
			},
			wantErr: true,
		},
		{
			name: "invalid fetch timeout",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"FETCH_TIMEOUT":      "-1s",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedUsers []int64
		userID       int64
		want         bool
	}{
		{
			name:         "empty list allows everyone",
			allowedUsers: nil,
			userID:       42,
			want:         true,
		},
		{
			name:         "user in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       20,
			want:         true,
		},
		{
			name:         "user not in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       99,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedUsers: tt.allowedUsers}
			got := cfg.IsUserAllowed(tt.userID)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IsUserAllowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
