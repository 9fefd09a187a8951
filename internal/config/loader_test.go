package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tutorgram/mashabot/internal/config"
)

const minimalConfig = `telegram:
  token: "123:abc"
  allowed_users:
    - masha_fan
ai:
  api_key: "test-key"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q, want %q", cfg.Telegram.Token, "123:abc")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
	if cfg.Telegram.Language != "ru" {
		t.Errorf("language = %q, want ru", cfg.Telegram.Language)
	}
	if cfg.Telegram.MaxDailyMessages != 30 {
		t.Errorf("max_daily_messages = %d, want 30", cfg.Telegram.MaxDailyMessages)
	}
	if cfg.Telegram.MaxHistoryMessages != 50 {
		t.Errorf("max_history_messages = %d, want 50", cfg.Telegram.MaxHistoryMessages)
	}
	if cfg.AI.Model != "gemini-2.0-flash" {
		t.Errorf("ai model = %q, want gemini-2.0-flash", cfg.AI.Model)
	}
	if cfg.AI.Timeout != 2*time.Minute {
		t.Errorf("ai timeout = %v, want 2m", cfg.AI.Timeout)
	}
	if cfg.Database.Path != "storage.db" {
		t.Errorf("database path = %q, want storage.db", cfg.Database.Path)
	}

	task, ok := cfg.Scheduler.Tasks["sql_maintenance"]
	if !ok || !task.Enabled || task.Schedule == "" {
		t.Errorf("sql_maintenance task = %+v, want enabled with a schedule", task)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `log:
  level: debug
telegram:
  token: "123:abc"
  allowed_users:
    - masha_fan
  language: en
  max_daily_messages: 3
ai:
  api_key: "test-key"
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Telegram.Language != "en" {
		t.Errorf("language = %q, want en", cfg.Telegram.Language)
	}
	if cfg.Telegram.MaxDailyMessages != 3 {
		t.Errorf("max_daily_messages = %d, want 3", cfg.Telegram.MaxDailyMessages)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing token",
			content: `telegram:
  allowed_users:
    - masha_fan
ai:
  api_key: "test-key"
`,
		},
		{
			name: "empty allow-list",
			content: `telegram:
  token: "123:abc"
  allowed_users: []
ai:
  api_key: "test-key"
`,
		},
		{
			name: "missing api key",
			content: `telegram:
  token: "123:abc"
  allowed_users:
    - masha_fan
`,
		},
		{
			name: "bad log level",
			content: `log:
  level: loud
telegram:
  token: "123:abc"
  allowed_users:
    - masha_fan
ai:
  api_key: "test-key"
`,
		},
		{
			name: "non-positive daily budget",
			content: `telegram:
  token: "123:abc"
  allowed_users:
    - masha_fan
  max_daily_messages: 0
ai:
  api_key: "test-key"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_LANGUAGE", "en")

	cfg, err := config.Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telegram.Language != "en" {
		t.Errorf("language = %q, want env override en", cfg.Telegram.Language)
	}
}
