package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load loads and validates configuration from:
// 1. Default values
// 2. The config file at configPath (yaml)
// 3. BOT_* environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow a missing config file; env vars and defaults may be enough
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Info("Config file not found, using defaults and environment", "path", configPath)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("Configuration loaded successfully",
		"log_level", cfg.Log.Level,
		"ai_model", cfg.AI.Model,
		"db_path", cfg.Database.Path,
		"allowed_users", len(cfg.Telegram.AllowedUsers),
		"max_daily_messages", cfg.Telegram.MaxDailyMessages)

	return cfg, nil
}

// setDefaults sets default values for optional configuration parameters.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("telegram.language", "ru")
	v.SetDefault("telegram.translations_path", "./translations.yaml")
	v.SetDefault("telegram.max_daily_messages", 30)
	v.SetDefault("telegram.max_history_messages", 50)

	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.temperature", 1.0)
	v.SetDefault("ai.timeout", 2*time.Minute)
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.retry_delay_seconds", 5)
	v.SetDefault("ai.instruction", "You are a young friendly tutor. Answer the student's questions clearly, keep it short, and use the student's profile to personalize replies.")

	v.SetDefault("database.path", "storage.db")

	v.SetDefault("scheduler.tasks", map[string]TaskConfig{
		"sql_maintenance": {Enabled: true, Schedule: "0 0 4 * * *"},
		"usage_report":    {Enabled: true, Schedule: "0 55 23 * * *"},
	})
}
