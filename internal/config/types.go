// Package config manages application configuration from config.yaml,
// BOT_* environment variables, and default values.
package config

import "time"

// Config defines the application configuration parameters for all components
// of the bot: logging, Telegram transport, access policy, AI integration,
// persistence, and scheduled tasks.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	AI        AIConfig        `mapstructure:"ai"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds transport settings and the access policy source.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`

	// AllowedUsers is the static allow-list of display handles permitted
	// to use the bot. An empty list denies everyone.
	AllowedUsers []string `mapstructure:"allowed_users" validate:"required,min=1"`

	// Language selects the translations section used for replies.
	Language string `mapstructure:"language" validate:"required"`

	// TranslationsPath points at the translations YAML file.
	TranslationsPath string `mapstructure:"translations_path" validate:"required"`

	// MaxDailyMessages is the inclusive per-day budget of user-authored
	// chat messages. A user at the limit is blocked until the day rolls over.
	MaxDailyMessages int `mapstructure:"max_daily_messages" validate:"required,gt=0"`

	// MaxHistoryMessages caps how much logged history is loaded per reply.
	MaxHistoryMessages int `mapstructure:"max_history_messages" validate:"gt=0"`
}

// AIConfig holds Gemini client settings.
type AIConfig struct {
	APIKey            string        `mapstructure:"api_key" validate:"required"`
	Model             string        `mapstructure:"model" validate:"required"`
	Temperature       float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Instruction       string        `mapstructure:"instruction" validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"min=1s,max=10m"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelaySeconds int           `mapstructure:"retry_delay_seconds" validate:"min=0,max=300"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SchedulerConfig holds the scheduled task table keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig configures one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}
