package handlers

import (
	"log/slog"

	"github.com/tutorgram/mashabot/internal/access"
	"github.com/tutorgram/mashabot/internal/config"
	"github.com/tutorgram/mashabot/internal/i18n"
	"github.com/tutorgram/mashabot/internal/session"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Sessions   *session.Manager
	Policy     *access.Policy
	Translator *i18n.Translator
}
