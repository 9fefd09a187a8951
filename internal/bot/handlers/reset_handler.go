package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tutorgram/mashabot/internal/session"
)

// NewResetHandler returns a handler for the /reset command. It deletes the
// sender's messages and profile and drops the in-memory session so
// onboarding starts over on the next message. The wipe goes through the
// session manager so it is serialized with the sender's other messages.
func NewResetHandler(deps HandlerDeps) bot.HandlerFunc {
	return resetHandler{deps}.Handle
}

type resetHandler struct {
	deps HandlerDeps
}

func (h resetHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "reset")

	if update.Message == nil || update.Message.From == nil {
		log.ErrorContext(ctx, "Reset handler called with nil Message or From", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID
	log.InfoContext(ctx, "User requested data reset", "chat_id", chatID, "user_id", userID)

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := h.deps.Sessions.Reset(timeoutCtx, userID)

	switch {
	case errors.Is(err, session.ErrBusy):
		log.InfoContext(ctx, "Reset rejected, previous message still processing", "user_id", userID)
		h.send(ctx, b, chatID, "busy", log)

	case err != nil:
		log.ErrorContext(ctx, "Failed to reset user data", "error", err, "chat_id", chatID)
		h.send(ctx, b, chatID, "general_error", log)

	default:
		log.InfoContext(ctx, "Successfully deleted user messages and profile", "user_id", userID)
		h.send(ctx, b, chatID, "reset_done", log)
	}
}

func (h resetHandler) send(ctx context.Context, b *bot.Bot, chatID int64, key string, log *slog.Logger) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: h.deps.Translator.Lookup(key)}); err != nil {
		log.ErrorContext(ctx, "Failed to send reset reply", "error", err, "chat_id", chatID)
	}
}
