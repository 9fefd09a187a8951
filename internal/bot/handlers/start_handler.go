package handlers

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tutorgram/mashabot/internal/session"
)

// NewStartHandler returns a handler for the /start command. It restarts
// onboarding for the sender and asks the first question again.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID
	log.InfoContext(ctx, "Handling /start command", "chat_id", chatID, "user_id", userID)

	replies, err := h.deps.Sessions.Restart(ctx, userID)
	if err != nil {
		key := "general_error"
		if errors.Is(err, session.ErrBusy) {
			key = "busy"
		}
		log.WarnContext(ctx, "Failed to restart session", "error", err, "user_id", userID)
		if _, sendErr := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: h.deps.Translator.Lookup(key)}); sendErr != nil {
			log.ErrorContext(ctx, "Failed to send error message", "error", sendErr, "chat_id", chatID)
		}
		return
	}

	for _, reply := range replies {
		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: h.deps.Translator.Lookup(reply.Key)}); err != nil {
			log.ErrorContext(ctx, "Failed to send onboarding message", "error", err, "chat_id", chatID)
		}
	}
}
