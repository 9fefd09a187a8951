package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tutorgram/mashabot/internal/session"
)

// NewMessageHandler creates the default handler for free-text messages.
// It drives the conversation state machine and maps its typed failures to
// localized user notices.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return messageHandler{deps}.Handle
}

type messageHandler struct {
	deps HandlerDeps
}

func (h messageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "message")

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.DebugContext(ctx, "Ignoring update with nil message or sender", "update_id", update.ID)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		log.DebugContext(ctx, "Ignoring message with empty text", "chat_id", msg.Chat.ID)
		return
	}
	if strings.HasPrefix(text, "/") {
		// Unknown commands fall through to the default handler; don't feed
		// them to the state machine.
		log.DebugContext(ctx, "Ignoring unrecognized command", "chat_id", msg.Chat.ID)
		return
	}

	chatID := msg.Chat.ID
	userID := msg.From.ID

	replies, err := deps.Sessions.HandleMessage(ctx, userID, text)
	if err != nil {
		h.sendFailureNotice(ctx, b, chatID, userID, err)
		return
	}

	for _, reply := range replies {
		outText := reply.Text
		if reply.Key != "" {
			outText = deps.Translator.Lookup(reply.Key)
		}
		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: outText}); err != nil {
			log.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", chatID)
		}
	}
}

// sendFailureNotice translates a typed session failure into the matching
// user-visible notice. Rate-limit and busy conditions are fully handled
// here; generation and persistence failures are also logged as errors
// since they affect whether a retry is safe.
func (h messageHandler) sendFailureNotice(ctx context.Context, b *bot.Bot, chatID, userID int64, err error) {
	deps := h.deps
	log := deps.Logger.With("handler", "message", "user_id", userID)

	var key string
	var genErr *session.GenerationError
	var persistErr *session.PersistenceError

	switch {
	case errors.Is(err, session.ErrRateLimited):
		log.InfoContext(ctx, "User hit daily message limit")
		key = "rate_limited"

	case errors.Is(err, session.ErrBusy):
		log.InfoContext(ctx, "User message rejected while previous one is processing")
		key = "busy"

	case errors.As(err, &genErr):
		log.ErrorContext(ctx, "Reply generation failed", "error", genErr.Err)
		key = "generation_failed"

	case errors.As(err, &persistErr):
		log.ErrorContext(ctx, "Persistence failure", "op", persistErr.Op, "error", persistErr.Err)
		key = "general_error"

	default:
		log.ErrorContext(ctx, "Unexpected failure handling message", "error", err)
		key = "general_error"
	}

	if _, sendErr := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   deps.Translator.Lookup(key),
	}); sendErr != nil {
		log.ErrorContext(ctx, "Failed to send failure notice", "error", sendErr, "chat_id", chatID)
	}
}
