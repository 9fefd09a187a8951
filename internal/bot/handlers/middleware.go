// Package handlers contains Telegram bot command and message handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AllowedOnly creates a middleware that applies the access policy to the
// sender's display handle. Denial short-circuits all further processing:
// no profile row, no log entry, no counter check.
func AllowedOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			allowed := checkAccess(ctx, deps, update, func(chatID int64, text string) {
				_, err := bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text})
				if err != nil {
					deps.Logger.ErrorContext(ctx, "Failed to send access denied message",
						"error", err, "chat_id", chatID)
				}
			})
			if allowed {
				next(ctx, bot, update)
			}
		}
	}
}

// checkAccess applies the access policy to the update's sender and reports
// whether processing may continue. On denial it emits the localized notice
// through deny; the caller skips everything else.
func checkAccess(ctx context.Context, deps HandlerDeps, update *models.Update, deny func(chatID int64, text string)) bool {
	if update.Message == nil || update.Message.From == nil {
		return true
	}

	handle := update.Message.From.Username
	if deps.Policy.Allowed(handle) {
		return true
	}

	chatID := update.Message.Chat.ID
	deps.Logger.With("middleware", "AllowedOnly").WarnContext(ctx, "Access denied",
		"handle", handle, "user_id", update.Message.From.ID, "chat_id", chatID)

	deny(chatID, deps.Translator.Lookup("access_denied"))
	return false
}
