package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdCheck         = "check"
	cmdDelete        = "delete"
	cmdDeleteConfirm = "delete_confirm"
	cmdNoop          = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	action, id, ok := strings.Cut(cb.Data, ":")
	if !ok || id == "" {
		return
	}

	b.log.Info("callback",
		"action", action,
		"feed_id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdCheck:
		b.handleCheck(ctx, chatID, id)
	case cmdDeleteConfirm:
		feed, ok := b.lookup(ctx, chatID, id)
		if !ok {
			return
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete %s \"%s\"? This cannot be undone.", shortID(feed.ID), feed.Name))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, delete", cmdDelete+":"+feed.ID),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", cmdNoop+":0"),
			),
		)
		b.send(msg)
	case cmdDelete:
		b.handleRemove(ctx, chatID, id)
	}
}
