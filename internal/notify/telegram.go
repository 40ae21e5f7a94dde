// Package notify implements the out-of-band alert channel EmergencyController
// fires on killed/hedged transitions (SPEC_FULL.md §9.1), adapted from the
// teacher's internal/telegram bot client down to the single outbound
// SendMessage call the alert path needs.
package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier implements emergency.Notifier over a Telegram bot.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(botToken, chatID string) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("notify: init telegram bot: %w", err)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("notify: parse chat id %q: %w", chatID, err)
	}
	return &TelegramNotifier{api: api, chatID: id}, nil
}

// Notify sends message to the configured operator chat. The context is not
// used: Telegram's bot API client has no per-call context support, so a send
// is bounded only by that client's own HTTP timeout. The caller
// (emergency.Controller.alert) runs Notify in its own goroutine so the
// control path never waits on it.
func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	msg := tgbotapi.NewMessage(n.chatID, message)
	_, err := n.api.Send(msg)
	if err != nil {
		return fmt.Errorf("notify: send telegram message: %w", err)
	}
	return nil
}
