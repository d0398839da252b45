// Package notify sends short trade alerts to Telegram.
package notify

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"unicode/utf8"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
)

const maxMessageLen = 4096

type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	prefix string
}

var _ interfaces.Notifier = (*Telegram)(nil)

func NewTelegram(token string, chatID int64, prefix string) (*Telegram, error) {
	return newTelegram(token, tgbot.APIEndpoint, chatID, prefix)
}

func newTelegram(token, endpoint string, chatID int64, prefix string) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram: token and chat id are required")
	}
	b, err := tgbot.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID, prefix: prefix}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if t.prefix != "" {
		text = t.prefix + " " + text
	}
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen]
		for !utf8.ValidString(text) {
			text = text[:len(text)-1]
		}
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, text)); err != nil {
		logger.ErrorWithErr(ctx, "Telegram send failed", err, "chat_id", t.chatID)
		return err
	}
	return nil
}

// Noop drops every message.
type Noop struct{}

func (Noop) Notify(context.Context, string) error { return nil }

// FromEnv returns a Telegram notifier when enabled and TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHAT_ID are set, otherwise Noop.
func FromEnv(ctx context.Context, enabled bool, prefix string) interfaces.Notifier {
	if !enabled {
		return Noop{}
	}
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatID, err := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)
	if token == "" || err != nil {
		logger.Warn(ctx, "Telegram notifications enabled but TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID missing")
		return Noop{}
	}
	tg, err := NewTelegram(token, chatID, prefix)
	if err != nil {
		logger.ErrorWithErr(ctx, "Telegram notifier disabled", err)
		return Noop{}
	}
	return tg
}
