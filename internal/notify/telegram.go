// Package notify pushes operational alerts to a Telegram chat.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type sender interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends alerts to a fixed ops chat. A nil *Notifier is
// silent, so callers fire alerts without checking whether Telegram
// is configured.
type Notifier struct {
	tg     sender
	chatID int64
	logger zerolog.Logger
}

// New connects to the Telegram Bot API.
func New(token string, chatID int64, debug bool, logger zerolog.Logger) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	api.Debug = debug
	return newNotifier(api, chatID, logger), nil
}

// NewWithSender allows injecting a mocked Telegram client for tests.
func NewWithSender(tg sender, chatID int64, logger zerolog.Logger) *Notifier {
	return newNotifier(tg, chatID, logger)
}

func newNotifier(tg sender, chatID int64, logger zerolog.Logger) *Notifier {
	return &Notifier{
		tg:     tg,
		chatID: chatID,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Alert formats and sends one message. Delivery failures are logged,
// never returned: an unreachable ops chat must not fail the operation
// that raised the alert.
func (n *Notifier) Alert(format string, args ...interface{}) {
	if n == nil || n.tg == nil {
		return
	}

	text := fmt.Sprintf(format, args...)
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.tg.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("failed to send telegram alert")
	}
}
