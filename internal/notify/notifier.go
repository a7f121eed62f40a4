package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/jamso-engine/pkg/utils"
)

// Максимальная длина сообщения Telegram
const maxMessageLength = 4096

// Notifier отправляет текстовые уведомления оператору
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// NopNotifier ничего не отправляет (Telegram выключен)
type NopNotifier struct{}

func (NopNotifier) Notify(_ context.Context, _ string) error {
	return nil
}

// sender часть tgbotapi.BotAPI, которая нужна для отправки
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier отправляет уведомления в один чат
type TelegramNotifier struct {
	api    sender
	chatID int64
	logger *utils.Logger
}

// NewTelegramNotifier создает бота по токену
func NewTelegramNotifier(token string, chatID int64, logger *utils.Logger) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return NewTelegramNotifierWithAPI(api, chatID, logger), nil
}

// NewTelegramNotifierWithAPI использует уже авторизованного бота (общего с ботом команд)
func NewTelegramNotifierWithAPI(api *tgbotapi.BotAPI, chatID int64, logger *utils.Logger) *TelegramNotifier {
	if logger == nil {
		logger = utils.Nop()
	}
	logger = logger.With("telegram")
	logger.Info("telegram notifier authorized as @%s", api.Self.UserName)

	return &TelegramNotifier{api: api, chatID: chatID, logger: logger}
}

// Notify отправляет сообщение, разбивая длинный текст на части
func (t *TelegramNotifier) Notify(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	for _, part := range SplitMessage(text, maxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}

		message := tgbotapi.NewMessage(t.chatID, part)
		message.ParseMode = tgbotapi.ModeMarkdown
		if _, err := t.api.Send(message); err != nil {
			t.logger.Error("failed to send telegram message to chat %d: %v", t.chatID, err)
			return fmt.Errorf("failed to send telegram message: %w", err)
		}
	}
	return nil
}

// SplitMessage режет текст по строкам на части не длиннее maxLength
func SplitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	lines := strings.Split(text, "\n")
	currentMessage := ""

	for _, line := range lines {
		if currentMessage != "" && len(currentMessage)+len(line)+1 > maxLength {
			messages = append(messages, currentMessage)
			currentMessage = line
		} else {
			if currentMessage != "" {
				currentMessage += "\n"
			}
			currentMessage += line
		}
	}

	if currentMessage != "" {
		messages = append(messages, currentMessage)
	}

	return messages
}
