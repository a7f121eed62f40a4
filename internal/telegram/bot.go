package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/jamso-engine/internal/notify"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

const (
	maxMessageLength = 4096
	updateTimeout    = 60
	cleanupInterval  = 5 * time.Minute
	commandTimeout   = 30 * time.Second
)

// API часть tgbotapi.BotAPI, используемая ботом
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot принимает команды оператора
type Bot struct {
	api         API
	router      *Router
	authManager *AuthManager
	logger      *utils.Logger
}

// NewBot создает бот команд поверх авторизованного API
func NewBot(api API, authManager *AuthManager, handlers *Handlers, formatter *notify.Formatter, logger *utils.Logger) *Bot {
	if logger == nil {
		logger = utils.Nop()
	}

	router := NewRouter(authManager, formatter)
	handlers.Register(router)

	return &Bot{
		api:         api,
		router:      router,
		authManager: authManager,
		logger:      logger.With("telegram"),
	}
}

// Connect авторизует бота по токену
func Connect(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return api, nil
}

// Run обрабатывает обновления до отмены контекста
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	b.logger.Info("Telegram command bot started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Stopping Telegram command bot...")
			return
		case <-ticker.C:
			if n := b.authManager.CleanupRateLimiters(); n > 0 {
				b.logger.Debug("cleaned up %d rate limiters", n)
			}
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil && update.Message.IsCommand() {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

// handleMessage обрабатывает команду из сообщения
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	var userID int64
	if message.From != nil {
		userID = message.From.ID
	}

	b.logger.Info("command from user %d (chat %d): %s", userID, chatID, message.Text)

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	response, err := b.router.HandleCommand(cmdCtx, userID, chatID, message.Text)
	if err != nil {
		b.logger.Error("Command error: %v", err)
	}

	b.sendToChat(chatID, response)
}

// sendToChat отправляет сообщение в конкретный чат
func (b *Bot) sendToChat(chatID int64, text string) {
	if text == "" {
		return
	}

	for _, part := range notify.SplitMessage(text, maxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Error("Failed to send telegram message to chat %d: %v", chatID, err)
		}
	}
}
