package telegram

import (
	"context"

	"github.com/kirillm/jamso-engine/internal/notify"
)

// CommandHandler представляет обработчик команды
type CommandHandler func(ctx context.Context, args *CommandArgs) (string, error)

// Router маршрутизирует команды к обработчикам
type Router struct {
	handlers      map[string]CommandHandler
	adminCommands map[string]bool
	authManager   *AuthManager
	formatter     *notify.Formatter
}

// NewRouter создает новый роутер
func NewRouter(authManager *AuthManager, formatter *notify.Formatter) *Router {
	return &Router{
		handlers:      make(map[string]CommandHandler),
		adminCommands: make(map[string]bool),
		authManager:   authManager,
		formatter:     formatter,
	}
}

// RegisterHandler регистрирует обработчик команды
func (r *Router) RegisterHandler(command string, handler CommandHandler) {
	r.handlers[command] = handler
}

// RegisterAdminHandler регистрирует обработчик с требованием админских прав
func (r *Router) RegisterAdminHandler(command string, handler CommandHandler) {
	r.adminCommands[command] = true
	r.handlers[command] = handler
}

// IsAdminCommand проверяет, является ли команда админской
func (r *Router) IsAdminCommand(command string) bool {
	return r.adminCommands[command]
}

// HandleCommand обрабатывает команду и возвращает текст ответа.
// Ошибка обработчика возвращается для логирования, текст ответа уже содержит ее.
func (r *Router) HandleCommand(ctx context.Context, userID, chatID int64, text string) (string, error) {
	// 1. Rate limit
	if err := r.authManager.CheckRateLimit(userID); err != nil {
		return r.formatter.FormatError(err), nil
	}

	// 2. Доступ
	if !r.authManager.IsAllowed(userID, chatID) {
		return r.formatter.T("access_denied"), nil
	}

	// 3. Парсинг
	args, err := ParseCommand(text)
	if err != nil {
		return r.formatter.FormatError(err), nil
	}

	// 4. Права администратора
	if r.adminCommands[args.Command] {
		if err := r.authManager.RequireAdmin(userID); err != nil {
			return r.formatter.T("admin_required"), nil
		}
	}

	handler, exists := r.handlers[args.Command]
	if !exists {
		return r.formatter.T("unknown_command"), nil
	}

	response, err := handler(ctx, args)
	if err != nil {
		return r.formatter.FormatError(err), err
	}
	return response, nil
}
