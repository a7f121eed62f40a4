package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput возвращается при некорректных входных данных
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidSignal возвращается когда сигнал не удалось нормализовать
	ErrInvalidSignal = errors.New("invalid signal")

	// ErrRiskRejected возвращается когда риск-менеджер отклонил сделку
	ErrRiskRejected = errors.New("trade rejected by risk manager")

	// ErrSizeTooSmall возвращается когда скорректированный размер ниже минимального
	ErrSizeTooSmall = errors.New("adjusted size too small")

	// ErrKillSwitchActive возвращается когда активирована аварийная остановка
	ErrKillSwitchActive = errors.New("kill switch is active")

	// ErrTooManySessions возвращается при превышении лимита одновременных сессий
	ErrTooManySessions = errors.New("too many concurrent broker sessions")

	// ErrNotAuthenticated возвращается когда сессию не удалось установить
	ErrNotAuthenticated = errors.New("broker session is not authenticated")

	// ErrCredentialMissing возвращается когда учетные данные не найдены
	ErrCredentialMissing = errors.New("credential not found")

	// ErrDatabaseConnection возвращается при ошибке подключения к БД
	ErrDatabaseConnection = errors.New("database connection error")
)

// Broker error kinds. Сравниваются через errors.Is с *APIError.
var (
	ErrValidation     = errors.New("validation error")
	ErrAuthentication = errors.New("authentication error")
	ErrConnection     = errors.New("connection error")
	ErrTimeout        = errors.New("timeout error")
	ErrRateLimit      = errors.New("rate limit error")
	ErrBroker         = errors.New("broker error")
)

// APIError ошибка брокера с исходным HTTP статусом и сообщением
type APIError struct {
	Kind       error
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("%v (status %d): %s: %s", e.Kind, e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Kind, e.StatusCode, e.Message)
}

// Is позволяет errors.Is(err, domain.ErrRateLimit) и аналогичные проверки
func (e *APIError) Is(target error) bool {
	return e.Kind == target
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// KindForStatus сопоставляет HTTP статус с видом ошибки
func KindForStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuthentication
	case status == 429:
		return ErrRateLimit
	case status == 408:
		return ErrTimeout
	case status >= 500:
		return ErrBroker
	case status >= 400:
		return ErrValidation
	default:
		return ErrBroker
	}
}

// IsTransient возвращает true для ошибок, которые имеет смысл повторить
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrBroker)
}
