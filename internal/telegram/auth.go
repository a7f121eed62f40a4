package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Частота команд от одного пользователя
const (
	commandsPerSecond = 2
	limiterIdleTTL    = 5 * time.Minute
)

// AuthManager управляет правами доступа и rate limiting
type AuthManager struct {
	adminIDs map[int64]bool
	chatID   int64
	limiters map[int64]*userLimiter
	mu       sync.Mutex
	now      func() time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAuthManager создает менеджер авторизации. adminIDsStr - ID через запятую,
// chatID - чат уведомлений, его участники могут читать состояние.
func NewAuthManager(adminIDsStr string, chatID int64) *AuthManager {
	am := &AuthManager{
		adminIDs: make(map[int64]bool),
		chatID:   chatID,
		limiters: make(map[int64]*userLimiter),
		now:      time.Now,
	}

	for _, idStr := range strings.Split(adminIDsStr, ",") {
		idStr = strings.TrimSpace(idStr)
		if idStr == "" {
			continue
		}
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			am.adminIDs[id] = true
		}
	}

	return am
}

// IsAdmin проверяет, является ли пользователь администратором.
// Пустой список админов не дает прав никому.
func (am *AuthManager) IsAdmin(userID int64) bool {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.adminIDs[userID]
}

// IsAllowed проверяет доступ на чтение: админ или чат уведомлений
func (am *AuthManager) IsAllowed(userID, chatID int64) bool {
	if am.IsAdmin(userID) {
		return true
	}
	return am.chatID != 0 && chatID == am.chatID
}

// RequireAdmin возвращает ошибку, если пользователь не администратор
func (am *AuthManager) RequireAdmin(userID int64) error {
	if !am.IsAdmin(userID) {
		return fmt.Errorf("access denied: admin permission required")
	}
	return nil
}

// CheckRateLimit проверяет rate limit для пользователя
func (am *AuthManager) CheckRateLimit(userID int64) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	ul, exists := am.limiters[userID]
	if !exists {
		ul = &userLimiter{limiter: rate.NewLimiter(rate.Limit(commandsPerSecond), commandsPerSecond)}
		am.limiters[userID] = ul
	}
	ul.lastSeen = now

	if !ul.limiter.AllowN(now, 1) {
		return fmt.Errorf("rate limit exceeded, please wait")
	}
	return nil
}

// CleanupRateLimiters удаляет лимитеры неактивных пользователей
func (am *AuthManager) CleanupRateLimiters() int {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	removed := 0
	for userID, ul := range am.limiters {
		if now.Sub(ul.lastSeen) > limiterIdleTTL {
			delete(am.limiters, userID)
			removed++
		}
	}
	return removed
}
