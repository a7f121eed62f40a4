package execution

import (
	"sync"
	"time"

	"github.com/kirillm/jamso-engine/pkg/utils"
)

// KillSwitchStatus состояние аварийной остановки
type KillSwitchStatus struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
}

// KillSwitch аварийная остановка торговли
type KillSwitch struct {
	mu          sync.RWMutex
	active      bool
	activatedAt time.Time
	reason      string
	hook        func(active bool, reason string)
	logger      *utils.Logger
}

// NewKillSwitch создает новый kill switch
func NewKillSwitch(logger *utils.Logger) *KillSwitch {
	return &KillSwitch{logger: logger.With("kill-switch")}
}

// SetHook задает обработчик смены состояния (сохранение события, уведомление).
// Вызывается вне блокировки.
func (ks *KillSwitch) SetHook(fn func(active bool, reason string)) {
	ks.mu.Lock()
	ks.hook = fn
	ks.mu.Unlock()
}

// Activate активирует kill switch. Повторная активация сохраняет первую причину.
func (ks *KillSwitch) Activate(reason string) {
	ks.mu.Lock()
	if ks.active {
		ks.mu.Unlock()
		return
	}
	ks.active = true
	ks.activatedAt = time.Now()
	ks.reason = reason
	hook := ks.hook
	ks.mu.Unlock()

	metricKillSwitch.Set(1)
	ks.logger.Error("KILL SWITCH ACTIVATED: %s", reason)

	if hook != nil {
		hook(true, reason)
	}
}

// Restore восстанавливает активное состояние после рестарта без вызова обработчика
func (ks *KillSwitch) Restore(reason string, activatedAt time.Time) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = true
	ks.activatedAt = activatedAt
	ks.reason = reason
	metricKillSwitch.Set(1)

	ks.logger.Warn("kill switch restored: %s (since %s)", reason, activatedAt.Format(time.RFC3339))
}

// Deactivate деактивирует kill switch (требует ручного вмешательства)
func (ks *KillSwitch) Deactivate() {
	ks.mu.Lock()
	if !ks.active {
		ks.mu.Unlock()
		return
	}
	ks.active = false
	ks.reason = ""
	ks.activatedAt = time.Time{}
	hook := ks.hook
	ks.mu.Unlock()

	metricKillSwitch.Set(0)
	ks.logger.Info("kill switch deactivated")

	if hook != nil {
		hook(false, "")
	}
}

// IsActive проверяет активен ли kill switch
func (ks *KillSwitch) IsActive() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active
}

// Status возвращает статус kill switch
func (ks *KillSwitch) Status() KillSwitchStatus {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return KillSwitchStatus{Active: ks.active, Reason: ks.reason, ActivatedAt: ks.activatedAt}
}
