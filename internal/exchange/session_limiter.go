package exchange

import (
	"fmt"
	"sync/atomic"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// DefaultMaxSessions ограничение брокера на одновременные сессии
const DefaultMaxSessions = 10

// SessionLimiter общий для процесса счетчик сессий. Передается в каждый SessionManager.
type SessionLimiter struct {
	max    int64
	active atomic.Int64
}

func NewSessionLimiter(max int) *SessionLimiter {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &SessionLimiter{max: int64(max)}
}

// TryAcquire занимает слот без ожидания
func (l *SessionLimiter) TryAcquire() error {
	for {
		current := l.active.Load()
		if current >= l.max {
			return fmt.Errorf("%w: %d/%d active", domain.ErrTooManySessions, current, l.max)
		}
		if l.active.CompareAndSwap(current, current+1) {
			metricActiveSessions.Set(float64(current + 1))
			return nil
		}
	}
}

func (l *SessionLimiter) Release() {
	for {
		current := l.active.Load()
		if current <= 0 {
			return
		}
		if l.active.CompareAndSwap(current, current-1) {
			metricActiveSessions.Set(float64(current - 1))
			return
		}
	}
}

func (l *SessionLimiter) Active() int {
	return int(l.active.Load())
}
