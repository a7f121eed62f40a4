package domain

import (
	"context"
	"time"
)

// AccountStore определяет интерфейс для работы с балансами счетов
type AccountStore interface {
	GetBalance(ctx context.Context, accountID string) (float64, error)
	GetPeakBalance(ctx context.Context, accountID string) (float64, error)
}

// TradeHistory определяет интерфейс для получения закрытых сделок.
// symbol == SymbolAll возвращает сделки по всем символам.
type TradeHistory interface {
	GetClosedTrades(ctx context.Context, symbol string, since time.Time) ([]ClosedTrade, error)
}

// CorrelationStore определяет интерфейс для получения корреляций между символами
type CorrelationStore interface {
	GetCorrelation(ctx context.Context, symbolA, symbolB string, windowDays int) (float64, error)
}

// RegimeStore определяет интерфейс для хранения режимов волатильности
type RegimeStore interface {
	SaveRegime(ctx context.Context, regime *VolatilityRegime) error
	GetCurrentRegime(ctx context.Context, symbol string) (*VolatilityRegime, error)
}

// CandleStore определяет интерфейс для работы с рыночными данными
type CandleStore interface {
	GetCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)
	SaveCandles(ctx context.Context, candles []Candle) error
}

// AuditStore append-only журнал решений по размеру и риску
type AuditStore interface {
	SaveSizingDecision(ctx context.Context, decision *PositionSizingDecision) error
	SaveRiskEvaluation(ctx context.Context, evaluation *RiskEvaluation) error
}

// SignalStore определяет интерфейс для работы с сигналами
type SignalStore interface {
	SaveSignal(ctx context.Context, signal *SignalRecord) error
	UpdateSignalStatus(ctx context.Context, id, status, message string) error
}

// TradeStore определяет интерфейс для работы с исполненными сделками
type TradeStore interface {
	SaveTrade(ctx context.Context, trade *TradeRecord) error
}

// LogRepository определяет интерфейс для работы с логами
type LogRepository interface {
	SaveLog(ctx context.Context, level, message, data string) error
}

// KillSwitchStore журнал активаций аварийной остановки
type KillSwitchStore interface {
	SaveKillSwitchEvent(ctx context.Context, reason string, at time.Time) error
	ResolveKillSwitchEvents(ctx context.Context, at time.Time) error
	GetActiveKillSwitchEvent(ctx context.Context) (*KillSwitchEvent, error)
}
