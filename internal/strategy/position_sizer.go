package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/policy"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

const (
	winRateWindow    = 7 * 24 * time.Hour
	minTradesWinRate = 5
)

// RegimeSource определяет режим волатильности символа
type RegimeSource interface {
	Detect(ctx context.Context, symbol string) (int, domain.VolatilityLevel)
}

// ProfileSource активный профиль риска
type ProfileSource interface {
	Profile() policy.Profile
}

// SizingRequest входные данные расчета размера позиции.
// Если Level пуст, режим определяется через RegimeSource.
type SizingRequest struct {
	Symbol       string
	AccountID    string
	OriginalSize float64
	SignalID     string
	Price        *float64
	StopLoss     *float64
	RegimeID     int
	Level        domain.VolatilityLevel
}

// PositionSizer корректирует размер позиции по режиму, результатам и просадке
type PositionSizer struct {
	accounts domain.AccountStore
	history  domain.TradeHistory
	regimes  RegimeSource
	audit    domain.AuditStore
	policy   ProfileSource
	logger   *utils.Logger
	now      func() time.Time
}

func NewPositionSizer(accounts domain.AccountStore, history domain.TradeHistory, regimes RegimeSource, audit domain.AuditStore, profiles ProfileSource, logger *utils.Logger) *PositionSizer {
	return &PositionSizer{
		accounts: accounts,
		history:  history,
		regimes:  regimes,
		audit:    audit,
		policy:   profiles,
		logger:   logger.With("position-sizer"),
		now:      time.Now,
	}
}

// CalculatePositionSize рассчитывает итоговый размер позиции.
// Отсутствие баланса не является ошибкой: используется баланс по умолчанию.
func (s *PositionSizer) CalculatePositionSize(ctx context.Context, req SizingRequest) (*domain.PositionSizingDecision, error) {
	if req.OriginalSize <= 0 || math.IsNaN(req.OriginalSize) || math.IsInf(req.OriginalSize, 0) {
		return nil, fmt.Errorf("%w: original size must be positive, got %v", domain.ErrInvalidInput, req.OriginalSize)
	}

	profile := s.policy.Profile()

	// 1. Баланс счета
	balance := s.balance(ctx, req.AccountID, profile)

	// 2. Режим волатильности
	if req.Level == "" {
		req.RegimeID, req.Level = domain.RegimeUnknown, domain.VolatilityUnknown
		if s.regimes != nil {
			req.RegimeID, req.Level = s.regimes.Detect(ctx, req.Symbol)
		}
	}
	regimeFactor := RegimeFactor(req.Level)

	// 3. Результаты за последние 7 дней
	performanceFactor := s.performanceFactor(ctx, req.Symbol)

	// 4. Просадка от пика
	drawdownFactor := DrawdownFactor(s.drawdownPercent(ctx, req.AccountID, balance))

	adjusted := req.OriginalSize * regimeFactor * performanceFactor * drawdownFactor

	// 5. Ограничение по риску на сделку
	var riskCap float64
	if req.Price != nil && req.StopLoss != nil {
		if distance := math.Abs(*req.Price - *req.StopLoss); distance > 0 {
			riskCap = balance * profile.RiskPerTrade / distance
			if riskCap < adjusted {
				s.logger.Debug("%s: size capped by stop distance %.5f: %.4f -> %.4f", req.Symbol, distance, adjusted, riskCap)
				adjusted = riskCap
			}
		}
	}

	// 6. Границы и округление
	final := RoundSize(Clamp(adjusted, profile.MinPositionSize, profile.MaxPositionSize))

	decision := &domain.PositionSizingDecision{
		SignalID:              req.SignalID,
		Symbol:                req.Symbol,
		AccountID:             req.AccountID,
		OriginalSize:          req.OriginalSize,
		AdjustedSize:          final,
		RegimeID:              req.RegimeID,
		VolatilityLevel:       string(req.Level),
		RegimeFactor:          regimeFactor,
		PerformanceFactor:     performanceFactor,
		DrawdownFactor:        drawdownFactor,
		RiskCapSize:           RoundSize(riskCap),
		TotalAdjustmentFactor: roundTo(final/req.OriginalSize, 4),
		CreatedAt:             s.now().UTC(),
	}

	if s.audit != nil {
		if err := s.audit.SaveSizingDecision(ctx, decision); err != nil {
			s.logger.Warn("failed to save sizing decision for %s: %v", req.Symbol, err)
		}
	}

	s.logger.Info("%s size %.2f -> %.2f (regime %.2f, performance %.2f, drawdown %.2f)",
		req.Symbol, req.OriginalSize, final, regimeFactor, performanceFactor, drawdownFactor)

	return decision, nil
}

func (s *PositionSizer) balance(ctx context.Context, accountID string, profile policy.Profile) float64 {
	if s.accounts == nil {
		return profile.DefaultBalance
	}
	balance, err := s.accounts.GetBalance(ctx, accountID)
	if err != nil || balance <= 0 {
		s.logger.Warn("balance for account %s unavailable (%v), using default %.2f", accountID, err, profile.DefaultBalance)
		return profile.DefaultBalance
	}
	return balance
}

func (s *PositionSizer) performanceFactor(ctx context.Context, symbol string) float64 {
	if s.history == nil {
		return 1.0
	}
	trades, err := s.history.GetClosedTrades(ctx, symbol, s.now().Add(-winRateWindow))
	if err != nil {
		s.logger.Warn("failed to load trade history for %s: %v", symbol, err)
		return 1.0
	}
	if len(trades) < minTradesWinRate {
		return 1.0
	}

	wins := 0
	for _, t := range trades {
		if t.ProfitLoss > 0 {
			wins++
		}
	}
	return PerformanceFactor(float64(wins) / float64(len(trades)))
}

func (s *PositionSizer) drawdownPercent(ctx context.Context, accountID string, balance float64) float64 {
	if s.accounts == nil {
		return 0
	}
	peak, err := s.accounts.GetPeakBalance(ctx, accountID)
	if err != nil {
		return 0
	}
	return DrawdownPercent(balance, peak)
}

// RegimeFactor множитель по уровню волатильности
func RegimeFactor(level domain.VolatilityLevel) float64 {
	switch level {
	case domain.VolatilityHigh:
		return 0.7
	case domain.VolatilityLow:
		return 1.2
	default:
		return 1.0
	}
}

// PerformanceFactor множитель по win rate
func PerformanceFactor(winRate float64) float64 {
	switch {
	case winRate > 0.7:
		return 1.2
	case winRate > 0.5:
		return 1.1
	case winRate < 0.3:
		return 0.7
	default:
		return 1.0
	}
}

// DrawdownFactor множитель по просадке в процентах
func DrawdownFactor(drawdownPct float64) float64 {
	switch {
	case drawdownPct > 20:
		return 0.5
	case drawdownPct > 15:
		return 0.7
	case drawdownPct > 10:
		return 0.8
	case drawdownPct > 5:
		return 0.9
	default:
		return 1.0
	}
}

// DrawdownPercent просадка баланса от пика в процентах
func DrawdownPercent(balance, peak float64) float64 {
	if peak <= 0 || balance >= peak {
		return 0
	}
	return (peak - balance) / peak * 100
}

// Clamp ограничивает значение диапазоном [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

// RoundSize округляет размер позиции до 2 знаков
func RoundSize(v float64) float64 {
	return roundTo(v, 2)
}

func roundTo(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
