package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

const (
	dailyWarningRatio    = 0.8
	drawdownWarningRatio = 0.8
	drawdownCautionRatio = 0.5

	correlationHighExposure   = 5.0
	correlationMediumExposure = 3.0

	drawdownSizeFactor    = 0.5
	correlationSizeFactor = 0.7
)

// PositionProvider открытые позиции у брокера
type PositionProvider interface {
	GetPositions(ctx context.Context) ([]domain.Position, error)
}

// TradeRequest кандидат на открытие позиции
type TradeRequest struct {
	Symbol    string
	Direction string
	Size      float64
	Price     *float64
	StopLoss  *float64
}

// RiskSummary текущее состояние риска счета
type RiskSummary struct {
	AccountID     string                `json:"account_id"`
	Profile       string                `json:"profile"`
	Balance       float64               `json:"balance"`
	PeakBalance   float64               `json:"peak_balance"`
	OpenPositions int                   `json:"open_positions"`
	DailyRisk     domain.DailyRiskCheck `json:"daily_risk"`
	Drawdown      domain.DrawdownCheck  `json:"drawdown"`
}

// RiskManager оценивает риск сделки по дневному лимиту, просадке и корреляции
type RiskManager struct {
	accounts     domain.AccountStore
	history      domain.TradeHistory
	positions    PositionProvider
	correlations domain.CorrelationStore
	audit        domain.AuditStore
	policy       ProfileSource
	logger       *utils.Logger
	now          func() time.Time

	mu     sync.RWMutex
	onHalt func(reason string)
}

func NewRiskManager(accounts domain.AccountStore, history domain.TradeHistory, positions PositionProvider, correlations domain.CorrelationStore, audit domain.AuditStore, profiles ProfileSource, logger *utils.Logger) *RiskManager {
	return &RiskManager{
		accounts:     accounts,
		history:      history,
		positions:    positions,
		correlations: correlations,
		audit:        audit,
		policy:       profiles,
		logger:       logger.With("risk-manager"),
		now:          time.Now,
	}
}

// SetHaltHook вызывается при критической просадке (например, включает kill switch)
func (r *RiskManager) SetHaltHook(fn func(reason string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onHalt = fn
}

// EvaluateTradeRisk оценивает сделку. Отклоненная оценка не является ошибкой:
// ошибка возвращается только если не удалось получить данные для оценки.
func (r *RiskManager) EvaluateTradeRisk(ctx context.Context, req TradeRequest, accountID string) (*domain.RiskEvaluation, error) {
	profile := r.policy.Profile()

	balance := r.balance(ctx, accountID, profile.DefaultBalance)

	positions, err := r.openPositions(ctx)
	if err != nil {
		return nil, err
	}

	daily, err := r.checkDailyRisk(ctx, balance, positions, profile.MaxDailyRisk, profile.DefaultStopPct)
	if err != nil {
		return nil, err
	}

	drawdown := r.checkDrawdown(ctx, accountID, balance, profile.MaxDrawdownThreshold)
	correlation := r.checkCorrelation(ctx, req.Symbol, positions, profile.CorrelationThreshold, profile.CorrelationWindow)

	eval := &domain.RiskEvaluation{
		ID:                   uuid.NewString(),
		Symbol:               req.Symbol,
		AccountID:            accountID,
		Direction:            req.Direction,
		Status:               domain.RiskAcceptable,
		OriginalSize:         req.Size,
		AdjustedSize:         req.Size,
		SizeAdjustmentFactor: 1.0,
		DailyRisk:            daily,
		Drawdown:             drawdown,
		CorrelationRisk:      correlation,
		EvaluatedAt:          r.now().UTC(),
	}

	if daily.Warning {
		eval.Warnings = append(eval.Warnings, fmt.Sprintf("Daily risk at %.2f%% of %.2f%% limit", daily.RiskPercent, daily.Limit))
	}
	if drawdown.Status == domain.DrawdownCaution {
		eval.Warnings = append(eval.Warnings, fmt.Sprintf("Drawdown at %.2f%%, monitoring", drawdown.DrawdownPercent))
	}
	if correlation.Level == domain.CorrelationMedium {
		eval.Warnings = append(eval.Warnings, fmt.Sprintf("Elevated correlation exposure %.2f with %s", correlation.Exposure, strings.Join(correlation.CorrelatedSymbols, ", ")))
	}

	// Приоритет: дневной лимит и критическая просадка отклоняют сделку,
	// затем сокращение по просадке, затем по корреляции
	switch {
	case daily.LimitReached:
		eval.Status = domain.RiskRejected
		eval.RejectionReason = domain.ReasonDailyLimit
	case drawdown.Action == domain.ActionHaltTrading:
		eval.Status = domain.RiskRejected
		eval.RejectionReason = domain.ReasonCriticalDrawdown
		r.halt(fmt.Sprintf("drawdown %.2f%% reached threshold %.2f%%", drawdown.DrawdownPercent, drawdown.Threshold))
	case drawdown.Action == domain.ActionReduceSize:
		eval.SizeAdjustmentFactor = drawdownSizeFactor
	case correlation.Level == domain.CorrelationHigh:
		eval.SizeAdjustmentFactor = correlationSizeFactor
	}

	if eval.Status != domain.RiskRejected {
		eval.AdjustedSize = RoundSize(req.Size * eval.SizeAdjustmentFactor)
		if eval.AdjustedSize < profile.MinPositionSize {
			eval.Status = domain.RiskRejected
			eval.RejectionReason = domain.ReasonSizeTooSmall
		} else if eval.SizeAdjustmentFactor < 1.0 {
			eval.Status = domain.RiskAdjustSize
		}
	} else {
		eval.AdjustedSize = 0
		eval.SizeAdjustmentFactor = 0
	}

	if r.audit != nil {
		if err := r.audit.SaveRiskEvaluation(ctx, eval); err != nil {
			r.logger.Warn("failed to save risk evaluation for %s: %v", req.Symbol, err)
		}
	}

	if eval.Status == domain.RiskRejected {
		r.logger.Warn("%s %s rejected: %s", req.Direction, req.Symbol, eval.RejectionReason)
	} else {
		r.logger.Info("%s %s %s: size %.2f -> %.2f", req.Direction, req.Symbol, eval.Status, req.Size, eval.AdjustedSize)
	}

	return eval, nil
}

func (r *RiskManager) balance(ctx context.Context, accountID string, fallback float64) float64 {
	if r.accounts == nil {
		return fallback
	}
	balance, err := r.accounts.GetBalance(ctx, accountID)
	if err != nil || balance <= 0 {
		r.logger.Warn("balance for account %s unavailable (%v), using default %.2f", accountID, err, fallback)
		return fallback
	}
	return balance
}

func (r *RiskManager) openPositions(ctx context.Context) ([]domain.Position, error) {
	if r.positions == nil {
		return nil, nil
	}
	positions, err := r.positions.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load open positions: %w", err)
	}
	return positions, nil
}

// startOfDay начало текущих суток по UTC
func (r *RiskManager) startOfDay() time.Time {
	now := r.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (r *RiskManager) checkDailyRisk(ctx context.Context, balance float64, positions []domain.Position, limit, defaultStopPct float64) (domain.DailyRiskCheck, error) {
	risk := 0.0
	for _, p := range positions {
		risk += PositionRisk(p, defaultStopPct)
	}

	if r.history != nil {
		trades, err := r.history.GetClosedTrades(ctx, domain.SymbolAll, r.startOfDay())
		if err != nil {
			return domain.DailyRiskCheck{}, fmt.Errorf("failed to load closed trades: %w", err)
		}
		for _, t := range trades {
			if t.ProfitLoss < 0 {
				risk += -t.ProfitLoss
			}
		}
	}

	pct := 0.0
	if balance > 0 {
		pct = roundTo(risk/balance*100, 4)
	}

	return domain.DailyRiskCheck{
		RiskPercent:  pct,
		Limit:        limit,
		LimitReached: pct >= limit,
		Warning:      pct < limit && pct >= limit*dailyWarningRatio,
	}, nil
}

// PositionRisk денежный риск открытой позиции: расстояние до стопа или
// default_stop_pct от цены входа, если стоп не задан
func PositionRisk(p domain.Position, defaultStopPct float64) float64 {
	if p.StopLevel != nil && *p.StopLevel > 0 {
		return p.Size * math.Abs(p.Level-*p.StopLevel)
	}
	return p.Size * p.Level * defaultStopPct
}

func (r *RiskManager) checkDrawdown(ctx context.Context, accountID string, balance, threshold float64) domain.DrawdownCheck {
	check := domain.DrawdownCheck{Threshold: threshold, Status: domain.DrawdownNormal, Action: domain.ActionNone}

	if r.accounts == nil {
		return check
	}
	peak, err := r.accounts.GetPeakBalance(ctx, accountID)
	if err != nil {
		r.logger.Debug("peak balance for account %s unavailable: %v", accountID, err)
		return check
	}

	check.DrawdownPercent = roundTo(DrawdownPercent(balance, peak), 4)
	check.Status, check.Action = ClassifyDrawdown(check.DrawdownPercent, threshold)
	return check
}

// ClassifyDrawdown статус и действие по просадке относительно порога
func ClassifyDrawdown(drawdownPct, threshold float64) (status, action string) {
	switch {
	case drawdownPct >= threshold:
		return domain.DrawdownCritical, domain.ActionHaltTrading
	case drawdownPct >= threshold*drawdownWarningRatio:
		return domain.DrawdownWarning, domain.ActionReduceSize
	case drawdownPct >= threshold*drawdownCautionRatio:
		return domain.DrawdownCaution, domain.ActionMonitor
	default:
		return domain.DrawdownNormal, domain.ActionNone
	}
}

func (r *RiskManager) checkCorrelation(ctx context.Context, symbol string, positions []domain.Position, threshold float64, windowDays int) domain.CorrelationCheck {
	check := domain.CorrelationCheck{Level: domain.CorrelationLow}

	for _, p := range positions {
		corr := 1.0
		if p.Epic != symbol {
			if r.correlations == nil {
				continue
			}
			var err error
			corr, err = r.correlations.GetCorrelation(ctx, symbol, p.Epic, windowDays)
			if err != nil {
				r.logger.Debug("no correlation for %s/%s: %v", symbol, p.Epic, err)
				continue
			}
		}

		if math.Abs(corr) > threshold {
			check.Exposure += math.Abs(corr * p.Size)
			check.CorrelatedSymbols = append(check.CorrelatedSymbols, p.Epic)
		}
	}

	check.Exposure = roundTo(check.Exposure, 4)
	switch {
	case check.Exposure > correlationHighExposure:
		check.Level = domain.CorrelationHigh
	case check.Exposure > correlationMediumExposure:
		check.Level = domain.CorrelationMedium
	}
	return check
}

func (r *RiskManager) halt(reason string) {
	r.mu.RLock()
	fn := r.onHalt
	r.mu.RUnlock()

	r.logger.Error("trading halt requested: %s", reason)
	if fn != nil {
		fn(reason)
	}
}

// StopBuffer доля расстояния до стопа, на которую стоп расширяется
func StopBuffer(level domain.VolatilityLevel) float64 {
	switch level {
	case domain.VolatilityHigh:
		return 0.05
	case domain.VolatilityLow:
		return 0.02
	default:
		return 0.03
	}
}

// AdjustStopLoss расширяет стоп на буфер, зависящий от волатильности.
// Стоп никогда не приближается к цене; некорректный стоп возвращается без изменений.
func (r *RiskManager) AdjustStopLoss(symbol string, currentPrice, originalStop float64, direction string, level domain.VolatilityLevel) float64 {
	distance := math.Abs(currentPrice - originalStop)
	if distance == 0 || currentPrice <= 0 {
		return originalStop
	}
	buffer := distance * StopBuffer(level)

	var adjusted float64
	switch direction {
	case domain.DirectionBuy:
		if originalStop >= currentPrice {
			return originalStop
		}
		adjusted = originalStop - buffer
	case domain.DirectionSell:
		if originalStop <= currentPrice {
			return originalStop
		}
		adjusted = originalStop + buffer
	default:
		return originalStop
	}

	adjusted = roundTo(adjusted, 5)
	r.logger.Debug("%s %s stop %.5f -> %.5f (%s)", symbol, direction, originalStop, adjusted, level)
	return adjusted
}

// RiskStatus сводка риска счета
func (r *RiskManager) RiskStatus(ctx context.Context, accountID string) (*RiskSummary, error) {
	profile := r.policy.Profile()
	balance := r.balance(ctx, accountID, profile.DefaultBalance)

	positions, err := r.openPositions(ctx)
	if err != nil {
		return nil, err
	}
	daily, err := r.checkDailyRisk(ctx, balance, positions, profile.MaxDailyRisk, profile.DefaultStopPct)
	if err != nil {
		return nil, err
	}

	summary := &RiskSummary{
		AccountID:     accountID,
		Profile:       profile.ProfileName,
		Balance:       balance,
		OpenPositions: len(positions),
		DailyRisk:     daily,
		Drawdown:      r.checkDrawdown(ctx, accountID, balance, profile.MaxDrawdownThreshold),
	}
	if r.accounts != nil {
		if peak, err := r.accounts.GetPeakBalance(ctx, accountID); err == nil {
			summary.PeakBalance = peak
		}
	}
	return summary, nil
}
