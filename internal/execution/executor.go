package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/policy"
	"github.com/kirillm/jamso-engine/internal/strategy"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

var (
	ErrSlippageTooHigh  = errors.New("slippage exceeds threshold")
	ErrPriceUnavailable = errors.New("unable to get price from any source")
)

// Статус сделки в подтверждении брокера
const dealStatusRejected = "REJECTED"

// Broker интерфейс брокера для размещения ордеров
type Broker interface {
	OrderPlacer
	GetDealConfirmation(ctx context.Context, dealReference string) (*domain.DealConfirmation, error)
}

// Sizer рассчитывает размер позиции
type Sizer interface {
	CalculatePositionSize(ctx context.Context, req strategy.SizingRequest) (*domain.PositionSizingDecision, error)
}

// RiskEvaluator оценивает риск сделки и корректирует стоп
type RiskEvaluator interface {
	EvaluateTradeRisk(ctx context.Context, req strategy.TradeRequest, accountID string) (*domain.RiskEvaluation, error)
	AdjustStopLoss(symbol string, currentPrice, originalStop float64, direction string, level domain.VolatilityLevel) float64
}

// ResultNotifier уведомляет о результате обработки сигнала.
// signal равен nil, если сигнал не удалось разобрать.
type ResultNotifier interface {
	NotifyResult(ctx context.Context, signal *Signal, result Result) error
}

// Deps зависимости executor. Prices, KillSwitch, хранилища и Notifier опциональны.
type Deps struct {
	Broker     Broker
	Regimes    strategy.RegimeSource
	Sizer      Sizer
	Risk       RiskEvaluator
	Prices     QuoteSource
	KillSwitch *KillSwitch
	Slippage   *SlippageGuard
	Signals    domain.SignalStore
	Trades     domain.TradeStore
	Notifier   ResultNotifier
	Profiles   strategy.ProfileSource

	// DefaultAccountID используется, если сигнал не содержит account_id
	DefaultAccountID string
	Logger           *utils.Logger
}

// Result результат обработки сигнала, возвращается вызывающему вебхуку как есть
type Result struct {
	Status        string                         `json:"status"`
	Code          string                         `json:"code,omitempty"`
	Message       string                         `json:"message,omitempty"`
	SignalID      string                         `json:"signal_id,omitempty"`
	Symbol        string                         `json:"symbol,omitempty"`
	Direction     string                         `json:"direction,omitempty"`
	RequestedSize float64                        `json:"requested_size,omitempty"`
	Size          float64                        `json:"size,omitempty"`
	DealReference string                         `json:"deal_reference,omitempty"`
	DealID        string                         `json:"deal_id,omitempty"`
	DealStatus    string                         `json:"deal_status,omitempty"`
	Level         float64                        `json:"level,omitempty"`
	StopLevel     *float64                       `json:"stop_level,omitempty"`
	ProfitLevel   *float64                       `json:"profit_level,omitempty"`
	RegimeID      *int                           `json:"regime_id,omitempty"`
	Volatility    string                         `json:"volatility,omitempty"`
	Sizing        *domain.PositionSizingDecision `json:"sizing,omitempty"`
	Risk          *domain.RiskEvaluation         `json:"risk,omitempty"`
	Slippage      float64                        `json:"slippage_percent,omitempty"`
	Attempts      int                            `json:"attempts,omitempty"`
	Corrections   []string                       `json:"corrections,omitempty"`
	Warnings      []string                       `json:"warnings,omitempty"`
	ProcessedAt   time.Time                      `json:"processed_at"`
}

// OK сигнал исполнен
func (r Result) OK() bool {
	return r.Status == domain.ResultOK
}

func (r Result) fail(code, message string) Result {
	r.Status = domain.ResultError
	r.Code = code
	r.Message = message
	return r
}

// Executor конвейер принятия торгового решения:
// режим -> размер -> риск -> стоп/тейк -> ордер
type Executor struct {
	broker     Broker
	regimes    strategy.RegimeSource
	sizer      Sizer
	risk       RiskEvaluator
	prices     QuoteSource
	killSwitch *KillSwitch
	slippage   *SlippageGuard
	signals    domain.SignalStore
	trades     domain.TradeStore
	notifier   ResultNotifier
	profiles   strategy.ProfileSource
	accountID  string
	logger     *utils.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewExecutor создает новый executor
func NewExecutor(deps Deps) *Executor {
	slippage := deps.Slippage
	if slippage == nil {
		slippage = NewSlippageGuard(1.0) // 1% default threshold
	}
	return &Executor{
		broker:     deps.Broker,
		regimes:    deps.Regimes,
		sizer:      deps.Sizer,
		risk:       deps.Risk,
		prices:     deps.Prices,
		killSwitch: deps.KillSwitch,
		slippage:   slippage,
		signals:    deps.Signals,
		trades:     deps.Trades,
		notifier:   deps.Notifier,
		profiles:   deps.Profiles,
		accountID:  deps.DefaultAccountID,
		logger:     deps.Logger.With("executor"),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// ProcessSignal обрабатывает сырой сигнал вебхука. Всегда возвращает структурированный результат.
func (e *Executor) ProcessSignal(ctx context.Context, raw map[string]interface{}) Result {
	start := time.Now()
	metricSignalsReceived.Inc()

	signal, result := e.run(ctx, raw)
	result.ProcessedAt = e.now().UTC()

	metricPipelineDuration.Observe(time.Since(start).Seconds())
	if result.OK() {
		e.logger.Info("signal %s: %s", result.SignalID, result.Message)
	} else {
		metricSignalsRejected.WithLabelValues(result.Code).Inc()
		e.logger.Warn("signal %s: %s: %s", result.SignalID, result.Code, result.Message)
	}

	if signal != nil {
		e.updateSignal(ctx, signal, result)
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyResult(ctx, signal, result); err != nil {
			e.logger.Warn("failed to send notification: %v", err)
		}
	}

	return result
}

// run выполняет конвейер и переводит панику в EXECUTION_FAILED
func (e *Executor) run(ctx context.Context, raw map[string]interface{}) (signal *Signal, result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while processing signal: %v", r)
			if signal != nil {
				result = resultFor(signal)
			}
			result = result.fail(domain.CodeExecutionFailed, fmt.Sprintf("unexpected error: %v", r))
		}
	}()

	var err error
	signal, err = ParseSignal(raw)
	if err != nil {
		return nil, Result{}.fail(domain.CodeInvalidSignal, err.Error())
	}
	e.saveSignal(ctx, signal, raw)

	if e.killSwitch != nil && e.killSwitch.IsActive() {
		status := e.killSwitch.Status()
		return signal, resultFor(signal).fail(domain.CodeKillSwitchActive, fmt.Sprintf("%v: %s", domain.ErrKillSwitchActive, status.Reason))
	}

	return signal, e.execute(ctx, signal)
}

func resultFor(s *Signal) Result {
	return Result{
		SignalID:      s.ID,
		Symbol:        s.Symbol,
		Direction:     s.Direction,
		RequestedSize: s.Size,
	}
}

// execute шаги 1-6 конвейера для нормализованного сигнала
func (e *Executor) execute(ctx context.Context, s *Signal) Result {
	res := resultFor(s)

	accountID := s.AccountID
	if accountID == "" {
		accountID = e.accountID
	}

	// 1. Режим волатильности
	regimeID, level := domain.RegimeUnknown, domain.VolatilityUnknown
	if e.regimes != nil {
		regimeID, level = e.regimes.Detect(ctx, s.Symbol)
	}
	res.RegimeID = &regimeID
	res.Volatility = string(level)

	// 2. Размер позиции с учетом режима
	decision, err := e.sizer.CalculatePositionSize(ctx, strategy.SizingRequest{
		Symbol:       s.Symbol,
		AccountID:    accountID,
		OriginalSize: s.Size,
		SignalID:     s.ID,
		Price:        s.Price,
		StopLoss:     s.StopLoss,
		RegimeID:     regimeID,
		Level:        level,
	})
	if err != nil {
		return res.fail(domain.CodeExecutionFailed, fmt.Sprintf("position sizing failed: %v", err))
	}
	res.Sizing = decision
	size := decision.AdjustedSize

	// 3. Оценка риска
	eval, err := e.risk.EvaluateTradeRisk(ctx, strategy.TradeRequest{
		Symbol:    s.Symbol,
		Direction: s.Direction,
		Size:      size,
		Price:     s.Price,
		StopLoss:  s.StopLoss,
	}, accountID)
	if err != nil {
		return res.fail(domain.CodeExecutionFailed, fmt.Sprintf("risk evaluation failed: %v", err))
	}
	res.Risk = eval
	res.Warnings = append(res.Warnings, eval.Warnings...)

	if eval.Status == domain.RiskRejected {
		code := domain.CodeRiskRejected
		if eval.RejectionReason == domain.ReasonSizeTooSmall {
			code = domain.CodeSizeTooSmall
		}
		return res.fail(code, eval.RejectionReason)
	}

	// 4. Размер после риск-менеджера
	if eval.Status == domain.RiskAdjustSize {
		size = eval.AdjustedSize
	}
	res.Size = size

	quote := e.quote(ctx, s.Symbol)

	req := domain.OrderRequest{
		Symbol:       s.Symbol,
		Direction:    s.Direction,
		Size:         size,
		OrderType:    s.OrderType,
		TrailingStop: s.TrailingStop,
	}
	if s.OrderType == domain.OrderTypeLimit {
		req.Level = s.Price
	}

	// 5. Стоп по волатильности и тейк с учетом спреда
	entry := entryPrice(s, quote)
	if s.StopLoss != nil {
		stop := *s.StopLoss
		if entry > 0 {
			stop = e.risk.AdjustStopLoss(s.Symbol, entry, stop, s.Direction, level)
		}
		req.StopLevel = &stop

		if s.TrailingStop && entry > 0 {
			distance := roundPrice(math.Abs(entry - stop))
			req.StopDistance = &distance
			req.StopLevel = nil
		}
	}
	if s.TrailingStop && req.StopDistance == nil {
		e.logger.Warn("%s: trailing stop requested without computable distance, submitting without stopDistance", s.Symbol)
		res.Warnings = append(res.Warnings, "trailing stop submitted without distance")
	}
	if s.TakeProfit != nil {
		tp := adjustTakeProfit(*s.TakeProfit, s.Direction, quote)
		if tp != *s.TakeProfit {
			res.Warnings = append(res.Warnings, fmt.Sprintf("take profit moved from %.5f to %.5f to clear the spread", *s.TakeProfit, tp))
		}
		req.ProfitLevel = &tp
	}

	// 6. Отправка ордера
	sub, err := submitWithRecovery(ctx, e.broker, req, entry, e.maxAttempts(), e.sleep)
	if sub != nil {
		res.Attempts = sub.attempts
		for _, c := range sub.corrections {
			res.Corrections = append(res.Corrections, c.String())
		}
		res.Warnings = append(res.Warnings, sub.warnings...)
		res.StopLevel = sub.request.StopLevel
		res.ProfitLevel = sub.request.ProfitLevel
	}
	if err != nil {
		metricOrdersFailed.Inc()
		code := domain.CodeExecutionFailed
		if isBrokerError(err) {
			code = domain.CodeOrderFailed
		}
		return res.fail(code, err.Error())
	}

	res.DealReference = sub.result.DealReference
	res.Level = sub.result.Level

	if res.DealReference != "" {
		confirmation, err := e.broker.GetDealConfirmation(ctx, res.DealReference)
		if err != nil {
			e.logger.Warn("failed to get deal confirmation %s: %v", res.DealReference, err)
		} else {
			res.DealID = confirmation.DealID
			res.DealStatus = confirmation.DealStatus
			if confirmation.Level > 0 {
				res.Level = confirmation.Level
			}
			if confirmation.Size > 0 {
				res.Size = confirmation.Size
			}
			if confirmation.DealStatus == dealStatusRejected {
				metricOrdersFailed.Inc()
				return res.fail(domain.CodeOrderFailed, fmt.Sprintf("deal %s rejected by broker: %s", res.DealReference, confirmation.Reason))
			}
		}
	}
	metricOrdersPlaced.Inc()

	if res.Level == 0 && quote != nil {
		res.Level = entryPrice(&Signal{Direction: s.Direction}, quote)
	}
	if s.Price != nil && res.Level > 0 {
		res.Slippage = roundPrice(e.slippage.CalculateSlippage(res.Level, *s.Price))
		if err := e.slippage.CheckSlippage(res.Level, *s.Price); err != nil {
			res.Warnings = append(res.Warnings, err.Error())
		}
	}

	e.saveTrade(ctx, s, accountID, res)

	res.Status = domain.ResultOK
	res.Message = fmt.Sprintf("%s %s %.2f placed (ref %s)", s.Direction, s.Symbol, res.Size, res.DealReference)
	return res
}

func (e *Executor) maxAttempts() int {
	if e.profiles == nil {
		return policy.DefaultProfile().MaxOrderAttempts
	}
	return e.profiles.Profile().MaxOrderAttempts
}

// quote текущая котировка, nil если недоступна
func (e *Executor) quote(ctx context.Context, symbol string) *Quote {
	if e.prices == nil {
		return nil
	}
	q, err := e.prices.GetQuote(ctx, symbol)
	if err != nil {
		e.logger.Warn("no market price for %s: %v", symbol, err)
		return nil
	}
	return &q
}

// entryPrice цена входа: цена сигнала, иначе offer для BUY и bid для SELL
func entryPrice(s *Signal, q *Quote) float64 {
	if s.Price != nil {
		return *s.Price
	}
	if q == nil {
		return 0
	}
	if s.Direction == domain.DirectionBuy && q.Offer > 0 {
		return q.Offer
	}
	if s.Direction == domain.DirectionSell && q.Bid > 0 {
		return q.Bid
	}
	return q.Mid()
}

// adjustTakeProfit отодвигает тейк минимум на один спред от стороны входа
func adjustTakeProfit(tp float64, direction string, q *Quote) float64 {
	if q == nil {
		return tp
	}
	spread := q.Spread()
	if spread <= 0 {
		return tp
	}
	switch direction {
	case domain.DirectionBuy:
		if floor := q.Offer + spread; tp < floor {
			return roundPrice(floor)
		}
	case domain.DirectionSell:
		if ceiling := q.Bid - spread; tp > ceiling && ceiling > 0 {
			return roundPrice(ceiling)
		}
	}
	return tp
}

func roundPrice(v float64) float64 {
	return decimal.NewFromFloat(v).Round(5).InexactFloat64()
}

// isBrokerError ошибка пришла от брокера или сессии, а не из логики конвейера
func isBrokerError(err error) bool {
	var apiErr *domain.APIError
	return errors.As(err, &apiErr) ||
		errors.Is(err, domain.ErrNotAuthenticated) ||
		errors.Is(err, domain.ErrTooManySessions)
}

func (e *Executor) saveSignal(ctx context.Context, s *Signal, raw map[string]interface{}) {
	if e.signals == nil {
		return
	}
	if err := e.signals.SaveSignal(ctx, s.Record(raw)); err != nil {
		e.logger.Warn("failed to save signal %s: %v", s.ID, err)
	}
}

func (e *Executor) updateSignal(ctx context.Context, s *Signal, res Result) {
	if e.signals == nil {
		return
	}
	if err := e.signals.UpdateSignalStatus(ctx, s.ID, signalStatus(res), res.Message); err != nil {
		e.logger.Warn("failed to update signal %s: %v", s.ID, err)
	}
}

// signalStatus статус сигнала по результату: бизнес-отказы REJECTED, сбои FAILED
func signalStatus(res Result) string {
	switch res.Code {
	case "":
		return domain.StatusExecuted
	case domain.CodeInvalidSignal, domain.CodeRiskRejected, domain.CodeSizeTooSmall, domain.CodeKillSwitchActive:
		return domain.StatusRejected
	default:
		return domain.StatusFailed
	}
}

func (e *Executor) saveTrade(ctx context.Context, s *Signal, accountID string, res Result) {
	if e.trades == nil {
		return
	}
	trade := &domain.TradeRecord{
		SignalID:      s.ID,
		AccountID:     accountID,
		Symbol:        s.Symbol,
		Direction:     s.Direction,
		Size:          res.Size,
		EntryPrice:    res.Level,
		StopLevel:     res.StopLevel,
		ProfitLevel:   res.ProfitLevel,
		DealReference: res.DealReference,
		DealID:        res.DealID,
		Status:        domain.StatusOpen,
		OpenedAt:      e.now().UTC(),
	}
	if err := e.trades.SaveTrade(ctx, trade); err != nil {
		e.logger.Warn("failed to save trade %s: %v", res.DealReference, err)
	}
}
