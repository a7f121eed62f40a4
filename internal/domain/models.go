package domain

import "time"

// Candle представляет OHLCV свечу
type Candle struct {
	Symbol    string    `db:"symbol"`
	Timestamp time.Time `db:"timestamp"`
	Open      float64   `db:"open"`
	High      float64   `db:"high"`
	Low       float64   `db:"low"`
	Close     float64   `db:"close"`
	Volume    float64   `db:"volume"`
}

// OrderRequest запрос на открытие позиции или выставление лимитного ордера.
// Опциональные поля равны nil, если не заданы.
type OrderRequest struct {
	Symbol         string
	Direction      string // "BUY" or "SELL"
	Size           float64
	OrderType      string   // "MARKET" or "LIMIT"
	Level          *float64 // цена для LIMIT
	StopLevel      *float64
	ProfitLevel    *float64
	StopDistance   *float64
	ProfitDistance *float64
	GuaranteedStop bool
	TrailingStop   bool
}

// OrderResult результат размещения ордера
type OrderResult struct {
	DealReference string  `json:"deal_reference"`
	DealID        string  `json:"deal_id,omitempty"`
	Status        string  `json:"status,omitempty"`
	Epic          string  `json:"epic"`
	Direction     string  `json:"direction"`
	Size          float64 `json:"size"`
	Level         float64 `json:"level,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// DealConfirmation подтверждение сделки брокером
type DealConfirmation struct {
	DealReference string  `json:"dealReference"`
	DealID        string  `json:"dealId"`
	DealStatus    string  `json:"dealStatus"`
	Status        string  `json:"status"`
	Reason        string  `json:"reason"`
	Epic          string  `json:"epic"`
	Direction     string  `json:"direction"`
	Size          float64 `json:"size"`
	Level         float64 `json:"level"`
}

// Position открытая позиция у брокера
type Position struct {
	DealID         string    `json:"deal_id"`
	DealReference  string    `json:"deal_reference,omitempty"`
	Epic           string    `json:"epic"`
	InstrumentName string    `json:"instrument_name,omitempty"`
	Direction      string    `json:"direction"`
	Size           float64   `json:"size"`
	Level          float64   `json:"level"`
	StopLevel      *float64  `json:"stop_level,omitempty"`
	ProfitLevel    *float64  `json:"profit_level,omitempty"`
	TrailingStop   bool      `json:"trailing_stop"`
	GuaranteedStop bool      `json:"guaranteed_stop"`
	Currency       string    `json:"currency,omitempty"`
	UPL            float64   `json:"upl"`
	Bid            float64   `json:"bid"`
	Offer          float64   `json:"offer"`
	CreatedAt      time.Time `json:"created_at"`
}

// CurrentPrice возвращает текущую цену позиции со стороны закрытия
func (p *Position) CurrentPrice() float64 {
	if p.Direction == DirectionBuy && p.Bid > 0 {
		return p.Bid
	}
	if p.Direction == DirectionSell && p.Offer > 0 {
		return p.Offer
	}
	return p.Level
}

// PositionUpdate изменяемые поля позиции
type PositionUpdate struct {
	StopLevel      *float64
	ProfitLevel    *float64
	StopDistance   *float64
	ProfitDistance *float64
	GuaranteedStop *bool
	TrailingStop   *bool
}

// MarketSnapshot текущие котировки инструмента
type MarketSnapshot struct {
	Epic           string    `json:"epic"`
	InstrumentName string    `json:"instrument_name"`
	MarketStatus   string    `json:"market_status"`
	Bid            float64   `json:"bid"`
	Offer          float64   `json:"offer"`
	MinDealSize    float64   `json:"min_deal_size"`
	MaxDealSize    float64   `json:"max_deal_size"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Mid средняя цена
func (m *MarketSnapshot) Mid() float64 {
	return (m.Bid + m.Offer) / 2
}

// Spread спред
func (m *MarketSnapshot) Spread() float64 {
	return m.Offer - m.Bid
}

// Account торговый счет
type Account struct {
	AccountID   string  `json:"account_id"`
	AccountName string  `json:"account_name"`
	Preferred   bool    `json:"preferred"`
	Currency    string  `json:"currency"`
	Balance     float64 `json:"balance"`
	Deposit     float64 `json:"deposit"`
	ProfitLoss  float64 `json:"profit_loss"`
	Available   float64 `json:"available"`
}

// ClosedTrade закрытая сделка для расчета win rate и дневных убытков
type ClosedTrade struct {
	Symbol     string    `db:"symbol"`
	ProfitLoss float64   `db:"profit_loss"`
	Timestamp  time.Time `db:"closed_at"`
}

// VolatilityRegime текущий режим волатильности по символу.
// RegimeID == nil означает, что запись не содержит режима.
type VolatilityRegime struct {
	ID              int64              `db:"id"`
	Symbol          string             `db:"symbol"`
	RegimeID        *int               `db:"regime_id"`
	VolatilityLevel VolatilityLevel    `db:"volatility_level"`
	Description     string             `db:"description"`
	FeatureAverages map[string]float64 `db:"feature_averages"` // JSON
	TrainedAt       time.Time          `db:"trained_at"`
}

// PositionSizingDecision результат расчета размера позиции. Не изменяется после создания.
type PositionSizingDecision struct {
	ID                    int64     `db:"id" json:"-"`
	SignalID              string    `db:"signal_id" json:"signal_id,omitempty"`
	Symbol                string    `db:"symbol" json:"symbol"`
	AccountID             string    `db:"account_id" json:"account_id"`
	OriginalSize          float64   `db:"original_size" json:"original_size"`
	AdjustedSize          float64   `db:"adjusted_size" json:"adjusted_size"`
	RegimeID              int       `db:"regime_id" json:"regime_id"`
	VolatilityLevel       string    `db:"volatility_level" json:"volatility_level"`
	RegimeFactor          float64   `db:"regime_factor" json:"regime_factor"`
	PerformanceFactor     float64   `db:"performance_factor" json:"performance_factor"`
	DrawdownFactor        float64   `db:"drawdown_factor" json:"drawdown_factor"`
	RiskCapSize           float64   `db:"risk_cap_size" json:"risk_cap_size,omitempty"`
	TotalAdjustmentFactor float64   `db:"total_adjustment_factor" json:"total_adjustment_factor"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// DailyRiskCheck результат проверки дневного лимита риска
type DailyRiskCheck struct {
	RiskPercent  float64 `json:"risk_percent"`
	Limit        float64 `json:"limit"`
	LimitReached bool    `json:"limit_reached"`
	Warning      bool    `json:"warning"`
}

// DrawdownCheck результат проверки просадки
type DrawdownCheck struct {
	DrawdownPercent float64 `json:"drawdown_percent"`
	Threshold       float64 `json:"threshold"`
	Status          string  `json:"status"` // NORMAL, CAUTION, WARNING, CRITICAL
	Action          string  `json:"action"` // NONE, MONITOR, REDUCE_SIZE, HALT_TRADING
}

// CorrelationCheck результат проверки корреляционной экспозиции
type CorrelationCheck struct {
	Exposure          float64  `json:"exposure"`
	Level             string   `json:"level"` // LOW, MEDIUM, HIGH
	CorrelatedSymbols []string `json:"correlated_symbols,omitempty"`
}

// RiskEvaluation результат оценки риска сделки
type RiskEvaluation struct {
	ID                   string           `db:"id" json:"id"`
	Symbol               string           `db:"symbol" json:"symbol"`
	AccountID            string           `db:"account_id" json:"account_id"`
	Direction            string           `db:"direction" json:"direction"`
	Status               RiskStatus       `db:"status" json:"status"`
	RejectionReason      string           `db:"rejection_reason" json:"rejection_reason,omitempty"`
	OriginalSize         float64          `db:"original_size" json:"original_size"`
	AdjustedSize         float64          `db:"adjusted_size" json:"adjusted_size"`
	SizeAdjustmentFactor float64          `db:"size_adjustment_factor" json:"size_adjustment_factor"`
	DailyRisk            DailyRiskCheck   `db:"daily_risk" json:"daily_risk"`
	Drawdown             DrawdownCheck    `db:"drawdown" json:"drawdown"`
	CorrelationRisk      CorrelationCheck `db:"correlation_risk" json:"correlation_risk"`
	Warnings             []string         `db:"warnings" json:"warnings,omitempty"`
	EvaluatedAt          time.Time        `db:"evaluated_at" json:"evaluated_at"`
}

// SignalRecord входящий торговый сигнал
type SignalRecord struct {
	ID         string    `db:"id"`
	Symbol     string    `db:"symbol"`
	Direction  string    `db:"direction"`
	Size       float64   `db:"size"`
	Price      *float64  `db:"price"`
	StopLoss   *float64  `db:"stop_loss"`
	TakeProfit *float64  `db:"take_profit"`
	AccountID  string    `db:"account_id"`
	Raw        string    `db:"raw"` // JSON
	Status     string    `db:"status"`
	Message    string    `db:"message"`
	ReceivedAt time.Time `db:"received_at"`
}

// TradeRecord исполненная сделка
type TradeRecord struct {
	ID            int64      `db:"id"`
	SignalID      string     `db:"signal_id"`
	AccountID     string     `db:"account_id"`
	Symbol        string     `db:"symbol"`
	Direction     string     `db:"direction"`
	Size          float64    `db:"size"`
	EntryPrice    float64    `db:"entry_price"`
	StopLevel     *float64   `db:"stop_level"`
	ProfitLevel   *float64   `db:"profit_level"`
	DealReference string     `db:"deal_reference"`
	DealID        string     `db:"deal_id"`
	Status        string     `db:"status"`
	ProfitLoss    float64    `db:"profit_loss"`
	OpenedAt      time.Time  `db:"opened_at"`
	ClosedAt      *time.Time `db:"closed_at"`
}

// Log представляет системное событие
type Log struct {
	ID        int64     `db:"id"`
	Level     string    `db:"level"` // "INFO", "WARN", "ERROR"
	Message   string    `db:"message"`
	Data      string    `db:"data"` // JSON
	CreatedAt time.Time `db:"created_at"`
}

// KillSwitchEvent активация аварийной остановки
type KillSwitchEvent struct {
	ID            int64      `db:"id" json:"id"`
	Reason        string     `db:"reason" json:"reason"`
	ActivatedAt   time.Time  `db:"activated_at" json:"activated_at"`
	DeactivatedAt *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
}
