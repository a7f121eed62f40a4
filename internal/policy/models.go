package policy

// Profile представляет профиль риск-менеджмента.
// Проценты задаются в процентах (5 = 5%), доли в долях (0.01 = 1%).
type Profile struct {
	ProfileName          string  `yaml:"profile_name" json:"profile_name"`
	MaxDailyRisk         float64 `yaml:"max_daily_risk" json:"max_daily_risk"`                 // % баланса
	MaxDrawdownThreshold float64 `yaml:"max_drawdown_threshold" json:"max_drawdown_threshold"` // % от пика
	CorrelationThreshold float64 `yaml:"correlation_threshold" json:"correlation_threshold"`
	MaxPositionSize      float64 `yaml:"max_position_size" json:"max_position_size"`
	MinPositionSize      float64 `yaml:"min_position_size" json:"min_position_size"`
	RiskPerTrade         float64 `yaml:"risk_per_trade" json:"risk_per_trade"`     // доля баланса
	DefaultStopPct       float64 `yaml:"default_stop_pct" json:"default_stop_pct"` // доля цены
	DefaultBalance       float64 `yaml:"default_balance" json:"default_balance"`
	MaxOrderAttempts     int     `yaml:"max_order_attempts" json:"max_order_attempts"`
	CorrelationWindow    int     `yaml:"correlation_window_days" json:"correlation_window_days"`
}

const (
	ProfileConservative = "conservative"
	ProfileModerate     = "moderate"
	ProfileAggressive   = "aggressive"
)

// DefaultProfile встроенный moderate профиль
func DefaultProfile() Profile {
	return Profile{
		ProfileName:          ProfileModerate,
		MaxDailyRisk:         5,
		MaxDrawdownThreshold: 20,
		CorrelationThreshold: 0.7,
		MaxPositionSize:      100,
		MinPositionSize:      0.1,
		RiskPerTrade:         0.01,
		DefaultStopPct:       0.02,
		DefaultBalance:       10000,
		MaxOrderAttempts:     3,
		CorrelationWindow:    30,
	}
}

// withDefaults заполняет незаданные поля значениями по умолчанию
func (p Profile) withDefaults() Profile {
	d := DefaultProfile()
	if p.MaxDailyRisk <= 0 {
		p.MaxDailyRisk = d.MaxDailyRisk
	}
	if p.MaxDrawdownThreshold <= 0 {
		p.MaxDrawdownThreshold = d.MaxDrawdownThreshold
	}
	if p.CorrelationThreshold <= 0 {
		p.CorrelationThreshold = d.CorrelationThreshold
	}
	if p.MaxPositionSize <= 0 {
		p.MaxPositionSize = d.MaxPositionSize
	}
	if p.MinPositionSize <= 0 {
		p.MinPositionSize = d.MinPositionSize
	}
	if p.RiskPerTrade <= 0 {
		p.RiskPerTrade = d.RiskPerTrade
	}
	if p.DefaultStopPct <= 0 {
		p.DefaultStopPct = d.DefaultStopPct
	}
	if p.DefaultBalance <= 0 {
		p.DefaultBalance = d.DefaultBalance
	}
	if p.MaxOrderAttempts <= 0 {
		p.MaxOrderAttempts = d.MaxOrderAttempts
	}
	if p.CorrelationWindow <= 0 {
		p.CorrelationWindow = d.CorrelationWindow
	}
	return p
}
