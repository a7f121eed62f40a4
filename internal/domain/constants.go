package domain

// Trade directions
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// Order types
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Time in force
const (
	TimeInForceFillOrKill        = "FILL_OR_KILL"
	TimeInForceGoodTillCancelled = "GOOD_TILL_CANCELLED"
)

// Trade / signal statuses
const (
	StatusReceived = "RECEIVED"
	StatusRejected = "REJECTED"
	StatusExecuted = "EXECUTED"
	StatusFailed   = "FAILED"
	StatusOpen     = "OPEN"
	StatusClosed   = "CLOSED"
)

// Special symbols
const (
	SymbolAll = "ALL"
)

// Log levels
const (
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
)

// VolatilityLevel уровень волатильности режима
type VolatilityLevel string

const (
	VolatilityLow     VolatilityLevel = "LOW"
	VolatilityMedium  VolatilityLevel = "MEDIUM"
	VolatilityHigh    VolatilityLevel = "HIGH"
	VolatilityUnknown VolatilityLevel = "UNKNOWN"
)

// RegimeUnknown возвращается детектором, когда режим определить не удалось
const RegimeUnknown = -1

// RiskStatus итог оценки риска сделки
type RiskStatus string

const (
	RiskAcceptable RiskStatus = "ACCEPTABLE"
	RiskAdjustSize RiskStatus = "ADJUST_SIZE"
	RiskRejected   RiskStatus = "REJECTED"
)

// Drawdown statuses and actions
const (
	DrawdownNormal   = "NORMAL"
	DrawdownCaution  = "CAUTION"
	DrawdownWarning  = "WARNING"
	DrawdownCritical = "CRITICAL"

	ActionNone        = "NONE"
	ActionMonitor     = "MONITOR"
	ActionReduceSize  = "REDUCE_SIZE"
	ActionHaltTrading = "HALT_TRADING"
)

// Correlation risk levels
const (
	CorrelationLow    = "LOW"
	CorrelationMedium = "MEDIUM"
	CorrelationHigh   = "HIGH"
)

// Rejection reasons
const (
	ReasonDailyLimit       = "Daily risk limit reached"
	ReasonCriticalDrawdown = "Critical drawdown reached"
	ReasonSizeTooSmall     = "Adjusted size too small"
)

// Result statuses and error codes returned to webhook callers
const (
	ResultOK    = "ok"
	ResultError = "error"

	CodeInvalidSignal    = "INVALID_SIGNAL"
	CodeRiskRejected     = "RISK_REJECTED"
	CodeSizeTooSmall     = "SIZE_TOO_SMALL"
	CodeKillSwitchActive = "KILL_SWITCH_ACTIVE"
	CodeOrderFailed      = "ORDER_FAILED"
	CodeExecutionFailed  = "EXECUTION_FAILED"

	CodeAuthFailed         = "AUTH_FAILED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeConnectionFailed   = "CONNECTION_FAILED"
	CodeSessionLimit       = "SESSION_LIMIT_EXCEEDED"
	CodeCredentialsMissing = "CREDENTIALS_MISSING"
)

// Capital.com constants
const (
	CapitalService     = "capital_com"
	CapitalKeyAPIKey   = "api_key"
	CapitalKeyUsername = "username"
	CapitalKeyPassword = "password"

	HeaderAPIKey        = "X-CAP-API-KEY"
	HeaderCST           = "CST"
	HeaderSecurityToken = "X-SECURITY-TOKEN"
)

// Ключи config_params
const (
	ConfigKeyRiskProfile = "risk_profile"
)
