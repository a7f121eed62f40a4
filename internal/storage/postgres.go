package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/storage/repository"
)

var (
	_ domain.AccountStore     = (*PostgresStorage)(nil)
	_ domain.TradeHistory     = (*PostgresStorage)(nil)
	_ domain.CorrelationStore = (*PostgresStorage)(nil)
	_ domain.RegimeStore      = (*PostgresStorage)(nil)
	_ domain.CandleStore      = (*PostgresStorage)(nil)
	_ domain.AuditStore       = (*PostgresStorage)(nil)
	_ domain.SignalStore      = (*PostgresStorage)(nil)
	_ domain.TradeStore       = (*PostgresStorage)(nil)
	_ domain.KillSwitchStore  = (*PostgresStorage)(nil)
	_ domain.LogRepository    = (*PostgresStorage)(nil)
)

// PostgresStorage является фасадом для работы с PostgreSQL через репозитории
type PostgresStorage struct {
	db           *sql.DB
	signals      *repository.SignalRepository
	trades       *repository.TradeRepository
	balances     *repository.BalanceRepository
	correlations *repository.CorrelationRepository
	marketData   *repository.MarketDataRepository
	regimes      *repository.RegimeRepository
	audit        *repository.AuditRepository
	killSwitch   *repository.KillSwitchRepository
	config       *repository.ConfigRepository
	logs         *repository.LogRepository
}

func NewPostgresStorage(host string, port int, user, password, dbname, sslmode string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabaseConnection, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping failed: %v", domain.ErrDatabaseConnection, err)
	}

	// Настройка connection pool из конфигурации
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	storage := New(db)

	// Запускаем миграции
	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// New создает фасад поверх открытого соединения без миграций
func New(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{
		db:           db,
		signals:      repository.NewSignalRepository(db),
		trades:       repository.NewTradeRepository(db),
		balances:     repository.NewBalanceRepository(db),
		correlations: repository.NewCorrelationRepository(db),
		marketData:   repository.NewMarketDataRepository(db),
		regimes:      repository.NewRegimeRepository(db),
		audit:        repository.NewAuditRepository(db),
		killSwitch:   repository.NewKillSwitchRepository(db),
		config:       repository.NewConfigRepository(db),
		logs:         repository.NewLogRepository(db),
	}
}

func (s *PostgresStorage) migrate() error {
	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

var migrations = []string{
	// Входящие сигналы вебхука
	`CREATE TABLE IF NOT EXISTS signals (
		id VARCHAR(64) PRIMARY KEY,
		symbol VARCHAR(32) NOT NULL,
		direction VARCHAR(4) NOT NULL,
		size DECIMAL(20, 8) NOT NULL,
		price DECIMAL(20, 8),
		stop_loss DECIMAL(20, 8),
		take_profit DECIMAL(20, 8),
		account_id VARCHAR(64) NOT NULL DEFAULT '',
		raw JSONB,
		status VARCHAR(20) NOT NULL,
		message TEXT,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	)`,
	// Исполненные сделки, profit_loss и closed_at заполняются при закрытии
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		signal_id VARCHAR(64),
		account_id VARCHAR(64) NOT NULL DEFAULT '',
		symbol VARCHAR(32) NOT NULL,
		direction VARCHAR(4) NOT NULL,
		size DECIMAL(20, 8) NOT NULL,
		entry_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
		stop_level DECIMAL(20, 8),
		profit_level DECIMAL(20, 8),
		deal_reference VARCHAR(100) NOT NULL,
		deal_id VARCHAR(100),
		status VARCHAR(20) NOT NULL,
		profit_loss DECIMAL(20, 8) NOT NULL DEFAULT 0,
		opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		closed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS account_balances (
		account_id VARCHAR(64) PRIMARY KEY,
		currency VARCHAR(10) NOT NULL DEFAULT '',
		balance DECIMAL(20, 8) NOT NULL,
		peak_balance DECIMAL(20, 8) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// Пара хранится с symbol_a < symbol_b
	`CREATE TABLE IF NOT EXISTS correlations (
		symbol_a VARCHAR(32) NOT NULL,
		symbol_b VARCHAR(32) NOT NULL,
		window_days INTEGER NOT NULL,
		value DECIMAL(6, 4) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (symbol_a, symbol_b, window_days)
	)`,
	`CREATE TABLE IF NOT EXISTS market_data (
		symbol VARCHAR(32) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		open DECIMAL(20, 8) NOT NULL,
		high DECIMAL(20, 8) NOT NULL,
		low DECIMAL(20, 8) NOT NULL,
		close DECIMAL(20, 8) NOT NULL,
		volume DECIMAL(24, 8) NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, timestamp)
	)`,
	`CREATE TABLE IF NOT EXISTS volatility_regimes (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(32) NOT NULL,
		regime_id INTEGER,
		volatility_level VARCHAR(10) NOT NULL,
		description TEXT,
		feature_averages JSONB,
		trained_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS position_sizing_decisions (
		id BIGSERIAL PRIMARY KEY,
		signal_id VARCHAR(64),
		symbol VARCHAR(32) NOT NULL,
		account_id VARCHAR(64) NOT NULL DEFAULT '',
		original_size DECIMAL(20, 8) NOT NULL,
		adjusted_size DECIMAL(20, 8) NOT NULL,
		regime_id INTEGER NOT NULL,
		volatility_level VARCHAR(10) NOT NULL,
		regime_factor DECIMAL(6, 4) NOT NULL,
		performance_factor DECIMAL(6, 4) NOT NULL,
		drawdown_factor DECIMAL(6, 4) NOT NULL,
		risk_cap_size DECIMAL(20, 8) NOT NULL DEFAULT 0,
		total_adjustment_factor DECIMAL(10, 4) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS risk_evaluations (
		id VARCHAR(64) PRIMARY KEY,
		symbol VARCHAR(32) NOT NULL,
		account_id VARCHAR(64) NOT NULL DEFAULT '',
		direction VARCHAR(4) NOT NULL,
		status VARCHAR(20) NOT NULL,
		rejection_reason TEXT,
		original_size DECIMAL(20, 8) NOT NULL,
		adjusted_size DECIMAL(20, 8) NOT NULL,
		size_adjustment_factor DECIMAL(6, 4) NOT NULL,
		checks JSONB NOT NULL,
		warnings TEXT[],
		evaluated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS kill_switch_events (
		id BIGSERIAL PRIMARY KEY,
		reason TEXT NOT NULL,
		activated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deactivated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS config_params (
		id SERIAL PRIMARY KEY,
		key VARCHAR(100) NOT NULL UNIQUE,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id BIGSERIAL PRIMARY KEY,
		level VARCHAR(10) NOT NULL,
		message TEXT NOT NULL,
		data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// Индексы
	`CREATE INDEX IF NOT EXISTS idx_signals_received_at ON signals(received_at)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol_closed_at ON trades(symbol, closed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_deal_id ON trades(deal_id)`,
	`CREATE INDEX IF NOT EXISTS idx_volatility_regimes_symbol ON volatility_regimes(symbol, trained_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sizing_decisions_created_at ON position_sizing_decisions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_evaluations_evaluated_at ON risk_evaluations(evaluated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs(created_at)`,
}

// ==================== ACCOUNTS ====================

func (s *PostgresStorage) GetBalance(ctx context.Context, accountID string) (float64, error) {
	balance, _, err := s.balances.Get(ctx, accountID)
	return balance, err
}

func (s *PostgresStorage) GetPeakBalance(ctx context.Context, accountID string) (float64, error) {
	_, peak, err := s.balances.Get(ctx, accountID)
	return peak, err
}

func (s *PostgresStorage) UpdateBalance(ctx context.Context, accountID, currency string, balance float64) error {
	return s.balances.Update(ctx, accountID, currency, balance)
}

// ==================== SIGNALS ====================

func (s *PostgresStorage) SaveSignal(ctx context.Context, signal *domain.SignalRecord) error {
	return s.signals.Save(ctx, signal)
}

func (s *PostgresStorage) UpdateSignalStatus(ctx context.Context, id, status, message string) error {
	return s.signals.UpdateStatus(ctx, id, status, message)
}

func (s *PostgresStorage) GetRecentSignals(ctx context.Context, limit int) ([]domain.SignalRecord, error) {
	return s.signals.GetRecent(ctx, limit)
}

// ==================== TRADES ====================

func (s *PostgresStorage) SaveTrade(ctx context.Context, trade *domain.TradeRecord) error {
	return s.trades.Save(ctx, trade)
}

func (s *PostgresStorage) CloseTrade(ctx context.Context, dealID string, profitLoss float64, closedAt time.Time) error {
	return s.trades.Close(ctx, dealID, profitLoss, closedAt)
}

func (s *PostgresStorage) GetClosedTrades(ctx context.Context, symbol string, since time.Time) ([]domain.ClosedTrade, error) {
	return s.trades.GetClosed(ctx, symbol, since)
}

func (s *PostgresStorage) GetRecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	return s.trades.GetRecent(ctx, limit)
}

// ==================== CORRELATIONS ====================

func (s *PostgresStorage) GetCorrelation(ctx context.Context, symbolA, symbolB string, windowDays int) (float64, error) {
	return s.correlations.Get(ctx, symbolA, symbolB, windowDays)
}

func (s *PostgresStorage) SaveCorrelation(ctx context.Context, symbolA, symbolB string, windowDays int, value float64) error {
	return s.correlations.Save(ctx, symbolA, symbolB, windowDays, value)
}

// ==================== MARKET DATA ====================

func (s *PostgresStorage) GetCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	return s.marketData.GetCandles(ctx, symbol, limit)
}

func (s *PostgresStorage) SaveCandles(ctx context.Context, candles []domain.Candle) error {
	return s.marketData.SaveCandles(ctx, candles)
}

// ==================== REGIMES ====================

func (s *PostgresStorage) SaveRegime(ctx context.Context, regime *domain.VolatilityRegime) error {
	return s.regimes.Save(ctx, regime)
}

func (s *PostgresStorage) GetCurrentRegime(ctx context.Context, symbol string) (*domain.VolatilityRegime, error) {
	return s.regimes.GetCurrent(ctx, symbol)
}

// ==================== AUDIT ====================

func (s *PostgresStorage) SaveSizingDecision(ctx context.Context, decision *domain.PositionSizingDecision) error {
	return s.audit.SaveSizingDecision(ctx, decision)
}

func (s *PostgresStorage) SaveRiskEvaluation(ctx context.Context, evaluation *domain.RiskEvaluation) error {
	return s.audit.SaveRiskEvaluation(ctx, evaluation)
}

// ==================== KILL SWITCH ====================

func (s *PostgresStorage) SaveKillSwitchEvent(ctx context.Context, reason string, at time.Time) error {
	return s.killSwitch.SaveEvent(ctx, reason, at)
}

func (s *PostgresStorage) ResolveKillSwitchEvents(ctx context.Context, at time.Time) error {
	return s.killSwitch.Resolve(ctx, at)
}

func (s *PostgresStorage) GetActiveKillSwitchEvent(ctx context.Context) (*domain.KillSwitchEvent, error) {
	return s.killSwitch.GetActive(ctx)
}

// ==================== CONFIG PARAMS ====================

func (s *PostgresStorage) SetConfigParam(ctx context.Context, key, value string) error {
	return s.config.Set(ctx, key, value)
}

func (s *PostgresStorage) GetConfigParam(ctx context.Context, key string) (string, error) {
	return s.config.Get(ctx, key)
}

// ==================== LOGS ====================

func (s *PostgresStorage) SaveLog(ctx context.Context, level, message, data string) error {
	return s.logs.Save(ctx, level, message, data)
}

// Ping проверяет соединение с базой данных
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает соединение с базой данных
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
