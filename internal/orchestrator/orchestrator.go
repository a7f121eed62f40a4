package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

const (
	defaultRetrainInterval   = 4 * time.Hour
	defaultKeepAliveInterval = 10 * time.Minute
	defaultBalanceInterval   = 5 * time.Minute
)

// RegimeTrainer переобучает модель режимов символа
type RegimeTrainer interface {
	Train(ctx context.Context, symbol string) int
}

// SessionKeeper поддерживает сессию брокера
type SessionKeeper interface {
	IsTokenValid(ctx context.Context) bool
	EnsureAuthenticated(ctx context.Context) error
}

// AccountSource счета у брокера
type AccountSource interface {
	GetAccounts(ctx context.Context) ([]domain.Account, error)
}

// BalanceStore сохраняет баланс счета (пик обновляется хранилищем)
type BalanceStore interface {
	UpdateBalance(ctx context.Context, accountID, currency string, balance float64) error
}

// Config конфигурация orchestrator
type Config struct {
	Symbols           []string
	RetrainInterval   time.Duration // Интервал переобучения режимов (4h default)
	KeepAliveInterval time.Duration // Интервал проверки сессии (10min default)
	BalanceInterval   time.Duration // Интервал синхронизации балансов (5min default)
}

// Deps зависимости orchestrator. Nil компонент отключает соответствующую задачу.
type Deps struct {
	Regimes  RegimeTrainer
	Session  SessionKeeper
	Accounts AccountSource
	Balances BalanceStore
	Logger   *utils.Logger
}

// Orchestrator фоновый планировщик: переобучение режимов, keep-alive сессии,
// синхронизация балансов счетов
type Orchestrator struct {
	cfg      Config
	regimes  RegimeTrainer
	session  SessionKeeper
	accounts AccountSource
	balances BalanceStore
	logger   *utils.Logger

	mu        sync.Mutex
	stopChan  chan struct{}
	done      chan struct{}
	isRunning bool
	lastRun   map[string]time.Time
}

// New создает новый orchestrator
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.RetrainInterval <= 0 {
		cfg.RetrainInterval = defaultRetrainInterval
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.BalanceInterval <= 0 {
		cfg.BalanceInterval = defaultBalanceInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.Nop()
	}

	return &Orchestrator{
		cfg:      cfg,
		regimes:  deps.Regimes,
		session:  deps.Session,
		accounts: deps.Accounts,
		balances: deps.Balances,
		logger:   logger.With("orchestrator"),
		lastRun:  make(map[string]time.Time),
	}
}

// Start запускает orchestrator
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isRunning {
		return fmt.Errorf("orchestrator already running")
	}

	o.isRunning = true
	o.stopChan = make(chan struct{})
	o.done = make(chan struct{})
	o.logger.Info("orchestrator started (retrain: %v, keep-alive: %v, symbols: %v)",
		o.cfg.RetrainInterval, o.cfg.KeepAliveInterval, o.cfg.Symbols)

	go o.run(ctx, o.stopChan, o.done)

	return nil
}

// Stop останавливает orchestrator и ждет завершения текущего цикла
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.isRunning {
		o.mu.Unlock()
		return
	}
	o.isRunning = false
	close(o.stopChan)
	done := o.done
	o.mu.Unlock()

	<-done
	o.logger.Info("orchestrator stopped")
}

// IsRunning проверяет запущен ли orchestrator
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isRunning
}

// LastRun время последнего выполнения задачи ("retrain", "keepalive", "balances")
func (o *Orchestrator) LastRun() map[string]time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]time.Time, len(o.lastRun))
	for k, v := range o.lastRun {
		out[k] = v
	}
	return out
}

// run основной цикл orchestrator
func (o *Orchestrator) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	retrain := time.NewTicker(o.cfg.RetrainInterval)
	defer retrain.Stop()
	keepAlive := time.NewTicker(o.cfg.KeepAliveInterval)
	defer keepAlive.Stop()
	balances := time.NewTicker(o.cfg.BalanceInterval)
	defer balances.Stop()

	// Первый цикл сразу после старта
	o.RetrainRegimes(ctx)
	o.SyncBalances(ctx)

	for {
		select {
		case <-retrain.C:
			o.RetrainRegimes(ctx)

		case <-keepAlive.C:
			if err := o.KeepSessionAlive(ctx); err != nil {
				o.logger.Error("session keep-alive failed: %v", err)
			}

		case <-balances.C:
			o.SyncBalances(ctx)

		case <-stop:
			return

		case <-ctx.Done():
			return
		}
	}
}

// RetrainRegimes переобучает модели всех отслеживаемых символов.
// Возвращает режимы по символам; ошибка одного символа не останавливает цикл.
func (o *Orchestrator) RetrainRegimes(ctx context.Context) map[string]int {
	if o.regimes == nil || len(o.cfg.Symbols) == 0 {
		return nil
	}

	results := make(map[string]int, len(o.cfg.Symbols))
	for _, symbol := range o.cfg.Symbols {
		if ctx.Err() != nil {
			break
		}
		regimeID := o.regimes.Train(ctx, symbol)
		results[symbol] = regimeID
		if regimeID == domain.RegimeUnknown {
			o.logger.Warn("regime retrain for %s produced no model", symbol)
			continue
		}
		o.logger.Info("regime retrained for %s: %d", symbol, regimeID)
	}

	o.markRun("retrain")
	return results
}

// KeepSessionAlive проверяет токены и пересоздает сессию, если они устарели
func (o *Orchestrator) KeepSessionAlive(ctx context.Context) error {
	if o.session == nil {
		return nil
	}
	defer o.markRun("keepalive")

	if o.session.IsTokenValid(ctx) {
		o.logger.Debug("session is valid")
		return nil
	}

	o.logger.Info("session is stale, re-authenticating")
	if err := o.session.EnsureAuthenticated(ctx); err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	return nil
}

// SyncBalances копирует балансы счетов брокера в хранилище.
// Возвращает число обновленных счетов.
func (o *Orchestrator) SyncBalances(ctx context.Context) int {
	if o.accounts == nil || o.balances == nil {
		return 0
	}

	accounts, err := o.accounts.GetAccounts(ctx)
	if err != nil {
		o.logger.Warn("failed to get accounts: %v", err)
		return 0
	}

	updated := 0
	for _, acc := range accounts {
		if acc.AccountID == "" || acc.Balance <= 0 {
			continue
		}
		if err := o.balances.UpdateBalance(ctx, acc.AccountID, acc.Currency, acc.Balance); err != nil {
			o.logger.Warn("failed to save balance for %s: %v", acc.AccountID, err)
			continue
		}
		updated++
	}

	o.logger.Debug("balances synced: %d/%d accounts", updated, len(accounts))
	o.markRun("balances")
	return updated
}

func (o *Orchestrator) markRun(task string) {
	o.mu.Lock()
	o.lastRun[task] = time.Now()
	o.mu.Unlock()
}
