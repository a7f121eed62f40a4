package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kirillm/jamso-engine/internal/api"
	"github.com/kirillm/jamso-engine/internal/config"
	"github.com/kirillm/jamso-engine/internal/credentials"
	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/exchange"
	"github.com/kirillm/jamso-engine/internal/execution"
	"github.com/kirillm/jamso-engine/internal/notify"
	"github.com/kirillm/jamso-engine/internal/orchestrator"
	"github.com/kirillm/jamso-engine/internal/policy"
	"github.com/kirillm/jamso-engine/internal/regime"
	"github.com/kirillm/jamso-engine/internal/storage"
	"github.com/kirillm/jamso-engine/internal/strategy"
	"github.com/kirillm/jamso-engine/internal/telegram"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := utils.NewLogger(cfg.LogLevel)
	utils.SetDefault(logger)
	startedAt := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Хранилище
	db, err := storage.NewPostgresStorage(
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password,
		cfg.Database.DBName, cfg.Database.SSLMode,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("database connected")

	// 2. Учетные данные и сессия брокера
	creds, err := newCredentialProvider(cfg.Credentials)
	if err != nil {
		log.Fatalf("Failed to initialize credentials: %v", err)
	}

	httpClient := exchange.NewRateLimitedHTTPClient(exchange.HTTPConfig{
		BaseURL:     cfg.Capital.BaseURL,
		Timeout:     cfg.Capital.RequestTimeout,
		MinInterval: cfg.Capital.MinRequestInterval,
		MaxRetries:  cfg.Capital.MaxRetries,
	}, logger)

	session, err := exchange.NewSessionManager(exchange.SessionConfig{
		MaxAuthAttempts: cfg.Capital.MaxAuthAttempts,
		Timeout:         cfg.Capital.SessionTimeout,
	}, httpClient, creds, exchange.NewSessionLimiter(cfg.Capital.MaxSessions), logger)
	if err != nil {
		log.Fatalf("Failed to create broker session: %v", err)
	}

	if result := session.CreateSession(ctx); !result.Success {
		logger.Error("initial broker authentication failed: %s: %s", result.ErrorCode, result.ErrorMessage)
	}

	client := exchange.NewClient(httpClient, session, logger)

	// 3. Котировки: поток -> REST -> кеш
	quoteSources := []execution.QuoteSource{}
	if cfg.Capital.StreamEnabled && len(cfg.Regime.WatchSymbols) > 0 {
		stream := exchange.NewQuoteStream(cfg.Capital.StreamURL, session, logger)
		if err := stream.Subscribe(cfg.Regime.WatchSymbols...); err != nil {
			logger.Warn("failed to subscribe quote stream: %v", err)
		}
		go func() {
			if err := stream.Run(ctx); err != nil {
				logger.Error("quote stream stopped: %v", err)
			}
		}()
		quoteSources = append(quoteSources, execution.NewStreamQuotes(stream))
	}
	quoteSources = append(quoteSources, execution.NewMarketQuotes(client))
	prices := execution.NewPriceFailover(logger, quoteSources...)

	// 4. Профили риска (активный профиль восстанавливается из config_params)
	policyEngine, err := policy.NewEngine(cfg.Risk.PolicyPath, cfg.Risk.Profile)
	if err != nil {
		log.Fatalf("Failed to load risk policy: %v", err)
	}
	restoreProfile(ctx, db, policyEngine, logger)

	// 5. Детектор режимов
	var cache regime.Cache
	if cfg.Redis.Enabled {
		redisCache := regime.NewRedisCache(regime.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		defer redisCache.Close()
		cache = redisCache
	} else {
		cache = regime.NewMemoryCache()
	}

	detector := regime.NewDetector(regime.Config{
		Clusters:        cfg.Regime.Clusters,
		Lookback:        cfg.Regime.Lookback,
		CacheTTL:        cfg.Regime.CacheTTL,
		RetrainInterval: cfg.Regime.RetrainInterval,
	}, regime.NewFallbackSource(db, client.Candles(cfg.Regime.Resolution), logger), db, cache, logger)

	// 6. Уведомления
	var notifier notify.Notifier = notify.NopNotifier{}
	var botAPI *tgbotapi.BotAPI
	if cfg.Telegram.Enabled {
		botAPI, err = telegram.Connect(cfg.Telegram.BotToken)
		if err != nil {
			logger.Warn("telegram disabled: %v", err)
		} else if cfg.Telegram.ChatID != 0 {
			notifier = notify.NewTelegramNotifierWithAPI(botAPI, cfg.Telegram.ChatID, logger)
		}
	}
	formatter := notify.NewFormatter(notify.Lang(cfg.Telegram.Lang))

	// 7. Kill switch: состояние переживает рестарт, смена состояния сохраняется и уведомляется
	killSwitch := execution.NewKillSwitch(logger)
	if event, err := db.GetActiveKillSwitchEvent(ctx); err == nil {
		killSwitch.Restore(event.Reason, event.ActivatedAt)
	} else if !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("failed to restore kill switch state: %v", err)
	}
	killSwitch.SetHook(func(active bool, reason string) {
		hookCtx, hookCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer hookCancel()

		now := time.Now().UTC()
		if active {
			if err := db.SaveKillSwitchEvent(hookCtx, reason, now); err != nil {
				logger.Error("failed to save kill switch event: %v", err)
			}
			saveLog(hookCtx, db, logger, domain.LogLevelError, "kill switch activated", map[string]interface{}{"reason": reason})
		} else {
			if err := db.ResolveKillSwitchEvents(hookCtx, now); err != nil {
				logger.Error("failed to resolve kill switch events: %v", err)
			}
			saveLog(hookCtx, db, logger, domain.LogLevelInfo, "kill switch deactivated", nil)
		}
		if err := notifier.Notify(hookCtx, formatter.FormatKillSwitch(active, reason)); err != nil {
			logger.Warn("failed to send kill switch notification: %v", err)
		}
	})

	// 8. Размер позиции и риск
	sizer := strategy.NewPositionSizer(db, db, detector, db, policyEngine, logger)
	riskManager := strategy.NewRiskManager(db, db, client, db, db, policyEngine, logger)
	riskManager.SetHaltHook(killSwitch.Activate)

	// 9. Конвейер исполнения
	executor := execution.NewExecutor(execution.Deps{
		Broker:           client,
		Regimes:          detector,
		Sizer:            sizer,
		Risk:             riskManager,
		Prices:           prices,
		KillSwitch:       killSwitch,
		Signals:          db,
		Trades:           db,
		Notifier:         notify.NewResultNotifier(notifier, formatter, false),
		Profiles:         policyEngine,
		DefaultAccountID: cfg.DefaultAccountID,
		Logger:           logger,
	})

	// 10. Фоновые задачи
	scheduler := orchestrator.New(orchestrator.Config{
		Symbols:         cfg.Regime.WatchSymbols,
		RetrainInterval: cfg.Regime.RetrainInterval,
	}, orchestrator.Deps{
		Regimes:  detector,
		Session:  session,
		Accounts: client,
		Balances: db,
		Logger:   logger,
	})
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}

	// 11. Команды оператора в Telegram
	if botAPI != nil && cfg.Telegram.CommandsEnabled {
		handlers := telegram.NewHandlers(telegram.HandlerDeps{
			KillSwitch:       killSwitch,
			Positions:        client,
			Orders:           client,
			Profiles:         policyEngine,
			Risk:             riskManager,
			Trades:           db,
			Config:           db,
			DefaultAccountID: cfg.DefaultAccountID,
			Logger:           logger,
		}, formatter)
		bot := telegram.NewBot(botAPI, telegram.NewAuthManager(cfg.Telegram.Admins, cfg.Telegram.ChatID), handlers, formatter, logger)
		go bot.Run(ctx)
	}

	// 12. HTTP сервер
	server := api.NewServer(api.ServerConfig{
		Port:             cfg.Server.Port,
		WebhookSecret:    cfg.Server.WebhookSecret,
		ProductionMode:   cfg.Server.ProductionMode,
		DefaultAccountID: cfg.DefaultAccountID,
	}, api.Deps{
		Pipeline:   executor,
		KillSwitch: killSwitch,
		Session:    session,
		Regimes:    detector,
		Risk:       riskManager,
		Positions:  client,
		Orders:     client,
		Trades:     db,
		Profiles:   policyEngine,
		Config:     db,
		Database:   db,
		Logger:     logger,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start web server: %v", err)
		}
	}()

	logger.Info("Jamso engine started (profile: %s, demo: %v, port: %d)",
		policyEngine.Profile().ProfileName, cfg.Capital.Demo, cfg.Server.Port)
	saveLog(ctx, db, logger, domain.LogLevelInfo, "engine started", map[string]interface{}{
		"profile": policyEngine.Profile().ProfileName,
		"symbols": cfg.Regime.WatchSymbols,
	})
	if err := notifier.Notify(ctx, formatter.FormatStarted(policyEngine.Profile().ProfileName, cfg.Regime.WatchSymbols)); err != nil {
		logger.Warn("failed to send startup notification: %v", err)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down web server: %v", err)
	}

	scheduler.Stop()
	cancel()

	session.Close(shutdownCtx)

	saveLog(shutdownCtx, db, logger, domain.LogLevelInfo, "engine stopped", nil)
	if err := notifier.Notify(shutdownCtx, formatter.FormatStopped(time.Since(startedAt))); err != nil {
		logger.Warn("failed to send shutdown notification: %v", err)
	}

	logger.Info("Shutdown complete")
}

// newCredentialProvider env или vault с откатом на переменные окружения
func newCredentialProvider(cfg config.CredentialsConfig) (credentials.Provider, error) {
	env := credentials.NewEnvProvider()
	if cfg.Source != "vault" {
		return env, nil
	}

	vault, err := credentials.NewVaultProvider(credentials.VaultConfig{
		Address: cfg.VaultAddr,
		Token:   cfg.VaultToken,
		Mount:   cfg.VaultMount,
		Path:    cfg.VaultPath,
	})
	if err != nil {
		return nil, err
	}
	return credentials.NewChainProvider(vault, env), nil
}

// restoreProfile активирует профиль риска, сохраненный через API
func restoreProfile(ctx context.Context, db *storage.PostgresStorage, engine *policy.Engine, logger *utils.Logger) {
	name, err := db.GetConfigParam(ctx, domain.ConfigKeyRiskProfile)
	if err != nil {
		logger.Warn("failed to read saved risk profile: %v", err)
		return
	}
	if name == "" || name == engine.Profile().ProfileName {
		return
	}
	if err := engine.SetProfile(name); err != nil {
		logger.Warn("saved risk profile ignored: %v", err)
		return
	}
	logger.Info("risk profile restored: %s", name)
}

func saveLog(ctx context.Context, db *storage.PostgresStorage, logger *utils.Logger, level, message string, data map[string]interface{}) {
	payload := ""
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			payload = string(raw)
		}
	}
	if err := db.SaveLog(ctx, level, message, payload); err != nil {
		logger.Warn("failed to save log %q: %v", message, err)
	}
}
