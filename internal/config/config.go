package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит все настройки приложения
type Config struct {
	Capital          CapitalConfig
	Credentials      CredentialsConfig
	Database         DatabaseConfig
	Redis            RedisConfig
	Risk             RiskConfig
	Regime           RegimeConfig
	Telegram         TelegramConfig
	Server           ServerConfig
	DefaultAccountID string
	LogLevel         string
}

type CapitalConfig struct {
	BaseURL            string
	StreamURL          string
	Demo               bool
	RequestTimeout     time.Duration
	SessionTimeout     time.Duration
	MinRequestInterval time.Duration
	MaxRetries         int
	MaxAuthAttempts    int
	MaxSessions        int
	StreamEnabled      bool
}

type CredentialsConfig struct {
	Source     string // "env" or "vault"
	APIKey     string
	Username   string
	Password   string
	VaultAddr  string
	VaultToken string
	VaultMount string
	VaultPath  string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

type RiskConfig struct {
	PolicyPath string
	Profile    string
}

type RegimeConfig struct {
	Clusters        int
	Lookback        int
	CacheTTL        time.Duration
	RetrainInterval time.Duration
	Resolution      string
	WatchSymbols    []string
}

type TelegramConfig struct {
	Enabled         bool
	BotToken        string
	ChatID          int64
	CommandsEnabled bool
	Admins          string // TG_ADMINS, через запятую
	Lang            string
}

type ServerConfig struct {
	Port           int
	WebhookSecret  string
	ProductionMode bool
}

const (
	liveBaseURL   = "https://api-capital.backend-capital.com/api/v1"
	demoBaseURL   = "https://demo-api-capital.backend-capital.com/api/v1"
	liveStreamURL = "wss://api-streaming-capital.backend-capital.com/connect"
)

// Load загружает конфигурацию из .env файла
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	demo, err := strconv.ParseBool(getEnv("CAPITAL_DEMO", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPITAL_DEMO: %w", err)
	}

	requestTimeout, err := time.ParseDuration(getEnv("CAPITAL_REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPITAL_REQUEST_TIMEOUT: %w", err)
	}

	sessionTimeout, err := time.ParseDuration(getEnv("CAPITAL_SESSION_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPITAL_SESSION_TIMEOUT: %w", err)
	}

	minInterval, err := time.ParseDuration(getEnv("CAPITAL_MIN_REQUEST_INTERVAL", "500ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPITAL_MIN_REQUEST_INTERVAL: %w", err)
	}

	maxRetries, err := strconv.Atoi(getEnv("CAPITAL_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPITAL_MAX_RETRIES: %w", err)
	}

	maxAuthAttempts, err := strconv.Atoi(getEnv("CAPITAL_MAX_AUTH_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPITAL_MAX_AUTH_ATTEMPTS: %w", err)
	}

	maxSessions, err := strconv.Atoi(getEnv("CAPITAL_MAX_SESSIONS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPITAL_MAX_SESSIONS: %w", err)
	}

	streamEnabled, err := strconv.ParseBool(getEnv("CAPITAL_STREAM_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid CAPITAL_STREAM_ENABLED: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	redisEnabled, err := strconv.ParseBool(getEnv("REDIS_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_ENABLED: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	clusters, err := strconv.Atoi(getEnv("REGIME_CLUSTERS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid REGIME_CLUSTERS: %w", err)
	}

	lookback, err := strconv.Atoi(getEnv("REGIME_LOOKBACK", "500"))
	if err != nil {
		return nil, fmt.Errorf("invalid REGIME_LOOKBACK: %w", err)
	}

	cacheTTL, err := time.ParseDuration(getEnv("REGIME_CACHE_TTL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REGIME_CACHE_TTL: %w", err)
	}

	retrainInterval, err := time.ParseDuration(getEnv("REGIME_RETRAIN_INTERVAL", "4h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REGIME_RETRAIN_INTERVAL: %w", err)
	}

	telegramEnabled, err := strconv.ParseBool(getEnv("TELEGRAM_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_ENABLED: %w", err)
	}

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	telegramCommands, err := strconv.ParseBool(getEnv("TELEGRAM_COMMANDS_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_COMMANDS_ENABLED: %w", err)
	}

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "5000"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	production, err := strconv.ParseBool(getEnv("SERVER_PRODUCTION", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PRODUCTION: %w", err)
	}

	defaultBaseURL := liveBaseURL
	if demo {
		defaultBaseURL = demoBaseURL
	}

	config := &Config{
		Capital: CapitalConfig{
			BaseURL:            getEnv("CAPITAL_API_URL", defaultBaseURL),
			StreamURL:          getEnv("CAPITAL_STREAM_URL", liveStreamURL),
			Demo:               demo,
			RequestTimeout:     requestTimeout,
			SessionTimeout:     sessionTimeout,
			MinRequestInterval: minInterval,
			MaxRetries:         maxRetries,
			MaxAuthAttempts:    maxAuthAttempts,
			MaxSessions:        maxSessions,
			StreamEnabled:      streamEnabled,
		},
		Credentials: CredentialsConfig{
			Source:     getEnv("CREDENTIALS_SOURCE", "env"),
			APIKey:     getEnv("CAPITAL_API_KEY", ""),
			Username:   getEnv("CAPITAL_USERNAME", ""),
			Password:   getEnv("CAPITAL_PASSWORD", ""),
			VaultAddr:  getEnv("VAULT_ADDR", "http://127.0.0.1:8200"),
			VaultToken: getEnv("VAULT_TOKEN", ""),
			VaultMount: getEnv("VAULT_MOUNT", "secret"),
			VaultPath:  getEnv("VAULT_PATH", "jamso"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "jamso_engine"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  redisEnabled,
			Address:  getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Risk: RiskConfig{
			PolicyPath: getEnv("POLICY_PATH", "config/risk_profiles.yaml"),
			Profile:    getEnv("POLICY_PROFILE", "moderate"),
		},
		Regime: RegimeConfig{
			Clusters:        clusters,
			Lookback:        lookback,
			CacheTTL:        cacheTTL,
			RetrainInterval: retrainInterval,
			Resolution:      getEnv("REGIME_RESOLUTION", "HOUR"),
			WatchSymbols:    splitList(getEnv("REGIME_WATCH_SYMBOLS", "")),
		},
		Telegram: TelegramConfig{
			Enabled:         telegramEnabled,
			BotToken:        getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:          chatID,
			CommandsEnabled: telegramCommands,
			Admins:          getEnv("TG_ADMINS", ""),
			Lang:            getEnv("DEFAULT_LANG", "en"),
		},
		Server: ServerConfig{
			Port:           port,
			WebhookSecret:  getEnv("WEBHOOK_SECRET", ""),
			ProductionMode: production,
		},
		DefaultAccountID: getEnv("DEFAULT_ACCOUNT_ID", "1"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	switch c.Credentials.Source {
	case "env":
		if c.Credentials.APIKey == "" {
			return fmt.Errorf("CAPITAL_API_KEY is required")
		}
		if c.Credentials.Username == "" {
			return fmt.Errorf("CAPITAL_USERNAME is required")
		}
		if c.Credentials.Password == "" {
			return fmt.Errorf("CAPITAL_PASSWORD is required")
		}
	case "vault":
		if c.Credentials.VaultToken == "" {
			return fmt.Errorf("VAULT_TOKEN is required when CREDENTIALS_SOURCE=vault")
		}
	default:
		return fmt.Errorf("unknown CREDENTIALS_SOURCE %q", c.Credentials.Source)
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Capital.MinRequestInterval < 500*time.Millisecond {
		return fmt.Errorf("CAPITAL_MIN_REQUEST_INTERVAL must be at least 500ms")
	}
	if c.Capital.MaxSessions <= 0 {
		return fmt.Errorf("CAPITAL_MAX_SESSIONS must be positive")
	}
	if c.Regime.Clusters < 2 {
		return fmt.Errorf("REGIME_CLUSTERS must be at least 2")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_ENABLED=true")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
