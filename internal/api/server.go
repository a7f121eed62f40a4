package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/exchange"
	"github.com/kirillm/jamso-engine/internal/execution"
	"github.com/kirillm/jamso-engine/internal/policy"
	"github.com/kirillm/jamso-engine/internal/regime"
	"github.com/kirillm/jamso-engine/internal/strategy"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

// Заголовок с общим секретом вебхука
const HeaderWebhookSecret = "X-Webhook-Secret"

// Pipeline обрабатывает сигнал вебхука
type Pipeline interface {
	ProcessSignal(ctx context.Context, raw map[string]interface{}) execution.Result
}

// KillSwitch аварийная остановка
type KillSwitch interface {
	Activate(reason string)
	Deactivate()
	Status() execution.KillSwitchStatus
}

// SessionReporter состояние сессии брокера
type SessionReporter interface {
	Status() exchange.SessionStatus
}

// RegimeReporter обученные модели режимов
type RegimeReporter interface {
	Models() []regime.Model
}

// RiskReporter текущий риск счета
type RiskReporter interface {
	RiskStatus(ctx context.Context, accountID string) (*strategy.RiskSummary, error)
}

// PositionService позиции у брокера
type PositionService interface {
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetPosition(ctx context.Context, dealID string) (*domain.Position, error)
	ClosePosition(ctx context.Context, dealID string) (*domain.OrderResult, error)
}

// OrderService лимитные ордера и поиск инструментов у брокера
type OrderService interface {
	GetWorkingOrders(ctx context.Context) ([]exchange.WorkingOrder, error)
	CancelWorkingOrder(ctx context.Context, dealID string) error
	SearchMarkets(ctx context.Context, term string) ([]domain.MarketSnapshot, error)
}

// TradeCloser отмечает сделку закрытой в журнале
type TradeCloser interface {
	CloseTrade(ctx context.Context, dealID string, profitLoss float64, closedAt time.Time) error
}

// ProfileManager профили риска
type ProfileManager interface {
	Profile() policy.Profile
	Profiles() []string
	SetProfile(name string) error
}

// ConfigStore хранилище параметров конфигурации
type ConfigStore interface {
	SetConfigParam(ctx context.Context, key, value string) error
}

// Pinger проверка доступности зависимости
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig конфигурация сервера
type ServerConfig struct {
	Port             int
	WebhookSecret    string
	ProductionMode   bool
	DefaultAccountID string
}

// Deps зависимости сервера. Pipeline и KillSwitch обязательны, остальное опционально.
type Deps struct {
	Pipeline   Pipeline
	KillSwitch KillSwitch
	Session    SessionReporter
	Regimes    RegimeReporter
	Risk       RiskReporter
	Positions  PositionService
	Orders     OrderService
	Trades     TradeCloser
	Profiles   ProfileManager
	Config     ConfigStore
	Database   Pinger
	Logger     *utils.Logger
}

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig
	deps       Deps
	logger     *utils.Logger
	startedAt  time.Time
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewServer(config ServerConfig, deps Deps) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = utils.Nop()
	}

	router := gin.New()

	s := &Server{
		router:    router,
		config:    config,
		deps:      deps,
		logger:    logger.With("api"),
		startedAt: time.Now(),
	}

	router.Use(s.requestLogger())
	router.Use(gin.Recovery())

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.POST("/webhook", s.handleWebhook)

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)

	s.router.GET("/positions", s.handlePositions)
	s.router.POST("/positions/:dealId/close", s.handleClosePosition)

	s.router.GET("/orders", s.handleWorkingOrders)
	s.router.DELETE("/orders/:dealId", s.handleCancelOrder)
	s.router.GET("/markets", s.handleSearchMarkets)

	s.router.POST("/killswitch", s.handleKillSwitch)

	s.router.GET("/profile", s.handleGetProfile)
	s.router.POST("/profile", s.handleSetProfile)

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler http.Handler сервера (используется в тестах)
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown корректно останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// requestLogger логирует запросы и считает метрики
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		metricHTTPRequests.WithLabelValues(c.Request.Method, path, fmt.Sprint(status)).Inc()

		if path == "/metrics" || path == "/health" {
			return
		}
		s.logger.Debug("%s %s %d %v [%s]", c.Request.Method, c.Request.URL.Path, status, time.Since(start).Round(time.Millisecond), requestID)
	}
}

// Helper methods
func (s *Server) sendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func (s *Server) sendError(c *gin.Context, message string, statusCode int) {
	c.JSON(statusCode, Response{
		Success: false,
		Error:   message,
	})
}
