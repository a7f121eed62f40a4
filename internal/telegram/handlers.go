package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/exchange"
	"github.com/kirillm/jamso-engine/internal/execution"
	"github.com/kirillm/jamso-engine/internal/notify"
	"github.com/kirillm/jamso-engine/internal/policy"
	"github.com/kirillm/jamso-engine/internal/strategy"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

// KillSwitch аварийная остановка
type KillSwitch interface {
	Activate(reason string)
	Deactivate()
	Status() execution.KillSwitchStatus
}

// PositionService позиции у брокера
type PositionService interface {
	GetPositions(ctx context.Context) ([]domain.Position, error)
	GetPosition(ctx context.Context, dealID string) (*domain.Position, error)
	ClosePosition(ctx context.Context, dealID string) (*domain.OrderResult, error)
}

// OrderService лимитные ордера у брокера
type OrderService interface {
	GetWorkingOrders(ctx context.Context) ([]exchange.WorkingOrder, error)
	CancelWorkingOrder(ctx context.Context, dealID string) error
}

// ProfileManager профили риска
type ProfileManager interface {
	Profile() policy.Profile
	Profiles() []string
	SetProfile(name string) error
}

// RiskReporter текущий риск счета
type RiskReporter interface {
	RiskStatus(ctx context.Context, accountID string) (*strategy.RiskSummary, error)
}

// TradeCloser отмечает сделку закрытой в журнале
type TradeCloser interface {
	CloseTrade(ctx context.Context, dealID string, profitLoss float64, closedAt time.Time) error
}

// ConfigStore хранилище параметров конфигурации
type ConfigStore interface {
	SetConfigParam(ctx context.Context, key, value string) error
}

// HandlerDeps зависимости обработчиков. KillSwitch обязателен.
type HandlerDeps struct {
	KillSwitch       KillSwitch
	Positions        PositionService
	Orders           OrderService
	Profiles         ProfileManager
	Risk             RiskReporter
	Trades           TradeCloser
	Config           ConfigStore
	DefaultAccountID string
	Logger           *utils.Logger
}

// Handlers содержит все обработчики команд
type Handlers struct {
	deps      HandlerDeps
	formatter *notify.Formatter
	logger    *utils.Logger
}

// NewHandlers создает обработчики команд
func NewHandlers(deps HandlerDeps, formatter *notify.Formatter) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = utils.Nop()
	}
	return &Handlers{deps: deps, formatter: formatter, logger: logger.With("telegram")}
}

// Register регистрирует обработчики в роутере
func (h *Handlers) Register(router *Router) {
	router.RegisterHandler(CmdStart, h.HandleHelp)
	router.RegisterHandler(CmdHelp, h.HandleHelp)
	router.RegisterHandler(CmdStatus, h.HandleStatus)
	router.RegisterHandler(CmdPositions, h.HandlePositions)
	router.RegisterHandler(CmdOrders, h.HandleOrders)

	router.RegisterAdminHandler(CmdClose, h.HandleClose)
	router.RegisterAdminHandler(CmdCancel, h.HandleCancel)
	router.RegisterAdminHandler(CmdKill, h.HandleKill)
	router.RegisterAdminHandler(CmdResume, h.HandleResume)
	router.RegisterAdminHandler(CmdProfile, h.HandleProfile)
}

// HandleHelp показывает список команд
func (h *Handlers) HandleHelp(_ context.Context, _ *CommandArgs) (string, error) {
	return "*Jamso engine*\n\n" +
		"/status - kill switch, profile and account risk\n" +
		"/positions - open positions\n" +
		"/orders - working limit orders\n" +
		"/close <DEAL\\_ID> - close a position (admin)\n" +
		"/cancel <DEAL\\_ID> - cancel a working order (admin)\n" +
		"/kill [reason] - halt trading (admin)\n" +
		"/resume - resume trading (admin)\n" +
		"/profile [name] - show or switch risk profile (admin)", nil
}

// HandleStatus показывает состояние движка
func (h *Handlers) HandleStatus(ctx context.Context, _ *CommandArgs) (string, error) {
	profile := ""
	if h.deps.Profiles != nil {
		profile = h.deps.Profiles.Profile().ProfileName
	}

	var summary *strategy.RiskSummary
	if h.deps.Risk != nil && h.deps.DefaultAccountID != "" {
		s, err := h.deps.Risk.RiskStatus(ctx, h.deps.DefaultAccountID)
		if err != nil {
			h.logger.Warn("failed to get risk status: %v", err)
		} else {
			summary = s
		}
	}

	return h.formatter.FormatStatus(h.deps.KillSwitch.Status(), profile, summary), nil
}

// HandlePositions показывает открытые позиции
func (h *Handlers) HandlePositions(ctx context.Context, _ *CommandArgs) (string, error) {
	if h.deps.Positions == nil {
		return "", errors.New("broker client not available")
	}

	positions, err := h.deps.Positions.GetPositions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get positions: %w", err)
	}
	return h.formatter.FormatPositions(positions), nil
}

// HandleClose закрывает позицию и отмечает сделку в журнале
func (h *Handlers) HandleClose(ctx context.Context, args *CommandArgs) (string, error) {
	if h.deps.Positions == nil {
		return "", errors.New("broker client not available")
	}

	dealID := args.Arg(0)
	position, err := h.deps.Positions.GetPosition(ctx, dealID)
	if err != nil {
		return "", fmt.Errorf("failed to get position %s: %w", dealID, err)
	}

	if _, err := h.deps.Positions.ClosePosition(ctx, dealID); err != nil {
		return "", fmt.Errorf("failed to close position %s: %w", dealID, err)
	}
	h.logger.Info("position %s closed from telegram, P&L %.2f", dealID, position.UPL)

	if h.deps.Trades != nil {
		if err := h.deps.Trades.CloseTrade(ctx, position.DealID, position.UPL, time.Now().UTC()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			h.logger.Warn("failed to mark trade %s closed: %v", position.DealID, err)
		}
	}

	return fmt.Sprintf("✅ %s %s, P&L %.2f", position.Direction, position.Epic, position.UPL), nil
}

// HandleOrders показывает лимитные ордера
func (h *Handlers) HandleOrders(ctx context.Context, _ *CommandArgs) (string, error) {
	if h.deps.Orders == nil {
		return "", errors.New("broker client not available")
	}

	orders, err := h.deps.Orders.GetWorkingOrders(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get working orders: %w", err)
	}
	return h.formatter.FormatWorkingOrders(orders), nil
}

// HandleCancel отменяет лимитный ордер
func (h *Handlers) HandleCancel(ctx context.Context, args *CommandArgs) (string, error) {
	if h.deps.Orders == nil {
		return "", errors.New("broker client not available")
	}

	dealID := args.Arg(0)
	if err := h.deps.Orders.CancelWorkingOrder(ctx, dealID); err != nil {
		return "", fmt.Errorf("failed to cancel order %s: %w", dealID, err)
	}
	h.logger.Info("working order %s cancelled from telegram", dealID)

	return fmt.Sprintf("✅ %s `%s`", h.formatter.T("order_cancelled"), dealID), nil
}

// HandleKill включает аварийную остановку
func (h *Handlers) HandleKill(_ context.Context, args *CommandArgs) (string, error) {
	reason := args.Text()
	if reason == "" {
		reason = "manual activation via telegram"
	}
	h.deps.KillSwitch.Activate(reason)
	return h.formatter.FormatKillSwitch(true, reason), nil
}

// HandleResume выключает аварийную остановку
func (h *Handlers) HandleResume(_ context.Context, _ *CommandArgs) (string, error) {
	h.deps.KillSwitch.Deactivate()
	return h.formatter.FormatKillSwitch(false, ""), nil
}

// HandleProfile показывает или переключает профиль риска
func (h *Handlers) HandleProfile(ctx context.Context, args *CommandArgs) (string, error) {
	if h.deps.Profiles == nil {
		return "", errors.New("risk profiles not available")
	}

	if name := args.Arg(0); name != "" {
		if err := h.deps.Profiles.SetProfile(name); err != nil {
			return "", err
		}
		h.logger.Info("risk profile switched to %s from telegram", name)

		if h.deps.Config != nil {
			if err := h.deps.Config.SetConfigParam(ctx, domain.ConfigKeyRiskProfile, name); err != nil {
				h.logger.Warn("failed to persist risk profile: %v", err)
			}
		}
	}

	return h.formatter.FormatProfiles(h.deps.Profiles.Profile().ProfileName, h.deps.Profiles.Profiles()), nil
}
