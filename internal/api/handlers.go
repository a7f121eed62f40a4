package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/execution"
)

type KillSwitchRequest struct {
	Active *bool  `json:"active" binding:"required"`
	Reason string `json:"reason"`
}

type ProfileRequest struct {
	Name string `json:"name" binding:"required"`
}

// handleWebhook принимает торговый сигнал и возвращает результат конвейера как есть
func (s *Server) handleWebhook(c *gin.Context) {
	if s.config.WebhookSecret != "" {
		secret := c.GetHeader(HeaderWebhookSecret)
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.config.WebhookSecret)) != 1 {
			metricWebhookUnauthorized.Inc()
			s.logger.Warn("webhook rejected: invalid secret from %s", c.ClientIP())
			s.sendError(c, "Invalid webhook secret", http.StatusUnauthorized)
			return
		}
	}

	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, execution.Result{
			Status:      domain.ResultError,
			Code:        domain.CodeInvalidSignal,
			Message:     fmt.Sprintf("invalid JSON payload: %v", err),
			ProcessedAt: time.Now().UTC(),
		})
		return
	}

	result := s.deps.Pipeline.ProcessSignal(c.Request.Context(), raw)
	c.JSON(webhookStatus(result), result)
}

// webhookStatus HTTP статус ответа вебхука по коду результата
func webhookStatus(result execution.Result) int {
	if result.OK() {
		return http.StatusOK
	}

	switch result.Code {
	case domain.CodeInvalidSignal:
		return http.StatusBadRequest
	case domain.CodeRiskRejected, domain.CodeSizeTooSmall:
		return http.StatusUnprocessableEntity
	case domain.CodeKillSwitchActive:
		return http.StatusServiceUnavailable
	case domain.CodeOrderFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth - health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	}

	if s.deps.Database != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := s.deps.Database.Ping(ctx); err != nil {
			health["status"] = "unhealthy"
			health["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: health, Error: "database unavailable"})
			return
		}
		health["database"] = "ok"
	}

	s.sendSuccess(c, health)
}

// handleStatus - состояние движка: сессия, kill switch, режимы, риск
func (s *Server) handleStatus(c *gin.Context) {
	status := map[string]interface{}{
		"kill_switch": s.deps.KillSwitch.Status(),
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"timestamp":   time.Now().Unix(),
	}

	if s.deps.Session != nil {
		status["session"] = s.deps.Session.Status()
	}

	if s.deps.Regimes != nil {
		status["regimes"] = s.deps.Regimes.Models()
	}

	if s.deps.Profiles != nil {
		status["profile"] = s.deps.Profiles.Profile().ProfileName
	}

	if s.deps.Risk != nil {
		accountID := c.DefaultQuery("account_id", s.config.DefaultAccountID)
		summary, err := s.deps.Risk.RiskStatus(c.Request.Context(), accountID)
		if err != nil {
			s.logger.Warn("failed to get risk status: %v", err)
			status["risk_error"] = err.Error()
		} else {
			status["risk"] = summary
		}
	}

	s.sendSuccess(c, status)
}

// handlePositions - открытые позиции у брокера
func (s *Server) handlePositions(c *gin.Context) {
	if s.deps.Positions == nil {
		s.sendError(c, "Broker client not available", http.StatusServiceUnavailable)
		return
	}

	positions, err := s.deps.Positions.GetPositions(c.Request.Context())
	if err != nil {
		s.sendError(c, fmt.Sprintf("Failed to get positions: %v", err), http.StatusBadGateway)
		return
	}

	s.sendSuccess(c, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
		"timestamp": time.Now().Unix(),
	})
}

// handleClosePosition - закрытие позиции и отметка сделки в журнале
func (s *Server) handleClosePosition(c *gin.Context) {
	if s.deps.Positions == nil {
		s.sendError(c, "Broker client not available", http.StatusServiceUnavailable)
		return
	}

	ctx := c.Request.Context()
	dealID := c.Param("dealId")

	// 1. Фиксируем P&L до закрытия
	position, err := s.deps.Positions.GetPosition(ctx, dealID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.sendError(c, fmt.Sprintf("Position %s not found", dealID), http.StatusNotFound)
			return
		}
		s.sendError(c, fmt.Sprintf("Failed to get position: %v", err), http.StatusBadGateway)
		return
	}

	// 2. Закрываем у брокера
	result, err := s.deps.Positions.ClosePosition(ctx, dealID)
	if err != nil {
		s.sendError(c, fmt.Sprintf("Failed to close position: %v", err), http.StatusBadGateway)
		return
	}

	// 3. Журнал сделок (best-effort)
	if s.deps.Trades != nil {
		if err := s.deps.Trades.CloseTrade(ctx, position.DealID, position.UPL, time.Now().UTC()); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.logger.Debug("trade %s is not in the journal", position.DealID)
			} else {
				s.logger.Warn("failed to mark trade %s closed: %v", position.DealID, err)
			}
		}
	}

	s.sendSuccess(c, map[string]interface{}{
		"deal_id":     position.DealID,
		"profit_loss": position.UPL,
		"close":       result,
	})
}

// handleWorkingOrders - лимитные ордера, ожидающие исполнения
func (s *Server) handleWorkingOrders(c *gin.Context) {
	if s.deps.Orders == nil {
		s.sendError(c, "Broker client not available", http.StatusServiceUnavailable)
		return
	}

	orders, err := s.deps.Orders.GetWorkingOrders(c.Request.Context())
	if err != nil {
		s.sendError(c, fmt.Sprintf("Failed to get working orders: %v", err), http.StatusBadGateway)
		return
	}

	s.sendSuccess(c, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// handleCancelOrder - отмена лимитного ордера
func (s *Server) handleCancelOrder(c *gin.Context) {
	if s.deps.Orders == nil {
		s.sendError(c, "Broker client not available", http.StatusServiceUnavailable)
		return
	}

	dealID := c.Param("dealId")
	if err := s.deps.Orders.CancelWorkingOrder(c.Request.Context(), dealID); err != nil {
		s.sendError(c, fmt.Sprintf("Failed to cancel order: %v", err), http.StatusBadGateway)
		return
	}
	s.logger.Info("working order %s cancelled via API", dealID)

	s.sendSuccess(c, map[string]interface{}{"deal_id": dealID, "cancelled": true})
}

// handleSearchMarkets - поиск инструментов по строке ?q=
func (s *Server) handleSearchMarkets(c *gin.Context) {
	if s.deps.Orders == nil {
		s.sendError(c, "Broker client not available", http.StatusServiceUnavailable)
		return
	}

	term := strings.TrimSpace(c.Query("q"))
	if term == "" {
		s.sendError(c, "Query parameter q is required", http.StatusBadRequest)
		return
	}

	markets, err := s.deps.Orders.SearchMarkets(c.Request.Context(), term)
	if err != nil {
		s.sendError(c, fmt.Sprintf("Failed to search markets: %v", err), http.StatusBadGateway)
		return
	}

	s.sendSuccess(c, map[string]interface{}{
		"markets": markets,
		"count":   len(markets),
	})
}

// handleKillSwitch - ручное включение и выключение аварийной остановки
func (s *Server) handleKillSwitch(c *gin.Context) {
	var req KillSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "Invalid request body: active is required", http.StatusBadRequest)
		return
	}

	if *req.Active {
		reason := req.Reason
		if reason == "" {
			reason = "manual activation"
		}
		s.deps.KillSwitch.Activate(reason)
	} else {
		s.deps.KillSwitch.Deactivate()
	}

	s.sendSuccess(c, s.deps.KillSwitch.Status())
}

// handleGetProfile - активный профиль риска и доступные профили
func (s *Server) handleGetProfile(c *gin.Context) {
	if s.deps.Profiles == nil {
		s.sendError(c, "Risk profiles not available", http.StatusServiceUnavailable)
		return
	}

	s.sendSuccess(c, map[string]interface{}{
		"active":    s.deps.Profiles.Profile(),
		"available": s.deps.Profiles.Profiles(),
	})
}

// handleSetProfile - переключение профиля риска с сохранением в config_params
func (s *Server) handleSetProfile(c *gin.Context) {
	if s.deps.Profiles == nil {
		s.sendError(c, "Risk profiles not available", http.StatusServiceUnavailable)
		return
	}

	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "Invalid request body: name is required", http.StatusBadRequest)
		return
	}

	if err := s.deps.Profiles.SetProfile(req.Name); err != nil {
		s.sendError(c, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("risk profile switched to %s", req.Name)

	if s.deps.Config != nil {
		if err := s.deps.Config.SetConfigParam(c.Request.Context(), domain.ConfigKeyRiskProfile, req.Name); err != nil {
			s.logger.Warn("failed to persist risk profile: %v", err)
		}
	}

	s.sendSuccess(c, s.deps.Profiles.Profile())
}
