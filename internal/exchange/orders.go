package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// ValidateOrder проверяет запрос до отправки брокеру
func ValidateOrder(req domain.OrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return validationError("epic is required")
	}
	if req.Direction != domain.DirectionBuy && req.Direction != domain.DirectionSell {
		return validationError(fmt.Sprintf("invalid direction %q", req.Direction))
	}
	if req.Size <= 0 {
		return validationError(fmt.Sprintf("invalid size %v", req.Size))
	}
	if req.GuaranteedStop && req.TrailingStop {
		return validationError("guaranteed stop and trailing stop are mutually exclusive")
	}
	if req.OrderType == domain.OrderTypeLimit && (req.Level == nil || *req.Level <= 0) {
		return validationError("limit order requires level")
	}
	return nil
}

func validationError(msg string) error {
	return &domain.APIError{Kind: domain.ErrValidation, Message: msg}
}

// CreateOrder открывает позицию (MARKET) или выставляет лимитный ордер (LIMIT)
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if req.OrderType == "" {
		req.OrderType = domain.OrderTypeMarket
	}
	if err := ValidateOrder(req); err != nil {
		return nil, err
	}

	path := "/positions"
	var body interface{} = newPositionBody(req)
	if req.OrderType == domain.OrderTypeLimit {
		path = "/workingorders"
		body = newWorkingOrderBody(req)
	}

	resp, err := c.doAuthenticated(ctx, &Request{
		Method:  http.MethodPost,
		Path:    path,
		Body:    body,
		NoRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s order for %s: %w", strings.ToLower(req.OrderType), req.Symbol, err)
	}

	var out struct {
		DealReference string `json:"dealReference"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}

	c.logger.Info("order accepted: %s %s %.2f (%s) ref=%s", req.Direction, req.Symbol, req.Size, req.OrderType, out.DealReference)

	result := &domain.OrderResult{
		DealReference: out.DealReference,
		Epic:          req.Symbol,
		Direction:     req.Direction,
		Size:          req.Size,
	}
	if req.Level != nil {
		result.Level = *req.Level
	}
	return result, nil
}

// GetDealConfirmation возвращает подтверждение сделки по dealReference
func (c *Client) GetDealConfirmation(ctx context.Context, dealReference string) (*domain.DealConfirmation, error) {
	resp, err := c.doAuthenticated(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/confirms/" + url.PathEscape(dealReference),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get confirmation %s: %w", dealReference, err)
	}

	var confirmation domain.DealConfirmation
	if err := resp.Decode(&confirmation); err != nil {
		return nil, err
	}
	return &confirmation, nil
}

// WorkingOrder лимитный ордер, ожидающий исполнения
type WorkingOrder struct {
	DealID    string  `json:"deal_id"`
	Epic      string  `json:"epic"`
	Direction string  `json:"direction"`
	Size      float64 `json:"size"`
	Level     float64 `json:"level"`
	Type      string  `json:"type"`
}

func (c *Client) GetWorkingOrders(ctx context.Context) ([]WorkingOrder, error) {
	resp, err := c.doAuthenticated(ctx, &Request{Method: http.MethodGet, Path: "/workingorders"})
	if err != nil {
		return nil, fmt.Errorf("failed to get working orders: %w", err)
	}

	var out struct {
		WorkingOrders []struct {
			WorkingOrderData struct {
				DealID     string  `json:"dealId"`
				Direction  string  `json:"direction"`
				OrderSize  float64 `json:"orderSize"`
				OrderLevel float64 `json:"orderLevel"`
				OrderType  string  `json:"orderType"`
			} `json:"workingOrderData"`
			MarketData struct {
				Epic string `json:"epic"`
			} `json:"marketData"`
		} `json:"workingOrders"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}

	orders := make([]WorkingOrder, 0, len(out.WorkingOrders))
	for _, o := range out.WorkingOrders {
		orders = append(orders, WorkingOrder{
			DealID:    o.WorkingOrderData.DealID,
			Epic:      o.MarketData.Epic,
			Direction: o.WorkingOrderData.Direction,
			Size:      o.WorkingOrderData.OrderSize,
			Level:     o.WorkingOrderData.OrderLevel,
			Type:      o.WorkingOrderData.OrderType,
		})
	}
	return orders, nil
}

func (c *Client) CancelWorkingOrder(ctx context.Context, dealID string) error {
	_, err := c.doAuthenticated(ctx, &Request{
		Method: http.MethodDelete,
		Path:   "/workingorders/" + url.PathEscape(dealID),
	})
	if err != nil {
		return fmt.Errorf("failed to cancel working order %s: %w", dealID, err)
	}
	c.logger.Info("working order %s cancelled", dealID)
	return nil
}
