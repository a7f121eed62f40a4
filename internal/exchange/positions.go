package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// GetPositions возвращает открытые позиции
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	resp, err := c.doAuthenticated(ctx, &Request{Method: http.MethodGet, Path: "/positions"})
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	var out struct {
		Positions []wirePosition `json:"positions"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		positions = append(positions, p.toDomain())
	}
	return positions, nil
}

// GetPosition возвращает позицию по dealId. Если брокер не находит ее напрямую,
// ищем в списке открытых позиций по dealId или dealReference.
func (c *Client) GetPosition(ctx context.Context, dealID string) (*domain.Position, error) {
	resp, err := c.doAuthenticated(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/positions/" + url.PathEscape(dealID),
	})
	if err == nil {
		var out wirePosition
		if err := resp.Decode(&out); err != nil {
			return nil, err
		}
		position := out.toDomain()
		return &position, nil
	}

	if !isNotFound(err) {
		return nil, fmt.Errorf("failed to get position %s: %w", dealID, err)
	}

	c.logger.Warn("position %s not found directly, searching open positions", dealID)
	positions, listErr := c.GetPositions(ctx)
	if listErr != nil {
		return nil, listErr
	}
	for i := range positions {
		if positions[i].DealID == dealID || positions[i].DealReference == dealID {
			return &positions[i], nil
		}
	}
	return nil, fmt.Errorf("position %s: %w", dealID, domain.ErrNotFound)
}

func isNotFound(err error) bool {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || strings.Contains(apiErr.ErrorCode, "not-found")
}

// ClosePosition закрывает позицию встречным рыночным ордером того же размера
func (c *Client) ClosePosition(ctx context.Context, dealID string) (*domain.OrderResult, error) {
	// 1. Узнаем направление и размер
	position, err := c.GetPosition(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to close position: %w", err)
	}

	// 2. Встречный ордер
	result, err := c.CreateOrder(ctx, domain.OrderRequest{
		Symbol:    position.Epic,
		Direction: OppositeDirection(position.Direction),
		Size:      position.Size,
		OrderType: domain.OrderTypeMarket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close position %s: %w", dealID, err)
	}

	c.logger.Info("position %s closed by %s %.2f %s", dealID, result.Direction, result.Size, result.Epic)
	return result, nil
}

// OppositeDirection встречное направление сделки
func OppositeDirection(direction string) string {
	if direction == domain.DirectionBuy {
		return domain.DirectionSell
	}
	return domain.DirectionBuy
}

// DefaultTrailingDistance дистанция трейлинг-стопа по умолчанию:
// 1% цены для символов с BTC или USD, иначе 0.5%
func DefaultTrailingDistance(symbol string, price float64) float64 {
	pct := 0.005
	upper := strings.ToUpper(symbol)
	if strings.Contains(upper, "BTC") || strings.Contains(upper, "USD") {
		pct = 0.01
	}
	return roundTo(price*pct, 5)
}

// UpdatePosition изменяет стопы позиции
func (c *Client) UpdatePosition(ctx context.Context, dealID string, update domain.PositionUpdate) error {
	trailing := update.TrailingStop != nil && *update.TrailingStop
	guaranteed := update.GuaranteedStop != nil && *update.GuaranteedStop

	// 1. Трейлинг и гарантированный стоп взаимоисключающие
	if trailing && guaranteed {
		return validationError("guaranteed stop and trailing stop are mutually exclusive")
	}

	// 2. Трейлинг-стоп без дистанции: берем ее от текущей цены позиции
	if trailing {
		if update.GuaranteedStop == nil {
			off := false
			update.GuaranteedStop = &off
		}
		if update.StopDistance == nil {
			position, err := c.GetPosition(ctx, dealID)
			switch {
			case err != nil:
				c.logger.Warn("trailing stop for %s without distance: position lookup failed: %v", dealID, err)
			case position.CurrentPrice() <= 0:
				c.logger.Warn("trailing stop for %s without distance: no current price", dealID)
			default:
				distance := DefaultTrailingDistance(position.Epic, position.CurrentPrice())
				update.StopDistance = &distance
				c.logger.Info("trailing stop distance for %s defaulted to %v", dealID, distance)
			}
		}
	}

	_, err := c.doAuthenticated(ctx, &Request{
		Method: http.MethodPut,
		Path:   "/positions/" + url.PathEscape(dealID),
		Body:   newUpdatePositionBody(update),
	})
	if err != nil {
		return fmt.Errorf("failed to update position %s: %w", dealID, err)
	}
	return nil
}
