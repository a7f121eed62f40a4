package regime

import (
	"context"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

// CandleSource источник исторических свечей
type CandleSource interface {
	GetCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error)
}

// FallbackSource читает свечи из БД, а при нехватке данных загружает их у брокера
// и сохраняет в БД
type FallbackSource struct {
	store  domain.CandleStore
	broker CandleSource
	logger *utils.Logger
}

func NewFallbackSource(store domain.CandleStore, broker CandleSource, logger *utils.Logger) *FallbackSource {
	return &FallbackSource{store: store, broker: broker, logger: logger.With("candles")}
}

func (s *FallbackSource) GetCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	candles, err := s.store.GetCandles(ctx, symbol, limit)
	if err == nil && len(candles) >= MinTrainingRows+volatilityWindow {
		return candles, nil
	}
	if err != nil {
		s.logger.Warn("failed to read candles for %s from db: %v", symbol, err)
	}

	fresh, brokerErr := s.broker.GetCandles(ctx, symbol, limit)
	if brokerErr != nil {
		if err == nil {
			// отдаем то, что есть в БД
			return candles, nil
		}
		return nil, brokerErr
	}

	if saveErr := s.store.SaveCandles(ctx, fresh); saveErr != nil {
		s.logger.Warn("failed to save %d candles for %s: %v", len(fresh), symbol, saveErr)
	}
	return fresh, nil
}
