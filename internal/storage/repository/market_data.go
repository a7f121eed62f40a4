package repository

import (
	"context"
	"database/sql"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// MarketDataRepository исторические OHLCV свечи
type MarketDataRepository struct {
	db *sql.DB
}

// NewMarketDataRepository создает новый репозиторий
func NewMarketDataRepository(db *sql.DB) *MarketDataRepository {
	return &MarketDataRepository{db: db}
}

// GetCandles получает последние limit свечей в хронологическом порядке
func (r *MarketDataRepository) GetCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	query := `
		SELECT symbol, timestamp, open, high, low, close, volume FROM (
			SELECT symbol, timestamp, open, high, low, close, volume
			FROM market_data
			WHERE symbol = $1
			ORDER BY timestamp DESC
			LIMIT $2
		) latest
		ORDER BY timestamp
	`
	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		err := rows.Scan(
			&c.Symbol,
			&c.Timestamp,
			&c.Open,
			&c.High,
			&c.Low,
			&c.Close,
			&c.Volume,
		)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}

	return candles, rows.Err()
}

// SaveCandles сохраняет свечи одной транзакцией, существующие перезаписываются
func (r *MarketDataRepository) SaveCandles(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_data (symbol, timestamp, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, timestamp) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return err
		}
	}

	return tx.Commit()
}
