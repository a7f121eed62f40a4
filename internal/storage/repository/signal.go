package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// SignalRepository управляет входящими сигналами
type SignalRepository struct {
	db *sql.DB
}

// NewSignalRepository создает новый репозиторий
func NewSignalRepository(db *sql.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Save сохраняет сигнал. Повторный сигнал с тем же id не перезаписывается.
func (r *SignalRepository) Save(ctx context.Context, signal *domain.SignalRecord) error {
	if signal.ReceivedAt.IsZero() {
		signal.ReceivedAt = time.Now()
	}

	query := `
		INSERT INTO signals (id, symbol, direction, size, price, stop_loss, take_profit, account_id, raw, status, message, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		signal.ID,
		signal.Symbol,
		signal.Direction,
		signal.Size,
		nullFloat(signal.Price),
		nullFloat(signal.StopLoss),
		nullFloat(signal.TakeProfit),
		signal.AccountID,
		nullJSON(signal.Raw),
		signal.Status,
		signal.Message,
		signal.ReceivedAt,
	)
	return err
}

// UpdateStatus обновляет статус обработки сигнала
func (r *SignalRepository) UpdateStatus(ctx context.Context, id, status, message string) error {
	query := `UPDATE signals SET status = $1, message = $2, updated_at = $3 WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, status, message, time.Now(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("signal %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetRecent получает последние N сигналов
func (r *SignalRepository) GetRecent(ctx context.Context, limit int) ([]domain.SignalRecord, error) {
	query := `
		SELECT id, symbol, direction, size, price, stop_loss, take_profit,
		       account_id, COALESCE(raw::text, ''), status, COALESCE(message, ''), received_at
		FROM signals
		ORDER BY received_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.SignalRecord
	for rows.Next() {
		var s domain.SignalRecord
		var price, stop, takeProfit sql.NullFloat64
		err := rows.Scan(
			&s.ID,
			&s.Symbol,
			&s.Direction,
			&s.Size,
			&price,
			&stop,
			&takeProfit,
			&s.AccountID,
			&s.Raw,
			&s.Status,
			&s.Message,
			&s.ReceivedAt,
		)
		if err != nil {
			return nil, err
		}
		s.Price = floatPtr(price)
		s.StopLoss = floatPtr(stop)
		s.TakeProfit = floatPtr(takeProfit)
		signals = append(signals, s)
	}

	return signals, rows.Err()
}
