package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// TradeRepository реализует работу с исполненными сделками
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый репозиторий для сделок
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Save сохраняет новую сделку
func (r *TradeRepository) Save(ctx context.Context, trade *domain.TradeRecord) error {
	if trade.OpenedAt.IsZero() {
		trade.OpenedAt = time.Now()
	}
	query := `
		INSERT INTO trades (signal_id, account_id, symbol, direction, size, entry_price, stop_level, profit_level,
		                    deal_reference, deal_id, status, profit_loss, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	return r.db.QueryRowContext(
		ctx,
		query,
		trade.SignalID,
		trade.AccountID,
		trade.Symbol,
		trade.Direction,
		trade.Size,
		trade.EntryPrice,
		nullFloat(trade.StopLevel),
		nullFloat(trade.ProfitLevel),
		trade.DealReference,
		trade.DealID,
		trade.Status,
		trade.ProfitLoss,
		trade.OpenedAt,
		nullTime(trade.ClosedAt),
	).Scan(&trade.ID)
}

// Close отмечает сделку закрытой с итоговым результатом
func (r *TradeRepository) Close(ctx context.Context, dealID string, profitLoss float64, closedAt time.Time) error {
	query := `
		UPDATE trades SET status = $1, profit_loss = $2, closed_at = $3
		WHERE deal_id = $4 AND closed_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, domain.StatusClosed, profitLoss, closedAt, dealID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("open trade %s: %w", dealID, domain.ErrNotFound)
	}
	return nil
}

// GetClosed получает закрытые сделки с момента since. symbol == ALL - по всем символам.
func (r *TradeRepository) GetClosed(ctx context.Context, symbol string, since time.Time) ([]domain.ClosedTrade, error) {
	query := `
		SELECT symbol, profit_loss, closed_at
		FROM trades
		WHERE closed_at IS NOT NULL AND closed_at >= $1
	`
	args := []interface{}{since}
	if symbol != domain.SymbolAll {
		query += ` AND symbol = $2`
		args = append(args, symbol)
	}
	query += ` ORDER BY closed_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		if err := rows.Scan(&t.Symbol, &t.ProfitLoss, &t.Timestamp); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// GetRecent получает последние N сделок
func (r *TradeRepository) GetRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	query := `
		SELECT id, COALESCE(signal_id, ''), account_id, symbol, direction, size, entry_price, stop_level, profit_level,
		       deal_reference, COALESCE(deal_id, ''), status, profit_loss, opened_at, closed_at
		FROM trades
		ORDER BY opened_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var stop, profit sql.NullFloat64
		var closedAt sql.NullTime
		err := rows.Scan(
			&t.ID,
			&t.SignalID,
			&t.AccountID,
			&t.Symbol,
			&t.Direction,
			&t.Size,
			&t.EntryPrice,
			&stop,
			&profit,
			&t.DealReference,
			&t.DealID,
			&t.Status,
			&t.ProfitLoss,
			&t.OpenedAt,
			&closedAt,
		)
		if err != nil {
			return nil, err
		}
		t.StopLevel = floatPtr(stop)
		t.ProfitLevel = floatPtr(profit)
		t.ClosedAt = timePtr(closedAt)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}
