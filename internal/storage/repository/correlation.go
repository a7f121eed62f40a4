package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// CorrelationRepository корреляции доходностей между парами символов
type CorrelationRepository struct {
	db *sql.DB
}

// NewCorrelationRepository создает новый репозиторий
func NewCorrelationRepository(db *sql.DB) *CorrelationRepository {
	return &CorrelationRepository{db: db}
}

// orderPair пара хранится в лексикографическом порядке, поэтому (a, b) и (b, a) совпадают
func orderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Get получает корреляцию пары за окно windowDays
func (r *CorrelationRepository) Get(ctx context.Context, symbolA, symbolB string, windowDays int) (float64, error) {
	a, b := orderPair(symbolA, symbolB)
	query := `
		SELECT value FROM correlations
		WHERE symbol_a = $1 AND symbol_b = $2 AND window_days = $3
	`
	var value float64
	err := r.db.QueryRowContext(ctx, query, a, b, windowDays).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("correlation %s/%s (%dd): %w", a, b, windowDays, domain.ErrNotFound)
	}
	return value, err
}

// Save сохраняет или обновляет корреляцию пары
func (r *CorrelationRepository) Save(ctx context.Context, symbolA, symbolB string, windowDays int, value float64) error {
	a, b := orderPair(symbolA, symbolB)
	query := `
		INSERT INTO correlations (symbol_a, symbol_b, window_days, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol_a, symbol_b, window_days) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, a, b, windowDays, value, time.Now())
	return err
}
