package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// BalanceRepository реализует работу с балансами счетов
type BalanceRepository struct {
	db *sql.DB
}

// NewBalanceRepository создает новый репозиторий для балансов
func NewBalanceRepository(db *sql.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Get получает текущий и пиковый баланс счета
func (r *BalanceRepository) Get(ctx context.Context, accountID string) (balance, peak float64, err error) {
	query := `SELECT balance, peak_balance FROM account_balances WHERE account_id = $1`
	err = r.db.QueryRowContext(ctx, query, accountID).Scan(&balance, &peak)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("balance for account %s: %w", accountID, domain.ErrNotFound)
	}
	return balance, peak, err
}

// Update обновляет или создает баланс. Пик не уменьшается.
func (r *BalanceRepository) Update(ctx context.Context, accountID, currency string, balance float64) error {
	query := `
		INSERT INTO account_balances (account_id, currency, balance, peak_balance, updated_at)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			currency = EXCLUDED.currency,
			balance = EXCLUDED.balance,
			peak_balance = GREATEST(account_balances.peak_balance, EXCLUDED.balance),
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, accountID, currency, balance, time.Now())
	return err
}
