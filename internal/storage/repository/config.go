package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ConfigRepository реализует работу с параметрами конфигурации
type ConfigRepository struct {
	db *sql.DB
}

// NewConfigRepository создает новый репозиторий для конфигурации
func NewConfigRepository(db *sql.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// Set устанавливает параметр конфигурации
func (r *ConfigRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO config_params (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, key, value, time.Now())
	return err
}

// Get получает параметр конфигурации, пустая строка если не задан
func (r *ConfigRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	query := `SELECT value FROM config_params WHERE key = $1`
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	return value, err
}
