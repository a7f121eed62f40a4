package repository

import (
	"context"
	"database/sql"
	"time"
)

// LogRepository системные события (старт, остановка, kill switch)
type LogRepository struct {
	db *sql.DB
}

// NewLogRepository создает новый репозиторий для логов
func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Save сохраняет событие. data - JSON или пустая строка.
func (r *LogRepository) Save(ctx context.Context, level, message, data string) error {
	query := `INSERT INTO logs (level, message, data, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, level, message, nullJSON(data), time.Now())
	return err
}
