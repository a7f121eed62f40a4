package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// KillSwitchRepository журнал активаций kill switch
type KillSwitchRepository struct {
	db *sql.DB
}

// NewKillSwitchRepository создает новый репозиторий
func NewKillSwitchRepository(db *sql.DB) *KillSwitchRepository {
	return &KillSwitchRepository{db: db}
}

// SaveEvent сохраняет активацию
func (r *KillSwitchRepository) SaveEvent(ctx context.Context, reason string, at time.Time) error {
	query := `INSERT INTO kill_switch_events (reason, activated_at) VALUES ($1, $2)`
	_, err := r.db.ExecContext(ctx, query, reason, at)
	return err
}

// Resolve закрывает все активные события
func (r *KillSwitchRepository) Resolve(ctx context.Context, at time.Time) error {
	query := `UPDATE kill_switch_events SET deactivated_at = $1 WHERE deactivated_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, at)
	return err
}

// GetActive получает последнее незакрытое событие
func (r *KillSwitchRepository) GetActive(ctx context.Context) (*domain.KillSwitchEvent, error) {
	query := `
		SELECT id, reason, activated_at, deactivated_at
		FROM kill_switch_events
		WHERE deactivated_at IS NULL
		ORDER BY activated_at DESC
		LIMIT 1
	`
	var e domain.KillSwitchEvent
	var deactivatedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query).Scan(&e.ID, &e.Reason, &e.ActivatedAt, &deactivatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active kill switch event: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	e.DeactivatedAt = timePtr(deactivatedAt)
	return &e, nil
}
