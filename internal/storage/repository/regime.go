package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// RegimeRepository история режимов волатильности
type RegimeRepository struct {
	db *sql.DB
}

// NewRegimeRepository создает новый репозиторий
func NewRegimeRepository(db *sql.DB) *RegimeRepository {
	return &RegimeRepository{db: db}
}

// Save добавляет запись о режиме
func (r *RegimeRepository) Save(ctx context.Context, regime *domain.VolatilityRegime) error {
	averages, err := json.Marshal(regime.FeatureAverages)
	if err != nil {
		return fmt.Errorf("failed to encode feature averages: %w", err)
	}

	var regimeID sql.NullInt64
	if regime.RegimeID != nil {
		regimeID = sql.NullInt64{Int64: int64(*regime.RegimeID), Valid: true}
	}

	query := `
		INSERT INTO volatility_regimes (symbol, regime_id, volatility_level, description, feature_averages, trained_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return r.db.QueryRowContext(
		ctx,
		query,
		regime.Symbol,
		regimeID,
		string(regime.VolatilityLevel),
		regime.Description,
		string(averages),
		regime.TrainedAt,
	).Scan(&regime.ID)
}

// GetCurrent получает последнюю запись о режиме символа
func (r *RegimeRepository) GetCurrent(ctx context.Context, symbol string) (*domain.VolatilityRegime, error) {
	query := `
		SELECT id, symbol, regime_id, volatility_level, COALESCE(description, ''),
		       COALESCE(feature_averages::text, '{}'), trained_at
		FROM volatility_regimes
		WHERE symbol = $1
		ORDER BY trained_at DESC
		LIMIT 1
	`
	var (
		regime   domain.VolatilityRegime
		regimeID sql.NullInt64
		level    string
		averages string
	)
	err := r.db.QueryRowContext(ctx, query, symbol).Scan(
		&regime.ID,
		&regime.Symbol,
		&regimeID,
		&level,
		&regime.Description,
		&averages,
		&regime.TrainedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("regime for %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if regimeID.Valid {
		id := int(regimeID.Int64)
		regime.RegimeID = &id
	}
	regime.VolatilityLevel = domain.VolatilityLevel(level)
	if err := json.Unmarshal([]byte(averages), &regime.FeatureAverages); err != nil {
		return nil, fmt.Errorf("failed to decode feature averages: %w", err)
	}
	return &regime, nil
}
