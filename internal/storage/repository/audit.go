package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// AuditRepository append-only журнал решений по размеру позиции и риску
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository создает новый репозиторий
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// SaveSizingDecision сохраняет решение о размере позиции
func (r *AuditRepository) SaveSizingDecision(ctx context.Context, d *domain.PositionSizingDecision) error {
	query := `
		INSERT INTO position_sizing_decisions (
			signal_id, symbol, account_id, original_size, adjusted_size, regime_id, volatility_level,
			regime_factor, performance_factor, drawdown_factor, risk_cap_size, total_adjustment_factor, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	return r.db.QueryRowContext(
		ctx,
		query,
		d.SignalID,
		d.Symbol,
		d.AccountID,
		d.OriginalSize,
		d.AdjustedSize,
		d.RegimeID,
		d.VolatilityLevel,
		d.RegimeFactor,
		d.PerformanceFactor,
		d.DrawdownFactor,
		d.RiskCapSize,
		d.TotalAdjustmentFactor,
		d.CreatedAt,
	).Scan(&d.ID)
}

// SaveRiskEvaluation сохраняет оценку риска. Проверки хранятся в JSONB.
func (r *AuditRepository) SaveRiskEvaluation(ctx context.Context, e *domain.RiskEvaluation) error {
	checks, err := json.Marshal(struct {
		DailyRisk   domain.DailyRiskCheck   `json:"daily_risk"`
		Drawdown    domain.DrawdownCheck    `json:"drawdown"`
		Correlation domain.CorrelationCheck `json:"correlation"`
	}{e.DailyRisk, e.Drawdown, e.CorrelationRisk})
	if err != nil {
		return fmt.Errorf("failed to encode risk checks: %w", err)
	}

	query := `
		INSERT INTO risk_evaluations (
			id, symbol, account_id, direction, status, rejection_reason, original_size, adjusted_size,
			size_adjustment_factor, checks, warnings, evaluated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		e.ID,
		e.Symbol,
		e.AccountID,
		e.Direction,
		string(e.Status),
		e.RejectionReason,
		e.OriginalSize,
		e.AdjustedSize,
		e.SizeAdjustmentFactor,
		string(checks),
		pq.Array(e.Warnings),
		e.EvaluatedAt,
	)
	return err
}
