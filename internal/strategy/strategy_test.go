package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/policy"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

var testNow = time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)

type fakeAccounts struct {
	balance float64
	peak    float64
	err     error
}

func (f *fakeAccounts) GetBalance(_ context.Context, _ string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.balance, nil
}

func (f *fakeAccounts) GetPeakBalance(_ context.Context, _ string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.peak, nil
}

type fakeHistory struct {
	trades     []domain.ClosedTrade
	err        error
	lastSymbol string
	lastSince  time.Time
}

func (f *fakeHistory) GetClosedTrades(_ context.Context, symbol string, since time.Time) ([]domain.ClosedTrade, error) {
	f.lastSymbol, f.lastSince = symbol, since
	return f.trades, f.err
}

type fakeRegimes struct {
	id    int
	level domain.VolatilityLevel
	calls int
}

func (f *fakeRegimes) Detect(_ context.Context, _ string) (int, domain.VolatilityLevel) {
	f.calls++
	return f.id, f.level
}

type fakeAudit struct {
	sizing []*domain.PositionSizingDecision
	risk   []*domain.RiskEvaluation
	err    error
}

func (f *fakeAudit) SaveSizingDecision(_ context.Context, d *domain.PositionSizingDecision) error {
	f.sizing = append(f.sizing, d)
	return f.err
}

func (f *fakeAudit) SaveRiskEvaluation(_ context.Context, e *domain.RiskEvaluation) error {
	f.risk = append(f.risk, e)
	return f.err
}

type fakePositions struct {
	positions []domain.Position
	err       error
}

func (f *fakePositions) GetPositions(_ context.Context) ([]domain.Position, error) {
	return f.positions, f.err
}

type fakeCorrelations map[string]float64

func (f fakeCorrelations) GetCorrelation(_ context.Context, a, b string, _ int) (float64, error) {
	if v, ok := f[a+"/"+b]; ok {
		return v, nil
	}
	return 0, domain.ErrNotFound
}

var errStore = errors.New("store unavailable")

func testProfiles() *policy.Engine {
	return policy.NewStaticEngine(policy.DefaultProfile())
}

func trades(wins, losses int, at time.Time) []domain.ClosedTrade {
	var out []domain.ClosedTrade
	for i := 0; i < wins; i++ {
		out = append(out, domain.ClosedTrade{Symbol: "EURUSD", ProfitLoss: 50, Timestamp: at})
	}
	for i := 0; i < losses; i++ {
		out = append(out, domain.ClosedTrade{Symbol: "EURUSD", ProfitLoss: -50, Timestamp: at})
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }

func nopLogger() *utils.Logger { return utils.Nop() }
