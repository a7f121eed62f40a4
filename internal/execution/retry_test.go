package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
)

func brokerValidation(code string) error {
	return &domain.APIError{Kind: domain.ErrValidation, StatusCode: 400, ErrorCode: code, Message: "order rejected"}
}

func TestParseCorrection(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   Correction
		wantOK bool
	}{
		{
			"stop loss min",
			brokerValidation("error.invalid.stoploss.minvalue: 95.50"),
			Correction{Field: FieldStopLoss, Bound: "min", Value: 95.5}, true,
		},
		{
			"take profit max",
			brokerValidation("error.invalid.takeprofit.maxvalue: 1.23456"),
			Correction{Field: FieldTakeProfit, Bound: "max", Value: 1.23456}, true,
		},
		{
			"wrapped",
			fmt.Errorf("failed to create market order for EURUSD: %w", brokerValidation("error.invalid.stoploss.maxvalue:101")),
			Correction{Field: FieldStopLoss, Bound: "max", Value: 101}, true,
		},
		{"other validation error", brokerValidation("error.invalid.size"), Correction{}, false},
		{
			"not a validation error",
			&domain.APIError{Kind: domain.ErrBroker, StatusCode: 500, Message: "error.invalid.stoploss.minvalue: 95.50"},
			Correction{}, false,
		},
		{"nil", nil, Correction{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCorrection(tt.err)
			if ok != tt.wantOK {
				t.Fatalf("ParseCorrection() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseCorrection() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCorrection_Apply(t *testing.T) {
	distance := 10.0
	req := domain.OrderRequest{StopDistance: &distance}

	if !(Correction{Field: FieldStopLoss, Value: 95.5}).Apply(&req, 0) {
		t.Error("Apply() = false for a fixed stop")
	}
	if req.StopLevel == nil || *req.StopLevel != 95.5 {
		t.Errorf("StopLevel = %v, want 95.5", req.StopLevel)
	}
	if req.StopDistance != nil {
		t.Error("StopDistance should be cleared")
	}

	Correction{Field: FieldTakeProfit, Value: 120}.Apply(&req, 0)
	if req.ProfitLevel == nil || *req.ProfitLevel != 120 {
		t.Errorf("ProfitLevel = %v, want 120", req.ProfitLevel)
	}
}

func TestCorrection_ApplyTrailingStop(t *testing.T) {
	tests := []struct {
		name         string
		entry        float64
		wantOK       bool
		wantDistance *float64
		wantLevel    *float64
	}{
		{"converted to distance from entry", 100, true, floatPtr(4.5), nil},
		{"no entry keeps level", 0, false, nil, floatPtr(95.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			distance := 3.0
			req := domain.OrderRequest{TrailingStop: true, StopDistance: &distance}

			ok := Correction{Field: FieldStopLoss, Bound: "min", Value: 95.5}.Apply(&req, tt.entry)
			if ok != tt.wantOK {
				t.Errorf("Apply() = %v, want %v", ok, tt.wantOK)
			}
			if !equalPtr(req.StopDistance, tt.wantDistance) {
				t.Errorf("StopDistance = %v, want %v", req.StopDistance, tt.wantDistance)
			}
			if !equalPtr(req.StopLevel, tt.wantLevel) {
				t.Errorf("StopLevel = %v, want %v", req.StopLevel, tt.wantLevel)
			}
		})
	}
}

func TestSubmitWithRecovery_TrailingStopCorrection(t *testing.T) {
	distance := 3.0
	broker := &fakeBroker{errs: []error{brokerValidation("error.invalid.stoploss.minvalue: 1.0950")}}

	sub, err := submitWithRecovery(context.Background(), broker, domain.OrderRequest{
		Symbol: "EURUSD", Direction: domain.DirectionBuy, Size: 1000, TrailingStop: true, StopDistance: &distance,
	}, 1.1, 3, (&sleepRecorder{}).sleep)
	if err != nil {
		t.Fatalf("submitWithRecovery() error = %v", err)
	}

	resent := broker.requests[1]
	if !resent.TrailingStop || resent.StopLevel != nil {
		t.Errorf("resubmitted trailing=%v stopLevel=%v", resent.TrailingStop, resent.StopLevel)
	}
	if resent.StopDistance == nil || *resent.StopDistance != 0.005 {
		t.Errorf("resubmitted stopDistance = %v, want 0.005", resent.StopDistance)
	}
	if len(sub.warnings) != 0 {
		t.Errorf("warnings = %v", sub.warnings)
	}

	broker = &fakeBroker{errs: []error{brokerValidation("error.invalid.stoploss.minvalue: 1.0950")}}
	sub, err = submitWithRecovery(context.Background(), broker, domain.OrderRequest{
		Symbol: "EURUSD", Direction: domain.DirectionBuy, Size: 1000, TrailingStop: true, StopDistance: &distance,
	}, 0, 3, (&sleepRecorder{}).sleep)
	if err != nil {
		t.Fatalf("submitWithRecovery() error = %v", err)
	}
	if len(sub.warnings) != 1 {
		t.Errorf("warnings = %v, want one trailing stop warning", sub.warnings)
	}
}

func floatPtr(v float64) *float64 { return &v }

func equalPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestSubmitWithRecovery_StopLossCorrectedOnce(t *testing.T) {
	stop := 96.0
	broker := &fakeBroker{errs: []error{brokerValidation("error.invalid.stoploss.minvalue: 95.50")}}
	rec := &sleepRecorder{}

	sub, err := submitWithRecovery(context.Background(), broker, domain.OrderRequest{
		Symbol: "US500", Direction: domain.DirectionSell, Size: 1, StopLevel: &stop,
	}, 0, 3, rec.sleep)
	if err != nil {
		t.Fatalf("submitWithRecovery() error = %v", err)
	}

	if len(broker.requests) != 2 {
		t.Fatalf("broker calls = %d, want 2", len(broker.requests))
	}
	if got := broker.requests[1].StopLevel; got == nil || *got != 95.5 {
		t.Errorf("resubmitted stopLevel = %v, want 95.5", got)
	}
	if *broker.requests[0].StopLevel != 96.0 {
		t.Error("original request must not be mutated")
	}
	if sub.attempts != 2 || len(sub.corrections) != 1 {
		t.Errorf("attempts = %d, corrections = %d", sub.attempts, len(sub.corrections))
	}
	if len(rec.delays) != 0 {
		t.Errorf("correction should not back off, got %v", rec.delays)
	}
}

func TestSubmitWithRecovery_SameFieldTwiceIsTerminal(t *testing.T) {
	broker := &fakeBroker{errs: []error{
		brokerValidation("error.invalid.stoploss.minvalue: 95.50"),
		brokerValidation("error.invalid.stoploss.minvalue: 95.80"),
	}}

	sub, err := submitWithRecovery(context.Background(), broker, domain.OrderRequest{Symbol: "US500", Direction: domain.DirectionSell, Size: 1}, 0, 3, (&sleepRecorder{}).sleep)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}
	if len(broker.requests) != 2 {
		t.Errorf("broker calls = %d, want 2", len(broker.requests))
	}
	if sub.attempts != 2 {
		t.Errorf("attempts = %d, want 2", sub.attempts)
	}
}

func TestSubmitWithRecovery_BothFieldsCorrected(t *testing.T) {
	broker := &fakeBroker{errs: []error{
		brokerValidation("error.invalid.stoploss.minvalue: 95.50"),
		brokerValidation("error.invalid.takeprofit.maxvalue: 90"),
	}}

	sub, err := submitWithRecovery(context.Background(), broker, domain.OrderRequest{Symbol: "US500", Direction: domain.DirectionSell, Size: 1}, 0, 3, (&sleepRecorder{}).sleep)
	if err != nil {
		t.Fatalf("submitWithRecovery() error = %v", err)
	}
	if len(broker.requests) != 3 || len(sub.corrections) != 2 {
		t.Errorf("calls = %d, corrections = %d", len(broker.requests), len(sub.corrections))
	}
	last := broker.requests[2]
	if *last.StopLevel != 95.5 || *last.ProfitLevel != 90 {
		t.Errorf("last request stop=%v profit=%v", *last.StopLevel, *last.ProfitLevel)
	}
}

func TestSubmitWithRecovery_TransientRetries(t *testing.T) {
	rateLimited := &domain.APIError{Kind: domain.ErrRateLimit, StatusCode: 429}
	broker := &fakeBroker{errs: []error{rateLimited, rateLimited}}
	rec := &sleepRecorder{}

	sub, err := submitWithRecovery(context.Background(), broker, domain.OrderRequest{Symbol: "EURUSD", Direction: domain.DirectionBuy, Size: 1}, 0, 3, rec.sleep)
	if err != nil {
		t.Fatalf("submitWithRecovery() error = %v", err)
	}
	if sub.attempts != 3 {
		t.Errorf("attempts = %d, want 3", sub.attempts)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, rec.delays[i], want[i])
		}
	}
}

func TestSubmitWithRecovery_Exhausted(t *testing.T) {
	broker := &fakeBroker{failAll: &domain.APIError{Kind: domain.ErrBroker, StatusCode: 503}}

	_, err := submitWithRecovery(context.Background(), broker, domain.OrderRequest{Symbol: "EURUSD", Direction: domain.DirectionBuy, Size: 1}, 0, 3, (&sleepRecorder{}).sleep)
	if !errors.Is(err, domain.ErrBroker) {
		t.Fatalf("error = %v, want broker error", err)
	}
	if len(broker.requests) != 3 {
		t.Errorf("broker calls = %d, want 3", len(broker.requests))
	}
}

func TestSubmitWithRecovery_NonRetryable(t *testing.T) {
	broker := &fakeBroker{errs: []error{brokerValidation("error.invalid.size")}}

	_, err := submitWithRecovery(context.Background(), broker, domain.OrderRequest{Symbol: "EURUSD", Direction: domain.DirectionBuy, Size: 1}, 0, 3, (&sleepRecorder{}).sleep)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(broker.requests) != 1 {
		t.Errorf("broker calls = %d, want 1", len(broker.requests))
	}
}

func TestSubmitWithRecovery_ContextCancelled(t *testing.T) {
	broker := &fakeBroker{failAll: &domain.APIError{Kind: domain.ErrTimeout, StatusCode: 408}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := submitWithRecovery(ctx, broker, domain.OrderRequest{Symbol: "EURUSD", Direction: domain.DirectionBuy, Size: 1}, 0, 3, sleepContext)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(broker.requests) != 1 {
		t.Errorf("broker calls = %d, want 1", len(broker.requests))
	}
}
