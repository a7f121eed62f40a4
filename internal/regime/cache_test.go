package regime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	now := testNow
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	c.Set(ctx, "BTCUSD", Entry{RegimeID: 1, Level: domain.VolatilityMedium}, time.Hour)

	entry, ok := c.Get(ctx, "BTCUSD")
	if !ok || entry.RegimeID != 1 || entry.Level != domain.VolatilityMedium {
		t.Fatalf("unexpected entry %+v (ok=%v)", entry, ok)
	}

	now = now.Add(time.Hour + time.Second)
	if _, ok := c.Get(ctx, "BTCUSD"); ok {
		t.Error("expected entry to expire")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	c.Set(ctx, "EURUSD", Entry{RegimeID: 0, Level: domain.VolatilityLow}, time.Hour)
	c.Delete(ctx, "EURUSD")

	if _, ok := c.Get(ctx, "EURUSD"); ok {
		t.Error("expected entry to be deleted")
	}
}

func TestRedisCache_DegradedMode(t *testing.T) {
	ctx := context.Background()
	c := NewRedisCache(RedisConfig{Address: "127.0.0.1:1"}, utils.Nop())
	defer c.Close()

	if c.IsHealthy() {
		t.Fatal("expected unhealthy cache for unreachable redis")
	}

	c.Set(ctx, "BTCUSD", Entry{RegimeID: 2, Level: domain.VolatilityHigh}, time.Hour)
	entry, ok := c.Get(ctx, "BTCUSD")
	if !ok || entry.RegimeID != 2 {
		t.Fatalf("expected fallback entry, got %+v (ok=%v)", entry, ok)
	}

	if err := c.Reconnect(ctx); err == nil {
		t.Error("expected reconnect to fail")
	}
}

func TestRedisCache_RecoversAfterInterval(t *testing.T) {
	ctx := context.Background()
	c := NewRedisCache(RedisConfig{Address: "127.0.0.1:1"}, utils.Nop())
	defer c.Close()

	now := testNow
	c.now = func() time.Time { return now }
	c.lastCheck = now

	pings := 0
	pingErr := errors.New("connection refused")
	c.ping = func(context.Context) error {
		pings++
		return pingErr
	}

	c.Get(ctx, "BTCUSD")
	if pings != 0 {
		t.Fatalf("pings = %d before check interval, want 0", pings)
	}

	now = now.Add(healthCheckInterval)
	c.Get(ctx, "BTCUSD")
	c.Get(ctx, "BTCUSD")
	if pings != 1 || c.IsHealthy() {
		t.Fatalf("pings = %d, healthy = %v, want 1 and false", pings, c.IsHealthy())
	}

	pingErr = nil
	now = now.Add(healthCheckInterval)
	c.checkHealth(ctx)
	if pings != 2 || !c.IsHealthy() {
		t.Fatalf("pings = %d, healthy = %v, want 2 and true", pings, c.IsHealthy())
	}
	if c.failureCount != 0 {
		t.Errorf("failureCount = %d after recovery", c.failureCount)
	}
}

type fakeCandleStore struct {
	candles []domain.Candle
	err     error
	saved   []domain.Candle
}

func (s *fakeCandleStore) GetCandles(_ context.Context, _ string, _ int) ([]domain.Candle, error) {
	return s.candles, s.err
}

func (s *fakeCandleStore) SaveCandles(_ context.Context, candles []domain.Candle) error {
	s.saved = append(s.saved, candles...)
	return nil
}

func TestFallbackSource(t *testing.T) {
	enough := syntheticCandles("BTCUSD", 100, 1)
	few := syntheticCandles("BTCUSD", 10, 1)

	tests := []struct {
		name        string
		store       *fakeCandleStore
		broker      *fakeCandles
		wantLen     int
		wantErr     bool
		brokerCalls int
		savedLen    int
	}{
		{
			name:        "db has enough candles",
			store:       &fakeCandleStore{candles: enough},
			broker:      &fakeCandles{},
			wantLen:     100,
			brokerCalls: 0,
		},
		{
			name:        "db short, broker fills",
			store:       &fakeCandleStore{candles: few},
			broker:      &fakeCandles{candles: enough},
			wantLen:     100,
			brokerCalls: 1,
			savedLen:    100,
		},
		{
			name:        "db short, broker down",
			store:       &fakeCandleStore{candles: few},
			broker:      &fakeCandles{err: errors.New("timeout")},
			wantLen:     10,
			brokerCalls: 1,
		},
		{
			name:        "db error, broker down",
			store:       &fakeCandleStore{err: errors.New("db down")},
			broker:      &fakeCandles{err: errors.New("timeout")},
			wantErr:     true,
			brokerCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewFallbackSource(tt.store, tt.broker, utils.Nop())
			got, err := src.GetCandles(context.Background(), "BTCUSD", 500)

			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("expected %d candles, got %d", tt.wantLen, len(got))
			}
			if tt.broker.calls != tt.brokerCalls {
				t.Errorf("expected %d broker calls, got %d", tt.brokerCalls, tt.broker.calls)
			}
			if len(tt.store.saved) != tt.savedLen {
				t.Errorf("expected %d saved candles, got %d", tt.savedLen, len(tt.store.saved))
			}
		})
	}
}
