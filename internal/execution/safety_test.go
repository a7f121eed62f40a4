package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/exchange"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

func TestKillSwitch(t *testing.T) {
	ks := NewKillSwitch(utils.Nop())
	if ks.IsActive() {
		t.Fatal("kill switch should start inactive")
	}

	ks.Activate("drawdown 21%")
	ks.Activate("second reason")
	status := ks.Status()
	if !status.Active || status.Reason != "drawdown 21%" || status.ActivatedAt.IsZero() {
		t.Errorf("status = %+v", status)
	}

	ks.Deactivate()
	if ks.IsActive() || ks.Status().Reason != "" {
		t.Errorf("status after deactivate = %+v", ks.Status())
	}
}

func TestKillSwitch_Hook(t *testing.T) {
	ks := NewKillSwitch(utils.Nop())
	var events []string
	ks.SetHook(func(active bool, reason string) {
		if active {
			events = append(events, "on:"+reason)
		} else {
			events = append(events, "off")
		}
	})

	ks.Activate("manual")
	ks.Activate("again")
	ks.Deactivate()
	ks.Deactivate()
	if len(events) != 2 || events[0] != "on:manual" || events[1] != "off" {
		t.Errorf("events = %v", events)
	}

	ks.Restore("drawdown", testNow)
	if len(events) != 2 {
		t.Error("Restore must not call the hook")
	}
	if status := ks.Status(); !status.Active || status.Reason != "drawdown" || !status.ActivatedAt.Equal(testNow) {
		t.Errorf("status after restore = %+v", status)
	}
}

type scriptedSource struct {
	quote Quote
	err   error
	calls int
}

func (s *scriptedSource) GetQuote(_ context.Context, _ string) (Quote, error) {
	s.calls++
	return s.quote, s.err
}

func TestPriceFailover(t *testing.T) {
	down := errors.New("down")

	t.Run("primary", func(t *testing.T) {
		primary := &scriptedSource{quote: Quote{Bid: 1, Offer: 3, Source: "stream", UpdatedAt: testNow}}
		fallback := &scriptedSource{}
		pf := NewPriceFailover(utils.Nop(), primary, fallback)

		price, err := pf.GetPrice(context.Background(), "EURUSD")
		if err != nil || price != 2 {
			t.Fatalf("GetPrice() = %v, %v", price, err)
		}
		if fallback.calls != 0 {
			t.Error("fallback should not be called")
		}
	})

	t.Run("fallback", func(t *testing.T) {
		primary := &scriptedSource{err: down}
		fallback := &scriptedSource{quote: Quote{Bid: 1.1, Offer: 1.2, Source: "rest", UpdatedAt: testNow}}
		pf := NewPriceFailover(utils.Nop(), primary, fallback)

		q, err := pf.GetQuote(context.Background(), "EURUSD")
		if err != nil || q.Source != "rest" {
			t.Fatalf("GetQuote() = %+v, %v", q, err)
		}
	})

	t.Run("cache", func(t *testing.T) {
		source := &scriptedSource{quote: Quote{Bid: 1.1, Offer: 1.2, Source: "rest", UpdatedAt: testNow}}
		pf := NewPriceFailover(utils.Nop(), source)
		pf.now = func() time.Time { return testNow.Add(time.Minute) }

		if _, err := pf.GetQuote(context.Background(), "EURUSD"); err != nil {
			t.Fatal(err)
		}
		source.err = down

		q, err := pf.GetQuote(context.Background(), "EURUSD")
		if err != nil || q.Source != "cache" || q.Bid != 1.1 {
			t.Fatalf("GetQuote() = %+v, %v", q, err)
		}

		pf.now = func() time.Time { return testNow.Add(6 * time.Minute) }
		if _, err := pf.GetQuote(context.Background(), "EURUSD"); !errors.Is(err, ErrPriceUnavailable) {
			t.Errorf("expired cache error = %v, want ErrPriceUnavailable", err)
		}
	})

	t.Run("no sources", func(t *testing.T) {
		pf := NewPriceFailover(utils.Nop())
		if _, err := pf.GetQuote(context.Background(), "EURUSD"); !errors.Is(err, ErrPriceUnavailable) {
			t.Errorf("error = %v, want ErrPriceUnavailable", err)
		}
	})
}

type fakeStream struct {
	quotes map[string]exchange.Quote
}

func (f *fakeStream) Quote(epic string) (exchange.Quote, bool) {
	q, ok := f.quotes[epic]
	return q, ok
}

func TestStreamQuotes(t *testing.T) {
	stream := &fakeStream{quotes: map[string]exchange.Quote{
		"EURUSD": {Epic: "EURUSD", Bid: 1.1, Offer: 1.1002, UpdatedAt: testNow},
	}}
	s := &StreamQuotes{stream: stream, maxAge: streamQuoteTTL, now: func() time.Time { return testNow.Add(10 * time.Second) }}

	q, err := s.GetQuote(context.Background(), "EURUSD")
	if err != nil || q.Source != "stream" || q.Offer != 1.1002 {
		t.Fatalf("GetQuote() = %+v, %v", q, err)
	}
	if _, err := s.GetQuote(context.Background(), "GBPUSD"); err == nil {
		t.Error("expected error for unknown epic")
	}

	s.now = func() time.Time { return testNow.Add(time.Minute) }
	if _, err := s.GetQuote(context.Background(), "EURUSD"); err == nil {
		t.Error("expected error for stale quote")
	}
}

type fakeMarkets struct {
	market *domain.MarketSnapshot
	err    error
}

func (f *fakeMarkets) GetMarket(_ context.Context, _ string) (*domain.MarketSnapshot, error) {
	return f.market, f.err
}

func TestMarketQuotes(t *testing.T) {
	m := &MarketQuotes{markets: &fakeMarkets{market: &domain.MarketSnapshot{Bid: 99, Offer: 101}}, now: func() time.Time { return testNow }}
	q, err := m.GetQuote(context.Background(), "US500")
	if err != nil || q.Mid() != 100 || q.Spread() != 2 || q.Source != "rest" {
		t.Fatalf("GetQuote() = %+v, %v", q, err)
	}

	m.markets = &fakeMarkets{market: &domain.MarketSnapshot{}}
	if _, err := m.GetQuote(context.Background(), "US500"); err == nil {
		t.Error("expected error for empty prices")
	}
}

func TestSlippageGuard(t *testing.T) {
	sg := NewSlippageGuard(1.0)

	if got := sg.CalculateSlippage(101, 100); got != 1 {
		t.Errorf("CalculateSlippage() = %v, want 1", got)
	}
	if err := sg.CheckSlippage(100.5, 100); err != nil {
		t.Errorf("CheckSlippage() unexpected error: %v", err)
	}
	if err := sg.CheckSlippage(102, 100); !errors.Is(err, ErrSlippageTooHigh) {
		t.Errorf("CheckSlippage() = %v, want ErrSlippageTooHigh", err)
	}
	if err := sg.CheckSlippage(100, 0); err == nil {
		t.Error("expected error for invalid expected price")
	}
}
