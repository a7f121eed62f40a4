package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/internal/exchange"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

const (
	priceCacheTTL  = 5 * time.Minute
	streamQuoteTTL = 30 * time.Second
)

// Quote текущие bid/offer инструмента
type Quote struct {
	Bid       float64   `json:"bid"`
	Offer     float64   `json:"offer"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mid средняя цена
func (q Quote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Offer > 0:
		return (q.Bid + q.Offer) / 2
	case q.Bid > 0:
		return q.Bid
	default:
		return q.Offer
	}
}

// Spread спред, 0 если одна из сторон неизвестна
func (q Quote) Spread() float64 {
	if q.Bid <= 0 || q.Offer <= 0 {
		return 0
	}
	return q.Offer - q.Bid
}

// QuoteSource источник котировок
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// PriceFailover получает котировки из первого доступного источника,
// при отказе всех источников отдает кеш не старше 5 минут
type PriceFailover struct {
	sources []QuoteSource
	logger  *utils.Logger
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]Quote
}

// NewPriceFailover создает новый price failover
func NewPriceFailover(logger *utils.Logger, sources ...QuoteSource) *PriceFailover {
	return &PriceFailover{
		sources: sources,
		logger:  logger.With("prices"),
		now:     time.Now,
		cache:   make(map[string]Quote),
	}
}

// GetQuote получает котировку с failover
func (pf *PriceFailover) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	var lastErr error
	for i, source := range pf.sources {
		q, err := source.GetQuote(ctx, symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if i > 0 {
			pf.logger.Debug("using fallback source #%d (%s) for %s", i, q.Source, symbol)
		}
		pf.mu.Lock()
		pf.cache[symbol] = q
		pf.mu.Unlock()
		return q, nil
	}

	pf.mu.RLock()
	cached, ok := pf.cache[symbol]
	pf.mu.RUnlock()
	if ok {
		if age := pf.now().Sub(cached.UpdatedAt); age < priceCacheTTL {
			pf.logger.Warn("using cached price for %s (age: %v)", symbol, age.Round(time.Second))
			cached.Source = "cache"
			return cached, nil
		}
	}

	if lastErr != nil {
		return Quote{}, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, lastErr)
	}
	return Quote{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
}

// GetPrice средняя цена с failover
func (pf *PriceFailover) GetPrice(ctx context.Context, symbol string) (float64, error) {
	q, err := pf.GetQuote(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return q.Mid(), nil
}

// StreamQuotes котировки из websocket потока
type StreamQuotes struct {
	stream interface {
		Quote(epic string) (exchange.Quote, bool)
	}
	maxAge time.Duration
	now    func() time.Time
}

func NewStreamQuotes(stream *exchange.QuoteStream) *StreamQuotes {
	return &StreamQuotes{stream: stream, maxAge: streamQuoteTTL, now: time.Now}
}

func (s *StreamQuotes) GetQuote(_ context.Context, symbol string) (Quote, error) {
	q, ok := s.stream.Quote(symbol)
	if !ok {
		return Quote{}, fmt.Errorf("no streamed quote for %s", symbol)
	}
	if s.now().Sub(q.UpdatedAt) > s.maxAge {
		return Quote{}, fmt.Errorf("streamed quote for %s is stale", symbol)
	}
	return Quote{Bid: q.Bid, Offer: q.Offer, Source: "stream", UpdatedAt: q.UpdatedAt}, nil
}

// MarketQuotes котировки через REST GET /markets/{epic}
type MarketQuotes struct {
	markets interface {
		GetMarket(ctx context.Context, epic string) (*domain.MarketSnapshot, error)
	}
	now func() time.Time
}

func NewMarketQuotes(client *exchange.Client) *MarketQuotes {
	return &MarketQuotes{markets: client, now: time.Now}
}

func (m *MarketQuotes) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	market, err := m.markets.GetMarket(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	if market.Bid <= 0 && market.Offer <= 0 {
		return Quote{}, fmt.Errorf("no price data for %s", symbol)
	}
	return Quote{Bid: market.Bid, Offer: market.Offer, Source: "rest", UpdatedAt: m.now()}, nil
}
