package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// maxPricePoints ограничение брокера на число свечей в одном запросе
const maxPricePoints = 1000

type wireMarket struct {
	Instrument struct {
		Epic string `json:"epic"`
		Name string `json:"name"`
	} `json:"instrument"`
	DealingRules struct {
		MinDealSize struct {
			Value float64 `json:"value"`
		} `json:"minDealSize"`
		MaxDealSize struct {
			Value float64 `json:"value"`
		} `json:"maxDealSize"`
	} `json:"dealingRules"`
	Snapshot struct {
		MarketStatus  string  `json:"marketStatus"`
		Bid           float64 `json:"bid"`
		Offer         float64 `json:"offer"`
		UpdateTimeUTC string  `json:"updateTimeUTC"`
	} `json:"snapshot"`
}

// GetMarket возвращает котировки и правила торговли инструментом
func (c *Client) GetMarket(ctx context.Context, epic string) (*domain.MarketSnapshot, error) {
	resp, err := c.doAuthenticated(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/markets/" + url.PathEscape(epic),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get market %s: %w", epic, err)
	}

	var out wireMarket
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}

	return &domain.MarketSnapshot{
		Epic:           epic,
		InstrumentName: out.Instrument.Name,
		MarketStatus:   out.Snapshot.MarketStatus,
		Bid:            out.Snapshot.Bid,
		Offer:          out.Snapshot.Offer,
		MinDealSize:    out.DealingRules.MinDealSize.Value,
		MaxDealSize:    out.DealingRules.MaxDealSize.Value,
		UpdatedAt:      parseBrokerTime(out.Snapshot.UpdateTimeUTC),
	}, nil
}

// GetPrice средняя цена инструмента
func (c *Client) GetPrice(ctx context.Context, epic string) (float64, error) {
	market, err := c.GetMarket(ctx, epic)
	if err != nil {
		return 0, err
	}
	if market.Bid <= 0 && market.Offer <= 0 {
		return 0, fmt.Errorf("no price data for %s", epic)
	}
	return market.Mid(), nil
}

// SearchMarkets поиск инструментов по строке
func (c *Client) SearchMarkets(ctx context.Context, term string) ([]domain.MarketSnapshot, error) {
	resp, err := c.doAuthenticated(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/markets",
		Query:  url.Values{"searchTerm": {term}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search markets %q: %w", term, err)
	}

	var out struct {
		Markets []struct {
			Epic           string  `json:"epic"`
			InstrumentName string  `json:"instrumentName"`
			MarketStatus   string  `json:"marketStatus"`
			Bid            float64 `json:"bid"`
			Offer          float64 `json:"offer"`
		} `json:"markets"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}

	markets := make([]domain.MarketSnapshot, 0, len(out.Markets))
	for _, m := range out.Markets {
		markets = append(markets, domain.MarketSnapshot{
			Epic:           m.Epic,
			InstrumentName: m.InstrumentName,
			MarketStatus:   m.MarketStatus,
			Bid:            m.Bid,
			Offer:          m.Offer,
		})
	}
	return markets, nil
}

// GetPrices исторические свечи (середина bid/ask), от старых к новым
func (c *Client) GetPrices(ctx context.Context, epic, resolution string, max int) ([]domain.Candle, error) {
	if max <= 0 || max > maxPricePoints {
		max = maxPricePoints
	}

	resp, err := c.doAuthenticated(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/prices/" + url.PathEscape(epic),
		Query: url.Values{
			"resolution": {resolution},
			"max":        {strconv.Itoa(max)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get prices for %s: %w", epic, err)
	}

	var out struct {
		Prices []wireCandle `json:"prices"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(out.Prices))
	for _, p := range out.Prices {
		candles = append(candles, p.toDomain(epic))
	}
	return candles, nil
}

// BrokerCandles источник свечей брокера с фиксированным таймфреймом
type BrokerCandles struct {
	client     *Client
	resolution string
}

func (c *Client) Candles(resolution string) *BrokerCandles {
	if resolution == "" {
		resolution = "HOUR"
	}
	return &BrokerCandles{client: c, resolution: resolution}
}

func (b *BrokerCandles) GetCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	return b.client.GetPrices(ctx, symbol, b.resolution, limit)
}
