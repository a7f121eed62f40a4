package exchange

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// wireBool булево значение, которое брокер ожидает строкой ("true"/"false")
type wireBool bool

func (b wireBool) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatBool(bool(b)))), nil
}

func (b *wireBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = wireBool(v)
	return nil
}

type positionBody struct {
	Epic           string   `json:"epic"`
	Direction      string   `json:"direction"`
	Size           float64  `json:"size"`
	OrderType      string   `json:"orderType"`
	TimeInForce    string   `json:"timeInForce"`
	GuaranteedStop bool     `json:"guaranteedStop,omitempty"`
	TrailingStop   wireBool `json:"trailingStop,omitempty"`
	StopLevel      *float64 `json:"stopLevel,omitempty"`
	StopDistance   *float64 `json:"stopDistance,omitempty"`
	ProfitLevel    *float64 `json:"profitLevel,omitempty"`
	ProfitDistance *float64 `json:"profitDistance,omitempty"`
}

type workingOrderBody struct {
	Epic           string   `json:"epic"`
	Direction      string   `json:"direction"`
	Size           float64  `json:"size"`
	Level          float64  `json:"level"`
	Type           string   `json:"type"`
	GuaranteedStop bool     `json:"guaranteedStop,omitempty"`
	TrailingStop   wireBool `json:"trailingStop,omitempty"`
	StopLevel      *float64 `json:"stopLevel,omitempty"`
	StopDistance   *float64 `json:"stopDistance,omitempty"`
	ProfitLevel    *float64 `json:"profitLevel,omitempty"`
	ProfitDistance *float64 `json:"profitDistance,omitempty"`
}

type updatePositionBody struct {
	GuaranteedStop *bool     `json:"guaranteedStop,omitempty"`
	TrailingStop   *wireBool `json:"trailingStop,omitempty"`
	StopLevel      *float64  `json:"stopLevel,omitempty"`
	StopDistance   *float64  `json:"stopDistance,omitempty"`
	ProfitLevel    *float64  `json:"profitLevel,omitempty"`
	ProfitDistance *float64  `json:"profitDistance,omitempty"`
}

func newPositionBody(req domain.OrderRequest) positionBody {
	return positionBody{
		Epic:           req.Symbol,
		Direction:      req.Direction,
		Size:           req.Size,
		OrderType:      domain.OrderTypeMarket,
		TimeInForce:    domain.TimeInForceFillOrKill,
		GuaranteedStop: req.GuaranteedStop,
		TrailingStop:   wireBool(req.TrailingStop),
		StopLevel:      req.StopLevel,
		StopDistance:   req.StopDistance,
		ProfitLevel:    req.ProfitLevel,
		ProfitDistance: req.ProfitDistance,
	}
}

func newWorkingOrderBody(req domain.OrderRequest) workingOrderBody {
	var level float64
	if req.Level != nil {
		level = *req.Level
	}
	return workingOrderBody{
		Epic:           req.Symbol,
		Direction:      req.Direction,
		Size:           req.Size,
		Level:          level,
		Type:           domain.OrderTypeLimit,
		GuaranteedStop: req.GuaranteedStop,
		TrailingStop:   wireBool(req.TrailingStop),
		StopLevel:      req.StopLevel,
		StopDistance:   req.StopDistance,
		ProfitLevel:    req.ProfitLevel,
		ProfitDistance: req.ProfitDistance,
	}
}

func newUpdatePositionBody(u domain.PositionUpdate) updatePositionBody {
	body := updatePositionBody{
		GuaranteedStop: u.GuaranteedStop,
		StopLevel:      u.StopLevel,
		StopDistance:   u.StopDistance,
		ProfitLevel:    u.ProfitLevel,
		ProfitDistance: u.ProfitDistance,
	}
	if u.TrailingStop != nil {
		v := wireBool(*u.TrailingStop)
		body.TrailingStop = &v
	}
	return body
}

type wirePosition struct {
	Position struct {
		DealID         string   `json:"dealId"`
		DealReference  string   `json:"dealReference"`
		Direction      string   `json:"direction"`
		Size           float64  `json:"size"`
		Level          float64  `json:"level"`
		StopLevel      *float64 `json:"stopLevel"`
		ProfitLevel    *float64 `json:"profitLevel"`
		TrailingStop   wireBool `json:"trailingStop"`
		GuaranteedStop bool     `json:"guaranteedStop"`
		Currency       string   `json:"currency"`
		UPL            float64  `json:"upl"`
		CreatedDateUTC string   `json:"createdDateUTC"`
	} `json:"position"`
	Market struct {
		Epic           string  `json:"epic"`
		InstrumentName string  `json:"instrumentName"`
		Bid            float64 `json:"bid"`
		Offer          float64 `json:"offer"`
	} `json:"market"`
}

func (w wirePosition) toDomain() domain.Position {
	return domain.Position{
		DealID:         w.Position.DealID,
		DealReference:  w.Position.DealReference,
		Epic:           w.Market.Epic,
		InstrumentName: w.Market.InstrumentName,
		Direction:      w.Position.Direction,
		Size:           w.Position.Size,
		Level:          w.Position.Level,
		StopLevel:      w.Position.StopLevel,
		ProfitLevel:    w.Position.ProfitLevel,
		TrailingStop:   bool(w.Position.TrailingStop),
		GuaranteedStop: w.Position.GuaranteedStop,
		Currency:       w.Position.Currency,
		UPL:            w.Position.UPL,
		Bid:            w.Market.Bid,
		Offer:          w.Market.Offer,
		CreatedAt:      parseBrokerTime(w.Position.CreatedDateUTC),
	}
}

type wirePrice struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

func (p wirePrice) mid() float64 {
	switch {
	case p.Bid > 0 && p.Ask > 0:
		return (p.Bid + p.Ask) / 2
	case p.Bid > 0:
		return p.Bid
	default:
		return p.Ask
	}
}

type wireCandle struct {
	SnapshotTimeUTC  string    `json:"snapshotTimeUTC"`
	OpenPrice        wirePrice `json:"openPrice"`
	ClosePrice       wirePrice `json:"closePrice"`
	HighPrice        wirePrice `json:"highPrice"`
	LowPrice         wirePrice `json:"lowPrice"`
	LastTradedVolume float64   `json:"lastTradedVolume"`
}

func (w wireCandle) toDomain(symbol string) domain.Candle {
	return domain.Candle{
		Symbol:    symbol,
		Timestamp: parseBrokerTime(w.SnapshotTimeUTC),
		Open:      w.OpenPrice.mid(),
		High:      w.HighPrice.mid(),
		Low:       w.LowPrice.mid(),
		Close:     w.ClosePrice.mid(),
		Volume:    w.LastTradedVolume,
	}
}

var brokerTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

func parseBrokerTime(s string) time.Time {
	for _, layout := range brokerTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// roundTo округляет до заданного числа знаков
func roundTo(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
