package execution

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// Signal нормализованный торговый сигнал
type Signal struct {
	ID           string    `json:"signal_id"`
	Symbol       string    `json:"symbol"`
	Direction    string    `json:"direction"`
	Size         float64   `json:"size"`
	OrderType    string    `json:"order_type"`
	Price        *float64  `json:"price,omitempty"`
	StopLoss     *float64  `json:"stop_loss,omitempty"`
	TakeProfit   *float64  `json:"take_profit,omitempty"`
	TrailingStop bool      `json:"trailing_stop"`
	AccountID    string    `json:"account_id,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Алиасы ключей входящего сигнала в порядке приоритета
var (
	symbolKeys    = []string{"ticker", "symbol", "epic"}
	directionKeys = []string{"order_action", "direction", "action", "side"}
	sizeKeys      = []string{"position_size", "quantity", "size", "qty"}
)

// ParseSignal нормализует сырой сигнал вебхука. Ошибки оборачивают domain.ErrInvalidSignal.
func ParseSignal(raw map[string]interface{}) (*Signal, error) {
	if raw == nil {
		return nil, invalidSignal("empty signal")
	}

	symbol, ok := firstString(raw, symbolKeys...)
	if !ok {
		return nil, invalidSignal("missing ticker/symbol")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	rawDirection, ok := firstString(raw, directionKeys...)
	if !ok {
		return nil, invalidSignal("missing order_action/direction")
	}
	direction, err := normalizeDirection(rawDirection)
	if err != nil {
		return nil, err
	}

	size, ok, err := firstNumber(raw, sizeKeys...)
	if err != nil {
		return nil, invalidSignal(err.Error())
	}
	if !ok {
		return nil, invalidSignal("missing position_size/quantity")
	}
	if size <= 0 {
		return nil, invalidSignal(fmt.Sprintf("size must be positive, got %v", size))
	}

	s := &Signal{
		Symbol:     symbol,
		Direction:  direction,
		Size:       size,
		OrderType:  domain.OrderTypeMarket,
		ReceivedAt: time.Now().UTC(),
	}

	for key, dst := range map[string]**float64{
		"price":       &s.Price,
		"stop_loss":   &s.StopLoss,
		"take_profit": &s.TakeProfit,
	} {
		v, ok, err := firstNumber(raw, key)
		if err != nil {
			return nil, invalidSignal(err.Error())
		}
		if !ok {
			continue
		}
		if v <= 0 {
			return nil, invalidSignal(fmt.Sprintf("%s must be positive, got %v", key, v))
		}
		value := v
		*dst = &value
	}

	if v, ok := raw["trailing_stop"]; ok {
		trailing, err := parseBool(v)
		if err != nil {
			return nil, invalidSignal("trailing_stop: " + err.Error())
		}
		s.TrailingStop = trailing
	}

	if orderType, ok := firstString(raw, "order_type", "type"); ok {
		switch strings.ToUpper(strings.TrimSpace(orderType)) {
		case domain.OrderTypeMarket:
		case domain.OrderTypeLimit:
			if s.Price == nil {
				return nil, invalidSignal("limit order requires price")
			}
			s.OrderType = domain.OrderTypeLimit
		default:
			return nil, invalidSignal(fmt.Sprintf("unknown order_type %q", orderType))
		}
	}

	if id, ok := firstID(raw, "account_id", "account"); ok {
		s.AccountID = id
	}
	if id, ok := firstID(raw, "signal_id", "id"); ok {
		s.ID = id
	} else {
		s.ID = uuid.NewString()
	}

	if err := s.validateLevels(); err != nil {
		return nil, err
	}
	return s, nil
}

// validateLevels проверяет расположение стопа и тейка относительно цены сигнала
func (s *Signal) validateLevels() error {
	if s.Price == nil {
		return nil
	}
	price := *s.Price
	if s.StopLoss != nil {
		if s.Direction == domain.DirectionBuy && *s.StopLoss >= price {
			return invalidSignal("stop_loss must be below price for BUY")
		}
		if s.Direction == domain.DirectionSell && *s.StopLoss <= price {
			return invalidSignal("stop_loss must be above price for SELL")
		}
	}
	if s.TakeProfit != nil {
		if s.Direction == domain.DirectionBuy && *s.TakeProfit <= price {
			return invalidSignal("take_profit must be above price for BUY")
		}
		if s.Direction == domain.DirectionSell && *s.TakeProfit >= price {
			return invalidSignal("take_profit must be below price for SELL")
		}
	}
	return nil
}

// Record представление сигнала для хранения
func (s *Signal) Record(raw map[string]interface{}) *domain.SignalRecord {
	data, _ := json.Marshal(raw)
	return &domain.SignalRecord{
		ID:         s.ID,
		Symbol:     s.Symbol,
		Direction:  s.Direction,
		Size:       s.Size,
		Price:      s.Price,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		AccountID:  s.AccountID,
		Raw:        string(data),
		Status:     domain.StatusReceived,
		ReceivedAt: s.ReceivedAt,
	}
}

func invalidSignal(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidSignal, msg)
}

func normalizeDirection(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy", "long":
		return domain.DirectionBuy, nil
	case "sell", "short":
		return domain.DirectionSell, nil
	default:
		return "", invalidSignal(fmt.Sprintf("unknown direction %q", v))
	}
}

func firstString(raw map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := raw[key].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// firstNumber принимает числа и числовые строки
func firstNumber(raw map[string]interface{}, keys ...string) (float64, bool, error) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", key, err)
		}
		return f, true, nil
	}
	return 0, false, nil
}

func toFloat(v interface{}) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

func parseBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	case float64:
		return b != 0, nil
	default:
		return false, fmt.Errorf("unsupported type %T", v)
	}
}

// firstID принимает строковые и числовые идентификаторы
func firstID(raw map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		case int:
			return strconv.Itoa(v), true
		case json.Number:
			return v.String(), true
		}
	}
	return "", false
}
