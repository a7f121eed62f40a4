package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// Брокер сообщает допустимую границу стопа или тейка в тексте ошибки.
// Формат не документирован и может измениться.
var correctionPattern = regexp.MustCompile(`error\.invalid\.(stoploss|takeprofit)\.(min|max)value:\s*([0-9]+(?:\.[0-9]+)?)`)

const (
	FieldStopLoss   = "stoploss"
	FieldTakeProfit = "takeprofit"

	maxRetryBackoff = 30 * time.Second
)

// Correction граница, которую требует брокер.
// Field: stoploss или takeprofit, Bound: min или max.
type Correction struct {
	Field string
	Bound string
	Value float64
}

func (c Correction) String() string {
	return fmt.Sprintf("%s %svalue %g", c.Field, c.Bound, c.Value)
}

// ParseCorrection извлекает исправленное значение из ошибки валидации брокера
func ParseCorrection(err error) (Correction, bool) {
	if err == nil || !errors.Is(err, domain.ErrValidation) {
		return Correction{}, false
	}
	m := correctionPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return Correction{}, false
	}
	value, perr := strconv.ParseFloat(m[3], 64)
	if perr != nil || value <= 0 {
		return Correction{}, false
	}
	return Correction{Field: m[1], Bound: m[2], Value: value}, true
}

// Apply подставляет значение в ордер. Абсолютный уровень заменяет дистанцию.
// Для трейлинг-стопа уровень переводится в дистанцию от entry. Возвращает false,
// если трейлинг-стоп остался без дистанции.
func (c Correction) Apply(req *domain.OrderRequest, entry float64) bool {
	value := c.Value
	switch c.Field {
	case FieldStopLoss:
		if req.TrailingStop && entry > 0 {
			distance := roundPrice(math.Abs(entry - value))
			req.StopDistance = &distance
			req.StopLevel = nil
			return true
		}
		req.StopLevel = &value
		req.StopDistance = nil
		return !req.TrailingStop
	case FieldTakeProfit:
		req.ProfitLevel = &value
		req.ProfitDistance = nil
	}
	return true
}

// OrderPlacer размещает ордера у брокера
type OrderPlacer interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)
}

// submission итог отправки ордера с восстановлением
type submission struct {
	result      *domain.OrderResult
	request     domain.OrderRequest
	attempts    int
	corrections []Correction
	warnings    []string
}

// submitWithRecovery отправляет ордер, повторяя временные ошибки не более maxAttempts раз
// и исправляя стоп/тейк по ошибке брокера не более одного раза на поле.
// entry цена входа для пересчета дистанции трейлинг-стопа, 0 если неизвестна.
func submitWithRecovery(ctx context.Context, broker OrderPlacer, req domain.OrderRequest, entry float64, maxAttempts int, sleep func(context.Context, time.Duration) error) (*submission, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	out := &submission{request: req}
	corrected := make(map[string]bool)
	transient := 0

	for {
		out.attempts++
		metricOrdersAttempted.Inc()

		result, err := broker.CreateOrder(ctx, out.request)
		if err == nil {
			out.result = result
			return out, nil
		}

		if c, ok := ParseCorrection(err); ok {
			if corrected[c.Field] {
				return out, fmt.Errorf("%s rejected again after correction: %w", c.Field, err)
			}
			corrected[c.Field] = true
			if !c.Apply(&out.request, entry) {
				out.warnings = append(out.warnings, fmt.Sprintf("trailing stop corrected to level %g without distance", c.Value))
			}
			out.corrections = append(out.corrections, c)
			metricOrderCorrections.WithLabelValues(c.Field).Inc()
			continue
		}

		if domain.IsTransient(err) {
			transient++
			if transient < maxAttempts {
				delay := time.Duration(1<<uint(transient)) * time.Second
				if delay > maxRetryBackoff {
					delay = maxRetryBackoff
				}
				if serr := sleep(ctx, delay); serr != nil {
					return out, serr
				}
				continue
			}
			return out, fmt.Errorf("order failed after %d attempts: %w", transient, err)
		}

		return out, err
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
