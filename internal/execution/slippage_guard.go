package execution

import (
	"fmt"
	"math"
)

// SlippageGuard измеряет проскальзывание исполнения относительно цены сигнала
type SlippageGuard struct {
	thresholdPercent float64
}

// NewSlippageGuard создает новый slippage guard
func NewSlippageGuard(thresholdPercent float64) *SlippageGuard {
	return &SlippageGuard{
		thresholdPercent: thresholdPercent,
	}
}

// CheckSlippage проверяет приемлемость проскальзывания
func (sg *SlippageGuard) CheckSlippage(actualPrice, expectedPrice float64) error {
	if expectedPrice <= 0 {
		return fmt.Errorf("invalid expected price: %.5f", expectedPrice)
	}

	slippage := sg.CalculateSlippage(actualPrice, expectedPrice)
	if slippage > sg.thresholdPercent {
		return fmt.Errorf("%w: %.2f%% (threshold: %.2f%%)", ErrSlippageTooHigh, slippage, sg.thresholdPercent)
	}

	return nil
}

// CalculateSlippage вычисляет процент проскальзывания
func (sg *SlippageGuard) CalculateSlippage(actualPrice, expectedPrice float64) float64 {
	if expectedPrice <= 0 || actualPrice <= 0 {
		return 0.0
	}

	return math.Abs((actualPrice - expectedPrice) / expectedPrice * 100.0)
}

// Threshold возвращает текущий порог
func (sg *SlippageGuard) Threshold() float64 {
	return sg.thresholdPercent
}
