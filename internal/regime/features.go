package regime

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kirillm/jamso-engine/internal/domain"
)

const (
	atrPeriod        = 14
	volumeSmoothing  = 5
	volatilityWindow = 20
	tradingDays      = 252

	// MinTrainingRows минимальное число валидных строк для обучения
	MinTrainingRows = 30
)

// Индексы признаков
const (
	FeatureATR = iota
	FeatureVolumeChange
	FeatureRange
	FeatureVolatility
	featureCount
)

// FeatureNames имена признаков в порядке индексов
var FeatureNames = [featureCount]string{"atr_norm", "volume_change", "range_norm", "volatility"}

// Features строит матрицу признаков по свечам (от старых к новым).
// Строки, для которых окна еще не заполнены или значения не конечны, отбрасываются.
func Features(candles []domain.Candle) [][]float64 {
	n := len(candles)
	if n <= volatilityWindow {
		return nil
	}

	trueRange := make([]float64, n)
	volumeChange := make([]float64, n)
	returns := make([]float64, n)

	for i := 1; i < n; i++ {
		cur, prev := candles[i], candles[i-1]

		trueRange[i] = math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))

		// нулевой объем у CFD-инструментов не должен выбрасывать строку
		if prev.Volume > 0 {
			volumeChange[i] = (cur.Volume - prev.Volume) / prev.Volume
		}

		if prev.Close > 0 {
			returns[i] = cur.Close/prev.Close - 1
		} else {
			returns[i] = math.NaN()
		}
	}

	start := atrPeriod
	if volatilityWindow > start {
		start = volatilityWindow
	}

	rows := make([][]float64, 0, n-start)
	for i := start; i < n; i++ {
		c := candles[i]
		if c.Close <= 0 {
			continue
		}

		row := make([]float64, featureCount)
		row[FeatureATR] = stat.Mean(trueRange[i-atrPeriod+1:i+1], nil) / c.Close
		row[FeatureVolumeChange] = stat.Mean(volumeChange[i-volumeSmoothing+1:i+1], nil)
		row[FeatureRange] = (c.High - c.Low) / c.Close
		row[FeatureVolatility] = stat.StdDev(returns[i-volatilityWindow+1:i+1], nil) * math.Sqrt(tradingDays)

		if finite(row) {
			rows = append(rows, row)
		}
	}
	return rows
}

func finite(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// scaler стандартизация признаков (нулевое среднее, единичная дисперсия)
type scaler struct {
	mean []float64
	std  []float64
}

func fitScaler(rows [][]float64) scaler {
	dims := len(rows[0])
	s := scaler{mean: make([]float64, dims), std: make([]float64, dims)}
	column := make([]float64, len(rows))
	n := float64(len(rows))

	for j := 0; j < dims; j++ {
		for i, row := range rows {
			column[i] = row[j]
		}
		mean, variance := stat.MeanVariance(column, nil)
		// дисперсия генеральной совокупности
		std := math.Sqrt(variance * (n - 1) / n)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.mean[j] = mean
		s.std[j] = std
	}
	return s
}

func (s scaler) transform(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.mean[j]) / s.std[j]
		}
		out[i] = scaled
	}
	return out
}

// LevelForVolatility уровень по средней годовой волатильности кластера
func LevelForVolatility(volatility float64) domain.VolatilityLevel {
	switch {
	case volatility < 0.15:
		return domain.VolatilityLow
	case volatility < 0.30:
		return domain.VolatilityMedium
	default:
		return domain.VolatilityHigh
	}
}
