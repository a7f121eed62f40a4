package regime

import (
	"math"
	"testing"

	"github.com/kirillm/jamso-engine/internal/domain"
)

func flatCandles(n int, volume float64) []domain.Candle {
	candles := make([]domain.Candle, n)
	for i := range candles {
		candles[i] = domain.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: volume}
	}
	return candles
}

func TestFeatures_TooFewCandles(t *testing.T) {
	if rows := Features(flatCandles(volatilityWindow, 10)); rows != nil {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestFeatures_FlatMarket(t *testing.T) {
	rows := Features(flatCandles(50, 10))
	if len(rows) != 50-volatilityWindow {
		t.Fatalf("expected %d rows, got %d", 50-volatilityWindow, len(rows))
	}

	row := rows[0]
	if math.Abs(row[FeatureATR]-0.02) > 1e-12 {
		t.Errorf("atr_norm: expected 0.02, got %v", row[FeatureATR])
	}
	if math.Abs(row[FeatureRange]-0.02) > 1e-12 {
		t.Errorf("range_norm: expected 0.02, got %v", row[FeatureRange])
	}
	if row[FeatureVolatility] != 0 {
		t.Errorf("volatility: expected 0, got %v", row[FeatureVolatility])
	}
	if row[FeatureVolumeChange] != 0 {
		t.Errorf("volume_change: expected 0, got %v", row[FeatureVolumeChange])
	}
}

func TestFeatures_ZeroVolumeKeepsRows(t *testing.T) {
	rows := Features(flatCandles(50, 0))
	if len(rows) != 50-volatilityWindow {
		t.Fatalf("zero volume must not drop rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row[FeatureVolumeChange] != 0 {
			t.Fatalf("expected zero volume change, got %v", row[FeatureVolumeChange])
		}
	}
}

func TestFeatures_SkipsNonPositiveClose(t *testing.T) {
	candles := flatCandles(50, 10)
	candles[45].Close = 0
	rows := Features(candles)
	// строка с нулевым закрытием и строки, чье окно доходностей его содержит, отбрасываются
	if len(rows) >= 50-volatilityWindow {
		t.Errorf("expected rows to be dropped, got %d", len(rows))
	}
	for _, row := range rows {
		if !finite(row) {
			t.Fatalf("non-finite row returned: %v", row)
		}
	}
}

func TestLevelForVolatility(t *testing.T) {
	tests := []struct {
		volatility float64
		want       domain.VolatilityLevel
	}{
		{0, domain.VolatilityLow},
		{0.149, domain.VolatilityLow},
		{0.15, domain.VolatilityMedium},
		{0.29, domain.VolatilityMedium},
		{0.30, domain.VolatilityHigh},
		{1.5, domain.VolatilityHigh},
	}

	for _, tt := range tests {
		if got := LevelForVolatility(tt.volatility); got != tt.want {
			t.Errorf("LevelForVolatility(%v) = %s, want %s", tt.volatility, got, tt.want)
		}
	}
}

func TestScaler(t *testing.T) {
	rows := [][]float64{{1, 5}, {3, 5}}
	s := fitScaler(rows)
	scaled := s.transform(rows)

	if scaled[0][0] != -1 || scaled[1][0] != 1 {
		t.Errorf("expected [-1, 1] for first column, got [%v, %v]", scaled[0][0], scaled[1][0])
	}
	// постоянный столбец не дает деления на ноль
	if scaled[0][1] != 0 || scaled[1][1] != 0 {
		t.Errorf("expected zeros for constant column, got [%v, %v]", scaled[0][1], scaled[1][1])
	}
}

func TestKMeans_TwoBlobs(t *testing.T) {
	var points [][]float64
	for i := 0; i < 20; i++ {
		points = append(points, []float64{float64(i%5) * 0.01, 0})
	}
	for i := 0; i < 20; i++ {
		points = append(points, []float64{10 + float64(i%5)*0.01, 10})
	}

	result := kmeans(points, 2, defaultSeed, defaultMaxIterations, defaultRestarts)

	first := result.labels[0]
	for i := 0; i < 20; i++ {
		if result.labels[i] != first {
			t.Fatalf("point %d assigned to %d, expected %d", i, result.labels[i], first)
		}
	}
	for i := 20; i < 40; i++ {
		if result.labels[i] == first {
			t.Fatalf("point %d from second blob assigned to first cluster", i)
		}
	}

	again := kmeans(points, 2, defaultSeed, defaultMaxIterations, defaultRestarts)
	for i := range result.labels {
		if result.labels[i] != again.labels[i] {
			t.Fatal("kmeans is not deterministic for the same seed")
		}
	}
}
