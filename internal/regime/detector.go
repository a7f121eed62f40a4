package regime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
	"github.com/kirillm/jamso-engine/pkg/utils"
)

// Config параметры детектора режимов
type Config struct {
	Clusters        int
	Lookback        int
	CacheTTL        time.Duration
	RetrainInterval time.Duration
	Seed            int64
}

func (c *Config) applyDefaults() {
	if c.Clusters < 2 {
		c.Clusters = 3
	}
	if c.Lookback <= 0 {
		c.Lookback = 500
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.Seed == 0 {
		c.Seed = defaultSeed
	}
}

// ClusterProfile характеристики кластера
type ClusterProfile struct {
	ID              int                    `json:"id"`
	Level           domain.VolatilityLevel `json:"volatility_level"`
	Size            int                    `json:"size"`
	FeatureAverages map[string]float64     `json:"feature_averages"`
}

// Model обученная модель режимов символа
type Model struct {
	Symbol        string           `json:"symbol"`
	Clusters      []ClusterProfile `json:"clusters"`
	CurrentRegime int              `json:"current_regime"`
	Rows          int              `json:"rows"`
	TrainedAt     time.Time        `json:"trained_at"`
}

// Detector определяет режим волатильности по символу.
// Состояние модели символа: не обучена -> Train -> обучена; переобучение
// заменяет модель только после успешной кластеризации.
type Detector struct {
	candles CandleSource
	store   domain.RegimeStore
	cache   Cache
	cfg     Config
	logger  *utils.Logger
	now     func() time.Time

	mu     sync.RWMutex
	models map[string]*Model
}

func NewDetector(cfg Config, candles CandleSource, store domain.RegimeStore, cache Cache, logger *utils.Logger) *Detector {
	cfg.applyDefaults()
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Detector{
		candles: candles,
		store:   store,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.With("regime"),
		now:     time.Now,
		models:  make(map[string]*Model),
	}
}

// Clusters число кластеров модели
func (d *Detector) Clusters() int {
	return d.cfg.Clusters
}

// Train обучает модель по последним свечам символа и возвращает текущий режим.
// При нехватке данных или ошибке возвращает RegimeUnknown и не меняет состояние.
func (d *Detector) Train(ctx context.Context, symbol string) (regimeID int) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("regime training for %s panicked: %v", symbol, r)
			regimeID = domain.RegimeUnknown
		}
	}()

	model, err := d.fit(ctx, symbol)
	if err != nil {
		d.logger.Warn("regime training for %s failed: %v", symbol, err)
		return domain.RegimeUnknown
	}

	current := model.Clusters[model.CurrentRegime]
	record := &domain.VolatilityRegime{
		Symbol:          symbol,
		RegimeID:        &model.CurrentRegime,
		VolatilityLevel: current.Level,
		Description:     describe(current.Level),
		FeatureAverages: current.FeatureAverages,
		TrainedAt:       model.TrainedAt,
	}
	if d.store != nil {
		if err := d.store.SaveRegime(ctx, record); err != nil {
			d.logger.Warn("failed to persist regime for %s: %v", symbol, err)
		}
	}

	d.mu.Lock()
	d.models[symbol] = model
	d.mu.Unlock()

	d.cache.Set(ctx, symbol, Entry{RegimeID: model.CurrentRegime, Level: current.Level}, d.cfg.CacheTTL)

	d.logger.Info("regime for %s trained on %d rows: cluster %d (%s)", symbol, model.Rows, model.CurrentRegime, current.Level)
	return model.CurrentRegime
}

func (d *Detector) fit(ctx context.Context, symbol string) (*Model, error) {
	// 1. Данные
	candles, err := d.candles.GetCandles(ctx, symbol, d.cfg.Lookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load candles: %w", err)
	}

	// 2. Признаки
	rows := Features(candles)
	if len(rows) < MinTrainingRows || len(rows) < d.cfg.Clusters {
		return nil, fmt.Errorf("insufficient data: %d valid rows, need %d", len(rows), MinTrainingRows)
	}

	// 3. Стандартизация на окне обучения
	scaled := fitScaler(rows).transform(rows)

	// 4. Кластеризация
	result := kmeans(scaled, d.cfg.Clusters, d.cfg.Seed, defaultMaxIterations, defaultRestarts)

	// 5. Профили кластеров по исходным (не стандартизованным) признакам
	sums := make([][]float64, d.cfg.Clusters)
	sizes := make([]int, d.cfg.Clusters)
	for c := range sums {
		sums[c] = make([]float64, featureCount)
	}
	for i, row := range rows {
		label := result.labels[i]
		sizes[label]++
		for j, v := range row {
			sums[label][j] += v
		}
	}

	clusters := make([]ClusterProfile, d.cfg.Clusters)
	for c := range clusters {
		averages := make(map[string]float64, featureCount)
		for j, name := range FeatureNames {
			if sizes[c] > 0 {
				averages[name] = sums[c][j] / float64(sizes[c])
			}
		}
		clusters[c] = ClusterProfile{
			ID:              c,
			Level:           LevelForVolatility(averages[FeatureNames[FeatureVolatility]]),
			Size:            sizes[c],
			FeatureAverages: averages,
		}
	}

	return &Model{
		Symbol:        symbol,
		Clusters:      clusters,
		CurrentRegime: result.labels[len(result.labels)-1],
		Rows:          len(rows),
		TrainedAt:     d.now().UTC(),
	}, nil
}

func describe(level domain.VolatilityLevel) string {
	switch level {
	case domain.VolatilityLow:
		return "Low volatility"
	case domain.VolatilityMedium:
		return "Medium volatility"
	case domain.VolatilityHigh:
		return "High volatility"
	default:
		return "Unknown"
	}
}

// GetCurrentRegime последняя сохраненная запись режима
func (d *Detector) GetCurrentRegime(ctx context.Context, symbol string) (*domain.VolatilityRegime, error) {
	if d.store == nil {
		return nil, domain.ErrNotFound
	}
	return d.store.GetCurrentRegime(ctx, symbol)
}

// DetectCurrentRegime текущий режим символа или RegimeUnknown (-1).
// -1 означает "неизвестно", а не режим низкой волатильности.
func (d *Detector) DetectCurrentRegime(ctx context.Context, symbol string) int {
	return d.detect(ctx, symbol).RegimeID
}

// VolatilityLevel уровень волатильности текущего режима
func (d *Detector) VolatilityLevel(ctx context.Context, symbol string) domain.VolatilityLevel {
	return d.detect(ctx, symbol).Level
}

// Detect режим и уровень волатильности за один вызов
func (d *Detector) Detect(ctx context.Context, symbol string) (int, domain.VolatilityLevel) {
	entry := d.detect(ctx, symbol)
	return entry.RegimeID, entry.Level
}

func (d *Detector) detect(ctx context.Context, symbol string) (entry Entry) {
	unknown := Entry{RegimeID: domain.RegimeUnknown, Level: domain.VolatilityUnknown}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("regime detection for %s panicked: %v", symbol, r)
			entry = unknown
		}
	}()

	// 1. Кеш
	if cached, ok := d.cache.Get(ctx, symbol); ok && d.valid(cached.RegimeID) {
		return cached
	}

	// 2. Последняя сохраненная запись
	record, err := d.GetCurrentRegime(ctx, symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			d.logger.Warn("failed to load regime for %s: %v", symbol, err)
		}
		record = nil
	}

	// 3. Обучение, если записи нет или она устарела
	if record == nil || d.stale(record) {
		if id := d.Train(ctx, symbol); id != domain.RegimeUnknown {
			if model, ok := d.Model(symbol); ok {
				return Entry{RegimeID: id, Level: model.Clusters[id].Level}
			}
		}
		if record == nil {
			return unknown
		}
	}

	// 4. Запись без regime_id означает неизвестный режим
	if record.RegimeID == nil || !d.valid(*record.RegimeID) {
		return unknown
	}

	level := record.VolatilityLevel
	if level == "" {
		level = domain.VolatilityUnknown
	}
	result := Entry{RegimeID: *record.RegimeID, Level: level}
	d.cache.Set(ctx, symbol, result, d.cfg.CacheTTL)
	return result
}

func (d *Detector) valid(id int) bool {
	return id >= 0 && id < d.cfg.Clusters
}

func (d *Detector) stale(record *domain.VolatilityRegime) bool {
	if d.cfg.RetrainInterval <= 0 {
		return false
	}
	return d.now().Sub(record.TrainedAt) > d.cfg.RetrainInterval
}

// Invalidate сбрасывает кеш символа
func (d *Detector) Invalidate(ctx context.Context, symbol string) {
	d.cache.Delete(ctx, symbol)
}

// Model снимок обученной модели символа
func (d *Detector) Model(symbol string) (Model, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.models[symbol]
	if !ok {
		return Model{}, false
	}
	return *m, true
}

// Models снимки всех обученных моделей, отсортированные по символу
func (d *Detector) Models() []Model {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Model, 0, len(d.models))
	for _, m := range d.models {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
