package regime

import (
	"context"
	"sync"
	"time"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// Entry закешированный результат определения режима
type Entry struct {
	RegimeID int                    `json:"regime_id"`
	Level    domain.VolatilityLevel `json:"volatility_level"`
}

// Cache кеш режимов по символу с TTL
type Cache interface {
	Get(ctx context.Context, symbol string) (Entry, bool)
	Set(ctx context.Context, symbol string, entry Entry, ttl time.Duration)
	Delete(ctx context.Context, symbol string)
}

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryCache кеш в памяти процесса
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, symbol string) (Entry, bool) {
	c.mu.RLock()
	item, ok := c.items[symbol]
	c.mu.RUnlock()

	if !ok {
		return Entry{}, false
	}
	if c.now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, symbol)
		c.mu.Unlock()
		return Entry{}, false
	}
	return item.entry, true
}

func (c *MemoryCache) Set(_ context.Context, symbol string, entry Entry, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[symbol] = memoryItem{entry: entry, expiresAt: c.now().Add(ttl)}
}

func (c *MemoryCache) Delete(_ context.Context, symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, symbol)
}
