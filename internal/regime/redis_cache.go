package regime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillm/jamso-engine/pkg/utils"
)

const (
	keyPrefix = "regime:"

	healthCheckInterval = 30 * time.Second
	healthCheckTimeout  = 2 * time.Second
)

// RedisConfig параметры подключения к Redis
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisCache общий для процессов кеш режимов. При недоступности Redis
// работает в деградированном режиме на локальном MemoryCache.
type RedisCache struct {
	client   *redis.Client
	fallback *MemoryCache
	logger   *utils.Logger

	mu            sync.RWMutex
	healthy       bool
	failureCount  int
	maxFailures   int
	lastCheck     time.Time
	checkInterval time.Duration

	ping func(ctx context.Context) error
	now  func() time.Time
}

func NewRedisCache(cfg RedisConfig, logger *utils.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	c := &RedisCache{
		client:        client,
		fallback:      NewMemoryCache(),
		logger:        logger.With("regime-cache"),
		maxFailures:   3,
		checkInterval: healthCheckInterval,
		now:           time.Now,
	}
	c.ping = func(ctx context.Context) error { return client.Ping(ctx).Err() }

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c.lastCheck = c.now()
	if err := c.ping(ctx); err != nil {
		c.logger.Warn("redis unavailable at %s, using in-memory regime cache: %v", cfg.Address, err)
		return c
	}

	c.healthy = true
	c.logger.Info("redis connected at %s", cfg.Address)
	return c
}

func (c *RedisCache) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *RedisCache) Get(ctx context.Context, symbol string) (Entry, bool) {
	c.checkHealth(ctx)
	if !c.IsHealthy() {
		return c.fallback.Get(ctx, symbol)
	}

	data, err := c.client.Get(ctx, keyPrefix+symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		c.recordSuccess()
		return Entry{}, false
	}
	if err != nil {
		c.recordFailure(err)
		return c.fallback.Get(ctx, symbol)
	}
	c.recordSuccess()

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("corrupted regime cache entry for %s: %v", symbol, err)
		return Entry{}, false
	}
	return entry, true
}

func (c *RedisCache) Set(ctx context.Context, symbol string, entry Entry, ttl time.Duration) {
	// локальная копия нужна на случай отказа Redis
	c.fallback.Set(ctx, symbol, entry, ttl)

	c.checkHealth(ctx)
	if !c.IsHealthy() {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+symbol, data, ttl).Err(); err != nil {
		c.recordFailure(err)
		return
	}
	c.recordSuccess()
}

func (c *RedisCache) Delete(ctx context.Context, symbol string) {
	c.fallback.Delete(ctx, symbol)
	if !c.IsHealthy() {
		return
	}
	if err := c.client.Del(ctx, keyPrefix+symbol).Err(); err != nil {
		c.recordFailure(err)
	}
}

// Reconnect проверяет доступность Redis и возвращает кеш в нормальный режим
func (c *RedisCache) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.lastCheck = c.now()
	c.mu.Unlock()

	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	c.recordSuccess()
	return nil
}

// checkHealth в деградированном режиме не чаще checkInterval пробует вернуться к Redis
func (c *RedisCache) checkHealth(ctx context.Context) {
	c.mu.RLock()
	due := !c.healthy && c.now().Sub(c.lastCheck) >= c.checkInterval
	c.mu.RUnlock()
	if !due {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := c.Reconnect(pingCtx); err != nil {
		c.logger.Debug("redis still unavailable: %v", err)
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	if c.failureCount >= c.maxFailures && c.healthy {
		c.logger.Warn("redis marked unhealthy after %d failures: %v", c.failureCount, err)
		c.healthy = false
	}
}

func (c *RedisCache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.healthy {
		c.logger.Info("redis recovered, leaving degraded mode")
	}
	c.healthy = true
	c.failureCount = 0
	c.lastCheck = c.now()
}
