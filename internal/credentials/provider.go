package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// Provider источник учетных данных брокера
type Provider interface {
	GetCredential(ctx context.Context, service, key string) (string, error)
}

// EnvProvider читает учетные данные из переменных окружения.
// Ключ (capital_com, api_key) превращается в CAPITAL_API_KEY.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// NewStaticProvider провайдер с фиксированным набором значений
func NewStaticProvider(values map[string]string) *EnvProvider {
	return &EnvProvider{lookup: func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}}
}

func (p *EnvProvider) GetCredential(_ context.Context, service, key string) (string, error) {
	name := EnvName(service, key)
	value, ok := p.lookup(name)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrCredentialMissing, name)
	}
	return value, nil
}

// EnvName имя переменной окружения для пары service/key
func EnvName(service, key string) string {
	prefix := strings.TrimSuffix(strings.ToUpper(service), "_COM")
	return prefix + "_" + strings.ToUpper(key)
}

// ChainProvider опрашивает провайдеров по порядку до первого найденного значения
type ChainProvider struct {
	providers []Provider
}

func NewChainProvider(providers ...Provider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

func (c *ChainProvider) GetCredential(ctx context.Context, service, key string) (string, error) {
	var lastErr error
	for _, p := range c.providers {
		value, err := p.GetCredential(ctx, service, key)
		if err == nil {
			return value, nil
		}
		// ошибка одного источника не прерывает опрос остальных
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s/%s", domain.ErrCredentialMissing, service, key)
	}
	return "", lastErr
}
