package credentials

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/hashicorp/vault/api"

	"github.com/kirillm/jamso-engine/internal/domain"
)

// VaultConfig параметры подключения к HashiCorp Vault (KV v2)
type VaultConfig struct {
	Address string
	Token   string
	Mount   string
	Path    string
}

// VaultProvider читает учетные данные из KV v2 секрета <mount>/data/<path>/<service>.
// Прочитанные секреты кешируются на время жизни процесса.
type VaultProvider struct {
	client *api.Client
	cfg    VaultConfig
	mu     sync.RWMutex
	cache  map[string]map[string]interface{}
}

func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}

	return &VaultProvider{
		client: client,
		cfg:    cfg,
		cache:  make(map[string]map[string]interface{}),
	}, nil
}

func (v *VaultProvider) GetCredential(ctx context.Context, service, key string) (string, error) {
	data, err := v.secret(ctx, service)
	if err != nil {
		return "", err
	}

	value, ok := data[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: vault %s/%s", domain.ErrCredentialMissing, service, key)
	}
	return value, nil
}

func (v *VaultProvider) secret(ctx context.Context, service string) (map[string]interface{}, error) {
	v.mu.RLock()
	cached, ok := v.cache[service]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	secretPath := path.Join(v.cfg.Mount, "data", v.cfg.Path, service)
	secret, err := v.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: vault %s", domain.ErrCredentialMissing, secretPath)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", secretPath)
	}

	v.mu.Lock()
	v.cache[service] = data
	v.mu.Unlock()

	return data, nil
}

// Invalidate сбрасывает кеш, например после ротации ключей
func (v *VaultProvider) Invalidate() {
	v.mu.Lock()
	v.cache = make(map[string]map[string]interface{})
	v.mu.Unlock()
}
