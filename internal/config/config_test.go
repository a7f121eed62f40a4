package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("CAPITAL_API_KEY", "key")
	t.Setenv("CAPITAL_USERNAME", "user@example.com")
	t.Setenv("CAPITAL_PASSWORD", "secret")
	t.Setenv("DB_PASSWORD", "pg")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Capital.BaseURL != demoBaseURL {
		t.Errorf("BaseURL = %s, want demo url", cfg.Capital.BaseURL)
	}
	if cfg.Capital.MinRequestInterval != 500*time.Millisecond {
		t.Errorf("MinRequestInterval = %v", cfg.Capital.MinRequestInterval)
	}
	if cfg.Capital.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want 10", cfg.Capital.MaxSessions)
	}
	if cfg.Regime.Clusters != 3 || cfg.Regime.CacheTTL != time.Hour {
		t.Errorf("Regime defaults = %+v", cfg.Regime)
	}
	if cfg.Risk.Profile != "moderate" {
		t.Errorf("Profile = %s", cfg.Risk.Profile)
	}
}

func TestLoad_LiveURLAndWatchList(t *testing.T) {
	setRequired(t)
	t.Setenv("CAPITAL_DEMO", "false")
	t.Setenv("REGIME_WATCH_SYMBOLS", "btcusd, eurusd ,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Capital.BaseURL != liveBaseURL {
		t.Errorf("BaseURL = %s, want live url", cfg.Capital.BaseURL)
	}
	if got := strings.Join(cfg.Regime.WatchSymbols, ","); got != "BTCUSD,EURUSD" {
		t.Errorf("WatchSymbols = %s", got)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad interval", "CAPITAL_MIN_REQUEST_INTERVAL", "fast", "CAPITAL_MIN_REQUEST_INTERVAL"},
		{"interval too small", "CAPITAL_MIN_REQUEST_INTERVAL", "100ms", "at least 500ms"},
		{"bad clusters", "REGIME_CLUSTERS", "x", "REGIME_CLUSTERS"},
		{"one cluster", "REGIME_CLUSTERS", "1", "at least 2"},
		{"unknown credential source", "CREDENTIALS_SOURCE", "file", "unknown CREDENTIALS_SOURCE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_VaultNeedsToken(t *testing.T) {
	cfg := &Config{
		Credentials: CredentialsConfig{Source: "vault"},
		Database:    DatabaseConfig{Password: "pg"},
		Capital:     CapitalConfig{MinRequestInterval: time.Second, MaxSessions: 10},
		Regime:      RegimeConfig{Clusters: 3},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should require VAULT_TOKEN")
	}

	cfg.Credentials.VaultToken = "s.token"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
