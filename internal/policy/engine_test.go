package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk_profiles.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestNewEngine_RepositoryProfiles(t *testing.T) {
	e, err := NewEngine("../../config/risk_profiles.yaml", ProfileConservative)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	p := e.Profile()
	if p.ProfileName != ProfileConservative {
		t.Errorf("expected conservative, got %s", p.ProfileName)
	}
	if p.MaxDailyRisk != 3 {
		t.Errorf("expected max_daily_risk 3, got %v", p.MaxDailyRisk)
	}

	names := e.Profiles()
	want := []string{ProfileAggressive, ProfileConservative, ProfileModerate}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("profile %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestNewEngine_MissingFileUsesDefaults(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "missing.yaml"), "")
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if got := e.Profile(); got != DefaultProfile() {
		t.Errorf("expected default profile, got %+v", got)
	}
}

func TestNewEngine_PartialProfileFilledWithDefaults(t *testing.T) {
	path := writePolicy(t, `
risk_profiles:
  moderate:
    max_daily_risk: 4
`)
	e, err := NewEngine(path, ProfileModerate)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	p := e.Profile()
	if p.MaxDailyRisk != 4 {
		t.Errorf("expected max_daily_risk 4, got %v", p.MaxDailyRisk)
	}
	if p.MaxDrawdownThreshold != 20 || p.RiskPerTrade != 0.01 || p.MaxOrderAttempts != 3 {
		t.Errorf("expected defaults for unset fields, got %+v", p)
	}
}

func TestNewEngine_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		profile string
	}{
		{"unknown profile", "risk_profiles:\n  moderate:\n    max_daily_risk: 5\n", "reckless"},
		{"broken yaml", "risk_profiles: [", ProfileModerate},
		{"no profiles", "other: 1\n", ProfileModerate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(writePolicy(t, tt.content), tt.profile); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSetProfile(t *testing.T) {
	e := NewStaticEngine(Profile{MaxDailyRisk: 2})
	if err := e.SetProfile(ProfileAggressive); err == nil {
		t.Error("expected error for unknown profile")
	}
	if got := e.Profile(); got.MaxDailyRisk != 2 || got.ProfileName != ProfileModerate {
		t.Errorf("unexpected active profile %+v", got)
	}
}
