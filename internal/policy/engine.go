package policy

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kirillm/jamso-engine/pkg/utils"
)

// Engine хранит загруженные профили риска и активный профиль
type Engine struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	active   string
}

// NewEngine загружает профили из YAML и активирует profileName.
// При отсутствии файла используется встроенный moderate профиль.
func NewEngine(policyPath, profileName string) (*Engine, error) {
	profiles, err := loadProfiles(policyPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
		utils.LogWarn(fmt.Sprintf("policy file %s not found, using built-in moderate profile", policyPath))
		profiles = map[string]Profile{ProfileModerate: DefaultProfile()}
	}

	e := &Engine{profiles: profiles}

	if profileName == "" {
		profileName = ProfileModerate
	}
	if err := e.SetProfile(profileName); err != nil {
		return nil, err
	}
	return e, nil
}

// NewStaticEngine движок с единственным профилем (используется в тестах)
func NewStaticEngine(p Profile) *Engine {
	if p.ProfileName == "" {
		p.ProfileName = ProfileModerate
	}
	p = p.withDefaults()
	return &Engine{profiles: map[string]Profile{p.ProfileName: p}, active: p.ProfileName}
}

// loadProfiles загружает профили из YAML
func loadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config struct {
		RiskProfiles map[string]Profile `yaml:"risk_profiles"`
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	if len(config.RiskProfiles) == 0 {
		return nil, fmt.Errorf("no risk_profiles in %s", path)
	}

	profiles := make(map[string]Profile, len(config.RiskProfiles))
	for name, p := range config.RiskProfiles {
		p.ProfileName = name
		profiles[name] = p.withDefaults()
	}
	return profiles, nil
}

// Profile возвращает копию активного профиля
func (e *Engine) Profile() Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profiles[e.active]
}

// SetProfile переключает активный профиль
func (e *Engine) SetProfile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.profiles[name]; !ok {
		return fmt.Errorf("policy profile %s not found", name)
	}
	e.active = name
	return nil
}

// Profiles имена загруженных профилей
func (e *Engine) Profiles() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.profiles))
	for name := range e.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
