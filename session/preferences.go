package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// SettingsStore persists per-session settings as strings.
type SettingsStore interface {
	GetSetting(ctx context.Context, sessionID, key string) (string, bool, error)
	PutSetting(ctx context.Context, sessionID, key, value string) error
}

const (
	settingAPIKey    = "api_key"
	settingPreferKey = "prefer_key"
	settingDebug     = "debug"
)

// Settings is the user-editable part of Preferences.
type Settings struct {
	APIKey    string
	PreferKey bool
	Debug     bool
}

// Preferences holds one session's settings. Reads are safe from any goroutine.
type Preferences struct {
	store     SettingsStore
	sessionID string

	mu       sync.RWMutex
	settings Settings
}

// LoadPreferences reads the stored settings for sessionID, starting from defaults.
// store may be nil, in which case settings live in memory only.
func LoadPreferences(ctx context.Context, store SettingsStore, sessionID string, defaults Settings) (*Preferences, error) {
	p := &Preferences{store: store, sessionID: sessionID, settings: defaults}
	if store == nil {
		return p, nil
	}
	if v, ok, err := store.GetSetting(ctx, sessionID, settingAPIKey); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	} else if ok {
		p.settings.APIKey = v
	}
	if v, ok, err := store.GetSetting(ctx, sessionID, settingPreferKey); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	} else if ok {
		p.settings.PreferKey, _ = strconv.ParseBool(v)
	}
	if v, ok, err := store.GetSetting(ctx, sessionID, settingDebug); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	} else if ok {
		p.settings.Debug, _ = strconv.ParseBool(v)
	}
	return p, nil
}

// Settings returns the current settings.
func (p *Preferences) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// APIKey returns the configured key, or "".
func (p *Preferences) APIKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return strings.TrimSpace(p.settings.APIKey)
}

// UseKey reports whether calls should start on the key tier.
func (p *Preferences) UseKey() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.PreferKey && strings.TrimSpace(p.settings.APIKey) != ""
}

// Update replaces the settings and persists them.
func (p *Preferences) Update(ctx context.Context, s Settings) error {
	s.APIKey = strings.TrimSpace(s.APIKey)
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
	if p.store == nil {
		return nil
	}
	values := map[string]string{
		settingAPIKey:    s.APIKey,
		settingPreferKey: strconv.FormatBool(s.PreferKey),
		settingDebug:     strconv.FormatBool(s.Debug),
	}
	for key, value := range values {
		if err := p.store.PutSetting(ctx, p.sessionID, key, value); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}
	return nil
}
