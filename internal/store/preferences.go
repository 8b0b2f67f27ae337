// ABOUTME: UI preferences stored as well-known settings keys
// ABOUTME: Partial updates leave unset fields untouched

package store

import (
	"context"
	"fmt"
)

// Preference setting keys.
const (
	PrefLanguage     = "ui.language"
	PrefTheme        = "ui.theme"
	PrefSystemPrompt = "chat.systemPrompt"
)

// GetPreferences reads the preference keys. Absent keys stay nil.
func (s *SQLiteStore) GetPreferences(ctx context.Context) (*Preferences, error) {
	var prefs Preferences
	for key, dst := range prefs.fields() {
		value, ok, err := s.GetSetting(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("reading preference %s: %w", key, err)
		}
		if ok {
			*dst = &value
		}
	}
	return &prefs, nil
}

// SavePreferences writes the non-nil fields of update and returns the
// merged result.
func (s *SQLiteStore) SavePreferences(ctx context.Context, update Preferences) (*Preferences, error) {
	for key, src := range update.fields() {
		if *src == nil {
			continue
		}
		if err := s.SetSetting(ctx, key, **src, false); err != nil {
			return nil, fmt.Errorf("saving preference %s: %w", key, err)
		}
	}
	return s.GetPreferences(ctx)
}

func (p *Preferences) fields() map[string]**string {
	return map[string]**string{
		PrefLanguage:     &p.Language,
		PrefTheme:        &p.Theme,
		PrefSystemPrompt: &p.SystemPrompt,
	}
}
