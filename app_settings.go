package main

import (
	"fmt"

	"cmux/internal/settings"
)

// =============================================================================
// SETTINGS
// =============================================================================

// GetSettings returns the current application settings
func (a *App) GetSettings() (settings.Settings, error) {
	if a.settings == nil {
		return settings.Settings{}, fmt.Errorf("settings not initialized")
	}
	return a.settings.GetSettings(), nil
}

// SaveSettings persists new application settings. A backend URL change takes
// effect on the next launch; existing subscriptions keep their connection
func (a *App) SaveSettings(s settings.Settings) error {
	if a.settings == nil {
		return fmt.Errorf("settings not initialized")
	}
	return a.settings.SaveSettings(s)
}

// GetConfigPath returns the config directory path
func (a *App) GetConfigPath() string {
	if a.settings == nil {
		return ""
	}
	return a.settings.GetConfigPath()
}
