package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const (
	ConfigDir    = ".cmux"
	SettingsFile = "settings.json"
)

// Settings holds all application settings
type Settings struct {
	Theme         string `json:"theme"`         // "dark", "light", "system"
	EnterBehavior string `json:"enterBehavior"` // "send", "newline"
	BackendURL    string `json:"backendUrl"`    // agent-execution backend, ws:// URL
	DefaultModel  string `json:"defaultModel"`  // model used when a workspace has none
	ThinkingLevel string `json:"thinkingLevel"` // "off", "normal", "high"
	ToolPolicy    string `json:"toolPolicy"`    // "auto", "approve", "readonly"
	DebugLogging  bool   `json:"debugLogging"`  // enable aggregated debug logging on frontend
}

// Manager handles all settings operations
type Manager struct {
	configPath string
	settings   *Settings
	mu         sync.RWMutex
}

// NewManager creates a new settings manager
func NewManager() (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(homeDir, ConfigDir)

	// Ensure config directory exists
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return nil, err
	}

	m := &Manager{
		configPath: configPath,
		settings:   defaultSettings(),
	}

	// Load existing settings
	_ = m.loadSettings()

	return m, nil
}

// GetConfigPath returns the path to the config directory
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// defaultSettings returns default settings
func defaultSettings() *Settings {
	return &Settings{
		Theme:         "dark",
		EnterBehavior: "send",
		BackendURL:    "ws://localhost:9400",
		ThinkingLevel: "normal",
		ToolPolicy:    "auto",
	}
}

// GetSettings returns current settings
func (m *Manager) GetSettings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.settings
}

// SaveSettings saves settings to disk
func (m *Manager) SaveSettings(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = &s
	return m.writeJSON(SettingsFile, s)
}

// loadSettings loads settings from disk
func (m *Manager) loadSettings() error {
	return m.readJSON(SettingsFile, m.settings)
}

// writeJSON writes data as JSON to a file
func (m *Manager) writeJSON(filename string, data interface{}) error {
	path := filepath.Join(m.configPath, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, jsonData, 0600)
}

// readJSON reads JSON from a file
func (m *Manager) readJSON(filename string, target interface{}) error {
	path := filepath.Join(m.configPath, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	return json.Unmarshal(data, target)
}
