// Package workspace manages workspace configurations: one independent agent
// conversation context each, persisted as JSON files keyed by workspace id.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Workspace represents a saved workspace configuration
type Workspace struct {
	Version    int       `json:"version"`
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Folder     string    `json:"folder"`          // project folder this workspace works in
	Model      string    `json:"model,omitempty"` // preferred model for this workspace
	Created    time.Time `json:"created"`
	LastOpened time.Time `json:"lastOpened"`
}

// CurrentWorkspaceVersion is the latest workspace schema version
const CurrentWorkspaceVersion = 1

// WorkspaceSummary is a minimal reference for listing workspaces
type WorkspaceSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Folder     string    `json:"folder"`
	LastOpened time.Time `json:"lastOpened"`
}

// CurrentWorkspace stores the active workspace ID
type CurrentWorkspace struct {
	ID string `json:"id"`
}

// GenerateWorkspaceID creates a unique workspace ID
func GenerateWorkspaceID() string {
	return uuid.New().String()
}

// Manager handles workspace operations
type Manager struct {
	configPath string
}

// NewManager creates a new workspace manager
func NewManager(configPath string) *Manager {
	// Ensure workspaces directory exists
	workspacesDir := filepath.Join(configPath, "workspaces")
	os.MkdirAll(workspacesDir, 0755)

	return &Manager{configPath: configPath}
}

func (m *Manager) workspacesDir() string {
	return filepath.Join(m.configPath, "workspaces")
}

// GetAllWorkspaces returns all workspaces from the workspaces folder
func (m *Manager) GetAllWorkspaces() ([]WorkspaceSummary, error) {
	entries, err := os.ReadDir(m.workspacesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []WorkspaceSummary{}, nil
		}
		return nil, err
	}

	workspaces := []WorkspaceSummary{} // empty slice, not nil (nil becomes JSON null)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(m.workspacesDir(), entry.Name()))
		if err != nil {
			continue
		}

		var ws Workspace
		if err := json.Unmarshal(data, &ws); err != nil {
			continue
		}

		workspaces = append(workspaces, WorkspaceSummary{
			ID:         ws.ID,
			Name:       ws.Name,
			Folder:     ws.Folder,
			LastOpened: ws.LastOpened,
		})
	}

	// Sort by last opened (most recent first)
	sort.Slice(workspaces, func(i, j int) bool {
		return workspaces[i].LastOpened.After(workspaces[j].LastOpened)
	})

	return workspaces, nil
}

// GetCurrentWorkspaceID returns the ID of the currently active workspace
func (m *Manager) GetCurrentWorkspaceID() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.configPath, "current.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // No current workspace set
		}
		return "", err
	}

	var current CurrentWorkspace
	if err := json.Unmarshal(data, &current); err != nil {
		return "", err
	}

	return current.ID, nil
}

// SetCurrentWorkspace sets the currently active workspace ID
func (m *Manager) SetCurrentWorkspace(id string) error {
	current := CurrentWorkspace{ID: id}
	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.configPath, "current.json"), data, 0644)
}

// SaveWorkspace saves a workspace configuration.
// Uses workspace ID for filename (stable, no rename issues)
func (m *Manager) SaveWorkspace(ws *Workspace) error {
	ws.LastOpened = time.Now()
	if ws.Created.IsZero() {
		ws.Created = time.Now()
	}
	if ws.ID == "" {
		ws.ID = GenerateWorkspaceID()
	}
	if ws.Version == 0 {
		ws.Version = CurrentWorkspaceVersion
	}

	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}

	wsPath := filepath.Join(m.workspacesDir(), ws.ID+".json")
	return os.WriteFile(wsPath, data, 0644)
}

// LoadWorkspace loads a workspace by ID
func (m *Manager) LoadWorkspace(id string) (*Workspace, error) {
	wsPath := filepath.Join(m.workspacesDir(), id+".json")
	data, err := os.ReadFile(wsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workspace not found: %s", id)
		}
		return nil, err
	}

	var ws Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("failed to parse workspace %s: %w", id, err)
	}
	return &ws, nil
}

// DeleteWorkspace removes a workspace configuration file
func (m *Manager) DeleteWorkspace(id string) error {
	wsPath := filepath.Join(m.workspacesDir(), id+".json")
	if err := os.Remove(wsPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	// Clear current pointer if it referenced the deleted workspace
	currentID, err := m.GetCurrentWorkspaceID()
	if err == nil && currentID == id {
		return m.SetCurrentWorkspace("")
	}
	return nil
}

// CreateWorkspace creates and persists a new workspace for a folder
func (m *Manager) CreateWorkspace(name, folder, model string) (*Workspace, error) {
	absFolder, err := filepath.Abs(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve folder: %w", err)
	}

	ws := &Workspace{
		Version: CurrentWorkspaceVersion,
		ID:      GenerateWorkspaceID(),
		Name:    name,
		Folder:  absFolder,
		Model:   model,
	}
	if err := m.SaveWorkspace(ws); err != nil {
		return nil, err
	}
	return ws, nil
}
