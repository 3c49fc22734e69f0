package main

import (
	"fmt"

	"cmux/internal/workspace"
)

// =============================================================================
// WORKSPACES - CRUD and lifecycle
// =============================================================================

// GetAllWorkspaces returns summaries of all saved workspaces, most recently
// opened first
func (a *App) GetAllWorkspaces() ([]workspace.WorkspaceSummary, error) {
	if a.workspace == nil {
		return nil, fmt.Errorf("workspace manager not initialized")
	}
	return a.workspace.GetAllWorkspaces()
}

// GetCurrentWorkspaceID returns the active workspace ID (empty if none)
func (a *App) GetCurrentWorkspaceID() (string, error) {
	if a.workspace == nil {
		return "", fmt.Errorf("workspace manager not initialized")
	}
	return a.workspace.GetCurrentWorkspaceID()
}

// CreateWorkspace creates a new workspace for a folder and starts tracking it
func (a *App) CreateWorkspace(name, folder, model string) (*workspace.Workspace, error) {
	if a.workspace == nil {
		return nil, fmt.Errorf("workspace manager not initialized")
	}
	if name == "" {
		return nil, fmt.Errorf("workspace name is required")
	}

	ws, err := a.workspace.CreateWorkspace(name, folder, model)
	if err != nil {
		return nil, err
	}

	a.syncWorkspaces()
	return ws, nil
}

// OpenWorkspace marks a workspace as current and refreshes its last-opened
// timestamp
func (a *App) OpenWorkspace(id string) (*workspace.Workspace, error) {
	if a.workspace == nil {
		return nil, fmt.Errorf("workspace manager not initialized")
	}

	ws, err := a.workspace.LoadWorkspace(id)
	if err != nil {
		return nil, err
	}
	if err := a.workspace.SaveWorkspace(ws); err != nil {
		return nil, fmt.Errorf("failed to update workspace: %w", err)
	}
	if err := a.workspace.SetCurrentWorkspace(id); err != nil {
		return nil, fmt.Errorf("failed to set current workspace: %w", err)
	}

	// Make sure it is subscribed even if the config watcher missed the file
	if a.registry != nil {
		a.registry.Get(id)
	}
	return ws, nil
}

// UpdateWorkspace persists edits to a workspace's name, folder, or model
func (a *App) UpdateWorkspace(ws workspace.Workspace) error {
	if a.workspace == nil {
		return fmt.Errorf("workspace manager not initialized")
	}
	if ws.ID == "" {
		return fmt.Errorf("workspace id is required")
	}
	return a.workspace.SaveWorkspace(&ws)
}

// CloseWorkspace tears down the workspace's runtime state (event subscription,
// aggregator, shells) without deleting its configuration
func (a *App) CloseWorkspace(id string) error {
	if a.registry != nil {
		a.registry.Dispose(id)
	}
	if a.shells != nil {
		a.shells.CloseWorkspace(id)
	}
	return nil
}

// DeleteWorkspace removes a workspace configuration and all its runtime state
func (a *App) DeleteWorkspace(id string) error {
	if a.workspace == nil {
		return fmt.Errorf("workspace manager not initialized")
	}

	if err := a.CloseWorkspace(id); err != nil {
		return err
	}
	if err := a.workspace.DeleteWorkspace(id); err != nil {
		return err
	}
	if a.store != nil {
		if err := a.store.ClearRetryState(id); err != nil {
			fmt.Printf("[DEBUG] Failed to clear retry state for deleted workspace %s: %v\n", id, err)
		}
	}

	a.syncWorkspaces()
	return nil
}
