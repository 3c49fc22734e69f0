package main

import (
	"encoding/base64"
	"fmt"

	"cmux/internal/terminal"
)

// =============================================================================
// TERMINAL - Workspace shells
// =============================================================================

// OpenShell starts a shell in the workspace's folder and returns its info
func (a *App) OpenShell(workspaceID string) (*terminal.ShellInfo, error) {
	if a.shells == nil {
		return nil, fmt.Errorf("terminal manager not initialized")
	}
	if a.workspace == nil {
		return nil, fmt.Errorf("workspace manager not initialized")
	}

	ws, err := a.workspace.LoadWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	return a.shells.Open(workspaceID, ws.Folder)
}

// WriteShell forwards base64-encoded input to a shell's pty
func (a *App) WriteShell(id string, dataB64 string) error {
	if a.shells == nil {
		return fmt.Errorf("terminal manager not initialized")
	}

	data, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return fmt.Errorf("invalid shell input: %w", err)
	}
	return a.shells.Write(id, data)
}

// ResizeShell updates a shell's pty window size
func (a *App) ResizeShell(id string, cols, rows int) error {
	if a.shells == nil {
		return fmt.Errorf("terminal manager not initialized")
	}
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid shell size %dx%d", cols, rows)
	}
	return a.shells.Resize(id, uint16(cols), uint16(rows))
}

// CloseShell terminates a shell
func (a *App) CloseShell(id string) error {
	if a.shells == nil {
		return fmt.Errorf("terminal manager not initialized")
	}
	return a.shells.Close(id)
}

// ListShells returns the open shells for a workspace
func (a *App) ListShells(workspaceID string) []terminal.ShellInfo {
	if a.shells == nil {
		return []terminal.ShellInfo{}
	}
	return a.shells.List(workspaceID)
}
