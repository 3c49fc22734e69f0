package main

import (
	"fmt"
	"strings"

	"cmux/internal/types"
)

// =============================================================================
// CHAT - Streaming, interruption, and retry
// =============================================================================

// GetDisplayedMessages returns the display projection for a workspace's chat
func (a *App) GetDisplayedMessages(workspaceID string) ([]types.DisplayedMessage, error) {
	if a.registry == nil {
		return nil, fmt.Errorf("registry not initialized")
	}
	return a.registry.Get(workspaceID).GetDisplayedMessages(), nil
}

// SendMessage sends a user message to the workspace's agent. Sending re-arms
// auto-retry: an explicit send always expresses intent to keep the stream alive
func (a *App) SendMessage(workspaceID, text string, opts types.SendOptions) error {
	if a.transport == nil {
		return fmt.Errorf("transport not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is empty")
	}

	if a.store != nil {
		if err := a.store.SetAutoRetry(workspaceID, true); err != nil {
			fmt.Printf("[DEBUG] Failed to re-arm auto-retry for workspace %s: %v\n", workspaceID, err)
		}
	}

	if opts.Model == "" {
		opts = a.buildSendOptions(workspaceID)
	}
	return a.transport.SendMessage(a.ctx, workspaceID, text, opts)
}

// InterruptStream stops the workspace's active stream. Interrupting disables
// auto-retry so the stream stays stopped until the user acts again
func (a *App) InterruptStream(workspaceID string) error {
	if a.transport == nil {
		return fmt.Errorf("transport not initialized")
	}

	if a.store != nil {
		if err := a.store.SetAutoRetry(workspaceID, false); err != nil {
			fmt.Printf("[DEBUG] Failed to disable auto-retry for workspace %s: %v\n", workspaceID, err)
		}
	}

	return a.transport.InterruptStream(a.ctx, workspaceID)
}

// RetryStream re-arms auto-retry and asks the resume scheduler to check the
// workspace immediately
func (a *App) RetryStream(workspaceID string) error {
	if a.store == nil || a.resume == nil {
		return fmt.Errorf("resume manager not initialized")
	}

	if err := a.store.SetAutoRetry(workspaceID, true); err != nil {
		return fmt.Errorf("failed to re-arm auto-retry: %w", err)
	}
	a.resume.RequestCheck(workspaceID)
	return nil
}

// CancelAutoRetry disables auto-retry for the workspace so the resume
// scheduler leaves it alone until the user sends or retries again
func (a *App) CancelAutoRetry(workspaceID string) error {
	if a.store == nil {
		return fmt.Errorf("state store not initialized")
	}
	return a.store.SetAutoRetry(workspaceID, false)
}

// CanInterrupt reports whether the workspace has an active stream
func (a *App) CanInterrupt(workspaceID string) bool {
	if a.registry == nil {
		return false
	}
	return a.registry.CanInterrupt(workspaceID)
}

// IsCompacting reports whether a history compaction is in flight for the
// workspace
func (a *App) IsCompacting(workspaceID string) bool {
	if a.registry == nil {
		return false
	}
	return a.registry.Get(workspaceID).IsCompacting()
}

// GetCurrentModel returns the model of the workspace's most recent stream
func (a *App) GetCurrentModel(workspaceID string) string {
	if a.registry == nil {
		return ""
	}
	return a.registry.CurrentModel(workspaceID)
}

// GetActiveStreams returns the message IDs of the workspace's open streams
func (a *App) GetActiveStreams(workspaceID string) []string {
	if a.registry == nil {
		return []string{}
	}
	return a.registry.Get(workspaceID).GetActiveStreams()
}

// GetAutoRetry reports whether auto-retry is armed for the workspace
func (a *App) GetAutoRetry(workspaceID string) (bool, error) {
	if a.store == nil {
		return false, fmt.Errorf("state store not initialized")
	}
	return a.store.AutoRetry(workspaceID)
}
