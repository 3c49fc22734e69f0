// Package types provides shared type definitions for cmux.
// These types are used across the transport, aggregator, and resume packages.
package types

import "encoding/json"

// =============================================================================
// CANONICAL MESSAGES
// =============================================================================

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Part types within a CmuxMessage
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartToolCall  = "tool-call"
)

// Tool-call part states
const (
	ToolStateRunning  = "running"
	ToolStateComplete = "complete"
)

// CmuxMessage is the canonical persisted message unit. Once a message is
// finalized (its stream ended) it is never field-patched again; compaction
// supersedes the whole history wholesale instead.
type CmuxMessage struct {
	ID       string          `json:"id"`
	Role     string          `json:"role"` // user, assistant, tool, system
	Parts    []MessagePart   `json:"parts"`
	Metadata MessageMetadata `json:"metadata"`
}

// MessagePart is a single content part within a message.
type MessagePart struct {
	Type string `json:"type"` // text, reasoning, tool-call

	// Text and reasoning parts
	Text string `json:"text,omitempty"`

	// Tool-call parts
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	State      string          `json:"state,omitempty"` // running, complete
}

// MessageMetadata carries per-message bookkeeping.
type MessageMetadata struct {
	Timestamp           int64          `json:"timestamp"` // Unix ms
	Model               string         `json:"model,omitempty"`
	Usage               *TokenUsage    `json:"usage,omitempty"`
	DurationMS          int64          `json:"durationMs,omitempty"`
	SystemMessageTokens int            `json:"systemMessageTokens,omitempty"`
	Compacted           bool           `json:"compacted,omitempty"` // true for a compaction summary message
	Partial             bool           `json:"partial,omitempty"`   // stream aborted or errored before stream-end
	Error               string         `json:"error,omitempty"`
	ProviderMetadata    map[string]any `json:"providerMetadata,omitempty"`
}

// TokenUsage holds token counts reported by the backend at stream end.
type TokenUsage struct {
	InputTokens              int `json:"inputTokens"`
	OutputTokens             int `json:"outputTokens"`
	CacheReadInputTokens     int `json:"cacheReadInputTokens,omitempty"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens,omitempty"`
}

// =============================================================================
// SEND OPTIONS
// =============================================================================

// SendOptions are the request parameters reconstructed when sending or
// resuming a stream for a workspace.
type SendOptions struct {
	Model         string `json:"model,omitempty"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"` // off, normal, high
	Mode          string `json:"mode,omitempty"`          // chat, plan
	ToolPolicy    string `json:"toolPolicy,omitempty"`    // auto, approve, readonly
}
