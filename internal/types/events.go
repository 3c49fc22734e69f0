package types

import "encoding/json"

// =============================================================================
// CHAT EVENTS (from the agent-execution backend)
// =============================================================================

// ChatEvent type discriminators. Each workspace subscription delivers a
// backlog of plain "message" events, then "caught-up", then live events.
const (
	EventCaughtUp       = "caught-up"
	EventStreamStart    = "stream-start"
	EventStreamDelta    = "stream-delta"
	EventStreamEnd      = "stream-end"
	EventStreamAbort    = "stream-abort"
	EventStreamError    = "stream-error"
	EventToolCallStart  = "tool-call-start"
	EventToolCallDelta  = "tool-call-delta"
	EventToolCallEnd    = "tool-call-end"
	EventReasoningDelta = "reasoning-delta"
	EventReasoningEnd   = "reasoning-end"
	EventDeleteMessage  = "delete-message"
	EventMessage        = "message" // plain historical message
)

// Delta kinds for stream-delta events
const (
	DeltaKindText      = "text"
	DeltaKindToolArgs  = "tool-args"
	DeltaKindReasoning = "reasoning"
)

// ChatEvent is the tagged union delivered on a workspace event stream.
// Only the fields relevant to the Type are populated.
type ChatEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`

	// stream-start
	Model string `json:"model,omitempty"`

	// stream-delta / tool-call-delta / reasoning-delta
	Delta     string `json:"delta,omitempty"`
	DeltaKind string `json:"kind,omitempty"` // text, tool-args, reasoning

	// stream-end
	Parts    []MessagePart   `json:"parts,omitempty"`
	Metadata *StreamMetadata `json:"metadata,omitempty"`

	// stream-error
	Error string `json:"error,omitempty"`

	// tool-call-start / tool-call-end
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`

	// message (historical)
	Message *CmuxMessage `json:"message,omitempty"`
}

// StreamMetadata is the bookkeeping attached to a stream-end event.
type StreamMetadata struct {
	Usage               *TokenUsage    `json:"usage,omitempty"`
	ProviderMetadata    map[string]any `json:"providerMetadata,omitempty"`
	DurationMS          int64          `json:"durationMs,omitempty"`
	SystemMessageTokens int            `json:"systemMessageTokens,omitempty"`
}

// =============================================================================
// FRONTEND EVENTS
// =============================================================================

// EventEnvelope wraps all events emitted to the frontend with routing
// information.
type EventEnvelope struct {
	WorkspaceID string `json:"workspaceId"`
	EventType   string `json:"eventType"`
	Payload     any    `json:"payload"`
}
