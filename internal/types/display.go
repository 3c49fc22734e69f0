package types

import "encoding/json"

// =============================================================================
// DISPLAY PROJECTION
// =============================================================================

// DisplayedMessage type discriminators
const (
	DisplayUser          = "user"
	DisplayAssistant     = "assistant"
	DisplayTool          = "tool"
	DisplayReasoning     = "reasoning"
	DisplayHistoryHidden = "history-hidden"
)

// DisplayedMessage statuses
const (
	StatusStreaming   = "streaming"
	StatusComplete    = "complete"
	StatusInterrupted = "interrupted"
	StatusError       = "error"
)

// DisplayedMessage is the derived projection the frontend renders. One
// in-flight CmuxMessage can project to several DisplayedMessages (reasoning,
// tool calls, text) as it accumulates deltas.
type DisplayedMessage struct {
	ID        string `json:"id"` // unique per displayed entry
	MessageID string `json:"messageId"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`

	// Tool entries
	ToolName string          `json:"toolName,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`

	Status    string `json:"status"`
	IsPartial bool   `json:"isPartial"` // stream still open or abnormally terminated
	Timestamp int64  `json:"timestamp"`
	Model     string `json:"model,omitempty"`
	Compacted bool   `json:"compacted,omitempty"`
	Error     string `json:"error,omitempty"`

	// history-hidden entries
	HiddenCount int `json:"hiddenCount,omitempty"`
}
