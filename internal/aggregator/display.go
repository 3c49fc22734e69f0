package aggregator

import (
	"fmt"

	"cmux/internal/types"
)

// project derives the display projection from the canonical message list.
// One in-flight message fans out into one entry per part; messages preceding
// the latest compaction summary collapse into a single history-hidden entry.
func project(messages []types.CmuxMessage, active map[string]*streamState) []types.DisplayedMessage {
	displayed := make([]types.DisplayedMessage, 0, len(messages))

	// Everything before the latest compaction summary is replaced history.
	start := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Metadata.Compacted {
			start = i
			break
		}
	}
	if start > 0 {
		displayed = append(displayed, types.DisplayedMessage{
			ID:          fmt.Sprintf("%s#hidden", messages[start].ID),
			Type:        types.DisplayHistoryHidden,
			Status:      types.StatusComplete,
			Timestamp:   messages[0].Metadata.Timestamp,
			HiddenCount: start,
		})
	}

	for _, msg := range messages[start:] {
		displayed = append(displayed, projectMessage(msg, active)...)
	}
	return displayed
}

func projectMessage(msg types.CmuxMessage, active map[string]*streamState) []types.DisplayedMessage {
	_, streaming := active[msg.ID]
	isPartial := streaming || msg.Metadata.Partial

	status := types.StatusComplete
	switch {
	case streaming:
		status = types.StatusStreaming
	case msg.Metadata.Error != "":
		status = types.StatusError
	case msg.Metadata.Partial:
		status = types.StatusInterrupted
	}

	base := types.DisplayedMessage{
		MessageID: msg.ID,
		Status:    status,
		IsPartial: isPartial,
		Timestamp: msg.Metadata.Timestamp,
		Model:     msg.Metadata.Model,
		Compacted: msg.Metadata.Compacted,
		Error:     msg.Metadata.Error,
	}

	if msg.Role == types.RoleUser || msg.Role == types.RoleSystem {
		entry := base
		entry.ID = msg.ID
		entry.Type = types.DisplayUser
		if msg.Role == types.RoleSystem {
			entry.Type = types.DisplayAssistant
		}
		entry.Text = collectText(msg.Parts)
		return []types.DisplayedMessage{entry}
	}

	var out []types.DisplayedMessage
	for i, part := range msg.Parts {
		entry := base
		entry.ID = fmt.Sprintf("%s#%d", msg.ID, i)
		switch part.Type {
		case types.PartReasoning:
			entry.Type = types.DisplayReasoning
			entry.Text = part.Text
		case types.PartToolCall:
			entry.Type = types.DisplayTool
			entry.ToolName = part.ToolName
			entry.Args = part.Args
			entry.Result = part.Result
			if part.State == types.ToolStateRunning && !streaming {
				// Tool never finished because the stream was cut off.
				entry.IsPartial = true
			}
		default:
			entry.Type = types.DisplayAssistant
			entry.Text = part.Text
		}
		out = append(out, entry)
	}

	if len(out) == 0 {
		// A stream with no parts yet (or one cut off before producing any)
		// still surfaces as a single assistant entry.
		entry := base
		entry.ID = msg.ID
		entry.Type = types.DisplayAssistant
		out = append(out, entry)
	}
	return out
}

func collectText(parts []types.MessagePart) string {
	text := ""
	for _, part := range parts {
		if part.Type == types.PartText {
			text += part.Text
		}
	}
	return text
}
