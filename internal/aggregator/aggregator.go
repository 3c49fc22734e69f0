// Package aggregator reconstructs displayable conversation state from the
// per-workspace event stream. It is the single source of truth for a
// workspace's messages, active streams, and compaction state.
package aggregator

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"cmux/internal/types"
)

// CompactSummaryToolName is the tool call that signals context compaction.
// Its result carries the summary that replaces the workspace history.
const CompactSummaryToolName = "compact_summary"

// ReplaceHistoryFunc replaces the entire persisted history for a workspace
// with the single given message (the backend RPC).
type ReplaceHistoryFunc func(workspaceID string, msg types.CmuxMessage) error

// streamState tracks one open stream (message id) on a workspace.
type streamState struct {
	model             string
	sawCompactionTool bool
}

// Aggregator consumes the ordered event stream for one workspace and
// maintains its canonical message list. All mutation happens in the order
// events are delivered; accessors are safe to call at any time.
type Aggregator struct {
	workspaceID string
	mu          sync.Mutex

	messages      []types.CmuxMessage
	activeStreams map[string]*streamState // message id -> state
	caughtUp      bool
	historical    []types.CmuxMessage // buffered until caught-up
	currentModel  string

	compacting           bool
	pendingSummary       string // single slot, first writer wins
	pendingSummaryStream string // message id whose stream produced the pending summary

	streamedChars map[string]int // per-message delta bookkeeping, cleared on finalize/abort

	replaceHistory ReplaceHistoryFunc
	requestResume  func(workspaceID string) // wake signal for the resume manager
	emit           func(types.EventEnvelope)
}

// New creates an aggregator for a workspace. replaceHistory, requestResume,
// and emit may be nil (compaction, resume wake, and frontend updates are then
// skipped).
func New(workspaceID string, replaceHistory ReplaceHistoryFunc, requestResume func(string), emit func(types.EventEnvelope)) *Aggregator {
	return &Aggregator{
		workspaceID:    workspaceID,
		activeStreams:  make(map[string]*streamState),
		streamedChars:  make(map[string]int),
		replaceHistory: replaceHistory,
		requestResume:  requestResume,
		emit:           emit,
	}
}

// WorkspaceID returns the workspace this aggregator belongs to.
func (a *Aggregator) WorkspaceID() string {
	return a.workspaceID
}

// =============================================================================
// EVENT HANDLING
// =============================================================================

// HandleEvent applies one event to the aggregator state. It never returns an
// error: malformed or unknown events are logged and ignored.
func (a *Aggregator) HandleEvent(ev types.ChatEvent) {
	a.mu.Lock()

	var wake bool
	var consumed *types.CmuxMessage

	switch ev.Type {
	case types.EventCaughtUp:
		a.handleCaughtUp()
	case types.EventMessage:
		a.handleHistorical(ev)
	case types.EventStreamStart:
		a.handleStreamStart(ev)
	case types.EventStreamDelta:
		a.handleDelta(ev.MessageID, ev.DeltaKind, ev.Delta)
	case types.EventReasoningDelta:
		a.handleDelta(ev.MessageID, types.DeltaKindReasoning, ev.Delta)
	case types.EventReasoningEnd:
		a.handleReasoningEnd(ev.MessageID)
	case types.EventToolCallStart:
		a.handleToolCallStart(ev)
	case types.EventToolCallDelta:
		a.handleDelta(ev.MessageID, types.DeltaKindToolArgs, ev.Delta)
	case types.EventToolCallEnd:
		consumed = a.handleToolCallEnd(ev)
	case types.EventStreamEnd:
		consumed = a.handleStreamEnd(ev)
	case types.EventStreamAbort:
		wake = a.handleStreamTermination(ev.MessageID, "")
	case types.EventStreamError:
		wake = a.handleStreamTermination(ev.MessageID, ev.Error)
	case types.EventDeleteMessage:
		a.handleDeleteMessage(ev.MessageID)
	default:
		log.Printf("[aggregator] workspace %s: ignoring unknown event type %q", a.workspaceID, ev.Type)
		a.mu.Unlock()
		return
	}

	a.mu.Unlock()

	if consumed != nil {
		a.invokeReplaceHistory(*consumed)
	}
	if wake && a.requestResume != nil {
		a.requestResume(a.workspaceID)
	}
	a.emitUpdate()
}

// handleCaughtUp applies the buffered historical messages as one ordered
// batch. A duplicate caught-up marker is a no-op.
func (a *Aggregator) handleCaughtUp() {
	if a.caughtUp {
		log.Printf("[aggregator] workspace %s: duplicate caught-up, ignoring", a.workspaceID)
		return
	}
	if len(a.historical) > 0 {
		a.messages = append(a.messages, a.historical...)
		a.historical = nil
	}
	a.caughtUp = true
}

func (a *Aggregator) handleHistorical(ev types.ChatEvent) {
	if ev.Message == nil {
		log.Printf("[aggregator] workspace %s: message event without message, ignoring", a.workspaceID)
		return
	}
	msg := *ev.Message
	if !a.caughtUp {
		a.historical = append(a.historical, msg)
		return
	}
	if msg.ID != "" && a.messageIndex(msg.ID) >= 0 {
		log.Printf("[aggregator] workspace %s: duplicate message %s, ignoring", a.workspaceID, msg.ID)
		return
	}
	a.messages = append(a.messages, msg)
}

func (a *Aggregator) handleStreamStart(ev types.ChatEvent) {
	if ev.MessageID == "" {
		log.Printf("[aggregator] workspace %s: stream-start without message id, ignoring", a.workspaceID)
		return
	}
	if _, exists := a.activeStreams[ev.MessageID]; exists {
		log.Printf("[aggregator] workspace %s: stream-start for already-open stream %s, ignoring", a.workspaceID, ev.MessageID)
		return
	}

	a.messages = append(a.messages, types.CmuxMessage{
		ID:   ev.MessageID,
		Role: types.RoleAssistant,
		Metadata: types.MessageMetadata{
			Timestamp: time.Now().UnixMilli(),
			Model:     ev.Model,
		},
	})
	a.activeStreams[ev.MessageID] = &streamState{model: ev.Model}
	if ev.Model != "" {
		a.currentModel = ev.Model
	}
}

// handleDelta appends a delta to the in-flight message. Deltas for streams
// that are not open (never started, or already terminated) are discarded.
func (a *Aggregator) handleDelta(messageID, kind, delta string) {
	if _, open := a.activeStreams[messageID]; !open {
		log.Printf("[aggregator] workspace %s: delta for non-streaming message %s, discarding", a.workspaceID, messageID)
		return
	}
	idx := a.messageIndex(messageID)
	if idx < 0 {
		return
	}

	msg := &a.messages[idx]
	switch kind {
	case types.DeltaKindText:
		if last := lastPart(msg); last != nil && last.Type == types.PartText {
			last.Text += delta
		} else {
			msg.Parts = append(msg.Parts, types.MessagePart{Type: types.PartText, Text: delta})
		}
	case types.DeltaKindReasoning:
		if last := lastPart(msg); last != nil && last.Type == types.PartReasoning && last.State == types.ToolStateRunning {
			last.Text += delta
		} else {
			msg.Parts = append(msg.Parts, types.MessagePart{
				Type:  types.PartReasoning,
				Text:  delta,
				State: types.ToolStateRunning,
			})
		}
	case types.DeltaKindToolArgs:
		if part := lastRunningTool(msg); part != nil {
			part.Args = append(part.Args, delta...)
		} else {
			log.Printf("[aggregator] workspace %s: tool-args delta with no open tool call on %s, discarding", a.workspaceID, messageID)
			return
		}
	default:
		log.Printf("[aggregator] workspace %s: unknown delta kind %q, discarding", a.workspaceID, kind)
		return
	}
	a.streamedChars[messageID] += len(delta)
}

func (a *Aggregator) handleReasoningEnd(messageID string) {
	if _, open := a.activeStreams[messageID]; !open {
		return
	}
	idx := a.messageIndex(messageID)
	if idx < 0 {
		return
	}
	if last := lastPart(&a.messages[idx]); last != nil && last.Type == types.PartReasoning {
		last.State = types.ToolStateComplete
	}
}

func (a *Aggregator) handleToolCallStart(ev types.ChatEvent) {
	st, open := a.activeStreams[ev.MessageID]
	if !open {
		log.Printf("[aggregator] workspace %s: tool-call-start for non-streaming message %s, ignoring", a.workspaceID, ev.MessageID)
		return
	}
	idx := a.messageIndex(ev.MessageID)
	if idx < 0 {
		return
	}

	a.messages[idx].Parts = append(a.messages[idx].Parts, types.MessagePart{
		Type:       types.PartToolCall,
		ToolCallID: ev.ToolCallID,
		ToolName:   ev.ToolName,
		Args:       ev.Args,
		State:      types.ToolStateRunning,
	})
	if ev.ToolName == CompactSummaryToolName {
		st.sawCompactionTool = true
		a.compacting = true
	}
}

// handleToolCallEnd records the tool result. For the compaction tool the
// summary is parked in the pending slot (first writer wins) and consumed when
// the stream ends, so history replacement never races with the stream that
// produced it. With no active stream for the message, the summary applies
// immediately. Returns the summary message to apply, if any.
func (a *Aggregator) handleToolCallEnd(ev types.ChatEvent) *types.CmuxMessage {
	st, open := a.activeStreams[ev.MessageID]

	if open {
		if idx := a.messageIndex(ev.MessageID); idx >= 0 {
			if part := findToolPart(&a.messages[idx], ev.ToolCallID, ev.ToolName); part != nil {
				part.Result = ev.Result
				part.State = types.ToolStateComplete
			}
		}
	}

	if ev.ToolName != CompactSummaryToolName {
		return nil
	}

	summary := compactSummaryFromResult(ev.Result)
	if summary == "" {
		log.Printf("[aggregator] workspace %s: compaction result missing summary, skipping", a.workspaceID)
		return nil
	}

	if !open {
		// Reconnect scenario: there is no stream-end coming. Apply now.
		return a.consumeSummaryLocked(summary, nil)
	}

	st.sawCompactionTool = true
	a.compacting = true
	if a.pendingSummary == "" {
		a.pendingSummary = summary
		a.pendingSummaryStream = ev.MessageID
	}
	return nil
}

// handleStreamEnd finalizes the message and consumes a pending compaction
// summary. The stream-end parts scan is the fallback used only when no
// compaction tool call was tracked on the stream (e.g. reconnect). Returns
// the summary message to apply, if any.
func (a *Aggregator) handleStreamEnd(ev types.ChatEvent) *types.CmuxMessage {
	if ev.MessageID == "" {
		log.Printf("[aggregator] workspace %s: stream-end without message id, ignoring", a.workspaceID)
		return nil
	}

	st := a.activeStreams[ev.MessageID]
	idx := a.messageIndex(ev.MessageID)
	if idx < 0 {
		// Stream we never saw start. Record the finalized message anyway.
		a.messages = append(a.messages, types.CmuxMessage{
			ID:   ev.MessageID,
			Role: types.RoleAssistant,
			Metadata: types.MessageMetadata{
				Timestamp: time.Now().UnixMilli(),
			},
		})
		idx = len(a.messages) - 1
	}

	msg := &a.messages[idx]
	if len(ev.Parts) > 0 {
		msg.Parts = ev.Parts // stream-end parts are canonical
	}
	if ev.Metadata != nil {
		msg.Metadata.Usage = ev.Metadata.Usage
		msg.Metadata.DurationMS = ev.Metadata.DurationMS
		msg.Metadata.SystemMessageTokens = ev.Metadata.SystemMessageTokens
		msg.Metadata.ProviderMetadata = ev.Metadata.ProviderMetadata
	}
	msg.Metadata.Partial = false

	delete(a.activeStreams, ev.MessageID)
	delete(a.streamedChars, ev.MessageID)

	if a.pendingSummary != "" && a.pendingSummaryStream == ev.MessageID {
		return a.consumeSummaryLocked(a.pendingSummary, ev.Metadata)
	}
	if st == nil || !st.sawCompactionTool {
		if summary := compactSummaryFromParts(ev.Parts); summary != "" {
			return a.consumeSummaryLocked(summary, ev.Metadata)
		}
	}
	return nil
}

// handleStreamTermination covers stream-abort and stream-error. The message
// stays partial, compaction state is discarded, and the caller fires the
// resume wake signal.
func (a *Aggregator) handleStreamTermination(messageID, errMsg string) bool {
	delete(a.activeStreams, messageID)
	delete(a.streamedChars, messageID)

	if idx := a.messageIndex(messageID); idx >= 0 {
		a.messages[idx].Metadata.Partial = true
		if errMsg != "" {
			a.messages[idx].Metadata.Error = errMsg
		}
	}

	// A summary produced by an aborted or errored stream is never applied.
	a.pendingSummary = ""
	a.pendingSummaryStream = ""
	a.compacting = false

	return true
}

func (a *Aggregator) handleDeleteMessage(messageID string) {
	if messageID == "" {
		return
	}
	delete(a.activeStreams, messageID)
	delete(a.streamedChars, messageID)

	for i, msg := range a.messages {
		if msg.ID == messageID {
			a.messages = append(a.messages[:i], a.messages[i+1:]...)
			return
		}
	}
	for i, msg := range a.historical {
		if msg.ID == messageID {
			a.historical = append(a.historical[:i], a.historical[i+1:]...)
			return
		}
	}
}

// =============================================================================
// COMPACTION
// =============================================================================

// consumeSummaryLocked synthesizes the summary message, replaces the local
// message list wholesale, and clears the pending slot. The history-replacement
// RPC is invoked by the caller after the lock is released. Must be called with
// the lock held.
func (a *Aggregator) consumeSummaryLocked(summary string, meta *types.StreamMetadata) *types.CmuxMessage {
	msg := types.CmuxMessage{
		ID:   fmt.Sprintf("compact-%d", time.Now().UnixNano()),
		Role: types.RoleAssistant,
		Parts: []types.MessagePart{
			{Type: types.PartText, Text: summary},
		},
		Metadata: types.MessageMetadata{
			Timestamp: time.Now().UnixMilli(),
			Model:     a.currentModel,
			Compacted: true,
		},
	}
	if meta != nil {
		msg.Metadata.Usage = meta.Usage
		msg.Metadata.DurationMS = meta.DurationMS
		msg.Metadata.SystemMessageTokens = meta.SystemMessageTokens
	}

	a.messages = []types.CmuxMessage{msg}
	a.pendingSummary = ""
	a.pendingSummaryStream = ""
	a.compacting = false

	return &msg
}

func (a *Aggregator) invokeReplaceHistory(msg types.CmuxMessage) {
	if a.replaceHistory == nil {
		return
	}
	go func() {
		if err := a.replaceHistory(a.workspaceID, msg); err != nil {
			log.Printf("[aggregator] workspace %s: replaceChatHistory failed: %v", a.workspaceID, err)
		}
	}()
}

// compactSummaryFromResult extracts the summary string from a compaction tool
// result. Returns "" if the result has no summary.
func compactSummaryFromResult(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return ""
	}
	return payload.Summary
}

// compactSummaryFromParts scans stream-end parts for a completed compaction
// tool call carrying a summary.
func compactSummaryFromParts(parts []types.MessagePart) string {
	for _, part := range parts {
		if part.Type == types.PartToolCall && part.ToolName == CompactSummaryToolName {
			if summary := compactSummaryFromResult(part.Result); summary != "" {
				return summary
			}
		}
	}
	return ""
}

// =============================================================================
// ACCESSORS
// =============================================================================

// GetDisplayedMessages returns the current display projection. Pure read,
// safe to call mid-stream.
func (a *Aggregator) GetDisplayedMessages() []types.DisplayedMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return project(a.messages, a.activeStreams)
}

// LastDisplayed returns the final entry of the display projection.
func (a *Aggregator) LastDisplayed() (types.DisplayedMessage, bool) {
	displayed := a.GetDisplayedMessages()
	if len(displayed) == 0 {
		return types.DisplayedMessage{}, false
	}
	return displayed[len(displayed)-1], true
}

// HasMessages reports whether any canonical messages exist.
func (a *Aggregator) HasMessages() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages) > 0
}

// GetActiveStreams returns the ids of currently open streams.
func (a *Aggregator) GetActiveStreams() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.activeStreams))
	for id := range a.activeStreams {
		ids = append(ids, id)
	}
	return ids
}

// CanInterrupt reports whether a stream is open for this workspace.
func (a *Aggregator) CanInterrupt() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.activeStreams) > 0
}

// IsCompacting reports whether a compaction tool call is in flight.
func (a *Aggregator) IsCompacting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.compacting
}

// GetCurrentModel returns the model of the most recent stream.
func (a *Aggregator) GetCurrentModel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentModel
}

// ResetStreams clears all open-stream state. Called before (re)subscribing so
// a reconnect does not leave canInterrupt stuck from a previous session; the
// affected messages are marked partial.
func (a *Aggregator) ResetStreams() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id := range a.activeStreams {
		if idx := a.messageIndex(id); idx >= 0 {
			a.messages[idx].Metadata.Partial = true
		}
	}
	a.activeStreams = make(map[string]*streamState)
	a.streamedChars = make(map[string]int)
	a.pendingSummary = ""
	a.pendingSummaryStream = ""
	a.compacting = false
}

// =============================================================================
// HELPERS
// =============================================================================

// messageIndex finds a message in the live list by id. Must be called with
// the lock held.
func (a *Aggregator) messageIndex(id string) int {
	for i := len(a.messages) - 1; i >= 0; i-- {
		if a.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func lastPart(msg *types.CmuxMessage) *types.MessagePart {
	if len(msg.Parts) == 0 {
		return nil
	}
	return &msg.Parts[len(msg.Parts)-1]
}

func lastRunningTool(msg *types.CmuxMessage) *types.MessagePart {
	for i := len(msg.Parts) - 1; i >= 0; i-- {
		if msg.Parts[i].Type == types.PartToolCall && msg.Parts[i].State == types.ToolStateRunning {
			return &msg.Parts[i]
		}
	}
	return nil
}

// findToolPart locates a tool part by call id, falling back to the most
// recent running tool with the same name.
func findToolPart(msg *types.CmuxMessage, toolCallID, toolName string) *types.MessagePart {
	if toolCallID != "" {
		for i := range msg.Parts {
			if msg.Parts[i].Type == types.PartToolCall && msg.Parts[i].ToolCallID == toolCallID {
				return &msg.Parts[i]
			}
		}
	}
	for i := len(msg.Parts) - 1; i >= 0; i-- {
		p := &msg.Parts[i]
		if p.Type == types.PartToolCall && p.ToolName == toolName && p.State == types.ToolStateRunning {
			return p
		}
	}
	return nil
}

func (a *Aggregator) emitUpdate() {
	if a.emit == nil {
		return
	}
	a.mu.Lock()
	displayed := project(a.messages, a.activeStreams)
	streamed := make(map[string]int, len(a.streamedChars))
	for id, n := range a.streamedChars {
		streamed[id] = n
	}
	a.mu.Unlock()

	a.emit(types.EventEnvelope{
		WorkspaceID: a.workspaceID,
		EventType:   "chat:updated",
		Payload: map[string]any{
			"messages":      displayed,
			"streamedChars": streamed,
		},
	})
}
