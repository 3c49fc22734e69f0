// Package transport provides the WebSocket client for the agent-execution
// backend. Each workspace gets its own event-stream connection delivering
// ChatEvents in workspace order; call-level RPCs use short-lived
// request/response connections.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cmux/internal/types"
)

const (
	handshakeTimeout = 10 * time.Second
	rpcTimeout       = 30 * time.Second
)

// Client talks to the agent-execution backend.
type Client struct {
	baseURL string // e.g. ws://localhost:9400
	dialer  websocket.Dialer
	mu      sync.Mutex
	subs    map[string]*websocket.Conn // workspace id -> event stream conn
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		dialer: websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		subs: make(map[string]*websocket.Conn),
	}
}

// =============================================================================
// EVENT SUBSCRIPTION
// =============================================================================

// Subscribe opens the event stream for a workspace. The backend delivers the
// backlog, then caught-up, then live events until the returned unsubscribe
// function is called. onEvent is invoked from a single goroutine, preserving
// workspace delivery order.
func (c *Client) Subscribe(workspaceID string, onEvent func(types.ChatEvent)) (func(), error) {
	url := fmt.Sprintf("%s/v1/workspaces/%s/events", c.baseURL, workspaceID)
	conn, _, err := c.dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to workspace %s: %w", workspaceID, err)
	}

	c.mu.Lock()
	// Replace any previous subscription for this workspace
	if prev, ok := c.subs[workspaceID]; ok {
		prev.Close()
	}
	c.subs[workspaceID] = conn
	c.mu.Unlock()

	go func() {
		for {
			var ev types.ChatEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("[transport] event stream closed for workspace %s", workspaceID)
				} else {
					log.Printf("[transport] event stream error for workspace %s: %v", workspaceID, err)
				}
				return
			}
			onEvent(ev)
		}
	}()

	unsubscribe := func() {
		c.mu.Lock()
		if c.subs[workspaceID] == conn {
			delete(c.subs, workspaceID)
		}
		c.mu.Unlock()
		conn.Close()
	}
	return unsubscribe, nil
}

// CloseAll closes every open event stream. Called on shutdown.
func (c *Client) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, conn := range c.subs {
		conn.Close()
		delete(c.subs, id)
	}
}

// =============================================================================
// RPC
// =============================================================================

type rpcRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// call performs a single request/response exchange on a fresh connection.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	conn, _, err := c.dialer.DialContext(ctx, c.baseURL+"/v1/rpc", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer conn.Close()

	req := rpcRequest{
		ID:     uuid.New().String(),
		Method: method,
		Params: params,
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to send %s request: %w", method, err)
	}

	deadline := time.Now().Add(rpcTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	var resp rpcResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s failed: %s", method, resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// ResumeResult is the backend's answer to a resumeStream RPC.
type ResumeResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ResumeStream asks the backend to continue an interrupted stream for a
// workspace. A transport-level failure is returned as an error; a backend
// refusal comes back as Success=false.
func (c *Client) ResumeStream(ctx context.Context, workspaceID string, opts types.SendOptions) (*ResumeResult, error) {
	var result ResumeResult
	err := c.call(ctx, "resumeStream", map[string]any{
		"workspaceId": workspaceID,
		"sendOptions": opts,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ReplaceChatHistory replaces the entire persisted history for a workspace
// with the single given message. Used by compaction.
func (c *Client) ReplaceChatHistory(ctx context.Context, workspaceID string, msg types.CmuxMessage) error {
	return c.call(ctx, "replaceChatHistory", map[string]any{
		"workspaceId": workspaceID,
		"message":     msg,
	}, nil)
}

// SendMessage sends a user message to a workspace.
func (c *Client) SendMessage(ctx context.Context, workspaceID, text string, opts types.SendOptions) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"workspaceId": workspaceID,
		"text":        text,
		"sendOptions": opts,
	}, nil)
}

// InterruptStream asks the backend to abort the active stream for a
// workspace. The abort is observed on the event stream as stream-abort.
func (c *Client) InterruptStream(ctx context.Context, workspaceID string) error {
	return c.call(ctx, "interruptStream", map[string]any{
		"workspaceId": workspaceID,
	}, nil)
}
