// Package mcpserver exposes an MCP server to the agents themselves: tools to
// push a notification into the desktop client and to inspect a workspace's
// streaming state.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"cmux/internal/types"
)

// StatusView is the read-only view over the aggregator registry that the
// status tool needs.
type StatusView interface {
	WorkspaceIDs() []string
	CanInterrupt(workspaceID string) bool
	CurrentModel(workspaceID string) string
}

// MCPService provides the in-client MCP server
type MCPService struct {
	server   *server.MCPServer
	status   StatusView
	emitFunc func(types.EventEnvelope)
	port     int
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
	running  bool
}

// NewMCPService creates a new MCP service on the specified port
func NewMCPService(port int) *MCPService {
	return &MCPService{port: port}
}

// SetStatusView sets the workspace status source
func (s *MCPService) SetStatusView(view StatusView) {
	s.status = view
}

// SetEmitFunc sets the function to emit frontend events
func (s *MCPService) SetEmitFunc(emitFunc func(types.EventEnvelope)) {
	s.emitFunc = emitFunc
}

// GetPort returns the port the MCP server is running on
func (s *MCPService) GetPort() int {
	return s.port
}

// Start starts the MCP server
func (s *MCPService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil // Already running
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	mcpServer := server.NewMCPServer(
		"cmux",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(CreateNotifyUserTool(), s.handleNotifyUser)
	mcpServer.AddTool(CreateWorkspaceStatusTool(), s.handleWorkspaceStatus)

	s.server = mcpServer

	go func() {
		sseServer := server.NewSSEServer(mcpServer,
			server.WithBaseURL(fmt.Sprintf("http://localhost:%d", s.port)),
		)

		addr := fmt.Sprintf(":%d", s.port)
		fmt.Printf("[MCP] Starting SSE server on %s\n", addr)

		httpServer := &http.Server{
			Addr:    addr,
			Handler: sseServer,
		}

		go func() {
			<-s.ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("[MCP] SSE server error: %v\n", err)
		}
	}()

	s.running = true
	return nil
}

// Stop stops the MCP server
func (s *MCPService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}
