package main

import (
	"context"
	"fmt"
	"path/filepath"

	wailsrt "github.com/wailsapp/wails/v2/pkg/runtime"

	"cmux/internal/aggregator"
	"cmux/internal/clock"
	"cmux/internal/mcpserver"
	"cmux/internal/resume"
	"cmux/internal/settings"
	"cmux/internal/store"
	"cmux/internal/terminal"
	"cmux/internal/transport"
	"cmux/internal/types"
	"cmux/internal/workspace"
)

// App struct holds the application state
type App struct {
	ctx          context.Context
	settings     *settings.Manager
	store        *store.Store
	workspace    *workspace.Manager
	wsWatcher    *workspace.Watcher
	transport    *transport.Client
	registry     *aggregator.Registry
	resume       *resume.Manager
	resumeCancel context.CancelFunc
	shells       *terminal.Manager
	mcpServer    *mcpserver.MCPService
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// =============================================================================
// STARTUP - Single Initialization Chain
// =============================================================================

// emitLoadingStatus emits a loading status message to the frontend splash screen
func (a *App) emitLoadingStatus(status string) {
	wailsrt.EventsEmit(a.ctx, "loading:status", map[string]any{
		"status": status,
	})
}

// emitEnvelope forwards an EventEnvelope to the frontend
func (a *App) emitEnvelope(envelope types.EventEnvelope) {
	wailsrt.EventsEmit(a.ctx, envelope.EventType, envelope)
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	// Step 1: Load persisted state (settings, retry/auto-retry store)
	a.emitLoadingStatus("Initializing settings...")
	a.loadPersistedState()

	// Step 2: Connect to the agent-execution backend
	a.emitLoadingStatus("Connecting to backend...")
	a.initializeTransport()

	// Step 3: Create aggregators and subscribe all workspaces
	a.emitLoadingStatus("Loading workspaces...")
	a.initializeAggregators()

	// Step 4: Start the resume scheduler
	a.initializeResumeManager()

	// Step 5: Start the MCP server for agent-side tools
	a.emitLoadingStatus("Starting MCP server...")
	a.initializeMCPServer()

	// Step 6: Shell manager
	a.shells = terminal.NewManager(a.emitEnvelope)

	if a.settings != nil {
		wailsrt.LogInfo(ctx, fmt.Sprintf("cmux initialized. Config path: %s", a.settings.GetConfigPath()))
	}
}

// loadPersistedState loads settings, the state store, and workspace configs
func (a *App) loadPersistedState() {
	sm, err := settings.NewManager()
	if err != nil {
		wailsrt.LogError(a.ctx, fmt.Sprintf("Failed to initialize settings: %v", err))
		return
	}
	a.settings = sm

	st, err := store.Open(filepath.Join(sm.GetConfigPath(), "state.db"))
	if err != nil {
		wailsrt.LogError(a.ctx, fmt.Sprintf("Failed to open state store: %v", err))
	} else {
		a.store = st
	}

	a.workspace = workspace.NewManager(sm.GetConfigPath())

	// Pick up workspace configs edited outside the app
	watcher, err := workspace.NewWatcher(a.workspace, a.syncWorkspaces)
	if err != nil {
		wailsrt.LogWarning(a.ctx, fmt.Sprintf("Failed to watch workspace configs: %v", err))
	} else {
		a.wsWatcher = watcher
	}
}

// initializeTransport creates the backend client
func (a *App) initializeTransport() {
	backendURL := "ws://localhost:9400"
	if a.settings != nil {
		if s := a.settings.GetSettings(); s.BackendURL != "" {
			backendURL = s.BackendURL
		}
	}
	a.transport = transport.NewClient(backendURL)
}

// initializeAggregators builds the registry and subscribes every known
// workspace to its event stream
func (a *App) initializeAggregators() {
	if a.transport == nil {
		return
	}

	replaceHistory := func(workspaceID string, msg types.CmuxMessage) error {
		return a.transport.ReplaceChatHistory(a.ctx, workspaceID, msg)
	}
	wake := func(workspaceID string) {
		if a.resume != nil {
			a.resume.RequestCheck(workspaceID)
		}
	}

	a.registry = aggregator.NewRegistry(a.transport, replaceHistory, wake, a.emitEnvelope)
	a.syncWorkspaces()
}

// syncWorkspaces re-reads the workspace configs and (re)subscribes the
// tracked set
func (a *App) syncWorkspaces() {
	if a.registry == nil || a.workspace == nil {
		return
	}

	summaries, err := a.workspace.GetAllWorkspaces()
	if err != nil {
		wailsrt.LogWarning(a.ctx, fmt.Sprintf("Failed to list workspaces: %v", err))
		return
	}

	ids := make([]string, 0, len(summaries))
	for _, ws := range summaries {
		ids = append(ids, ws.ID)
	}
	a.registry.SetTracked(ids)

	a.emitEnvelope(types.EventEnvelope{
		EventType: "workspaces:changed",
		Payload:   map[string]any{"workspaces": summaries},
	})
}

// initializeResumeManager starts the resume scheduler
func (a *App) initializeResumeManager() {
	if a.registry == nil || a.transport == nil || a.store == nil {
		wailsrt.LogWarning(a.ctx, "Resume manager disabled: missing registry, transport, or store")
		return
	}

	a.resume = resume.NewManager(a.registry, a.transport, a.store, clock.Real(), a.buildSendOptions)

	ctx, cancel := context.WithCancel(context.Background())
	a.resumeCancel = cancel
	go a.resume.Run(ctx)
}

// buildSendOptions reconstructs request options for a workspace: the model
// the workspace last streamed with (falling back to its config, then the
// global default) plus the user's thinking and tool settings
func (a *App) buildSendOptions(workspaceID string) types.SendOptions {
	opts := types.SendOptions{Mode: "chat"}

	if a.settings != nil {
		s := a.settings.GetSettings()
		opts.Model = s.DefaultModel
		opts.ThinkingLevel = s.ThinkingLevel
		opts.ToolPolicy = s.ToolPolicy
	}
	if a.workspace != nil {
		if ws, err := a.workspace.LoadWorkspace(workspaceID); err == nil && ws.Model != "" {
			opts.Model = ws.Model
		}
	}
	if a.registry != nil {
		if model := a.registry.CurrentModel(workspaceID); model != "" {
			opts.Model = model
		}
	}
	return opts
}

// initializeMCPServer starts the MCP server for agent-side tools
func (a *App) initializeMCPServer() {
	a.mcpServer = mcpserver.NewMCPService(9315)
	a.mcpServer.SetStatusView(a.registry)
	a.mcpServer.SetEmitFunc(a.emitEnvelope)

	if err := a.mcpServer.Start(); err != nil {
		wailsrt.LogWarning(a.ctx, fmt.Sprintf("Failed to start MCP server: %v", err))
	} else {
		wailsrt.LogInfo(a.ctx, fmt.Sprintf("MCP server started on port %d", a.mcpServer.GetPort()))
	}
}

// shutdown is called when the app is closing
func (a *App) shutdown(ctx context.Context) {
	if a.resumeCancel != nil {
		a.resumeCancel()
	}
	if a.mcpServer != nil {
		a.mcpServer.Stop()
	}
	if a.shells != nil {
		a.shells.Shutdown()
	}
	if a.registry != nil {
		a.registry.DisposeAll()
	}
	if a.transport != nil {
		a.transport.CloseAll()
	}
	if a.wsWatcher != nil {
		a.wsWatcher.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
