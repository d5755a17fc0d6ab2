package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"navnerd-mcp-server/internal/config"
)

// Server exposes the navigation runtime as MCP tools.
type Server struct {
	cfg       config.Config
	rt        *Runtime
	hub       *EventHub
	logger    *zap.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the NavNERD MCP server and registers all tools.
func NewServer(cfg config.Config, rt *Runtime, logger *zap.Logger) (*Server, error) {
	if rt == nil {
		return nil, errors.New("runtime is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		rt:        rt,
		hub:       NewEventHub(logger.Named("events")),
		logger:    logger,
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves MCP over stdio until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Handler returns the HTTP handler of the SSE transport and the event feed.
func (s *Server) Handler(port int) http.Handler {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	if path := s.cfg.MCP.EventsPath; path != "" {
		mux.Handle(path, s.hub)
	}
	return mux
}

// StartSSE hosts the server over HTTP using SSE endpoints, with the
// navigation event feed next to them, until ctx is done.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	following := s.hub.Follow(s.rt)
	defer following.Off(nil)

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: s.Handler(port),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("SSE server listening", zap.Int("port", port), zap.String("events", s.cfg.MCP.EventsPath))

	select {
	case <-ctx.Done():
		s.logger.Info("SSE server shutting down")
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by the CLI and tests).
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	// Navigation
	s.registerTool(&NavigateTool{rt: s.rt})
	s.registerTool(&NavigateBackTool{rt: s.rt})
	s.registerTool(&HistoryTool{rt: s.rt})

	// Page loading and menus
	s.registerTool(&LoadPageTool{rt: s.rt})
	s.registerTool(&WeighLinksTool{rt: s.rt})
	s.registerTool(&NavMenuTool{rt: s.rt})

	// Agents
	s.registerTool(&RegisterAgentTool{rt: s.rt})
	s.registerTool(&RemoveAgentTool{rt: s.rt})

	s.registerTool(&QueryFactsTool{engine: s.rt.Engine})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			s.logger.Debug("Tool failed", zap.String("tool", tool.Name()), zap.Error(err))
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
