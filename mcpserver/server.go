// Package mcpserver is one butler daemon's MCP tool surface: a RegisterTool
// sink every module.Module registers its tools against (through the
// modulestate tool-call gate), and an HTTP transport the butler's own LLM
// runtime adapter points at via llmadapter.MCPServer{Name, URL}.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ToolHandler is the signature every registered tool implements, matching
// module.ToolRegistrar's handler shape exactly so modules need no
// transport-specific adapter code.
type ToolHandler func(ctx context.Context, input map[string]any) (any, error)

// Server holds this butler's tool registry and exposes it over HTTP.
type Server struct {
	name    string
	version string
	logger  *zap.Logger

	mu    sync.RWMutex
	tools map[string]ToolHandler
}

// New constructs an empty Server. name/version identify this daemon's MCP
// endpoint to a connecting adapter.
func New(name, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		name:    name,
		version: version,
		logger:  logger,
		tools:   make(map[string]ToolHandler),
	}
}

// RegisterTool implements module.ToolRegistrar. A duplicate name overwrites
// the previous handler; the registry itself doesn't police ownership — that
// is the daemon orchestrator's job when it wires each module through its
// own modulestate.Gate.
func (s *Server) RegisterTool(name string, handler func(ctx context.Context, input map[string]any) (any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = handler
}

// ListTools returns every registered tool name, sorted for deterministic
// listing output.
func (s *Server) ListTools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallTool invokes a registered tool directly, bypassing HTTP; the
// /tools/call transport dispatches through it as well.
func (s *Server) CallTool(ctx context.Context, name string, input map[string]any) (any, error) {
	s.mu.RLock()
	handler, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return handler(ctx, input)
}

// UnknownToolError is returned by CallTool and the HTTP transport for a
// tool name nothing registered.
type UnknownToolError struct{ Name string }

func (e *UnknownToolError) Error() string { return "mcpserver: unknown tool " + e.Name }

type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler. GET /tools/list returns this server's
// registered tool names; POST /tools/call invokes one by name.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/tools/list":
		s.handleList(w)
	case r.Method == http.MethodPost && r.URL.Path == "/tools/call":
		s.handleCall(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleList(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"server":  s.name,
		"version": s.version,
		"tools":   s.ListTools(),
	})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(callResponse{Error: "invalid request body"})
		return
	}

	result, err := s.CallTool(r.Context(), req.Name, req.Arguments)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		if _, ok := err.(*UnknownToolError); ok {
			w.WriteHeader(http.StatusNotFound)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		s.logger.Warn("tool call failed", zap.String("tool", req.Name), zap.Error(err))
		_ = json.NewEncoder(w).Encode(callResponse{Error: err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(callResponse{Result: result})
}
