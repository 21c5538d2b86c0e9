// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tools implements the scope-gated tool layer served over MCP.
//
// Every tool declares the scopes that unlock it. A call succeeds when the
// principal on the context holds at least one of them; the check runs per
// operation, independently of any scopes enforced at the HTTP layer.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/mcpgate/pkg/auth"
	"github.com/stacklok/mcpgate/pkg/logger"
	"github.com/stacklok/mcpgate/pkg/notes"
	"github.com/stacklok/mcpgate/pkg/versions"
)

// ServerName is the MCP server name reported to clients.
const ServerName = "mcpgate"

var (
	// ErrUnknownTool is returned when no tool has the requested name.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrUnauthenticated is returned when the context carries no principal.
	ErrUnauthenticated = errors.New("no authenticated principal")
	// ErrInvalidArguments is returned when tool arguments do not decode or a required one is absent.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Arguments are the decoded JSON arguments of a tool call.
type Arguments map[string]any

// HandlerFunc runs a tool for an authorized principal. The returned value is
// serialized as the structured tool result.
type HandlerFunc func(ctx context.Context, principal *auth.Principal, args Arguments) (any, error)

// Tool is a named operation gated by scopes.
type Tool struct {
	Name        string
	Description string
	// Scopes are alternatives: any one of them authorizes the call.
	Scopes []string
	// Params describe the input schema.
	Params  []mcp.ToolOption
	Handler HandlerFunc
}

// Definition returns the MCP tool definition.
func (t Tool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{mcp.WithDescription(t.Description)}, t.Params...)
	return mcp.NewTool(t.Name, opts...)
}

// InvokeHook observes every Invoke outcome.
type InvokeHook func(tool string, err error)

// Option configures a Registry.
type Option func(*Registry)

// WithInvokeHook registers a hook called after every invocation.
func WithInvokeHook(hook InvokeHook) Option {
	return func(r *Registry) {
		r.hooks = append(r.hooks, hook)
	}
}

// Registry holds the tools exposed by the gateway.
type Registry struct {
	tools map[string]Tool
	order []string
	hooks []InvokeHook
	log   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
		log:   logger.Component("tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers tool. Names must be unique.
func (r *Registry) Add(tool Tool) error {
	if tool.Name == "" || tool.Handler == nil {
		return fmt.Errorf("tool %q: name and handler are required", tool.Name)
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Invoke runs the named tool for the principal on ctx. Resolution comes first,
// then authentication, then the scope check; the handler only runs once all
// three pass.
func (r *Registry) Invoke(ctx context.Context, name string, args Arguments) (result any, err error) {
	defer func() {
		for _, hook := range r.hooks {
			hook(name, err)
		}
	}()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok || principal == nil {
		return nil, ErrUnauthenticated
	}

	if !principal.HasAnyScope(tool.Scopes...) {
		r.log.Debug("tool call denied", "tool", name, "subject", principal.Subject, "required_any", tool.Scopes)
		return nil, &auth.InsufficientScopeError{Missing: slices.Clone(tool.Scopes)}
	}

	if args == nil {
		args = Arguments{}
	}
	return tool.Handler(ctx, principal, args)
}

// NewMCPServer creates an MCP server exposing every tool in r.
func NewMCPServer(r *Registry) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		versions.GetVersionInfo().Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	r.Register(s)
	return s
}

// Register adds every tool to s.
func (r *Registry) Register(s *server.MCPServer) {
	for _, tool := range r.Tools() {
		s.AddTool(tool.Definition(), r.handle(tool.Name))
	}
}

func (r *Registry) handle(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := r.Invoke(ctx, name, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(ErrorMessage(err)), nil
		}
		return mcp.NewToolResultStructuredOnly(Structured(result)), nil
	}
}

// ErrorMessage renders an Invoke error as tool result text.
func ErrorMessage(err error) string {
	var scopeErr *auth.InsufficientScopeError
	switch {
	case errors.As(err, &scopeErr):
		return "insufficient_scope: requires one of: " + strings.Join(scopeErr.Missing, " ")
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated: " + err.Error()
	default:
		return err.Error()
	}
}

// Structured returns v as a JSON object. Values that do not encode to an
// object are wrapped as {"result": v}.
func Structured(v any) any {
	data, err := json.Marshal(v)
	if err == nil && bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return v
	}
	return map[string]any{"result": v}
}

// bind decodes args into target.
func bind(args Arguments, target any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// Default returns a registry holding the calculator and note tools.
func Default(store notes.Store, opts ...Option) *Registry {
	r := NewRegistry(opts...)
	for _, tool := range slices.Concat(CalculatorTools(), NoteTools(store)) {
		if err := r.Add(tool); err != nil {
			// static tool set; a duplicate is a programming error
			panic(err)
		}
	}
	return r
}
