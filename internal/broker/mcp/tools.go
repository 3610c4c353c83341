package mcp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/backend"
	"github.com/getkin/kin-openapi/openapi3"
)

var (
	ErrToolExists = errors.New("mcp: tool already registered")
	ErrNoSuchTool = errors.New("mcp: no such tool")
)

// ProgressFunc reports progress of a running tool. It is a no-op when the
// client did not ask for progress.
type ProgressFunc func(ctx context.Context, progress, total float64, message string)

// Invocation is one tools/call.
type Invocation struct {
	Caller    backend.Caller
	Arguments map[string]any
	Progress  ProgressFunc
}

// ToolHandler executes a tool. Returned errors become internal errors.
type ToolHandler func(ctx context.Context, inv Invocation) (*ToolResult, error)

// Tool is a callable tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *openapi3.Schema

	// Scope the caller's token must carry.
	Scope string

	Handler ToolHandler
}

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the tools/call result.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextResult wraps text as a single content block.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []Content{{Type: "text", Text: text}}}
}

// toolInfo is the tools/list wire form.
type toolInfo struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	InputSchema *openapi3.Schema `json:"inputSchema"`
}

// Catalog is the set of tools the broker exposes.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]Tool)}
}

// Register adds t. Tools without a schema accept an empty object.
func (c *Catalog) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("mcp: tool needs a name and a handler")
	}
	if t.InputSchema == nil {
		t.InputSchema = openapi3.NewObjectSchema()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tools[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrToolExists, t.Name)
	}
	c.tools[t.Name] = t
	return nil
}

// Get looks a tool up by name.
func (c *Catalog) Get(name string) (Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrNoSuchTool, name)
	}
	return t, nil
}

// List returns the tools visible with scopes, sorted by name. A nil scopes
// slice lists everything.
func (c *Catalog) List(scopes []string) []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Tool, 0, len(c.tools))
	for _, t := range c.tools {
		if scopes != nil && t.Scope != "" && !slices.Contains(scopes, t.Scope) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len is the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// validateArguments checks args against the tool's schema.
func (t Tool) validateArguments(args map[string]any) error {
	// VisitJSON wants plain JSON values; map[string]any satisfies that.
	return t.InputSchema.VisitJSON(args)
}
