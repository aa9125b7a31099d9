package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolRegistry is the static mapping from tool name to descriptor and handler. It's
// built once at startup and never mutated afterwards, so it's safe for concurrent use.
type ToolRegistry struct {
	tools    []Tool
	handlers map[string]ToolHandler
}

// NewToolRegistry creates a registry from the given bindings, keeping their order.
// It returns an error if a binding has no name or handler, or if a name is repeated.
func NewToolRegistry(bindings ...ToolBinding) (*ToolRegistry, error) {
	r := &ToolRegistry{
		tools:    make([]Tool, 0, len(bindings)),
		handlers: make(map[string]ToolHandler, len(bindings)),
	}
	for _, b := range bindings {
		if b.Tool.Name == "" {
			return nil, fmt.Errorf("tool at position %d has no name", len(r.tools))
		}
		if b.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", b.Tool.Name)
		}
		if _, ok := r.handlers[b.Tool.Name]; ok {
			return nil, fmt.Errorf("tool %q is registered twice", b.Tool.Name)
		}
		if len(b.Tool.InputSchema) == 0 {
			b.Tool.InputSchema = json.RawMessage(`{"type":"object"}`)
		}
		r.tools = append(r.tools, b.Tool)
		r.handlers[b.Tool.Name] = b.Handler
	}
	return r, nil
}

// List returns the tool descriptors in registration order. The returned slice is a copy.
func (r *ToolRegistry) List() []Tool {
	tools := make([]Tool, len(r.tools))
	copy(tools, r.tools)
	return tools
}

// Exists reports whether a tool with the given name is registered.
func (r *ToolRegistry) Exists(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	names := make([]string, len(r.tools))
	for i, t := range r.tools {
		names[i] = t.Name
	}
	return names
}

func (r *ToolRegistry) lookup(name string) (ToolHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// NewTool builds a ToolBinding from a typed arguments struct A. The input schema is
// reflected from A: a field is required when tagged `jsonschema:"required"`, and
// defaults are declared with `jsonschema:"default=..."`.
//
// The handler decodes the raw arguments into A before calling fn. Absent or null
// arguments decode to the zero value; fn is expected to apply its own defaults.
// Arguments whose JSON shape doesn't fit A produce an IsError result rather than
// an error, so the client sees what went wrong.
func NewTool[A any](name, description string, fn func(ctx context.Context, args A) (string, error)) ToolBinding {
	return newTool(name, description, func(ctx context.Context, args A) (CallToolResult, error) {
		text, err := fn(ctx, args)
		if err != nil {
			return CallToolResult{}, err
		}
		return CallToolResult{Content: TextContent(text)}, nil
	})
}

// NewStructuredTool is NewTool for tools whose outcome has fields besides its text. The
// text of the output becomes the single content block, and the output itself is kept in
// CallToolResult.Structured for transports that return fields, such as the REST route.
func NewStructuredTool[A any, R ToolOutput](name, description string, fn func(ctx context.Context, args A) (R, error)) ToolBinding {
	return newTool(name, description, func(ctx context.Context, args A) (CallToolResult, error) {
		out, err := fn(ctx, args)
		if err != nil {
			return CallToolResult{}, err
		}
		return CallToolResult{Content: TextContent(out.ToolText()), Structured: out}, nil
	})
}

func newTool[A any](name, description string, fn func(ctx context.Context, args A) (CallToolResult, error)) ToolBinding {
	return ToolBinding{
		Tool: Tool{
			Name:        name,
			Description: description,
			InputSchema: reflectInputSchema[A](),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (CallToolResult, error) {
			var args A
			if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
				if err := json.Unmarshal(trimmed, &args); err != nil {
					return CallToolResult{
						Content: TextContent(fmt.Sprintf("Invalid arguments for %s: %s", name, err.Error())),
						IsError: true,
					}, nil
				}
			}
			return fn(ctx, args)
		},
	}
}

func reflectInputSchema[A any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(new(A))
	// The $schema keyword isn't part of an MCP input schema.
	s.Version = ""
	bs, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return bs
}
