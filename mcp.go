package mcp

import (
	"context"
	"encoding/json"
	"errors"
)

// ToolHandler produces the result of a single tool call. The arguments are the raw JSON
// object sent by the client; an absent value is passed as nil.
//
// Handlers report tool-level problems (bad arguments, nothing to do) through
// CallToolResult.IsError and reserve the error return for unexpected failures, which
// the Router turns into an internal error response.
type ToolHandler func(ctx context.Context, args json.RawMessage) (CallToolResult, error)

// ToolBinding pairs a tool descriptor with the handler that serves it.
type ToolBinding struct {
	Tool    Tool
	Handler ToolHandler
}

// ToolOutput is the structured outcome of a tool built with NewStructuredTool. ToolText
// returns the text shown to the model; the value itself is encoded as JSON by the REST route.
type ToolOutput interface {
	ToolText() string
}

// ToolProvider is implemented by content generators that expose a set of tools.
// The order of the returned bindings is the order reported by tools/list.
type ToolProvider interface {
	Tools() []ToolBinding
}

type callerIDKey struct{}

const callerIDLogLength = 20

var (
	// ErrSessionNotFound is returned when no open session matches the given token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when a message targets a session that closed.
	ErrSessionClosed = errors.New("session is closed")
	// ErrToolTimeout is returned when a tool call exceeds the dispatcher timeout.
	ErrToolTimeout = errors.New("tool call timed out")
)

// WithCallerID returns a copy of ctx carrying the opaque caller identity supplied by the
// host. The value is never validated; it only flows to tools and logs.
func WithCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerIDKey{}, id)
}

// CallerID returns the caller identity stored in ctx, or an empty string.
func CallerID(ctx context.Context) string {
	id, _ := ctx.Value(callerIDKey{}).(string)
	return id
}

// TruncateCallerID shortens a caller identity to the length used in log records.
func TruncateCallerID(id string) string {
	r := []rune(id)
	if len(r) <= callerIDLogLength {
		return id
	}
	return string(r[:callerIDLogLength])
}
