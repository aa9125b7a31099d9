package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RequestID is the identifier of a JSON-RPC request. The protocol allows a string, a number
// or null, and the server must echo it back exactly as it was received, so RequestID keeps
// the raw JSON token instead of converting it to a Go type.
//
// The zero value represents an absent id, which is what marks a message as a notification.
type RequestID struct {
	raw json.RawMessage
}

// JSONRPCMessage represents a JSON-RPC 2.0 message used for communication in the MCP protocol.
// It can represent either a request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID is echoed verbatim in the response. It's omitted for notifications.
	ID RequestID `json:"id,omitzero"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
// It follows the standard error object format defined in the JSON-RPC 2.0 specification.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	// Must use standard JSON-RPC error codes or custom codes outside the reserved range.
	Code int `json:"code"`

	// Message provides a short description of the error.
	// Should be limited to a concise single sentence.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities represents server capabilities. Only tools are offered.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability represents tools-specific capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Tool describes a callable tool. The set of tools is fixed at startup and returned
// as-is by tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ContentType identifies the variant of a Content block.
type ContentType string

// Content is a single block of a tool result. Only the text variant is produced.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute
	Name string `json:"name"`

	// Arguments is a JSON object of argument name-value pairs. An absent value is
	// treated as an empty object.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents the outcome of a tool invocation.
// IsError flags a tool-level failure whose details are in Content; it is still a
// successful JSON-RPC response.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`

	// Structured is the tool's own output, when it has one. It never goes over JSON-RPC.
	Structured ToolOutput `json:"-"`
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      Info   `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

const (
	// ContentTypeText is the only content variant used by tool results.
	ContentTypeText ContentType = "text"

	// JSONRPCVersion is the only accepted value of the jsonrpc field.
	JSONRPCVersion = "2.0"

	// MethodInitialize is the method name of the initialization handshake.
	MethodInitialize = "initialize"
	// MethodNotificationsInitialized is sent by the client once initialization is complete.
	MethodNotificationsInitialized = "notifications/initialized"
	// MethodPing is the method name of a liveness check.
	MethodPing = "ping"
	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	// CodeParseError indicates invalid JSON was received by the server.
	CodeParseError = -32700
	// CodeInvalidRequest indicates the JSON sent is not a valid request object.
	CodeInvalidRequest = -32600
	// CodeMethodNotFound indicates the method does not exist.
	CodeMethodNotFound = -32601
	// CodeInvalidParams indicates invalid method parameters.
	CodeInvalidParams = -32602
	// CodeInternalError indicates an internal error while handling the request.
	CodeInternalError = -32603
	// CodeNoActiveSession indicates a message was posted for a stream that isn't open.
	CodeNoActiveSession = -32000

	protocolVersion = "2024-11-05"

	errMsgParseError      = "Parse error"
	errMsgInvalidRequest  = "Invalid Request"
	errMsgMethodNotFound  = "Method not found"
	errMsgInvalidParams   = "Invalid params"
	errMsgInternalError   = "Internal error"
	errMsgNoActiveSession = "No active session"
)

var (
	nullRequestID = RequestID{raw: json.RawMessage("null")}

	errInvalidRequestID = errors.New("request id must be a string, a number or null")
)

// NewRequestID returns a RequestID holding the JSON encoding of v, which should be a
// string or a number.
func NewRequestID(v any) (RequestID, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return RequestID{}, fmt.Errorf("failed to marshal request id: %w", err)
	}
	var id RequestID
	if err := id.UnmarshalJSON(bs); err != nil {
		return RequestID{}, err
	}
	return id, nil
}

// IsZero reports whether the id is absent.
func (id RequestID) IsZero() bool {
	return len(id.raw) == 0
}

// IsNull reports whether the id was sent as an explicit JSON null.
func (id RequestID) IsNull() bool {
	return bytes.Equal(id.raw, []byte("null"))
}

// String returns the raw JSON token of the id, or an empty string if it's absent.
func (id RequestID) String() string {
	return string(id.raw)
}

// MarshalJSON implements json.Marshaler, writing the id exactly as it was received.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. Only strings, numbers and null are accepted.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errInvalidRequestID
	}
	switch c := trimmed[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		if !json.Valid(trimmed) {
			return errInvalidRequestID
		}
	case bytes.Equal(trimmed, []byte("null")):
	default:
		return errInvalidRequestID
	}
	id.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}

// TextContent wraps text in a single text content block.
func TextContent(text string) []Content {
	return []Content{{Type: ContentTypeText, Text: text}}
}
