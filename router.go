package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// RouterOption represents the options for the Router.
type RouterOption func(*Router)

// Router maps a JSON-RPC method to its handler and builds the response envelope. It keeps
// no state between requests, so one Router serves every transport and session.
type Router struct {
	info         Info
	instructions string
	capabilities ServerCapabilities
	lenient      bool

	dispatcher *Dispatcher
	methods    map[string]methodHandler

	logger *slog.Logger
}

type methodHandler func(ctx context.Context, msg JSONRPCMessage) (any, error)

// NewRouter creates a Router that serves the tools known to dispatcher.
func NewRouter(info Info, dispatcher *Dispatcher, options ...RouterOption) *Router {
	r := &Router{
		info:         info,
		capabilities: ServerCapabilities{Tools: &ToolsCapability{}},
		dispatcher:   dispatcher,
		logger:       slog.Default(),
	}
	for _, opt := range options {
		opt(r)
	}

	r.methods = map[string]methodHandler{
		MethodInitialize:               r.initialize,
		MethodNotificationsInitialized: r.initialized,
		MethodPing:                     r.ping,
		MethodToolsList:                r.listTools,
		MethodToolsCall:                r.callTool,
	}

	return r
}

// WithInstructions returns a RouterOption that configures the instructions sent on initialize.
func WithInstructions(instructions string) RouterOption {
	return func(r *Router) {
		r.instructions = instructions
	}
}

// WithLenientMethods makes the Router answer unknown methods with an empty result and
// skip the jsonrpc version check, instead of returning Method not found and Invalid
// Request errors. Some older clients depend on this.
func WithLenientMethods() RouterOption {
	return func(r *Router) {
		r.lenient = true
	}
}

// WithRouterLogger sets the logger for the router.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger.With(slog.String("component", "router"))
	}
}

// Info returns the server name and version announced on initialize.
func (r *Router) Info() Info {
	return r.info
}

// Route handles a single message. The boolean result reports whether the returned
// message must be transmitted: notifications and client responses yield false.
func (r *Router) Route(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, bool) {
	notification := msg.ID.IsZero()

	if msg.Method == "" {
		if notification || msg.Result != nil || msg.Error != nil {
			// Responses to server requests; the server never sends any, so drop them.
			return JSONRPCMessage{}, false
		}
		return errorResponse(msg.ID, CodeInvalidRequest, errMsgInvalidRequest), true
	}

	logger := r.logger.With(
		slog.String("method", msg.Method),
		slog.String("caller", TruncateCallerID(CallerID(ctx))),
	)
	if !notification {
		logger = logger.With(slog.String("id", msg.ID.String()))
	}

	if msg.JSONRPC != JSONRPCVersion && !r.lenient {
		logger.WarnContext(ctx, "invalid jsonrpc version", slog.String("jsonrpc", msg.JSONRPC))
		if notification {
			return JSONRPCMessage{}, false
		}
		return errorResponse(msg.ID, CodeInvalidRequest, errMsgInvalidRequest), true
	}

	handler, ok := r.methods[msg.Method]
	if !ok {
		logger.DebugContext(ctx, "unknown method")
		if notification {
			return JSONRPCMessage{}, false
		}
		if r.lenient {
			return resultResponse(msg.ID, json.RawMessage("{}")), true
		}
		return errorResponse(msg.ID, CodeMethodNotFound, errMsgMethodNotFound), true
	}

	result, err := handler(ctx, msg)
	if notification {
		if err != nil {
			logger.WarnContext(ctx, "failed to handle notification", slog.String("err", err.Error()))
		}
		return JSONRPCMessage{}, false
	}
	if err != nil {
		var jsonErr JSONRPCError
		if errors.As(err, &jsonErr) {
			logger.InfoContext(ctx, "request rejected", slog.String("err", err.Error()))
			return JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: msg.ID, Error: &jsonErr}, true
		}
		// Internal details stay in the log; the client only learns that something failed.
		logger.ErrorContext(ctx, "failed to handle request", slog.String("err", err.Error()))
		return errorResponse(msg.ID, CodeInternalError, errMsgInternalError), true
	}

	resBs, err := json.Marshal(result)
	if err != nil {
		logger.ErrorContext(ctx, "failed to marshal result", slog.String("err", err.Error()))
		return errorResponse(msg.ID, CodeInternalError, errMsgInternalError), true
	}
	return resultResponse(msg.ID, resBs), true
}

func (r *Router) initialize(ctx context.Context, msg JSONRPCMessage) (any, error) {
	var params initializeParams
	if len(msg.Params) > 0 {
		// The announcement doesn't depend on the client's params, so a malformed
		// payload is only logged.
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			r.logger.DebugContext(ctx, "ignoring malformed initialize params", slog.String("err", err.Error()))
		}
	}
	r.logger.InfoContext(ctx, "client initializing",
		slog.String("clientName", params.ClientInfo.Name),
		slog.String("clientVersion", params.ClientInfo.Version),
		slog.String("protocolVersion", params.ProtocolVersion))

	return initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    r.capabilities,
		ServerInfo:      r.info,
		Instructions:    r.instructions,
	}, nil
}

func (r *Router) initialized(context.Context, JSONRPCMessage) (any, error) {
	return struct{}{}, nil
}

func (r *Router) ping(context.Context, JSONRPCMessage) (any, error) {
	return struct{}{}, nil
}

func (r *Router) listTools(context.Context, JSONRPCMessage) (any, error) {
	return ListToolsResult{Tools: r.dispatcher.Registry().List()}, nil
}

func (r *Router) callTool(ctx context.Context, msg JSONRPCMessage) (any, error) {
	var params CallToolParams
	if p := bytes.TrimSpace(msg.Params); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		if err := json.Unmarshal(p, &params); err != nil {
			if !r.lenient {
				return nil, JSONRPCError{
					Code:    CodeInvalidParams,
					Message: errMsgInvalidParams,
					Data:    map[string]any{"reason": "params must be an object with a string name"},
				}
			}
			params = CallToolParams{}
		}
	}

	r.logger.InfoContext(ctx, "calling tool",
		slog.String("tool", params.Name),
		slog.String("caller", TruncateCallerID(CallerID(ctx))))

	res, err := r.dispatcher.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func resultResponse(id RequestID, result json.RawMessage) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

func errorResponse(id RequestID, code int, message string) JSONRPCMessage {
	if id.IsZero() {
		id = nullRequestID
	}
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
}
