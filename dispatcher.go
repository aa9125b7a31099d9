package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DispatcherOption represents the options for the Dispatcher.
type DispatcherOption func(*Dispatcher)

// Dispatcher invokes tools from a ToolRegistry. Each call runs under a bounded timeout.
type Dispatcher struct {
	registry *ToolRegistry
	timeout  time.Duration
	logger   *slog.Logger
}

type toolOutcome struct {
	result CallToolResult
	err    error
}

var defaultToolTimeout = 10 * time.Second

// NewDispatcher creates a Dispatcher serving the tools of registry.
func NewDispatcher(registry *ToolRegistry, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	if d.timeout <= 0 {
		d.timeout = defaultToolTimeout
	}
	return d
}

// WithToolTimeout sets the maximum duration of a single tool call.
func WithToolTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithDispatcherLogger sets the logger for the dispatcher.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger.With(slog.String("component", "dispatcher"))
	}
}

// Registry returns the registry the dispatcher serves.
func (d *Dispatcher) Registry() *ToolRegistry {
	return d.registry
}

// Call invokes the tool called name with args.
//
// A name that isn't registered is not an error: the result carries a single text block
// "Unknown tool: <name>". An error is returned only when the handler fails, panics, or
// doesn't finish within the timeout (ErrToolTimeout).
//
// The handler keeps running in the background if the timeout fires; its result is
// discarded.
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) (CallToolResult, error) {
	handler, ok := d.registry.lookup(name)
	if !ok {
		d.logger.InfoContext(ctx, "unknown tool requested",
			slog.String("tool", name),
			slog.String("caller", TruncateCallerID(CallerID(ctx))))
		return CallToolResult{Content: TextContent(fmt.Sprintf("Unknown tool: %s", name))}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	outcomes := make(chan toolOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcomes <- toolOutcome{err: fmt.Errorf("tool %s panicked: %v", name, r)}
			}
		}()
		res, err := handler(ctx, args)
		outcomes <- toolOutcome{result: res, err: err}
	}()

	select {
	case o := <-outcomes:
		if o.err != nil {
			return CallToolResult{}, fmt.Errorf("failed to call tool %s: %w", name, o.err)
		}
		return o.result, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return CallToolResult{}, fmt.Errorf("%w: %s after %s", ErrToolTimeout, name, d.timeout)
		}
		return CallToolResult{}, fmt.Errorf("tool %s cancelled: %w", name, ctx.Err())
	}
}
