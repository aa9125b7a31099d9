package mcp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/adhdone/adhdone-mcp"
)

func TestDispatcherUnknownTool(t *testing.T) {
	d := mcp.NewDispatcher(newTestRegistry(t))

	res, err := d.Call(context.Background(), "nope", nil)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, mcp.TextContent("Unknown tool: nope"), res.Content)
}

func TestDispatcherCallsTool(t *testing.T) {
	d := mcp.NewDispatcher(newTestRegistry(t))

	res, err := d.Call(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, mcp.TextContent("hi"), res.Content)
}

func TestDispatcherTimeout(t *testing.T) {
	d := mcp.NewDispatcher(newTestRegistry(t), mcp.WithToolTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := d.Call(context.Background(), "slow", nil)
	require.ErrorIs(t, err, mcp.ErrToolTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDispatcherCallerCancellation(t *testing.T) {
	d := mcp.NewDispatcher(newTestRegistry(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Call(ctx, "slow", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, mcp.ErrToolTimeout)
}

func TestDispatcherHandlerFailures(t *testing.T) {
	d := mcp.NewDispatcher(newTestRegistry(t))

	_, err := d.Call(context.Background(), "fail", nil)
	require.ErrorIs(t, err, errToolFailed)

	_, err = d.Call(context.Background(), "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}
