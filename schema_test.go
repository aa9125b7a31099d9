package mcp_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/adhdone/adhdone-mcp"
)

func TestRequestIDKeepsRawToken(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{name: "string", id: `"abc-1"`},
		{name: "integer", id: `7`},
		{name: "large integer", id: `12345678901234567890`},
		{name: "float", id: `1.50`},
		{name: "negative", id: `-3`},
		{name: "null", id: `null`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var msg mcp.JSONRPCMessage
			require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":`+tc.id+`,"method":"ping"}`), &msg))
			assert.False(t, msg.ID.IsZero())
			assert.Equal(t, tc.id, msg.ID.String())

			bs, err := json.Marshal(msg)
			require.NoError(t, err)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":`+tc.id+`,"method":"ping"}`, string(bs))
		})
	}
}

func TestRequestIDAbsent(t *testing.T) {
	var msg mcp.JSONRPCMessage
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`), &msg))
	assert.True(t, msg.ID.IsZero())
	assert.False(t, msg.ID.IsNull())

	bs, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(bs), `"id"`)
}

func TestRequestIDRejectsStructuredValues(t *testing.T) {
	for _, id := range []string{`{"a":1}`, `[1]`, `true`} {
		var msg mcp.JSONRPCMessage
		err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":`+id+`,"method":"ping"}`), &msg)
		assert.Error(t, err, id)
	}
}

func TestNewRequestID(t *testing.T) {
	id, err := mcp.NewRequestID("req-1")
	require.NoError(t, err)
	assert.Equal(t, `"req-1"`, id.String())

	id, err = mcp.NewRequestID(42)
	require.NoError(t, err)
	assert.Equal(t, `42`, id.String())

	_, err = mcp.NewRequestID(map[string]int{"a": 1})
	assert.Error(t, err)
}

func TestCallToolResultOmitsFalseIsError(t *testing.T) {
	bs, err := json.Marshal(mcp.CallToolResult{Content: mcp.TextContent("hi")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"hi"}]}`, string(bs))
}
