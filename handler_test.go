package mcp_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/adhdone/adhdone-mcp"
	"github.com/adhdone/adhdone-mcp/servers/coach"
)

func newTestHandler(t *testing.T, options ...mcp.HandlerOption) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	testServer := httptest.NewServer(mux)

	router := newTestRouter(t)
	sseServer := mcp.NewSSEServer(testServer.URL+"/message", router)
	mux.Handle("/", mcp.NewHandler(router, sseServer, options...))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sseServer.Shutdown(ctx); err != nil {
			t.Errorf("failed to shut down SSE server: %v", err)
		}
		testServer.Close()
	})
	return testServer
}

func post(t *testing.T, target, contentType, body string, headers ...string) (int, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	bs, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(bs)
}

func TestHandlerSynchronousPost(t *testing.T) {
	testServer := newTestHandler(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "request",
			body:       `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"sync"}}}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"sync"}]}}`,
		},
		{
			name:       "unknown method",
			body:       `{"jsonrpc":"2.0","id":"a","method":"prompts/list"}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"jsonrpc":"2.0","id":"a","error":{"code":-32601,"message":"Method not found"}}`,
		},
		{
			name:       "parse error",
			body:       `not json`,
			wantStatus: http.StatusOK,
			wantBody:   `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`,
		},
		{
			name:       "notification",
			body:       `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := post(t, testServer.URL+"/mcp", "application/json", tc.body)
			assert.Equal(t, tc.wantStatus, status)
			if tc.wantBody == "" {
				assert.Empty(t, body)
				return
			}
			assert.JSONEq(t, tc.wantBody, body)
		})
	}
}

func TestHandlerSynchronousPostInternalErrors(t *testing.T) {
	testServer := newTestHandler(t)

	// A panicking, timed out or failing tool is an internal error and gets a 500. The body
	// keeps the request id and gives no details.
	for _, name := range []string{"boom", "slow", "fail"} {
		t.Run(name, func(t *testing.T) {
			status, body := post(t, testServer.URL+"/mcp", "application/json",
				`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"`+name+`"}}`)
			assert.Equal(t, http.StatusInternalServerError, status)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"Internal error"}}`, body)
		})
	}

	// A tool-level error result is a normal response.
	status, body := post(t, testServer.URL+"/mcp", "application/json",
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":1}}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"isError":true`)
}

func TestHandlerPostWithSessionUsesStream(t *testing.T) {
	testServer := newTestHandler(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cs, err := mcp.NewSSEClient(testServer.URL+"/mcp", testServer.Client()).Connect(ctx)
	require.NoError(t, err)
	defer cs.Close()

	status, body := post(t, testServer.URL+"/mcp?sessionId="+sessionIDOf(t, cs), "application/json",
		`{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"accepted"}`, body)

	res, err := cs.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `7`, res.ID.String())
}

func TestHandlerHealthAndInfo(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	testServer := newTestHandler(t,
		mcp.WithHandlerClock(clock),
		mcp.WithServiceInfo(mcp.ServiceInfo{Name: "Test Service", Description: "for tests"}))

	resp, err := http.Get(testServer.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	bs, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","service":"test-server","version":"1.2.3","timestamp":"2025-01-02T03:04:05Z"}`, string(bs))

	resp, err = http.Get(testServer.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	bs, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name":"Test Service",
		"version":"1.2.3",
		"description":"for tests",
		"status":"running",
		"tools":["echo","slow","boom","fail"]
	}`, string(bs))
}

func TestHandlerToolREST(t *testing.T) {
	testServer := newTestHandler(t)

	tests := []struct {
		name       string
		tool       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{name: "success", tool: "echo", body: `{"text":"rest"}`, wantStatus: http.StatusOK, wantBody: `{"tool":"echo","message":"rest"}`},
		{name: "empty body", tool: "echo", body: ``, wantStatus: http.StatusOK, wantBody: `{"tool":"echo","message":""}`},
		{name: "unknown tool", tool: "nope", body: `{}`, wantStatus: http.StatusNotFound, wantBody: `{"error":"Unknown tool: nope"}`},
		{name: "invalid json", tool: "echo", body: `{`, wantStatus: http.StatusBadRequest, wantBody: `{"error":"body must be a JSON object"}`},
		{name: "tool error", tool: "echo", body: `{"text":1}`, wantStatus: http.StatusBadRequest},
		{name: "handler failure", tool: "fail", body: `{}`, wantStatus: http.StatusInternalServerError, wantBody: `{"error":"Internal error"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := post(t, testServer.URL+"/tools/"+tc.tool, "application/json", tc.body)
			assert.Equal(t, tc.wantStatus, status)
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, body)
			}
		})
	}
}

func TestHandlerToolRESTStructured(t *testing.T) {
	mux := http.NewServeMux()
	testServer := httptest.NewServer(mux)
	defer testServer.Close()

	registry, err := mcp.NewToolRegistry(coach.NewServer(coach.WithPicker(func(int) int { return 0 })).Tools()...)
	require.NoError(t, err)
	router := mcp.NewRouter(coach.Info(), mcp.NewDispatcher(registry))
	mux.Handle("/", mcp.NewHandler(router, mcp.NewSSEServer(testServer.URL+"/message", router)))

	t.Run("break down", func(t *testing.T) {
		status, body := post(t, testServer.URL+"/tools/break_down_task", "application/json", `{"task":"clean kitchen"}`)
		require.Equal(t, http.StatusOK, status)

		var res struct {
			Task       string   `json:"task"`
			MicroTasks []string `json:"microTasks"`
			Message    string   `json:"message"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &res))
		assert.Equal(t, "clean kitchen", res.Task)
		assert.Equal(t, coach.StepsFor("clean kitchen"), res.MicroTasks)
		assert.Contains(t, res.Message, `## Breaking down: "clean kitchen"`)
	})

	t.Run("timer", func(t *testing.T) {
		status, body := post(t, testServer.URL+"/tools/start_timer", "application/json", `{"task":"report","minutes":"15"}`)
		require.Equal(t, http.StatusOK, status)

		var res map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &res))
		assert.Equal(t, "report", res["task"])
		assert.EqualValues(t, 15, res["minutes"])
		assert.Contains(t, res["message"], "Timer Started: 15 minutes")
	})

	t.Run("completion", func(t *testing.T) {
		status, body := post(t, testServer.URL+"/tools/complete_task", "application/json", `{"task":"laundry"}`)
		require.Equal(t, http.StatusOK, status)

		var res map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &res))
		assert.Equal(t, "laundry", res["task"])
		assert.Equal(t, coach.Celebrations()[0], res["celebration"])
		assert.Contains(t, res["message"], "You completed: **laundry**")
	})

	t.Run("help", func(t *testing.T) {
		status, body := post(t, testServer.URL+"/tools/help_me_start", "application/json", `{"task":"taxes"}`)
		require.Equal(t, http.StatusOK, status)

		var res map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &res))
		assert.Len(t, res, 1)
		assert.Contains(t, res["message"], `"taxes" feels overwhelming`)
	})
}

func TestHandlerCORS(t *testing.T) {
	testServer := newTestHandler(t, mcp.WithAllowedOrigins("https://chatgpt.com"))

	req, err := http.NewRequest(http.MethodOptions, testServer.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://chatgpt.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://chatgpt.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHandlerPassesCallerIdentity(t *testing.T) {
	mux := http.NewServeMux()
	testServer := httptest.NewServer(mux)
	defer testServer.Close()

	registry, err := mcp.NewToolRegistry(coach.NewServer().Tools()...)
	require.NoError(t, err)
	router := mcp.NewRouter(coach.Info(), mcp.NewDispatcher(registry))
	sseServer := mcp.NewSSEServer(testServer.URL+"/message", router)
	mux.Handle("/", mcp.NewHandler(router, sseServer))

	call := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"help_me_start","arguments":{"task":"taxes"}}}`

	tests := []struct {
		name    string
		headers []string
		want    string
	}{
		{name: "openai subject", headers: []string{"X-OpenAI-Subject", "subject-abcdefgh-123"}, want: "subject-..."},
		{name: "fallback header", headers: []string{"X-Caller-ID", "caller42"}, want: "caller42..."},
		{name: "anonymous", want: "unknown..."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := post(t, testServer.URL+"/mcp", "application/json", call, tc.headers...)
			require.Equal(t, http.StatusOK, status)

			var res struct {
				Result mcp.CallToolResult `json:"result"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &res))
			require.Len(t, res.Result.Content, 1)
			assert.Contains(t, res.Result.Content[0].Text, "*User tracking working: "+tc.want+"*")
		})
	}
}
