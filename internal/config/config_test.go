package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adhdone/adhdone-mcp/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"PORT", "BASE_URL", "MCP_KEEPALIVE_INTERVAL", "MCP_TOOL_TIMEOUT", "MCP_SHUTDOWN_TIMEOUT",
		"MCP_LENIENT_METHODS", "CORS_ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 30*time.Second, cfg.KeepaliveInterval)
	assert.Equal(t, 10*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.LenientMethods)
	assert.Equal(t, []string{"*"}, cfg.Origins())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.LogFormat)
	assert.Equal(t, "http://localhost:8080/message", cfg.MessageURL())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://coach.example.com/")
	t.Setenv("MCP_KEEPALIVE_INTERVAL", "15s")
	t.Setenv("MCP_LENIENT_METHODS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://chat.openai.com, https://chatgpt.com,,")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.KeepaliveInterval)
	assert.True(t, cfg.LenientMethods)
	assert.Equal(t, "https://coach.example.com/message", cfg.MessageURL())
	assert.Equal(t, []string{"https://chat.openai.com", "https://chatgpt.com"}, cfg.Origins())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("unparsable duration", func(t *testing.T) {
		t.Setenv("MCP_TOOL_TIMEOUT", "soon")
		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("non positive keepalive", func(t *testing.T) {
		t.Setenv("MCP_KEEPALIVE_INTERVAL", "0s")
		_, err := config.Load()
		assert.Error(t, err)
	})
}
