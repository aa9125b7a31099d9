// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds every setting of the server. Values come from the environment first and
// may then be overridden by command-line flags.
type Config struct {
	// Port to listen on. ENV: PORT
	Port int `env:"PORT,default=8080"`
	// BaseURL is the public URL used to build the message endpoint announced to
	// streaming clients. Derived from Port when empty. ENV: BASE_URL
	BaseURL string `env:"BASE_URL"`

	KeepaliveInterval time.Duration `env:"MCP_KEEPALIVE_INTERVAL,default=30s"`
	ToolTimeout       time.Duration `env:"MCP_TOOL_TIMEOUT,default=10s"`
	ShutdownTimeout   time.Duration `env:"MCP_SHUTDOWN_TIMEOUT,default=5s"`
	// LenientMethods answers unknown methods with an empty result. ENV: MCP_LENIENT_METHODS
	LenientMethods bool `env:"MCP_LENIENT_METHODS,default=false"`

	// AllowedOrigins is a comma separated list. ENV: CORS_ALLOWED_ORIGINS
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=auto"`
}

// Load decodes the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("failed to decode environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the ranges of the settings.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.KeepaliveInterval <= 0 {
		return fmt.Errorf("keepalive interval must be positive, got %s", c.KeepaliveInterval)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool timeout must be positive, got %s", c.ToolTimeout)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown timeout must not be negative, got %s", c.ShutdownTimeout)
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// PublicURL returns BaseURL without a trailing slash, or a localhost URL for Port.
func (c Config) PublicURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return "http://localhost:" + strconv.Itoa(c.Port)
}

// MessageURL is the endpoint streaming clients post their messages to.
func (c Config) MessageURL() string {
	return c.PublicURL() + "/message"
}

// Origins splits AllowedOrigins, dropping empty entries.
func (c Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
