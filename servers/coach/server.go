// Package coach implements the ADHDone task-coaching tools: getting started on a task,
// breaking it into micro-steps, starting a focus timer, and celebrating completion.
// Every tool answers with a short markdown text built from fixed templates, plus the
// fields behind it for callers of the REST routes.
package coach

import (
	"log/slog"
	"math/rand/v2"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	mcp "github.com/adhdone/adhdone-mcp"
)

// Option represents the options for the Server.
type Option func(*Server)

// Server generates the coaching texts. It's stateless apart from its random source
// and is safe for concurrent use.
type Server struct {
	pick      func(n int) int
	templates *template.Template
	logger    *slog.Logger
}

const (
	// Name is the name announced to clients.
	Name = "adhdone"
	// Version is the version announced to clients.
	Version = "0.1.0"
	// Description is the human-facing description of the service.
	Description = "AI-powered ADHD task coach for ChatGPT"
	// Instructions is sent to clients on initialize.
	Instructions = "Use these tools when the user feels stuck: help_me_start for the very first step, " +
		"break_down_task for micro-steps, start_timer for a focus session, and complete_task to celebrate."

	defaultTimerMinutes = 5
	defaultTask         = "this task"
	unknownCaller       = "unknown"
	callerDisplayLength = 8
)

// NewServer creates the coaching tool server. The templates are parsed here, so a
// broken template fails at startup rather than on the first call.
func NewServer(options ...Option) *Server {
	s := &Server{
		pick:   rand.IntN,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.templates = template.Must(template.New("coach").Funcs(sprig.TxtFuncMap()).Parse(templates))
	return s
}

// WithPicker sets the function used to choose a celebration. It receives the number of
// choices and must return an index in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(s *Server) {
		s.pick = pick
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "coach"))
	}
}

// Info returns the server name and version.
func Info() mcp.Info {
	return mcp.Info{Name: Name, Version: Version}
}
