package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
)

// HandlerOption represents the options for the Handler.
type HandlerOption func(*Handler)

// ServiceInfo is the human-facing metadata served on GET /.
type ServiceInfo struct {
	Name        string
	Description string
}

// Handler is the HTTP surface of the server. It binds the Router and the SSEServer to
// their endpoints:
//
//	GET  /health        liveness
//	GET  /              service metadata
//	POST /mcp           synchronous request, or streaming when a session is named
//	GET  /mcp, /sse     open a stream
//	POST /message       post to a stream
//	POST /tools/{name}  call a tool with the body as arguments
type Handler struct {
	router  *Router
	sse     *SSEServer
	service ServiceInfo
	origins []string
	clock   clockwork.Clock
	logger  *slog.Logger

	mux chi.Router
}

// CallerIDHeaders are the request headers read, in order, for the caller identity.
var CallerIDHeaders = []string{"X-OpenAI-Subject", "X-Caller-ID"}

// NewHandler creates the HTTP surface for router and sseServer.
func NewHandler(router *Router, sseServer *SSEServer, options ...HandlerOption) *Handler {
	h := &Handler{
		router:  router,
		sse:     sseServer,
		origins: []string{"*"},
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(h)
	}
	if h.service.Name == "" {
		h.service.Name = router.Info().Name
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(h.recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: append([]string{"Accept", "Content-Type", SessionIDHeader}, CallerIDHeaders...),
		ExposedHeaders: []string{SessionIDHeader},
	}))
	mux.Use(callerIdentity)

	mux.Get("/health", h.handleHealth)
	mux.Get("/", h.handleInfo)
	mux.Post("/mcp", h.handlePostMCP)
	mux.Method(http.MethodGet, "/mcp", sseServer.HandleSSE())
	mux.Method(http.MethodGet, "/sse", sseServer.HandleSSE())
	mux.Method(http.MethodPost, "/message", sseServer.HandleMessage())
	mux.Post("/tools/{name}", h.handleToolREST)

	h.mux = mux
	return h
}

// WithServiceInfo sets the metadata served on GET /.
func WithServiceInfo(info ServiceInfo) HandlerOption {
	return func(h *Handler) {
		h.service = info
	}
}

// WithAllowedOrigins sets the origins allowed by CORS.
func WithAllowedOrigins(origins ...string) HandlerOption {
	return func(h *Handler) {
		if len(origins) > 0 {
			h.origins = origins
		}
	}
}

// WithHandlerClock sets the clock used for timestamps in health responses.
func WithHandlerClock(clock clockwork.Clock) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithHandlerLogger sets the logger for the handler.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger.With(slog.String("component", "http"))
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   h.router.Info().Name,
		"version":   h.router.Info().Version,
		"timestamp": h.clock.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        h.service.Name,
		"version":     h.router.Info().Version,
		"description": h.service.Description,
		"status":      "running",
		"tools":       h.router.dispatcher.Registry().Names(),
	})
}

// handlePostMCP serves synchronous requests. A POST that names a session is handed to
// the streaming transport instead. Internal errors are answered with 500; every other
// response, protocol errors included, goes out with 200.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	if SessionIDFromRequest(r) != "" {
		h.sse.HandleMessage().ServeHTTP(w, r)
		return
	}

	msg, errMsg := decodeMessage(r)
	if errMsg != nil {
		writeJSON(w, http.StatusOK, errMsg)
		return
	}

	res, ok := h.router.Route(r.Context(), msg)
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	status := http.StatusOK
	if res.Error != nil && res.Error.Code == CodeInternalError {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

// handleToolREST calls a tool directly, outside of JSON-RPC. The request body is the
// argument object. Tools with a structured output answer with its fields; the rest
// answer with their name and text.
func (h *Handler) handleToolREST(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.router.dispatcher.Registry().Exists(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown tool: " + name})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	if len(bytes.TrimSpace(body)) > 0 && !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON object"})
		return
	}

	res, err := h.router.dispatcher.Call(r.Context(), name, body)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "tool call failed",
			slog.String("tool", name),
			slog.String("requestID", middleware.GetReqID(r.Context())),
			slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": errMsgInternalError})
		return
	}

	if res.IsError {
		writeJSON(w, http.StatusBadRequest, map[string]string{"tool": name, "message": firstText(res)})
		return
	}
	if res.Structured != nil {
		writeJSON(w, http.StatusOK, res.Structured)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tool": name, "message": firstText(res)})
}

func firstText(res CallToolResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	return res.Content[0].Text
}

// recoverer turns a panic into a generic 500 response, keeping the details in the log.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			h.logger.ErrorContext(r.Context(), "panic while handling request",
				slog.Any("panic", rec),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("requestID", middleware.GetReqID(r.Context())),
				slog.String("stack", string(debug.Stack())))
			writeJSON(w, http.StatusInternalServerError, errorResponse(RequestID{}, CodeInternalError, errMsgInternalError))
		}()
		next.ServeHTTP(w, r)
	})
}

func callerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, header := range CallerIDHeaders {
			if id := r.Header.Get(header); id != "" {
				r = r.WithContext(WithCallerID(r.Context(), id))
				break
			}
		}
		next.ServeHTTP(w, r)
	})
}
