package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tmaxmax/go-sse"
)

// SessionState is the lifecycle state of a streaming session.
type SessionState string

const (
	// SessionOpen is the state of a session whose stream is connected.
	SessionOpen SessionState = "open"
	// SessionClosed is the state of a session whose stream has gone away.
	SessionClosed SessionState = "closed"
)

// SessionIDHeader is the request header that may name the target session of a POST.
const SessionIDHeader = "Mcp-Session-Id"

// SessionInfo is a snapshot of one streaming session.
type SessionInfo struct {
	ID        string
	CreatedAt time.Time
	State     SessionState
}

// SSEServerOption represents the options for the SSEServer.
type SSEServerOption func(*SSEServer)

// SSEServer manages the streaming transport. Clients open a Server-Sent Events stream with
// HandleSSE and post requests with HandleMessage; responses are pushed back over the stream
// of the session named in the POST.
//
// Every session is registered in a mutex-guarded map from the moment its stream opens until
// the client disconnects or the server shuts down. Instances should be created using
// NewSSEServer and shut down using Shutdown.
type SSEServer struct {
	messageURL        string
	router            *Router
	logger            *slog.Logger
	clock             clockwork.Clock
	keepaliveInterval time.Duration
	sendTimeout       time.Duration
	queueSize         int

	mu       sync.RWMutex
	sessions map[string]*sseServerSession
	closing  bool

	wg   *sync.WaitGroup
	done chan struct{}
}

type sseServerSession struct {
	id        string
	createdAt time.Time
	sess      *sse.Session
	logger    *slog.Logger

	sendMsgs     chan sseServerSessionSendMsg
	receivedMsgs chan sseSessionMessage

	closeOnce sync.Once
	done      chan struct{}
}

type sseSessionMessage struct {
	ctx context.Context
	msg JSONRPCMessage
}

type sseServerSessionSendMsg struct {
	msg  *sse.Message
	errs chan<- error
}

var (
	defaultKeepaliveInterval = 30 * time.Second
	defaultSendTimeout       = 30 * time.Second
	defaultQueueSize         = 16

	jsonMediaType = contenttype.NewMediaType("application/json")

	errUnsupportedMediaType = errors.New("content-type must be application/json")
)

// NewSSEServer creates an SSE server that announces messageURL as the endpoint clients must
// post to, and routes posted messages with router.
func NewSSEServer(messageURL string, router *Router, options ...SSEServerOption) *SSEServer {
	s := &SSEServer{
		messageURL: messageURL,
		router:     router,
		logger:     slog.Default(),
		clock:      clockwork.NewRealClock(),
		sessions:   make(map[string]*sseServerSession),
		wg:         &sync.WaitGroup{},
		done:       make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.keepaliveInterval <= 0 {
		s.keepaliveInterval = defaultKeepaliveInterval
	}
	if s.sendTimeout <= 0 {
		s.sendTimeout = defaultSendTimeout
	}
	if s.queueSize <= 0 {
		s.queueSize = defaultQueueSize
	}
	return s
}

// WithKeepaliveInterval sets how often a keepalive comment is written to idle streams.
func WithKeepaliveInterval(interval time.Duration) SSEServerOption {
	return func(s *SSEServer) {
		s.keepaliveInterval = interval
	}
}

// WithSSESendTimeout sets how long a response may wait to be written to its stream.
func WithSSESendTimeout(timeout time.Duration) SSEServerOption {
	return func(s *SSEServer) {
		s.sendTimeout = timeout
	}
}

// WithSSEClock sets the clock that drives keepalives and session timestamps.
func WithSSEClock(clock clockwork.Clock) SSEServerOption {
	return func(s *SSEServer) {
		s.clock = clock
	}
}

// WithSSEServerLogger sets the logger for the SSE server.
func WithSSEServerLogger(logger *slog.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger.With(slog.String("component", "sse"))
	}
}

// HandleSSE returns an http.Handler for managing SSE connections over GET requests.
// The handler upgrades the connection, assigns a session token, announces the message
// endpoint once, and then holds the stream open, writing a keepalive comment on every
// interval, until either the client disconnects or the server shuts down.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", slog.String("err", nErr.Error()))
			http.Error(w, errMsgInternalError, http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()
		srvSession := &sseServerSession{
			id:           sessID,
			createdAt:    s.clock.Now(),
			sess:         sess,
			logger:       s.logger.With(slog.String("sessionID", sessID)),
			sendMsgs:     make(chan sseServerSessionSendMsg),
			receivedMsgs: make(chan sseSessionMessage, s.queueSize),
			done:         make(chan struct{}),
		}

		if !s.register(srvSession) {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		defer s.unregister(srvSession)

		go srvSession.processReceivedMessages(s.router, s.sendTimeout, s.wg)

		// Use the type "endpoint" to indicate the endpoint URL.
		msg := &sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(s.endpointURL(sessID))
		if err := srvSession.write(msg); err != nil {
			srvSession.logger.Error("failed to write SSE endpoint", slog.String("err", err.Error()))
			return
		}

		srvSession.logger.Info("session opened", slog.String("caller", TruncateCallerID(CallerID(r.Context()))))

		s.serve(r.Context(), srvSession)
	})
}

// HandleMessage returns an http.Handler for processing client messages sent via POST
// requests. The target session is named by the sessionId query parameter (sessionID is
// also accepted) or the Mcp-Session-Id header. A POST that names no open session is
// rejected with HTTP 400 and a "No active session" error body.
//
// Accepted messages are queued on their session and acknowledged immediately; the
// response, if any, is pushed over the session's stream.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := SessionIDFromRequest(r)
		srvSession, ok := s.lookup(sessID)
		if !ok {
			s.logger.Warn("message posted without an active session", slog.String("sessionID", sessID))
			writeNoActiveSession(w)
			return
		}

		msg, errMsg := decodeMessage(r)
		if errMsg != nil {
			srvSession.logger.Warn("failed to decode message", slog.Int("code", errMsg.Error.Code))
			writeJSON(w, http.StatusOK, errMsg)
			return
		}

		// The call keeps the request's values but must outlive the POST.
		ctx := context.WithoutCancel(r.Context())

		select {
		case srvSession.receivedMsgs <- sseSessionMessage{ctx: ctx, msg: msg}:
		case <-srvSession.done:
			writeNoActiveSession(w)
			return
		case <-r.Context().Done():
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	})
}

// Send pushes msg onto the stream of the session identified by sessID.
func (s *SSEServer) Send(ctx context.Context, sessID string, msg JSONRPCMessage) error {
	srvSession, ok := s.lookup(sessID)
	if !ok {
		return ErrSessionNotFound
	}
	return srvSession.send(ctx, msg)
}

// Session returns a snapshot of the open session identified by sessID.
func (s *SSEServer) Session(sessID string) (SessionInfo, bool) {
	srvSession, ok := s.lookup(sessID)
	if !ok {
		return SessionInfo{}, false
	}
	return srvSession.info(), true
}

// Sessions returns an iterator over snapshots of the open sessions, oldest first.
func (s *SSEServer) Sessions() iter.Seq[SessionInfo] {
	s.mu.RLock()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, srvSession := range s.sessions {
		infos = append(infos, srvSession.info())
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})

	return func(yield func(SessionInfo) bool) {
		for _, info := range infos {
			if !yield(info) {
				return
			}
		}
	}
}

// SessionCount returns the number of open sessions.
func (s *SSEServer) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every open stream and waits until their handlers and workers have
// returned, or until ctx is done. New streams are refused once Shutdown starts.
func (s *SSEServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closing {
		s.closing = true
		close(s.done)
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-finished:
	}
	return nil
}

// SessionIDFromRequest extracts the session token a client supplied with a POST.
func SessionIDFromRequest(r *http.Request) string {
	q := r.URL.Query()
	if id := q.Get("sessionId"); id != "" {
		return id
	}
	if id := q.Get("sessionID"); id != "" {
		return id
	}
	return r.Header.Get(SessionIDHeader)
}

func (s *SSEServer) endpointURL(sessID string) string {
	u, err := url.Parse(s.messageURL)
	if err != nil {
		return fmt.Sprintf("%s?sessionId=%s", s.messageURL, sessID)
	}
	q := u.Query()
	q.Set("sessionId", sessID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *SSEServer) register(srvSession *sseServerSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	// One for the stream handler, one for the message worker.
	s.wg.Add(2)
	s.sessions[srvSession.id] = srvSession
	return true
}

func (s *SSEServer) unregister(srvSession *sseServerSession) {
	srvSession.close()

	s.mu.Lock()
	delete(s.sessions, srvSession.id)
	s.mu.Unlock()

	srvSession.logger.Info("session closed", slog.Duration("age", s.clock.Since(srvSession.createdAt)))
	s.wg.Done()
}

func (s *SSEServer) lookup(sessID string) (*sseServerSession, bool) {
	if sessID == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	srvSession, ok := s.sessions[sessID]
	return srvSession, ok
}

// serve owns the stream writer: every write to the underlying sse.Session happens on this
// goroutine, which avoids races in the sse library.
func (s *SSEServer) serve(ctx context.Context, srvSession *sseServerSession) {
	ticker := s.clock.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.Chan():
			keepalive := &sse.Message{}
			keepalive.AppendComment("keepalive")
			if err := srvSession.write(keepalive); err != nil {
				srvSession.logger.Warn("failed to write keepalive", slog.String("err", err.Error()))
				return
			}
		case sm := <-srvSession.sendMsgs:
			err := srvSession.write(sm.msg)
			sm.errs <- err
			if err != nil {
				srvSession.logger.Warn("failed to send message", slog.String("err", err.Error()))
				return
			}
		}
	}
}

func (s *sseServerSession) write(msg *sse.Message) error {
	if err := s.sess.Send(msg); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

// processReceivedMessages routes the session's messages one at a time, so responses are
// pushed in the order the requests arrived.
func (s *sseServerSession) processReceivedMessages(router *Router, sendTimeout time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-s.done:
			return
		case rm := <-s.receivedMsgs:
			res, ok := router.Route(rm.ctx, rm.msg)
			if !ok {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			err := s.send(ctx, res)
			cancel()
			if errors.Is(err, ErrSessionClosed) {
				s.logger.Debug("dropping response for closed session", slog.String("id", res.ID.String()))
				continue
			}
			if err != nil {
				s.logger.Warn("failed to send response", slog.String("err", err.Error()))
			}
		}
	}
}

func (s *sseServerSession) send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(msgBs))

	errs := make(chan error, 1)

	// Queue the message for the stream goroutine.
	select {
	case s.sendMsgs <- sseServerSessionSendMsg{msg: sseMsg, errs: errs}:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// Wait and return the error if any
	select {
	case err := <-errs:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sseServerSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *sseServerSession) info() SessionInfo {
	state := SessionOpen
	select {
	case <-s.done:
		state = SessionClosed
	default:
	}
	return SessionInfo{ID: s.id, CreatedAt: s.createdAt, State: state}
}

// decodeMessage reads one JSON-RPC message from the request body. On failure it returns
// the error response to send back instead.
func decodeMessage(r *http.Request) (JSONRPCMessage, *JSONRPCMessage) {
	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			res := errorResponse(RequestID{}, CodeInvalidRequest, errUnsupportedMediaType.Error())
			return JSONRPCMessage{}, &res
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		res := errorResponse(RequestID{}, CodeParseError, errMsgParseError)
		return JSONRPCMessage{}, &res
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		res := errorResponse(RequestID{}, CodeInvalidRequest, errMsgInvalidRequest)
		return JSONRPCMessage{}, &res
	}
	return msg, nil
}

func writeNoActiveSession(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, errorResponse(RequestID{}, CodeNoActiveSession, errMsgNoActiveSession))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
