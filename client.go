package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// SSEClient connects to a streaming endpoint served by SSEServer. It's a thin consumer of
// the wire format: it waits for the endpoint announcement, posts messages to the announced
// URL, and delivers the messages pushed over the stream.
//
// Instances should be created using NewSSEClient.
type SSEClient struct {
	httpClient *http.Client
	connectURL string
	logger     *slog.Logger

	maxPayloadSize int
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

// SSEClientSession is one open stream. It must be closed with Close.
type SSEClientSession struct {
	httpClient *http.Client
	messageURL string
	logger     *slog.Logger

	messages chan JSONRPCMessage
	cancel   context.CancelFunc
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var errNoEndpoint = errors.New("stream ended before the endpoint was announced")

// NewSSEClient creates an SSE client that connects to connectURL. If httpClient is nil,
// http.DefaultClient is used.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	c := &SSEClient{
		connectURL: connectURL,
		httpClient: cli,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// WithSSEClientMaxPayloadSize sets the maximum size of a single event read from the
// stream. A larger event ends the session.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(c *SSEClient) {
		c.maxPayloadSize = size
	}
}

// WithSSEClientLogger sets the logger for the client.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(c *SSEClient) {
		c.logger = logger.With(slog.String("component", "sse-client"))
	}
}

// Connect opens the stream and blocks until the server announced its message endpoint,
// ctx is done, or the stream fails. Cancelling ctx after Connect returns doesn't close the
// session; use Close.
func (c *SSEClient) Connect(ctx context.Context) (*SSEClientSession, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.connectURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	cs := &SSEClientSession{
		httpClient: c.httpClient,
		logger:     c.logger,
		messages:   make(chan JSONRPCMessage),
		cancel:     cancel,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	ready := make(chan error, 1)
	go cs.listen(resp.Body, c.connectURL, c.maxPayloadSize, ready)

	select {
	case err := <-ready:
		if err != nil {
			cs.Close()
			return nil, err
		}
	case <-ctx.Done():
		cs.Close()
		return nil, ctx.Err()
	}
	return cs, nil
}

// MessageURL returns the endpoint announced by the server, session token included.
func (cs *SSEClientSession) MessageURL() string {
	return cs.messageURL
}

// Send posts msg to the announced endpoint. The server answers with an acknowledgement
// only; a response, if any, arrives through Receive.
func (cs *SSEClientSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cs.messageURL, bytes.NewReader(msgBs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cs.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var res JSONRPCMessage
		if json.NewDecoder(resp.Body).Decode(&res) == nil && res.Error != nil {
			return fmt.Errorf("unexpected status code %d: %w", resp.StatusCode, *res.Error)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// Receive returns the next message pushed by the server. It returns ErrSessionClosed once
// the stream has ended.
func (cs *SSEClientSession) Receive(ctx context.Context) (JSONRPCMessage, error) {
	select {
	case msg, ok := <-cs.messages:
		if !ok {
			return JSONRPCMessage{}, ErrSessionClosed
		}
		return msg, nil
	case <-ctx.Done():
		return JSONRPCMessage{}, ctx.Err()
	}
}

// Close ends the stream and waits for the reader to return.
func (cs *SSEClientSession) Close() {
	cs.stopOnce.Do(func() {
		close(cs.stop)
		cs.cancel()
	})
	<-cs.done
}

func (cs *SSEClientSession) listen(body io.ReadCloser, connectURL string, maxPayloadSize int, ready chan<- error) {
	defer func() {
		body.Close()
		close(cs.messages)
		close(cs.done)
	}()

	var config *sse.ReadConfig
	if maxPayloadSize > 0 {
		config = &sse.ReadConfig{MaxEventSize: maxPayloadSize}
	}

	announced := false
	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !announced {
				ready <- fmt.Errorf("failed to read endpoint: %w", err)
				return
			}
			if !errors.Is(err, context.Canceled) {
				cs.logger.Warn("failed to read SSE message", slog.String("err", err.Error()))
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			if announced {
				cs.logger.Warn("ignoring repeated endpoint announcement")
				continue
			}
			u, err := resolveEndpoint(connectURL, ev.Data)
			if err != nil {
				ready <- err
				return
			}
			cs.messageURL = u
			announced = true
			close(ready)
		case "message":
			if !announced {
				cs.logger.Warn("received message before endpoint URL")
				continue
			}
			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				cs.logger.Warn("failed to unmarshal message", slog.String("err", err.Error()))
				continue
			}
			select {
			case cs.messages <- msg:
			case <-cs.stop:
				return
			}
		default:
			cs.logger.Debug("unhandled event type", slog.String("type", ev.Type))
		}
	}

	if !announced {
		ready <- errNoEndpoint
	}
}

// resolveEndpoint resolves the announced endpoint against the stream URL, so servers may
// announce a path only.
func resolveEndpoint(connectURL, endpoint string) (string, error) {
	if endpoint == "" {
		return "", errors.New("empty endpoint URL")
	}
	base, err := url.Parse(connectURL)
	if err != nil {
		return "", fmt.Errorf("parse stream URL: %w", err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint URL: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
