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

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEClient is a minimal client for the split SSE/POST transport. It opens the event stream,
// learns the message endpoint from the first endpoint event, and correlates responses
// arriving on the stream with the requests it POSTed.
//
// Instances should be created using NewSSEClient, connected with Connect, and released with
// Close.
type SSEClient struct {
	httpClient *http.Client
	connectURL string
	logger     *slog.Logger

	maxPayloadSize int

	mu         sync.Mutex
	messageURL string
	pending    map[string]chan JSONRPCMessage
	streamErr  error

	cancel       context.CancelFunc
	streamClosed chan struct{}
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

type errorBody struct {
	Error string `json:"error"`
}

var (
	// ErrClientNotConnected is returned when a message is sent before Connect succeeded.
	ErrClientNotConnected = errors.New("client not connected")

	// ErrStreamClosed is returned to callers still waiting for a response when the event stream ends.
	ErrStreamClosed = errors.New("event stream closed")
)

// NewSSEClient creates an SSE client that connects to the specified connectURL. The optional
// httpClient parameter allows custom HTTP client configuration - if nil, the default HTTP
// client is used.
func NewSSEClient(connectURL string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	c := &SSEClient{
		connectURL:   connectURL,
		httpClient:   cli,
		logger:       slog.Default(),
		pending:      make(map[string]chan JSONRPCMessage),
		streamClosed: make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// WithSSEClientLogger sets the logger for the SSE client.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(c *SSEClient) {
		c.logger = logger.With(
			slog.String("package", "textutils-mcp"),
			slog.String("component", "sse-client"),
		)
	}
}

// WithSSEClientMaxPayloadSize sets the maximum size of a single event received from the
// server. Larger events end the stream.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(c *SSEClient) {
		c.maxPayloadSize = size
	}
}

// Connect opens the event stream and blocks until the endpoint event arrives or ctx is done.
// The stream itself keeps running after Connect returns, until Close is called or the server
// ends it.
func (c *SSEClient) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.connectURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	c.cancel = cancel
	ready := make(chan error, 1)
	go c.listen(resp.Body, ready)

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return err
		}
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// MessageURL returns the absolute URL messages are POSTed to, or "" before Connect succeeded.
func (c *SSEClient) MessageURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.messageURL
}

// Send POSTs msg to the message endpoint. The server acknowledges with 202 Accepted; the
// response to a request arrives later on the event stream.
func (c *SSEClient) Send(ctx context.Context, msg JSONRPCMessage) error {
	messageURL := c.MessageURL()
	if messageURL == "" {
		return ErrClientNotConnected
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(msgBs))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var body errorBody
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil && body.Error != "" {
			return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// Request sends a request for method with params and waits for the matching response. A
// JSON-RPC error in the response is returned as a JSONRPCError.
func (c *SSEClient) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	paramsBs, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	results := make(chan JSONRPCMessage, 1)

	c.mu.Lock()
	if c.streamErr != nil {
		c.mu.Unlock()
		return nil, c.streamErr
	}
	c.pending[id] = results
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      NewRequestID(id),
		Method:  method,
		Params:  paramsBs,
	}
	if err := c.Send(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-results:
		if !ok {
			return nil, ErrStreamClosed
		}
		if res.Error != nil {
			return nil, *res.Error
		}
		return res.Result, nil
	}
}

// Notify sends a notification, which the server never answers.
func (c *SSEClient) Notify(ctx context.Context, method string, params any) error {
	paramsBs, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	})
}

// Initialize performs the initialize handshake followed by notifications/initialized, and
// returns the server identity.
func (c *SSEClient) Initialize(ctx context.Context, info Info) (Info, error) {
	res, err := c.Request(ctx, methodInitialize, initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      info,
	})
	if err != nil {
		return Info{}, fmt.Errorf("failed to initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(res, &result); err != nil {
		return Info{}, fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}

	if err := c.Notify(ctx, methodNotificationsInitialized, nil); err != nil {
		return Info{}, fmt.Errorf("failed to send initialized notification: %w", err)
	}

	return result.ServerInfo, nil
}

// ListTools fetches the server's tool catalog.
func (c *SSEClient) ListTools(ctx context.Context) ([]Tool, error) {
	res, err := c.Request(ctx, methodToolsList, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	var result ListToolsResult
	if err := json.Unmarshal(res, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tools list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes the named tool with args.
func (c *SSEClient) CallTool(ctx context.Context, name string, args ToolArguments) (CallToolResult, error) {
	res, err := c.Request(ctx, methodToolsCall, CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return CallToolResult{}, fmt.Errorf("failed to call tool %s: %w", name, err)
	}

	var result CallToolResult
	if err := json.Unmarshal(res, &result); err != nil {
		return CallToolResult{}, fmt.Errorf("failed to unmarshal tool result: %w", err)
	}
	return result, nil
}

// Close ends the event stream and waits for the listener to stop. Requests still waiting fail
// with ErrStreamClosed.
func (c *SSEClient) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.streamClosed
}

func (c *SSEClient) listen(body io.ReadCloser, ready chan<- error) {
	defer func() {
		body.Close()
		c.failPending(ErrStreamClosed)
		close(c.streamClosed)
	}()

	var config *sse.ReadConfig
	if c.maxPayloadSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: c.maxPayloadSize,
		}
	}

	connected := false
	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Error("failed to read SSE message", slog.String("err", err.Error()))
			}
			break
		}

		switch ev.Type {
		case eventEndpoint:
			u, err := c.resolveEndpoint(ev.Data)
			if err != nil {
				if !connected {
					ready <- err
					return
				}
				c.logger.Error("ignoring invalid endpoint event", slog.String("err", err.Error()))
				continue
			}
			c.mu.Lock()
			c.messageURL = u
			c.mu.Unlock()
			if !connected {
				connected = true
				ready <- nil
			}
		case eventMessage:
			if !connected {
				c.logger.Error("received message before endpoint URL")
				continue
			}

			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				c.logger.Error("failed to unmarshal message", slog.String("err", err.Error()))
				continue
			}
			c.deliver(msg)
		default:
			c.logger.Warn("unhandled event type", slog.String("type", ev.Type))
		}
	}

	if !connected {
		ready <- fmt.Errorf("stream ended before endpoint event: %w", ErrStreamClosed)
	}
}

// resolveEndpoint turns the endpoint event payload, usually a bare path, into an absolute URL
// relative to the connect URL.
func (c *SSEClient) resolveEndpoint(data string) (string, error) {
	if data == "" {
		return "", errors.New("empty endpoint URL")
	}
	base, err := url.Parse(c.connectURL)
	if err != nil {
		return "", fmt.Errorf("parse connect URL: %w", err)
	}
	ref, err := url.Parse(data)
	if err != nil {
		return "", fmt.Errorf("parse endpoint URL: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *SSEClient) deliver(msg JSONRPCMessage) {
	if msg.Kind() != KindResponse {
		c.logger.Debug("ignoring server message", slog.String("method", msg.Method))
		return
	}

	c.mu.Lock()
	results, ok := c.pending[msg.ID.String()]
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("received response for unknown request", slog.String("id", msg.ID.String()))
		return
	}
	// Buffered with room for exactly the one response.
	select {
	case results <- msg:
	default:
	}
}

func (c *SSEClient) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamErr = err
	for id, results := range c.pending {
		close(results)
		delete(c.pending, id)
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	bs, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return bs, nil
}
