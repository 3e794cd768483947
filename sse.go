package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"
)

// SSEServer implements the split HTTP transport: a long-lived Server-Sent Events stream for
// server-to-client messages and short-lived POSTs for client-to-server messages. The two are
// bridged by the SessionStore, responses computed for a POST are queued on the session and
// written out by the stream that owns it.
//
// The server is framework-agnostic, HandleSSE, HandleMessage and HandleHealth return plain
// http.Handlers that can be mounted on any router.
//
// Instances should be created using NewSSEServer and properly shut down using Shutdown when
// no longer needed.
type SSEServer struct {
	messagePath string
	dispatcher  *Dispatcher
	store       *SessionStore

	keepAliveInterval time.Duration
	maxMessageBytes   int64

	logger  *slog.Logger
	metrics *Metrics

	onSessionOpened func(string)
	onSessionClosed func(string)

	mu      sync.Mutex
	streams sync.WaitGroup
	closed  bool
	done    chan struct{}
}

// SSEServerOption represents the options for the SSEServer.
type SSEServerOption func(*SSEServer)

type healthResponse struct {
	Status         string   `json:"status"`
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	Tools          []string `json:"tools"`
	ActiveSessions int      `json:"activeSessions"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const (
	eventEndpoint = "endpoint"
	eventMessage  = "message"

	acceptedBody = "Accepted"

	errMsgMissingSession = "Missing sessionId parameter"
	errMsgNoSession      = "No active session found"
	errMsgInternalError  = "Internal server error"
)

var (
	defaultKeepAliveInterval = 30 * time.Second

	errServerClosed = errors.New("server is shutting down")
)

// NewSSEServer creates an SSEServer. messagePath is the path advertised to clients in the
// endpoint event, see MessagePath for deriving it from a configured URL. Responses are
// produced by dispatcher and queued in store.
func NewSSEServer(
	messagePath string,
	dispatcher *Dispatcher,
	store *SessionStore,
	options ...SSEServerOption,
) *SSEServer {
	s := &SSEServer{
		messagePath:       messagePath,
		dispatcher:        dispatcher,
		store:             store,
		keepAliveInterval: defaultKeepAliveInterval,
		maxMessageBytes:   DefaultMaxMessageBytes,
		logger:            slog.Default(),
		done:              make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithSSEServerLogger sets the logger for the SSE server.
func WithSSEServerLogger(logger *slog.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger.With(
			slog.String("package", "textutils-mcp"),
			slog.String("component", "sse-server"),
		)
	}
}

// WithSSEServerMetrics sets the metrics the SSE server reports to.
func WithSSEServerMetrics(m *Metrics) SSEServerOption {
	return func(s *SSEServer) {
		s.metrics = m
	}
}

// WithKeepAliveInterval sets how long a stream may stay idle before a keepalive comment is
// written. Non-positive values keep the default of 30 seconds.
func WithKeepAliveInterval(interval time.Duration) SSEServerOption {
	return func(s *SSEServer) {
		if interval > 0 {
			s.keepAliveInterval = interval
		}
	}
}

// WithMaxMessageBytes bounds the size of a POSTed message body.
func WithMaxMessageBytes(n int64) SSEServerOption {
	return func(s *SSEServer) {
		if n > 0 {
			s.maxMessageBytes = n
		}
	}
}

// WithSSEServerOnSessionOpened sets the callback invoked once a stream has announced its
// session id to the client.
func WithSSEServerOnSessionOpened(onSessionOpened func(string)) SSEServerOption {
	return func(s *SSEServer) {
		s.onSessionOpened = onSessionOpened
	}
}

// WithSSEServerOnSessionClosed sets the callback invoked after a session has been destroyed.
func WithSSEServerOnSessionClosed(onSessionClosed func(string)) SSEServerOption {
	return func(s *SSEServer) {
		s.onSessionClosed = onSessionClosed
	}
}

// MessagePath returns the path component of endpoint when endpoint is a full URL, and
// endpoint itself otherwise. The result always starts with a slash.
func MessagePath(endpoint string) string {
	p := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Path != "" {
		p = u.Path
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Store returns the session store backing this server.
func (s *SSEServer) Store() *SessionStore { return s.store }

// HandleSSE returns an http.Handler for GET requests that open an event stream. The handler
// creates a session, sends a single endpoint event carrying the message path with the
// session id, then delivers queued messages as message events until the client
// disconnects. Idle periods are filled with keepalive comments. The session is destroyed on
// every exit path.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.trackStream(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer s.streams.Done()

		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		receiver := s.store.Create()
		sessID := receiver.ID()
		logger := s.logger.With(slog.String("sessionID", sessID))
		defer func() {
			receiver.Close()
			logger.Info("session closed")
			if s.onSessionClosed != nil {
				s.onSessionClosed(sessID)
			}
		}()

		// Form the path the client must POST its messages to.
		endpoint := fmt.Sprintf("%s?sessionId=%s", s.messagePath, sessID)

		msg := &sse.Message{
			Type: sse.Type(eventEndpoint),
		}
		msg.AppendData(endpoint)
		if err := s.write(sess, msg); err != nil {
			logger.Warn("failed to write endpoint event", slog.String("err", err.Error()))
			return
		}

		logger.Info("session opened", slog.String("remote", r.RemoteAddr))
		if s.onSessionOpened != nil {
			s.onSessionOpened(sessID)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			select {
			case <-s.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		s.stream(ctx, sess, receiver, logger)
	})
}

// HandleMessage returns an http.Handler for POST requests carrying one JSON-RPC message.
// The session is named by the sessionId query parameter. The message is dispatched right
// away and its response, if any, is queued for the session's stream; the POST itself is
// always answered with 202 Accepted and never carries the RPC result.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic while handling message", slog.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, errMsgInternalError)
			}
		}()

		sessID := r.URL.Query().Get("sessionId")
		if sessID == "" {
			s.logger.Warn("missing sessionId query parameter")
			s.writeError(w, http.StatusBadRequest, errMsgMissingSession)
			return
		}

		queue, ok := s.store.Lookup(sessID)
		if !ok {
			s.logger.Info("session not found", slog.String("sessionID", sessID))
			s.writeError(w, http.StatusBadRequest, errMsgNoSession)
			return
		}

		msg, err := ReadMessage(http.MaxBytesReader(w, r.Body, s.maxMessageBytes))
		if err != nil {
			s.logger.Warn("failed to read message",
				slog.String("sessionID", sessID),
				slog.String("err", err.Error()))
			s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Invalid message: %s", err.Error()))
			return
		}

		if res, ok := s.dispatcher.Dispatch(r.Context(), msg); ok {
			// The queue reference outlives a concurrent destroy, so this either lands before
			// the session is torn down or fails here.
			if err := queue.Push(res); err != nil {
				s.logger.Warn("failed to enqueue response",
					slog.String("sessionID", sessID),
					slog.String("method", msg.Method),
					slog.String("err", err.Error()))
			}
		}

		s.metrics.intakeHandled(http.StatusAccepted)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(acceptedBody))
	})
}

// HandleHealth returns an http.Handler reporting server identity, the tool catalog and the
// number of active sessions. It has no side effects.
func (s *SSEServer) HandleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		info := s.dispatcher.Info()
		s.writeJSON(w, http.StatusOK, healthResponse{
			Status:         "ok",
			Name:           info.Name,
			Version:        info.Version,
			Tools:          ToolNames(s.dispatcher.Registry()),
			ActiveSessions: s.store.Len(),
		})
	})
}

// Shutdown stops every open stream, which destroys their sessions, and waits for the stream
// handlers to return. New streams are refused once Shutdown has been called.
func (s *SSEServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()

	streamsClosed := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(streamsClosed)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-streamsClosed:
	}
	return nil
}

func (s *SSEServer) trackStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errServerClosed
	}
	s.streams.Add(1)
	return nil
}

func (s *SSEServer) stream(
	ctx context.Context,
	sess *sse.Session,
	receiver *SessionReceiver,
	logger *slog.Logger,
) {
	for {
		msg, err := receiver.DrainOrWait(ctx, s.keepAliveInterval)
		switch {
		case err == nil:
			msgBs, err := json.Marshal(msg)
			if err != nil {
				logger.Error("failed to marshal message", slog.String("err", err.Error()))
				continue
			}
			ev := &sse.Message{
				Type: sse.Type(eventMessage),
			}
			ev.AppendData(string(msgBs))
			if err := s.write(sess, ev); err != nil {
				logger.Warn("failed to write message, closing stream", slog.String("err", err.Error()))
				return
			}
		case errors.Is(err, ErrWaitTimeout):
			ka := &sse.Message{}
			ka.AppendComment("keepalive")
			if err := s.write(sess, ka); err != nil {
				logger.Warn("failed to write keepalive, closing stream", slog.String("err", err.Error()))
				return
			}
			s.metrics.keepaliveSent()
		default:
			// Context done or session destroyed.
			logger.Debug("stream finished", slog.String("reason", err.Error()))
			return
		}
	}
}

func (s *SSEServer) write(sess *sse.Session, msg *sse.Message) error {
	if err := sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	if err := sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

func (s *SSEServer) writeError(w http.ResponseWriter, code int, message string) {
	s.metrics.intakeHandled(code)
	s.writeJSON(w, code, errorResponse{Error: message})
}

func (s *SSEServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", slog.String("err", err.Error()))
	}
}
