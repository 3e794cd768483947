package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStore is the process-wide registry that maps session ids to their outbound message
// queues. It owns the lifecycle of every session: creation when an event stream opens,
// enqueueing from any number of intake requests, and destruction when the stream closes.
//
// The map is guarded by a single mutex that is never held while waiting for messages. Each
// queue has exactly one consumer, the SessionReceiver handed out by Create, and that is the
// only value able to drain it.
//
// Instances should be created using NewSessionStore.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionQueue

	logger  *slog.Logger
	metrics *Metrics
}

// SessionQueue is the unbounded FIFO of pending outbound messages for one session. Producers
// obtain it through SessionStore.Lookup and may keep the reference after the session is
// destroyed; Push on a closed queue fails with ErrSessionNotFound instead of silently
// appending to a queue nobody will drain.
type SessionQueue struct {
	id string

	mu      sync.Mutex
	pending []JSONRPCMessage
	closed  bool

	// notify holds at most one token, it is signalled whenever pending grows.
	notify chan struct{}
	// done is closed once the queue is destroyed.
	done chan struct{}

	metrics *Metrics
}

// SessionReceiver is the consuming end of a session. The event stream handler holds it for
// the lifetime of its connection and must Close it on every exit path.
type SessionReceiver struct {
	queue *SessionQueue
	store *SessionStore
}

// SessionStoreOption represents the options for the SessionStore.
type SessionStoreOption func(*SessionStore)

var (
	// ErrSessionNotFound is returned when a session id is unknown or the session was already destroyed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWaitTimeout is returned by DrainOrWait when no message arrived within the timeout.
	ErrWaitTimeout = errors.New("wait timeout")

	// ErrSessionClosed is returned by DrainOrWait once the session has been destroyed.
	ErrSessionClosed = errors.New("session closed")
)

// NewSessionStore creates an empty SessionStore.
func NewSessionStore(options ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		sessions: make(map[string]*SessionQueue),
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithSessionStoreLogger sets the logger for the session store.
func WithSessionStoreLogger(logger *slog.Logger) SessionStoreOption {
	return func(s *SessionStore) {
		s.logger = logger.With(
			slog.String("package", "textutils-mcp"),
			slog.String("component", "session-store"),
		)
	}
}

// WithSessionStoreMetrics sets the metrics the session store reports to.
func WithSessionStoreMetrics(m *Metrics) SessionStoreOption {
	return func(s *SessionStore) {
		s.metrics = m
	}
}

// Create registers a new session with a fresh random id and an empty queue, and returns
// the receiver that drains it.
func (s *SessionStore) Create() *SessionReceiver {
	q := &SessionQueue{
		id:      uuid.New().String(),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		metrics: s.metrics,
	}

	s.mu.Lock()
	s.sessions[q.id] = q
	s.mu.Unlock()

	s.metrics.sessionOpened()
	s.logger.Debug("session created", slog.String("sessionID", q.id))

	return &SessionReceiver{queue: q, store: s}
}

// Lookup returns the queue registered under id. The returned reference stays valid after a
// concurrent Destroy, pushes to it then fail with ErrSessionNotFound.
func (s *SessionStore) Lookup(id string) (*SessionQueue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.sessions[id]
	return q, ok
}

// Enqueue appends msg to the queue of the named session.
func (s *SessionStore) Enqueue(id string, msg JSONRPCMessage) error {
	q, ok := s.Lookup(id)
	if !ok {
		return fmt.Errorf("failed to enqueue to session %s: %w", id, ErrSessionNotFound)
	}
	return q.Push(msg)
}

// Destroy removes the session and discards whatever it still had queued. Destroying an
// unknown or already destroyed session is a no-op.
func (s *SessionStore) Destroy(id string) {
	s.mu.Lock()
	q, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	dropped := q.close()
	s.metrics.sessionClosed(dropped)
	if dropped > 0 {
		s.logger.Debug("session destroyed with undelivered messages",
			slog.String("sessionID", id),
			slog.Int("dropped", dropped))
		return
	}
	s.logger.Debug("session destroyed", slog.String("sessionID", id))
}

// Len returns the number of active sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// IDs returns the ids of all active sessions, in no particular order.
func (s *SessionStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ID returns the session id this queue belongs to.
func (q *SessionQueue) ID() string { return q.id }

// Push appends msg to the back of the queue and wakes the receiver.
func (q *SessionQueue) Push(msg JSONRPCMessage) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("failed to enqueue to session %s: %w", q.id, ErrSessionNotFound)
	}
	q.pending = append(q.pending, msg)
	q.mu.Unlock()

	q.metrics.messageEnqueued()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of undelivered messages.
func (q *SessionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

func (q *SessionQueue) pop() (JSONRPCMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return JSONRPCMessage{}, false
	}
	msg := q.pending[0]
	q.pending[0] = JSONRPCMessage{}
	q.pending = q.pending[1:]
	return msg, true
}

func (q *SessionQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	close(q.done)
	return dropped
}

// ID returns the id of the session being drained.
func (r *SessionReceiver) ID() string { return r.queue.id }

// DrainOrWait returns the oldest queued message. If the queue is empty it blocks until a
// message arrives, the timeout elapses (ErrWaitTimeout), the session is destroyed
// (ErrSessionClosed), or ctx is done (ctx.Err()).
func (r *SessionReceiver) DrainOrWait(ctx context.Context, timeout time.Duration) (JSONRPCMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if msg, ok := r.queue.pop(); ok {
			r.queue.metrics.messageDelivered()
			return msg, nil
		}

		select {
		case <-r.queue.notify:
		case <-timer.C:
			return JSONRPCMessage{}, ErrWaitTimeout
		case <-r.queue.done:
			return JSONRPCMessage{}, ErrSessionClosed
		case <-ctx.Done():
			return JSONRPCMessage{}, ctx.Err()
		}
	}
}

// Close destroys the session. It is safe to call more than once.
func (r *SessionReceiver) Close() {
	r.store.Destroy(r.queue.id)
}
