// ABOUTME: Stream bridge that turns agent-pushed chunks into a pull-based stream per agent.
// ABOUTME: One unbounded FIFO session per agent; opening a new one abandons the old.

package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultReadTimeout is the inactivity window applied to each Next call.
const DefaultReadTimeout = 30 * time.Second

// ErrSessionTimeout is returned by Next when no chunk arrives within the window.
var ErrSessionTimeout = errors.New("stream session timed out waiting for agent")

// Observer receives session lifecycle notifications. Used for metrics.
type Observer interface {
	SessionOpened(agentID string)
	SessionReplaced(agentID string)
	SessionTimedOut(agentID string)
}

// Bridge owns the session table keyed by agent ID.
type Bridge struct {
	sessions sync.Map // agentID -> *Session
	observer Observer
	logger   *slog.Logger
}

// NewBridge creates an empty Bridge. observer may be nil.
func NewBridge(observer Observer, logger *slog.Logger) *Bridge {
	return &Bridge{
		observer: observer,
		logger:   logger.With("component", "stream"),
	}
}

// Open creates a session for agentID, atomically replacing any existing one.
// The replaced session is abandoned: it receives no further writes and its
// reader is not notified.
func (b *Bridge) Open(agentID string) *Session {
	s := newSession(agentID)
	old, replaced := b.sessions.Swap(agentID, s)

	if replaced {
		b.logger.Warn("replacing stream session",
			"agent_id", agentID,
			"old_session_id", old.(*Session).ID,
			"session_id", s.ID,
		)
		if b.observer != nil {
			b.observer.SessionReplaced(agentID)
		}
	}
	if b.observer != nil {
		b.observer.SessionOpened(agentID)
	}
	b.logger.Debug("stream session opened", "agent_id", agentID, "session_id", s.ID)
	return s
}

// Write enqueues a chunk on the agent's current session. When last is set the
// session is marked complete. Returns false if no session is open; the chunk
// is dropped.
func (b *Bridge) Write(agentID, chunk string, last bool) bool {
	v, ok := b.sessions.Load(agentID)
	if !ok {
		b.logger.Debug("dropping chunk with no open session", "agent_id", agentID)
		return false
	}
	return v.(*Session).push(chunk, last)
}

// Close removes the session from the table if it is still the current one
// for its agent. Safe to call more than once.
func (b *Bridge) Close(s *Session) {
	s.close()
	if b.sessions.CompareAndDelete(s.AgentID, s) {
		b.logger.Debug("stream session closed", "agent_id", s.AgentID, "session_id", s.ID)
	}
}

// Current returns the open session for agentID, if any.
func (b *Bridge) Current(agentID string) (*Session, bool) {
	v, ok := b.sessions.Load(agentID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Len returns the number of open sessions.
func (b *Bridge) Len() int {
	n := 0
	b.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Next blocks until a chunk is available, the session completes, the context
// is done, or timeout elapses. It returns io.EOF once the session is complete
// and drained. On timeout the observer is told before ErrSessionTimeout is returned.
func (b *Bridge) Next(ctx context.Context, s *Session, timeout time.Duration) (string, error) {
	chunk, err := s.Next(ctx, timeout)
	if errors.Is(err, ErrSessionTimeout) && b.observer != nil {
		b.observer.SessionTimedOut(s.AgentID)
	}
	return chunk, err
}

// Session is a single agent's unbounded FIFO of raw chunks.
type Session struct {
	ID        string
	AgentID   string
	CreatedAt time.Time

	mu       sync.Mutex
	queue    []string
	complete bool
	closed   bool
	notify   chan struct{}
}

func newSession(agentID string) *Session {
	return &Session{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		CreatedAt: time.Now(),
		notify:    make(chan struct{}, 1),
	}
}

func (s *Session) push(chunk string, last bool) bool {
	s.mu.Lock()
	if s.closed || s.complete {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, chunk)
	if last {
		s.complete = true
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}

// Pending returns the number of buffered chunks.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next returns the oldest buffered chunk. See Bridge.Next.
func (s *Session) Next(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			chunk := s.queue[0]
			s.queue[0] = ""
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return chunk, nil
		}
		if s.complete || s.closed {
			s.mu.Unlock()
			return "", io.EOF
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", ErrSessionTimeout
		case <-s.notify:
		}
	}
}
