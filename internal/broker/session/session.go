// Package session tracks persistent MCP transports and who owns them.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrSessionExists  = errors.New("session: id already registered")
	ErrSessionClosed  = errors.New("session: closed")
	ErrInvalidSession = errors.New("session: id, transport and user are required")
)

// Transport is the outbound half of a persistent connection.
type Transport interface {
	// Send queues msg for delivery. It must not block indefinitely.
	Send(ctx context.Context, msg any) error

	// Close ends the connection. It must be safe to call more than once.
	Close() error

	// Done is closed once the connection has ended for any reason.
	Done() <-chan struct{}
}

// Session binds an authenticated user to a transport.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	transport Transport
	registry  *Registry

	// dispatch is a one slot semaphore serialising request handling.
	dispatch chan struct{}

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool
}

// LastActivity is the last time the session was registered or touched.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Do runs fn while holding the session's dispatch lock so requests on one
// session are handled in arrival order. When ctx ends first, the lock is
// released and ctx.Err() returned even if fn is still running; fn must
// itself honour ctx.
func (s *Session) Do(ctx context.Context, fn func(context.Context) error) error {
	select {
	case s.dispatch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		<-s.dispatch
		return err
	case <-ctx.Done():
		<-s.dispatch
		return ctx.Err()
	}
}

// Send delivers msg on the session's transport. A failed send is reported
// to the registry, which closes the session.
func (s *Session) Send(ctx context.Context, msg any) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		if s.registry != nil {
			s.registry.Notify(Event{Kind: EventError, SessionID: s.ID, Err: err})
		}
		return err
	}
	return nil
}
