package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMaxAge        = 4 * time.Hour
	DefaultSweepInterval = 30 * time.Minute
	defaultEventBuffer   = 64
)

// EventKind says why a transport reported an event.
type EventKind string

const (
	EventClosed EventKind = "closed"
	EventError  EventKind = "error"
)

// Event is a transport lifecycle notification. Every event closes the session.
type Event struct {
	Kind      EventKind
	SessionID string
	Err       error
}

// Config configures NewRegistry. Zero values pick the defaults.
type Config struct {
	// MaxAge bounds a session's lifetime regardless of activity.
	MaxAge time.Duration

	// IdleTimeout, when positive, evicts sessions without activity.
	IdleTimeout time.Duration

	SweepInterval time.Duration
	EventBuffer   int

	Now    func() time.Time
	Logger *slog.Logger
}

// Registry is the set of live sessions. It is safe for concurrent use.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session

	events chan Event
}

// NewRegistry creates an empty registry. Call Run to process transport
// events and sweep stale sessions.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		events:   make(chan Event, cfg.EventBuffer),
	}
}

// Register adds a session for userID on transport t. When the transport
// ends on its own a closed event is queued for Run.
func (r *Registry) Register(id string, t Transport, userID string) (*Session, error) {
	if id == "" || t == nil || userID == "" {
		return nil, ErrInvalidSession
	}

	now := r.cfg.Now()
	s := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		transport:    t,
		registry:     r,
		dispatch:     make(chan struct{}, 1),
		lastActivity: now,
	}

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	r.sessions[id] = s
	r.mu.Unlock()

	go func() {
		<-t.Done()
		r.Notify(Event{Kind: EventClosed, SessionID: id})
	}()

	r.cfg.Logger.Info("session registered", "session_id", id, "user_id", userID)
	return s, nil
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Touch records activity on id. It reports whether the session exists.
func (r *Registry) Touch(id string) bool {
	s, ok := r.Get(id)
	if ok {
		s.touch(r.cfg.Now())
	}
	return ok
}

// FindByUser returns the user's most recently active session.
func (r *Registry) FindByUser(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Session
	for _, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		if best == nil || s.LastActivity().After(best.LastActivity()) {
			best = s
		}
	}
	return best, best != nil
}

// Close removes id and closes its transport. It reports whether a session
// was removed; closing twice is harmless.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.closeSession(s)
	return true
}

// CloseAll closes every session, used on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		r.closeSession(s)
	}
	return len(all)
}

func (r *Registry) closeSession(s *Session) {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return
	}

	if err := s.transport.Close(); err != nil {
		r.cfg.Logger.Warn("session transport close failed", "session_id", s.ID, "error", err)
	}
	r.cfg.Logger.Info("session closed", "session_id", s.ID, "user_id", s.UserID)
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Events exposes the event channel Run consumes.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Notify queues ev. When the queue is full the session is closed inline
// so no close is ever lost.
func (r *Registry) Notify(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.handle(ev)
	}
}

func (r *Registry) handle(ev Event) {
	if ev.Kind == EventError {
		r.cfg.Logger.Warn("session transport error", "session_id", ev.SessionID, "error", ev.Err)
	}
	r.Close(ev.SessionID)
}

// Run processes transport events and sweeps stale sessions until ctx is
// done. All sessions are closed on return.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-r.events:
			r.handle(ev)
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.cfg.Logger.Info("stale sessions evicted", "count", n)
			}
		case <-ctx.Done():
			n := r.CloseAll()
			r.cfg.Logger.Info("session registry stopped", "closed", n)
			return nil
		}
	}
}

// Sweep closes sessions past MaxAge or, with IdleTimeout set, idle too long.
func (r *Registry) Sweep() int {
	now := r.cfg.Now()

	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if now.Sub(s.CreatedAt) >= r.cfg.MaxAge {
			stale = append(stale, id)
			continue
		}
		if r.cfg.IdleTimeout > 0 && now.Sub(s.LastActivity()) >= r.cfg.IdleTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if r.Close(id) {
			n++
		}
	}
	return n
}
