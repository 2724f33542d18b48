package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/singer-orchestrator/internal/errkind"
)

const (
	defaultTTL        = 24 * time.Hour
	defaultSweep      = 5 * time.Minute
)

// entry pairs a Session with the per-session mutex that WithSession
// acquires, plus sweeper bookkeeping.
type entry struct {
	mu        sync.Mutex
	session   *Session
	expiresAt time.Time
}

// Store is the in-memory session registry keyed by session id, per spec.md
// §4.4. A background sweeper evicts sessions past their TTL.
type Store struct {
	ttl   time.Duration
	mu    sync.RWMutex
	byID  map[string]*entry

	onEvict func(sessionID, userID string)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a [Store].
type Option func(*Store)

// WithTTL overrides the default 24h session TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithEvictHook registers a callback invoked (outside any lock) when a
// session is evicted, so scratch-directory cleanup can be wired in without
// sessionstore needing to know about the filesystem layout.
func WithEvictHook(fn func(sessionID, userID string)) Option {
	return func(s *Store) { s.onEvict = fn }
}

// New creates a Store and starts its background TTL sweeper (every 5
// minutes). Call [Store.Close] to stop it.
func New(opts ...Option) *Store {
	s := &Store{
		ttl:    defaultTTL,
		byID:   make(map[string]*entry),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// Create allocates a new session for userID and returns its id.
func (s *Store) Create(userID string) string {
	id := uuid.NewString()
	now := time.Now()
	e := &entry{
		session: &Session{
			ID:           id,
			UserID:       userID,
			CreatedAt:    now,
			LastActiveAt: now,
		},
		expiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.byID[id] = e
	s.mu.Unlock()
	return id
}

// WithSession acquires the session's mutex, passes a [*Handle] to fn, and
// releases the mutex on every exit path (including panic). The Handle is
// invalidated immediately after fn returns.
func (s *Store) WithSession(ctx context.Context, sessionID string, fn func(ctx context.Context, h *Handle) error) error {
	s.mu.RLock()
	e, ok := s.byID[sessionID]
	s.mu.RUnlock()
	if !ok {
		return errkind.New(errkind.InvalidInput, "unknown session")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.expiresAt = time.Now().Add(s.ttl)
	e.session.LastActiveAt = time.Now()

	h := newHandle(e.session)
	defer h.invalidate()

	return fn(ctx, h)
}

// Touch refreshes the session's expiry without acquiring the full
// WithSession borrow, used by lightweight read paths like progress polling
// that don't need to mutate session state.
func (s *Store) Touch(sessionID string) {
	s.mu.RLock()
	e, ok := s.byID[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.expiresAt = time.Now().Add(s.ttl)
	e.session.LastActiveAt = time.Now()
	e.mu.Unlock()
}

// Delete removes a session immediately, invoking the evict hook if set.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	e, ok := s.byID[sessionID]
	if ok {
		delete(s.byID, sessionID)
	}
	s.mu.Unlock()
	if ok && s.onEvict != nil {
		s.onEvict(sessionID, e.session.UserID)
	}
}

// Exists reports whether sessionID currently has a live session.
func (s *Store) Exists(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[sessionID]
	return ok
}

// sweepLoop walks entries every 5 minutes and evicts those past expiry.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(defaultSweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Store) sweepOnce() {
	now := time.Now()
	var expired []struct{ id, userID string }

	s.mu.Lock()
	for id, e := range s.byID {
		e.mu.Lock()
		past := now.After(e.expiresAt)
		userID := e.session.UserID
		e.mu.Unlock()
		if past {
			delete(s.byID, id)
			expired = append(expired, struct{ id, userID string }{id, userID})
		}
	}
	s.mu.Unlock()

	if s.onEvict != nil {
		for _, ex := range expired {
			s.onEvict(ex.id, ex.userID)
		}
	}
}

// Close stops the background sweeper. It does not evict remaining sessions.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
