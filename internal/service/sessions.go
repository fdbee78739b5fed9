package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

type session struct {
	manager  *Manager
	lastUsed atomic.Int64 // unix nanos
}

// Sessions hands out one rehydrated Manager per session id. Managers idle
// for longer than the configured TTL are dropped by Evict; their carts stay
// in the store.
type Sessions struct {
	deps Deps
	now  func() time.Time

	mu       sync.RWMutex
	managers map[string]*session
	sfg      singleflight.Group // one Load per session on first access
}

func NewSessions(deps Deps) *Sessions {
	return &Sessions{
		deps:     deps,
		now:      time.Now,
		managers: make(map[string]*session),
	}
}

// Get returns the session's manager, loading its stored cart on first use.
// A cached manager is refreshed from the store so writes made elsewhere are
// visible. A failed load is not cached, so the next call tries again.
func (s *Sessions) Get(ctx context.Context, sessionID string) (*Manager, error) {
	s.mu.RLock()
	sess, ok := s.managers[sessionID]
	s.mu.RUnlock()
	if ok {
		sess.lastUsed.Store(s.now().UnixNano())
		if err := sess.manager.Refresh(ctx); err != nil {
			sess.manager.log.WithError(err).Warn("serving cached cart, refresh failed")
		}
		return sess.manager, nil
	}

	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		s.mu.RLock()
		sess, ok := s.managers[sessionID]
		s.mu.RUnlock()
		if ok {
			return sess.manager, nil
		}

		m := NewManager(sessionID, s.deps)
		if err := m.Load(ctx); err != nil {
			return nil, err
		}

		sess = &session{manager: m}
		sess.lastUsed.Store(s.now().UnixNano())
		s.mu.Lock()
		s.managers[sessionID] = sess
		s.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Manager), nil
}

// Forget drops the in-memory manager; the stored cart is untouched.
func (s *Sessions) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.managers, sessionID)
	s.mu.Unlock()
}

// Evict drops managers not used for longer than idle, except those in the
// middle of a checkout. It returns how many were dropped.
func (s *Sessions) Evict(idle time.Duration) int {
	cutoff := s.now().Add(-idle).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.managers {
		if sess.lastUsed.Load() > cutoff || sess.manager.IsCheckingOut() {
			continue
		}
		delete(s.managers, id)
		evicted++
	}
	return evicted
}

// Run evicts idle managers every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Evict(idle); n > 0 && s.deps.Log != nil {
				s.deps.Log.WithField("evicted", n).Debug("dropped idle cart sessions")
			}
		}
	}
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.managers)
}
