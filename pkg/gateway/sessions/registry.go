// Package sessions owns the lifecycle of per-call state: a concurrent-safe
// registry keyed by call id, and the idle reaper that evicts calls whose
// stop event never arrived.
package sessions

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyExists = errors.New("session already exists")
	ErrNotFound      = errors.New("session not found")
)

// Registry maps call ids to live sessions. It is the only structure shared
// between call tasks and the reaper; all per-call state stays owned by the
// call's own task.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create registers a session for a new call. Starting two sessions for one
// call id is a caller bug and fails with ErrAlreadyExists.
func (r *Registry) Create(id, callerNumber string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, ErrAlreadyExists
	}
	s := newSession(id, callerNumber, time.Now())
	r.sessions[id] = s
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Touch bumps the session's activity clock.
func (r *Registry) Touch(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.Touch()
	return nil
}

// Remove deletes the session and returns it so the caller can finish
// teardown (close the peer, log).
func (r *Registry) Remove(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.sessions, id)
	return s, nil
}

// removeIfIdle removes the session only if its activity clock is still
// older than the cutoff at removal time, so an in-flight Touch wins over
// the reaper. Removal and the idleness check happen under one lock.
func (r *Registry) removeIfIdle(id string, cutoff time.Time) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	if !s.LastActive().Before(cutoff) {
		return nil, false
	}
	delete(r.sessions, id)
	return s, true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// CloseAll tears down every session, closing held peer connections. Used
// on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.ClosePeer()
	}
	return len(all)
}
