package sessions

import (
	"io"
	"sync"
	"time"

	"github.com/tamiikomi12/hvac-ai-backend/pkg/gateway/intake"
)

// Session is the per-call state. Flow state and the intake record are
// mutated only by the call's own event stream (one webhook turn or one
// relay task at a time); the registry and reaper touch nothing beyond the
// activity clock and the peer handle.
type Session struct {
	ID           string
	CallerNumber string

	// Turn-based flow position and collected data. Single-writer.
	State intake.State
	Data  intake.Record

	mu         sync.Mutex
	lastActive time.Time

	peerMu    sync.Mutex
	peer      io.Closer
	peerClose sync.Once

	savedMu sync.Mutex
	saved   bool
}

func newSession(id, callerNumber string, now time.Time) *Session {
	return &Session{
		ID:           id,
		CallerNumber: callerNumber,
		State:        intake.StateGreeting,
		lastActive:   now,
	}
}

// Touch records inbound activity for the idle reaper.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) touchAt(t time.Time) {
	s.mu.Lock()
	s.lastActive = t
	s.mu.Unlock()
}

// LastActive returns the time of the most recent inbound event.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// BindPeer hands the session exclusive ownership of the AI-backend
// connection. The session closes it exactly once, on teardown.
func (s *Session) BindPeer(peer io.Closer) {
	s.peerMu.Lock()
	s.peer = peer
	s.peerMu.Unlock()
}

// ClosePeer closes the bound peer connection. Only the first call closes;
// it reports whether this call performed the close.
func (s *Session) ClosePeer() bool {
	s.peerMu.Lock()
	peer := s.peer
	s.peerMu.Unlock()
	if peer == nil {
		return false
	}
	closed := false
	s.peerClose.Do(func() {
		_ = peer.Close()
		closed = true
	})
	return closed
}

// MarkSaved flips the session's persisted flag. It returns true exactly
// once, so a session can never hand its record to the store twice.
func (s *Session) MarkSaved() bool {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()
	if s.saved {
		return false
	}
	s.saved = true
	return true
}

// Saved reports whether the record was already handed to the store.
func (s *Session) Saved() bool {
	s.savedMu.Lock()
	defer s.savedMu.Unlock()
	return s.saved
}
