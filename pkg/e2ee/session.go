package e2ee

import (
	"sync"
	"time"
)

// DefaultRotation is how long a derived session key stays valid before a
// fresh key exchange is required.
const DefaultRotation = 15 * time.Minute

type session struct {
	key     []byte
	created time.Time
}

// SessionManager holds the derived session key per peer, expiring keys after
// the rotation interval. All state is in memory only.
type SessionManager struct {
	mu       sync.Mutex
	rotation time.Duration
	sessions map[string]session
	now      func() time.Time
}

// NewSessionManager creates a manager; rotation <= 0 uses DefaultRotation.
func NewSessionManager(rotation time.Duration) *SessionManager {
	if rotation <= 0 {
		rotation = DefaultRotation
	}
	return &SessionManager{
		rotation: rotation,
		sessions: make(map[string]session),
		now:      time.Now,
	}
}

// Set stores the session key for a peer.
func (m *SessionManager) Set(peer string, key []byte) {
	m.mu.Lock()
	m.sessions[peer] = session{key: key, created: m.now()}
	m.mu.Unlock()
}

// Get returns the peer's session key, or false when absent or expired.
// Expired sessions are dropped so the caller re-runs the key exchange.
func (m *SessionManager) Get(peer string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peer]
	if !ok {
		return nil, false
	}
	if m.now().Sub(s.created) > m.rotation {
		delete(m.sessions, peer)
		return nil, false
	}
	return s.key, true
}

// Clear forgets the peer's session.
func (m *SessionManager) Clear(peer string) {
	m.mu.Lock()
	delete(m.sessions, peer)
	m.mu.Unlock()
}
