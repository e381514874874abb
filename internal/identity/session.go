package identity

import (
	"fmt"
	"sync"
	"time"

	"github.com/aryanshm/foliage/internal/errs"
)

// Session is the explicit authenticated-identity value handed to every key
// and sharing operation. Holding a Session does not keep it valid: a
// sign-out invalidates all outstanding sessions, and key operations against
// an invalidated session fail closed rather than use stale keys.
type Session struct {
	id         *Identity
	signedInAt time.Time
	mgr        *SessionManager
	epoch      uint64
}

// Identity returns the session's identity, or ErrAuthRequired if the
// session has been invalidated by a sign-out.
func (s *Session) Identity() (*Identity, error) {
	if s == nil || s.mgr == nil || !s.mgr.valid(s.epoch) {
		return nil, errs.ErrAuthRequired
	}
	return s.id, nil
}

// SignedInAt reports when this session was established.
func (s *Session) SignedInAt() time.Time { return s.signedInAt }

// PrivateKeyMaterial exposes the private encryption key to the path hasher
// and key managers, failing closed when the session is invalid.
func (s *Session) PrivateKeyMaterial() ([32]byte, error) {
	id, err := s.Identity()
	if err != nil {
		return [32]byte{}, err
	}
	return id.EncPrivate(), nil
}

// SessionManager owns the process's single authenticated identity.
// Sign-out must fully complete before the next sign-in: key material swap is
// not atomic, so overlapping sessions are rejected outright.
type SessionManager struct {
	mu      sync.Mutex
	current *Session
	epoch   uint64
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{}
}

// SignIn establishes a session for the given identity. Fails if another
// identity is still signed in.
func (m *SessionManager) SignIn(id *Identity) (*Session, error) {
	if id == nil {
		return nil, fmt.Errorf("sign in: %w", errs.ErrAuthRequired)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, fmt.Errorf("sign in: identity %q still signed in, sign out first", m.current.id.Alias())
	}

	m.epoch++
	m.current = &Session{
		id:         id,
		signedInAt: time.Now(),
		mgr:        m,
		epoch:      m.epoch,
	}
	return m.current, nil
}

// SignOut clears the current session and invalidates every outstanding
// Session value. A no-op when nobody is signed in.
func (m *SessionManager) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.epoch++
}

// Current returns the active session, or ErrAuthRequired.
func (m *SessionManager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, errs.ErrAuthRequired
	}
	return m.current, nil
}

func (m *SessionManager) valid(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.epoch == epoch
}
