package session

import (
	"sync"
	"time"

	"macrolog/internal/util/syncx"
)

// DefaultTimeout is how long a session survives without activity before it
// expires to Cancelled with nothing written.
const DefaultTimeout = 15 * time.Minute

// Manager owns the per-chat sessions and serializes turns: WithChat holds
// the chat's lock for the whole turn, so two concurrent updates for the same
// chat never interleave while different chats proceed independently.
type Manager struct {
	timeout time.Duration
	now     func() time.Time

	chats syncx.Map[int64, *chatSlot]
}

type chatSlot struct {
	mu   sync.Mutex
	sess *Session
}

// NewManager returns a Manager with the given inactivity timeout;
// timeout <= 0 means DefaultTimeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{timeout: timeout, now: time.Now}
}

// WithChat runs one turn for a chat. f receives the chat's active session,
// or nil if there is none or it expired, and returns the session to keep;
// returning nil destroys it. The chat's lock is held for the duration of f.
func (m *Manager) WithChat(chatID int64, f func(s *Session) *Session) {
	slot, _ := m.chats.LoadOrStore(chatID, &chatSlot{})
	slot.mu.Lock()
	defer slot.mu.Unlock()

	sess := slot.sess
	now := m.now()
	if sess != nil && now.Sub(sess.LastActivity) > m.timeout {
		// Expired sessions are dropped silently, nothing is written.
		sess = nil
	}

	sess = f(sess)
	if sess == nil || sess.State.Terminal() {
		slot.sess = nil
		return
	}
	sess.LastActivity = now
	slot.sess = sess
}

// Active reports whether the chat currently has a live session. Used for
// routing: plain text goes to the session only when one is active.
func (m *Manager) Active(chatID int64) bool {
	slot, ok := m.chats.Load(chatID)
	if !ok {
		return false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.sess != nil && m.now().Sub(slot.sess.LastActivity) <= m.timeout
}
