// Package session holds per-login interactive state. Sessions live only in
// process memory: a restart logs everyone out.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// Session is the explicit per-login state threaded through the handlers:
// who is logged in, which conversation is open, and which model variant is
// selected. The conversation and model can change mid-session, and two
// clients may share a token, so those fields are guarded.
type Session struct {
	UserID int64

	mu             sync.Mutex
	conversationID int64
	model          string
}

func (s *Session) ConversationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) SelectConversation(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = id
}

func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *Session) SelectModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// Manager is an in-memory session registry keyed by bearer token.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create registers a new session and returns its bearer token.
func (m *Manager) Create(userID, conversationID int64, model string) (string, *Session) {
	token := uuid.NewString()
	sess := &Session{UserID: userID, conversationID: conversationID, model: model}

	m.mu.Lock()
	m.sessions[token] = sess
	m.mu.Unlock()

	return token, sess
}

func (m *Manager) Get(token string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[token]
	return sess, ok
}

func (m *Manager) Delete(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}
