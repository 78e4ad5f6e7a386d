package llm

import (
	"sync"

	"github.com/google/uuid"
)

// Turn is one completed exchange of a conversation.
type Turn struct {
	User      string
	Assistant string
}

// sessionStore keeps client-side conversation history for providers without
// server-side continuation. Handles are process-local: after a restart an old
// handle is unknown and the conversation starts fresh.
type sessionStore struct {
	mu          sync.Mutex
	maxTurns    int
	maxSessions int
	turns       map[string][]Turn
	order       []string
}

func newSessionStore(maxTurns, maxSessions int) *sessionStore {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	if maxSessions <= 0 {
		maxSessions = 16
	}
	return &sessionStore{
		maxTurns:    maxTurns,
		maxSessions: maxSessions,
		turns:       make(map[string][]Turn),
	}
}

// History returns a copy of the turns recorded under handle.
func (s *sessionStore) History(handle string) []Turn {
	if handle == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.turns[handle]
	out := make([]Turn, len(h))
	copy(out, h)
	return out
}

// Record stores prev+turn under a new handle and returns it. Older turns are
// dropped beyond maxTurns, the oldest sessions beyond maxSessions.
func (s *sessionStore) Record(prev []Turn, turn Turn) string {
	h := append(append([]Turn{}, prev...), turn)
	if len(h) > s.maxTurns {
		h = h[len(h)-s.maxTurns:]
	}

	handle := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[handle] = h
	s.order = append(s.order, handle)
	for len(s.order) > s.maxSessions {
		delete(s.turns, s.order[0])
		s.order = s.order[1:]
	}
	return handle
}
