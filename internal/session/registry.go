package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound means no session exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyBound means the session already has an agent; a
	// session's agent id is set exactly once per connection.
	ErrAlreadyBound = errors.New("session already bound to an agent")
)

// Registry tracks live sessions. Creation never fails; destruction is
// idempotent.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	queueSize int
}

// NewRegistry creates a session registry. queueSize bounds each
// session's outbound buffer; zero uses the default.
func NewRegistry(queueSize int) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		queueSize: queueSize,
	}
}

// Create registers a new session for a connection and starts its
// outbound writer.
func (r *Registry) Create(out Outbound) *Session {
	id := ulid.Make().String()
	now := time.Now().UTC()
	s := &Session{
		ID:           id,
		state:        StateConnected,
		connectedAt:  now,
		lastActivity: now,
	}
	s.queue = NewQueue(id, out, r.queueSize)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return s
}

// Lookup returns the session for an id.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// BindAgent binds an agent id to a session, exactly once per
// connection. Re-registration on the same session is a protocol
// violation, not a silent overwrite. Agent-id uniqueness across
// sessions is the agent registry's check, not this one.
func (r *Registry) BindAgent(sessionID, agentID string) error {
	s, err := r.Lookup(sessionID)
	if err != nil {
		return err
	}
	if !s.bind(agentID) {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, sessionID)
	}
	return nil
}

// Touch updates a session's last-activity timestamp.
func (r *Registry) Touch(sessionID string) {
	if s, err := r.Lookup(sessionID); err == nil {
		s.touch()
	}
}

// Destroy closes a session and removes it from the registry, returning
// the agent id that was bound, if any. Destroying an unknown or
// already-destroyed id is a no-op.
func (r *Registry) Destroy(sessionID string) (agentID string, destroyed bool) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return "", false
	}
	agentID, _ = s.close()
	return agentID, true
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll destroys every live session, used at server shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.List() {
		r.Destroy(s.ID)
	}
}
