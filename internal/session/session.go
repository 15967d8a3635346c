// Package session tracks one record per live transport connection and
// owns delivery to it. Each session has an outbound queue drained by a
// single writer goroutine, so a slow or dead connection never blocks
// the goroutine publishing to it.
package session

import (
	"sync"
	"time"

	"github.com/opencode-ai/agentmesh/internal/protocol"
)

// State is the per-session protocol state.
type State int32

const (
	// StateConnected is post-handshake, pre-registration.
	StateConnected State = iota
	// StateRegistered means the session is bound to an agent.
	StateRegistered
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outbound is the transport half a session writes to. The websocket
// connection satisfies it in production; tests substitute a recorder.
type Outbound interface {
	Send(env *protocol.Envelope) error
	Close() error
}

// Session is one live connection. Fields behind mu change after
// creation; the queue is safe for concurrent use on its own.
type Session struct {
	ID    string
	queue *Queue

	mu           sync.RWMutex
	state        State
	agentID      string
	capabilities []string
	connectedAt  time.Time
	lastActivity time.Time
}

// AgentID returns the bound agent id, empty until registration.
func (s *Session) AgentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID
}

// State returns the current protocol state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Capabilities returns the capability set negotiated at initialize.
func (s *Session) Capabilities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capabilities
}

// SetCapabilities records the client's negotiated capabilities.
func (s *Session) SetCapabilities(caps []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities = caps
}

// ConnectedAt returns the connection timestamp.
func (s *Session) ConnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

// LastActivity returns the last inbound message timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Send enqueues an envelope for delivery. Returns false when the
// session is closed or its queue is full; delivery is best effort.
func (s *Session) Send(env *protocol.Envelope) bool {
	if s.State() == StateClosed {
		return false
	}
	return s.queue.Enqueue(env)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Session) bind(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agentID != "" || s.state != StateConnected {
		return false
	}
	s.agentID = agentID
	s.state = StateRegistered
	return true
}

// close transitions to Closed and returns the agent bound at the time,
// if any. Safe to call more than once.
func (s *Session) close() (agentID string, wasOpen bool) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return "", false
	}
	s.state = StateClosed
	agentID = s.agentID
	s.mu.Unlock()

	s.queue.Close()
	return agentID, true
}
