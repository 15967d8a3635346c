package server

import (
	"github.com/opencode-ai/agentmesh/internal/protocol"
	"github.com/opencode-ai/agentmesh/internal/session"
)

// Fanout walks a snapshot of live sessions and enqueues onto each
// matching outbound queue. Delivery is best effort: a full queue or a
// session closing mid-walk drops that recipient without affecting the
// rest, and the returned count reflects only successful enqueues.

// broadcastAll pushes to every live session except one, registered or
// not. Used for agent_update announcements.
func (s *Server) broadcastAll(env *protocol.Envelope, exceptSessionID string) int {
	delivered := 0
	for _, sess := range s.sessions.List() {
		if sess.ID == exceptSessionID {
			continue
		}
		if sess.Send(env) {
			delivered++
		}
	}
	return delivered
}

// fanoutRegistered pushes to every registered session except the
// publisher's. Used for untargeted context shares.
func (s *Server) fanoutRegistered(env *protocol.Envelope, exceptSessionID string) int {
	delivered := 0
	for _, sess := range s.sessions.List() {
		if sess.ID == exceptSessionID || sess.State() != session.StateRegistered {
			continue
		}
		if sess.Send(env) {
			delivered++
		}
	}
	return delivered
}

// fanoutToAgents pushes to the sessions bound to the named agents.
// Unknown or disconnected ids are skipped silently; they reduce the
// delivered count, they are not errors.
func (s *Server) fanoutToAgents(env *protocol.Envelope, targets []string, exceptSessionID string) int {
	want := make(map[string]bool, len(targets))
	for _, id := range targets {
		want[id] = true
	}

	delivered := 0
	for _, sess := range s.sessions.List() {
		if sess.ID == exceptSessionID || sess.State() != session.StateRegistered {
			continue
		}
		if !want[sess.AgentID()] {
			continue
		}
		if sess.Send(env) {
			delivered++
		}
	}
	return delivered
}
