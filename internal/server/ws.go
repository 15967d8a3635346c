package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opencode-ai/agentmesh/internal/agent"
	"github.com/opencode-ai/agentmesh/internal/event"
	"github.com/opencode-ai/agentmesh/internal/protocol"
	"github.com/opencode-ai/agentmesh/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents connect from local processes and scripted clients; origin
	// checks belong to a fronting proxy when one is deployed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a websocket connection to the session transport. Writes
// are serialized with a mutex; gorilla permits at most one concurrent
// writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// handleWebSocket upgrades the connection, pushes the handshake, and
// runs the read pump until the peer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := s.sessions.Create(&wsConn{conn: conn})
	s.log.Debug().Str("session", sess.ID).Msg("session connected")
	s.bus.Publish(event.Event{Type: event.SessionCreated, Data: map[string]any{
		"sessionId": sess.ID,
	}})

	// The handshake is the first frame on every connection. The outbound
	// queue is drained by a single writer, so enqueueing here guarantees
	// ordering ahead of any response.
	sess.Send(protocol.New(protocol.TypeHandshake, protocol.HandshakeData{
		ProtocolVersion: protocol.Version,
		Capabilities:    []string{"context_sharing", "tool_invocation", "agent_registry"},
		ServerInfo: protocol.ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}))

	s.readPump(sess, conn)
}

// readPump decodes inbound frames and hands them to the router. It
// returns when the connection errors or closes, then tears the session
// down.
func (s *Server) readPump(sess *session.Session, conn *websocket.Conn) {
	defer s.teardown(sess)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("session", sess.ID).Err(err).Msg("connection dropped")
			}
			return
		}

		s.sessions.Touch(sess.ID)

		env, err := protocol.Decode(raw)
		if err != nil {
			sess.Send(protocol.NewError(protocol.ErrCodeMalformed, err.Error(), ""))
			continue
		}
		s.dispatch(sess, env)
	}
}

// teardown destroys the session and, when it was bound, flips the agent
// to disconnected and announces the departure. The agent record and its
// context history survive for late lookups.
func (s *Server) teardown(sess *session.Session) {
	agentID, destroyed := s.sessions.Destroy(sess.ID)
	if !destroyed {
		return
	}

	s.log.Debug().Str("session", sess.ID).Str("agent", agentID).Msg("session closed")
	s.bus.Publish(event.Event{Type: event.SessionClosed, Data: map[string]any{
		"sessionId": sess.ID,
		"agentId":   agentID,
	}})

	if agentID == "" {
		return
	}

	if err := s.agents.SetStatus(agentID, agent.StatusDisconnected); err != nil {
		return
	}

	s.broadcastAll(protocol.New(protocol.TypeAgentUpdate, protocol.AgentUpdateData{
		AgentID:   agentID,
		Action:    protocol.ActionDisconnected,
		Timestamp: time.Now().UTC(),
	}), sess.ID)

	s.bus.Publish(event.Event{Type: event.AgentDisconnected, Data: map[string]any{
		"agentId": agentID,
	}})
}
