package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencode-ai/agentmesh/internal/agent"
	"github.com/opencode-ai/agentmesh/internal/event"
	"github.com/opencode-ai/agentmesh/internal/protocol"
	"github.com/opencode-ai/agentmesh/internal/session"
)

// dispatch routes one inbound envelope. Request types that expect a
// reply echo the caller's correlation id; state violations and unknown
// types answer with an error envelope and leave the session usable.
func (s *Server) dispatch(sess *session.Session, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeInitialize:
		s.handleInitialize(sess, env)
	case protocol.TypeAgentRegister:
		s.handleRegister(sess, env)
	case protocol.TypeContextShare:
		s.handleContextShare(sess, env)
	case protocol.TypeContextRequest:
		s.handleContextRequest(sess, env)
	case protocol.TypeToolsList:
		s.handleToolsList(sess, env)
	case protocol.TypeToolsCall:
		s.handleToolsCall(sess, env)
	case protocol.TypeAgentStatus:
		s.handleAgentStatus(sess, env)
	default:
		sess.Send(protocol.NewError(protocol.ErrCodeUnknownMessageType,
			fmt.Sprintf("unknown message type: %s", env.Type), env.ID))
	}
}

// requireRegistered rejects requests arriving before agent/register.
func (s *Server) requireRegistered(sess *session.Session, env *protocol.Envelope) bool {
	if sess.State() != session.StateRegistered {
		sess.Send(protocol.NewError(protocol.ErrCodeNotRegistered,
			"agent must register before sending "+env.Type, env.ID))
		return false
	}
	return true
}

// handleInitialize answers version negotiation. Repeated initializes
// are answered every time; the exchange is idempotent.
func (s *Server) handleInitialize(sess *session.Session, env *protocol.Envelope) {
	var data protocol.InitializeData
	if err := env.DecodeData(&data); err != nil {
		sess.Send(protocol.NewError(protocol.ErrCodeMalformed, err.Error(), env.ID))
		return
	}

	if len(data.Capabilities) > 0 {
		sess.SetCapabilities(data.Capabilities)
	}

	sess.Send(protocol.NewWithID(protocol.TypeInitializeResponse, protocol.InitializeData{
		ProtocolVersion: protocol.Version,
		Capabilities:    []string{"context_sharing", "tool_invocation", "agent_registry"},
	}, env.ID))
}

// handleRegister binds an agent identity to the session. The agent
// registry's check-then-insert is the uniqueness critical section;
// binding the session afterwards cannot race because each session's
// envelopes dispatch from a single read pump.
func (s *Server) handleRegister(sess *session.Session, env *protocol.Envelope) {
	var data protocol.RegisterData
	if err := env.DecodeData(&data); err != nil {
		sess.Send(protocol.NewError(protocol.ErrCodeMalformed, err.Error(), env.ID))
		return
	}
	if data.AgentID == "" {
		sess.Send(protocol.NewError(protocol.ErrCodeMalformed, "agentId is required", env.ID))
		return
	}
	if sess.AgentID() != "" {
		sess.Send(protocol.NewError(protocol.ErrCodeAlreadyBound,
			"session is already bound to agent "+sess.AgentID(), env.ID))
		return
	}

	channel, err := s.agents.Register(data.AgentID, data.AgentType, data.Capabilities, sess.ID)
	if err != nil {
		sess.Send(protocol.NewError(protocol.ErrCodeDuplicateAgent,
			"agent id already registered: "+data.AgentID, env.ID))
		return
	}

	if err := s.sessions.BindAgent(sess.ID, data.AgentID); err != nil {
		s.agents.Evict(data.AgentID)
		sess.Send(protocol.NewError(protocol.ErrCodeAlreadyBound, err.Error(), env.ID))
		return
	}

	// Initial context supplied at registration seeds the store, one
	// entry per key.
	for ctype, value := range data.Context {
		if payload, err := json.Marshal(value); err == nil {
			s.contexts.Publish(data.AgentID, ctype, payload, "")
		}
	}

	now := time.Now().UTC()
	sess.Send(protocol.NewWithID(protocol.TypeAgentRegistered, protocol.AgentRegisteredData{
		AgentID:   data.AgentID,
		Channel:   channel,
		Success:   true,
		Timestamp: now,
	}, env.ID))

	s.broadcastAll(protocol.New(protocol.TypeAgentUpdate, protocol.AgentUpdateData{
		AgentID:   data.AgentID,
		Action:    protocol.ActionRegistered,
		Timestamp: now,
	}), sess.ID)

	s.log.Info().Str("agent", data.AgentID).Str("type", data.AgentType).Msg("agent registered")
	s.bus.Publish(event.Event{Type: event.AgentRegistered, Data: map[string]any{
		"agentId":   data.AgentID,
		"agentType": data.AgentType,
		"sessionId": sess.ID,
	}})
}

// handleContextShare stores the payload under (publisher, contextType)
// and fans it out. Fire and forget: the publisher gets no ack, and
// unknown target ids are silently skipped.
func (s *Server) handleContextShare(sess *session.Session, env *protocol.Envelope) {
	if !s.requireRegistered(sess, env) {
		return
	}

	var data protocol.ContextShareData
	if err := env.DecodeData(&data); err != nil {
		sess.Send(protocol.NewError(protocol.ErrCodeMalformed, err.Error(), env.ID))
		return
	}
	if data.ContextType == "" {
		sess.Send(protocol.NewError(protocol.ErrCodeMalformed, "contextType is required", env.ID))
		return
	}

	fromAgent := sess.AgentID()
	entry := s.contexts.Publish(fromAgent, data.ContextType, data.ContextData, data.Priority)

	shared := protocol.New(protocol.TypeContextShared, protocol.ContextSharedData{
		FromAgent:   fromAgent,
		ContextType: data.ContextType,
		ContextData: data.ContextData,
		Priority:    data.Priority,
		Timestamp:   entry.PublishedAt,
	})

	var delivered int
	if len(data.TargetAgents) > 0 {
		delivered = s.fanoutToAgents(shared, data.TargetAgents, sess.ID)
	} else {
		delivered = s.fanoutRegistered(shared, sess.ID)
	}

	s.log.Debug().
		Str("agent", fromAgent).
		Str("contextType", data.ContextType).
		Int("delivered", delivered).
		Msg("context shared")
	s.bus.Publish(event.Event{Type: event.ContextPublished, Data: map[string]any{
		"agentId":     fromAgent,
		"contextType": data.ContextType,
		"delivered":   delivered,
	}})
}

// handleContextRequest is a point lookup. Absence answers immediately
// with found false; nothing ever waits for a future publish.
func (s *Server) handleContextRequest(sess *session.Session, env *protocol.Envelope) {
	if !s.requireRegistered(sess, env) {
		return
	}

	var data protocol.ContextRequestData
	if err := env.DecodeData(&data); err != nil {
		sess.Send(protocol.NewError(protocol.ErrCodeMalformed, err.Error(), env.ID))
		return
	}

	resp := protocol.ContextResponseData{
		ContextType: data.ContextType,
		FromAgent:   data.FromAgent,
	}
	if entry, ok := s.contexts.Get(data.FromAgent, data.ContextType); ok {
		resp.Found = true
		resp.ContextData = entry.Payload
		ts := entry.PublishedAt
		resp.Timestamp = &ts
	}

	sess.Send(protocol.NewWithID(protocol.TypeContextResponse, resp, env.ID))
}

// handleToolsList enumerates the tool table. Available before
// registration; the table is static and carries no agent state.
func (s *Server) handleToolsList(sess *session.Session, env *protocol.Envelope) {
	descriptors := s.tools.List()
	tools := make([]protocol.ToolInfo, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, protocol.ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}

	sess.Send(protocol.NewWithID(protocol.TypeToolsListResponse, protocol.ToolsListResponseData{
		Tools: tools,
	}, env.ID))
}

// handleToolsCall runs the tool on its own goroutine so a slow adapter
// never stalls this session's read pump or any other session. The
// executor produces exactly one result; the queue serializes it onto
// the wire.
func (s *Server) handleToolsCall(sess *session.Session, env *protocol.Envelope) {
	if !s.requireRegistered(sess, env) {
		return
	}

	var data protocol.ToolCallData
	if err := env.DecodeData(&data); err != nil {
		sess.Send(protocol.NewError(protocol.ErrCodeMalformed, err.Error(), env.ID))
		return
	}

	agentID := sess.AgentID()
	go func() {
		result := s.executor.Invoke(context.Background(), data.Name, data.Arguments)

		if !sess.Send(protocol.NewWithID(protocol.TypeToolsCallResponse, protocol.ToolCallResponseData{
			ToolName: result.ToolName,
			Success:  result.Success,
			Result:   result.Result,
			Error:    result.Error,
		}, env.ID)) {
			s.log.Debug().Str("tool", data.Name).Str("session", sess.ID).Msg("caller gone, tool result dropped")
		}

		s.bus.Publish(event.Event{Type: event.ToolInvoked, Data: map[string]any{
			"agentId": agentID,
			"tool":    data.Name,
			"success": result.Success,
		}})
	}()
}

// handleAgentStatus answers a registry query. Available before
// registration so a joining agent can inspect the mesh first.
func (s *Server) handleAgentStatus(sess *session.Session, env *protocol.Envelope) {
	var data protocol.AgentStatusData
	if err := env.DecodeData(&data); err != nil {
		sess.Send(protocol.NewError(protocol.ErrCodeMalformed, err.Error(), env.ID))
		return
	}

	records := s.agents.List(agent.Filter{
		Status: agent.Status(data.Status),
		Type:   data.AgentType,
	})

	agents := make([]protocol.AgentInfo, 0, len(records))
	for _, a := range records {
		agents = append(agents, protocol.AgentInfo{
			AgentID:      a.ID,
			AgentType:    a.Type,
			Status:       string(a.Status),
			Capabilities: a.Capabilities,
			RegisteredAt: a.RegisteredAt,
		})
	}

	sess.Send(protocol.NewWithID(protocol.TypeAgentStatusResponse, protocol.AgentStatusResponseData{
		Agents: agents,
		Count:  len(agents),
	}, env.ID))
}
