package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/agentmesh/internal/agent"
	"github.com/opencode-ai/agentmesh/internal/contextstore"
)

// setupRoutes wires the websocket endpoint and the read-only admin API.
func (s *Server) setupRoutes() {
	s.router.Get("/ws", s.handleWebSocket)

	s.router.Get("/status", s.handleStatus)
	s.router.Get("/agents", s.handleAgents)
	s.router.Get("/tools", s.handleTools)
	s.router.Get("/contexts/{agentID}", s.handleContexts)
}

// handleStatus reports the mesh snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleAgents lists agent records, optionally filtered by query
// parameters status and type.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	filter := agent.Filter{
		Status: agent.Status(r.URL.Query().Get("status")),
		Type:   r.URL.Query().Get("type"),
	}
	agents := s.agents.List(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}

// handleTools lists the tool table.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.tools.List(),
	})
}

// handleContexts lists the context entries one agent has published.
func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "agent id is required")
		return
	}
	if _, err := s.agents.Get(agentID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown agent: "+agentID)
		return
	}

	entries := s.contexts.ListByAgent(agentID)
	if entries == nil {
		entries = []*contextstore.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agentId":  agentID,
		"contexts": entries,
	})
}
