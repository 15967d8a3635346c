package protocol

import (
	"encoding/json"
	"time"
)

// Message types recognized by the router. Client-to-server request
// types use the slash form; server-emitted types use the snake form.
const (
	TypeHandshake           = "handshake"
	TypeInitialize          = "initialize"
	TypeInitializeResponse  = "initialize_response"
	TypeAgentRegister       = "agent/register"
	TypeAgentRegistered     = "agent_registered"
	TypeContextShare        = "context/share"
	TypeContextShared       = "context_shared"
	TypeContextRequest      = "context/request"
	TypeContextResponse     = "context_response"
	TypeToolsList           = "tools/list"
	TypeToolsListResponse   = "tools_list_response"
	TypeToolsCall           = "tools/call"
	TypeToolsCallResponse   = "tools_call_response"
	TypeAgentStatus         = "agent/status"
	TypeAgentStatusResponse = "agent_status_response"
	TypeAgentUpdate         = "agent_update"
	TypeError               = "error"
)

// Error codes carried in error envelopes.
const (
	ErrCodeNotRegistered      = "NOT_REGISTERED"
	ErrCodeAlreadyBound       = "ALREADY_BOUND"
	ErrCodeDuplicateAgent     = "DUPLICATE_AGENT"
	ErrCodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	ErrCodeMalformed          = "MALFORMED"
)

// Agent update actions pushed to all live sessions.
const (
	ActionRegistered   = "registered"
	ActionDisconnected = "disconnected"
)

// ServerInfo identifies the server in the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HandshakeData is pushed to every connection immediately on connect.
type HandshakeData struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    []string   `json:"capabilities"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// InitializeData re-confirms version negotiation. The server answers
// every initialize, even repeated ones.
type InitializeData struct {
	ProtocolVersion string   `json:"protocolVersion"`
	Capabilities    []string `json:"capabilities,omitempty"`
}

// RegisterData binds an agent identity to the sending session.
type RegisterData struct {
	AgentID      string         `json:"agentId"`
	AgentType    string         `json:"agentType,omitempty"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// AgentRegisteredData confirms a successful registration and carries
// the agent's dedicated context channel.
type AgentRegisteredData struct {
	AgentID   string    `json:"agentId"`
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextShareData publishes a context payload. When TargetAgents is
// empty the payload goes to every active agent except the publisher.
type ContextShareData struct {
	ContextType  string          `json:"contextType"`
	ContextData  json.RawMessage `json:"contextData"`
	TargetAgents []string        `json:"targetAgents,omitempty"`
	Priority     string          `json:"priority,omitempty"`
}

// ContextSharedData is the payload pushed to share recipients.
type ContextSharedData struct {
	FromAgent   string          `json:"fromAgent"`
	ContextType string          `json:"contextType"`
	ContextData json.RawMessage `json:"contextData"`
	Priority    string          `json:"priority,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ContextRequestData is a point lookup for the most recent context a
// given agent published under a type.
type ContextRequestData struct {
	ContextType string `json:"contextType"`
	FromAgent   string `json:"fromAgent"`
}

// ContextResponseData reports the lookup result. Absence is reported
// immediately with Found false, never awaited.
type ContextResponseData struct {
	ContextType string          `json:"contextType"`
	FromAgent   string          `json:"fromAgent"`
	Found       bool            `json:"found"`
	ContextData json.RawMessage `json:"contextData"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
}

// ToolInfo describes one entry of the static tool table.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolsListResponseData enumerates the tool table.
type ToolsListResponseData struct {
	Tools []ToolInfo `json:"tools"`
}

// ToolCallData invokes a named tool.
type ToolCallData struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResponseData is the single correlated answer to a tools/call,
// success or failure.
type ToolCallResponseData struct {
	ToolName string `json:"toolName"`
	Success  bool   `json:"success"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AgentStatusData carries optional query filters for agent/status.
type AgentStatusData struct {
	Status    string `json:"status,omitempty"`
	AgentType string `json:"agentType,omitempty"`
}

// AgentInfo is one agent in a status response.
type AgentInfo struct {
	AgentID      string         `json:"agentId"`
	AgentType    string         `json:"agentType,omitempty"`
	Status       string         `json:"status"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
	RegisteredAt time.Time      `json:"registeredAt"`
}

// AgentStatusResponseData answers an agent/status query.
type AgentStatusResponseData struct {
	Agents []AgentInfo `json:"agents"`
	Count  int         `json:"count"`
}

// AgentUpdateData is pushed to all live sessions when an agent joins or
// leaves the mesh.
type AgentUpdateData struct {
	AgentID   string    `json:"agentId"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorData is the payload of an error envelope.
type ErrorData struct {
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
