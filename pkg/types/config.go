// Package types defines the exported configuration types for the
// agentmesh server.
package types

// Config represents the agentmesh configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Host and Port the server listens on.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// LogLevel is the minimum log level (DEBUG|INFO|WARN|ERROR).
	LogLevel string `json:"logLevel,omitempty"`
	// LogPretty enables human-readable console output.
	LogPretty bool `json:"logPretty,omitempty"`

	// ToolTimeout bounds one tool invocation, in milliseconds.
	ToolTimeout int `json:"toolTimeout,omitempty"`

	// SessionQueueSize bounds each session's outbound buffer.
	SessionQueueSize int `json:"sessionQueueSize,omitempty"`

	// Retention bounds the in-memory registries.
	Retention *RetentionConfig `json:"retention,omitempty"`

	// Audit attaches the file-backed event sink when set.
	Audit *AuditConfig `json:"audit,omitempty"`

	// Generator configures the text_generate tool backend.
	Generator *GeneratorConfig `json:"generator,omitempty"`

	// Tools enables or disables individual built-in tools by name.
	Tools map[string]bool `json:"tools,omitempty"`

	// MCP lists external MCP servers whose tools are proxied.
	MCP map[string]MCPConfig `json:"mcp,omitempty"`
}

// RetentionConfig makes in-memory retention an explicit, tunable
// contract. Zero values disable the corresponding limit.
type RetentionConfig struct {
	// ContextTTL evicts context entries older than this, in
	// milliseconds.
	ContextTTL int `json:"contextTTL,omitempty"`
	// ContextMaxPerAgent caps context entries per agent.
	ContextMaxPerAgent int `json:"contextMaxPerAgent,omitempty"`
	// AgentRetention evicts disconnected agents (and their context)
	// this long after disconnect, in milliseconds.
	AgentRetention int `json:"agentRetention,omitempty"`
	// SweepInterval is the janitor interval, in milliseconds.
	SweepInterval int `json:"sweepInterval,omitempty"`
}

// AuditConfig configures the optional persistent event sink.
type AuditConfig struct {
	// Dir is the directory the sink writes JSON documents under.
	Dir string `json:"dir"`
}

// GeneratorConfig configures the generative backend boundary.
type GeneratorConfig struct {
	URL       string `json:"url"`
	APIKeyEnv string `json:"apiKeyEnv,omitempty"`
}

// MCPConfig describes one external MCP server.
type MCPConfig struct {
	Enabled     *bool             `json:"enabled,omitempty"`
	Type        string            `json:"type,omitempty"` // "stdio" | "remote"
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}
