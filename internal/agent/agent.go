// Package agent provides the registry of logical agents participating
// in the mesh. An agent is identity, not transport: it weakly references
// its owning session and outlives a disconnect so that context published
// by a departed agent stays queryable until eviction.
package agent

import (
	"time"
)

// Status is the lifecycle status of an agent.
type Status string

const (
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
)

// Agent is a logical participant registered on the mesh.
type Agent struct {
	ID           string         `json:"agentId"`
	Type         string         `json:"agentType,omitempty"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
	Status       Status         `json:"status"`
	// SessionID is a lookup key into the session registry, not an
	// ownership pointer. It names the last session the agent was bound
	// to and goes stale when that session closes.
	SessionID      string    `json:"sessionId,omitempty"`
	Channel        string    `json:"channel"`
	RegisteredAt   time.Time `json:"registeredAt"`
	DisconnectedAt time.Time `json:"disconnectedAt,omitzero"`
}

// clone returns a copy safe to hand out past the registry lock.
func (a *Agent) clone() *Agent {
	c := *a
	if a.Capabilities != nil {
		c.Capabilities = make(map[string]any, len(a.Capabilities))
		for k, v := range a.Capabilities {
			c.Capabilities[k] = v
		}
	}
	return &c
}

// Filter selects agents in List. Zero value matches everything.
type Filter struct {
	Status Status
	Type   string
}

func (f Filter) matches(a *Agent) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	return true
}
