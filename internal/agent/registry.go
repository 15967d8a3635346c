package agent

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrDuplicate means another live session already owns the agent id.
	ErrDuplicate = errors.New("agent id already registered")
	// ErrInvalidID means the agent id fails validation.
	ErrInvalidID = errors.New("invalid agent id")
	// ErrNotFound means no agent record exists for the id.
	ErrNotFound = errors.New("agent not found")
)

// Registry manages agent records. Register is the single place identity
// collisions are checked; the check-then-insert runs under one critical
// section so concurrent registrations of the same id yield exactly one
// winner.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates a new agent registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
	}
}

// Register binds an agent id to a session and returns the agent's
// dedicated context channel. A duplicate id is rejected only while the
// previous owner is still active; a disconnected record is taken over
// in place, keeping its published context history.
func (r *Registry) Register(id, agentType string, capabilities map[string]any, sessionID string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.agents[id]; ok && existing.Status == StatusActive {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	a := &Agent{
		ID:           id,
		Type:         agentType,
		Capabilities: capabilities,
		Status:       StatusActive,
		SessionID:    sessionID,
		Channel:      "agent:" + id,
		RegisteredAt: time.Now().UTC(),
	}
	r.agents[id] = a
	return a.Channel, nil
}

// Get retrieves an agent by id.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a.clone(), nil
}

// SetStatus transitions an agent's status. Flipping to disconnected
// records the transition time for retention sweeps.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	a.Status = status
	if status == StatusDisconnected {
		a.DisconnectedAt = time.Now().UTC()
	} else {
		a.DisconnectedAt = time.Time{}
	}
	return nil
}

// List returns agents matching the filter.
func (r *Registry) List(f Filter) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if f.matches(a) {
			out = append(out, a.clone())
		}
	}
	return out
}

// Len returns the total number of agent records, active or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// ActiveCount returns the number of active agents.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, a := range r.agents {
		if a.Status == StatusActive {
			n++
		}
	}
	return n
}

// Evict removes an agent record. Evicting an unknown id is a no-op.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// EvictDisconnectedBefore removes disconnected agents whose disconnect
// predates the cutoff and returns the evicted ids. Used by the
// retention janitor.
func (r *Registry) EvictDisconnectedBefore(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, a := range r.agents {
		if a.Status == StatusDisconnected && !a.DisconnectedAt.IsZero() && a.DisconnectedAt.Before(cutoff) {
			delete(r.agents, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
