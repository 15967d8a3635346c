// Package contextstore holds the most recently published context
// payload per (agent, context type) key. Publishing the same key
// overwrites the previous value; lookups are immediate and never wait
// for a future publish.
package contextstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opencode-ai/agentmesh/internal/logging"
)

// Entry is the current context payload for one (agent, type) key.
type Entry struct {
	AgentID     string          `json:"agentId"`
	ContextType string          `json:"contextType"`
	Payload     json.RawMessage `json:"payload"`
	Priority    string          `json:"priority,omitempty"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// Options bound the store. Zero values disable the corresponding limit,
// which matches the unbounded behavior of a short-lived deployment; the
// limits exist so long-running deployments can cap retention explicitly.
type Options struct {
	// TTL evicts entries older than this on janitor sweeps.
	TTL time.Duration
	// MaxPerAgent caps entries per agent; publishing past the cap
	// evicts that agent's oldest entry.
	MaxPerAgent int
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]map[string]*Entry // agentID -> contextType -> entry
	opts    Options
}

// New creates a context store with the given retention options.
func New(opts Options) *Store {
	return &Store{
		entries: make(map[string]map[string]*Entry),
		opts:    opts,
	}
}

// Publish records the current payload for (agentID, contextType),
// replacing any previous value. Last write wins; there is no
// versioning.
func (s *Store) Publish(agentID, contextType string, payload json.RawMessage, priority string) *Entry {
	entry := &Entry{
		AgentID:     agentID,
		ContextType: contextType,
		Payload:     payload,
		Priority:    priority,
		PublishedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byType, ok := s.entries[agentID]
	if !ok {
		byType = make(map[string]*Entry)
		s.entries[agentID] = byType
	}

	_, replacing := byType[contextType]
	if !replacing && s.opts.MaxPerAgent > 0 && len(byType) >= s.opts.MaxPerAgent {
		s.evictOldestLocked(byType)
	}
	byType[contextType] = entry
	return entry
}

// Get returns the most recent entry for (agentID, contextType).
func (s *Store) Get(agentID, contextType string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[agentID][contextType]
	return entry, ok
}

// ListByAgent returns all current entries published by one agent.
func (s *Store) ListByAgent(agentID string) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byType := s.entries[agentID]
	out := make([]*Entry, 0, len(byType))
	for _, e := range byType {
		out = append(out, e)
	}
	return out
}

// Len returns the total number of current entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, byType := range s.entries {
		n += len(byType)
	}
	return n
}

// EvictAgent drops all entries published by an agent.
func (s *Store) EvictAgent(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, agentID)
}

// EvictExpired removes entries older than the TTL and returns how many
// were dropped. A zero TTL disables expiry.
func (s *Store) EvictExpired() int {
	if s.opts.TTL <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-s.opts.TTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for agentID, byType := range s.entries {
		for ctype, e := range byType {
			if e.PublishedAt.Before(cutoff) {
				delete(byType, ctype)
				dropped++
			}
		}
		if len(byType) == 0 {
			delete(s.entries, agentID)
		}
	}
	return dropped
}

// StartJanitor sweeps expired entries on the given interval until the
// context is canceled.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.opts.TTL <= 0 {
		return
	}

	log := logging.Component("janitor")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.EvictExpired(); n > 0 {
					log.Debug().Int("evicted", n).Msg("context entries expired")
				}
			}
		}
	}()
}

// evictOldestLocked drops the oldest entry of one agent's map. Caller
// holds the write lock.
func (s *Store) evictOldestLocked(byType map[string]*Entry) {
	var oldestKey string
	var oldest time.Time
	for k, e := range byType {
		if oldestKey == "" || e.PublishedAt.Before(oldest) {
			oldestKey = k
			oldest = e.PublishedAt
		}
	}
	if oldestKey != "" {
		delete(byType, oldestKey)
	}
}
