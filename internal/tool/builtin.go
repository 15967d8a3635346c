package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/agentmesh/internal/contextstore"
)

// builtinDescriptors is the declarative table of built-in tools. The
// table is the single source for tools/list; schemas live here, not in
// per-tool literals.
var builtinDescriptors = map[string]Descriptor{
	"mesh_status": {
		Name:        "mesh_status",
		Description: "Report a read-only snapshot of the mesh: connected agents, live sessions, stored contexts and channels.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	},
	"context_summary": {
		Name:        "context_summary",
		Description: "Summarize the context entries currently published by one agent.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"agentId":{"type":"string","description":"Agent whose context to summarize"}},"required":["agentId"]}`),
	},
	"text_generate": {
		Name:        "text_generate",
		Description: "Generate text through the configured generative backend.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"prompt":{"type":"string","description":"Prompt to send to the backend"},"maxTokens":{"type":"integer","description":"Upper bound on generated tokens"}},"required":["prompt"]}`),
	},
}

// SnapshotFunc supplies the mesh_status payload; the server provides it
// so the tool package does not depend on the server.
type SnapshotFunc func() any

// RegisterBuiltins wires the built-in adapters into a registry.
// backend may be nil, in which case text_generate is not registered.
func RegisterBuiltins(r *Registry, snapshot SnapshotFunc, store *contextstore.Store, backend *GenerateBackend) {
	r.Register(builtinDescriptors["mesh_status"], AdapterFunc(func(ctx context.Context, args map[string]any) (any, error) {
		return snapshot(), nil
	}))

	r.Register(builtinDescriptors["context_summary"], newContextSummaryAdapter(store))

	if backend != nil {
		r.Register(builtinDescriptors["text_generate"], backend)
	}
}

// newContextSummaryAdapter builds the digest of one agent's published
// context entries.
func newContextSummaryAdapter(store *contextstore.Store) Adapter {
	return AdapterFunc(func(ctx context.Context, args map[string]any) (any, error) {
		agentID, ok := args["agentId"].(string)
		if !ok || agentID == "" {
			return nil, fmt.Errorf("agentId must be a non-empty string")
		}

		entries := store.ListByAgent(agentID)
		summary := map[string]any{
			"agentId": agentID,
			"count":   len(entries),
		}
		types := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			types = append(types, map[string]any{
				"contextType": e.ContextType,
				"priority":    e.Priority,
				"publishedAt": e.PublishedAt,
				"sizeBytes":   len(e.Payload),
			})
		}
		summary["entries"] = types
		return summary, nil
	})
}
