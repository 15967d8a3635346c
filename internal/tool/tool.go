// Package tool provides the tool framework for the mesh: static
// descriptors, adapter registration, and the invocation executor that
// bounds every call with a timeout and converts all failure modes into
// a correlated result.
package tool

import (
	"context"
	"encoding/json"
)

// Descriptor is static tool metadata, registered once at server start
// and never mutated at runtime.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// requiredFields extracts the declared-required field names from the
// input schema. Validation is shallow: only presence of required
// fields is checked, never types or nested structure.
func (d Descriptor) requiredFields() []string {
	var schema struct {
		Required []string `json:"required"`
	}
	if len(d.InputSchema) == 0 {
		return nil
	}
	if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
		return nil
	}
	return schema.Required
}

// Adapter is the uniform contract a tool implementation satisfies. The
// implementation behind it (a generative backend, an external MCP
// server, an in-process function) is opaque to the executor.
type Adapter interface {
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, args map[string]any) (any, error)

func (f AdapterFunc) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// Result is the outcome of one invocation. Exactly one Result is
// produced per invocation, success or failure.
type Result struct {
	ToolName string `json:"toolName"`
	Success  bool   `json:"success"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}
