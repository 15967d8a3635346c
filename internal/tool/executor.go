package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/opencode-ai/agentmesh/internal/logging"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single tool invocation when no override is
// configured.
const DefaultTimeout = 30 * time.Second

// Executor resolves tool names against the registry and runs adapters
// under a per-invocation timeout. Every failure mode — unknown tool,
// missing required argument, adapter error, panic, timeout — resolves
// to a Result, never to a dropped or duplicated response.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	log      zerolog.Logger
}

// NewExecutor creates an executor. A non-positive timeout falls back to
// DefaultTimeout.
func NewExecutor(registry *Registry, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		registry: registry,
		timeout:  timeout,
		log:      logging.Component("executor"),
	}
}

// Invoke runs a tool by name with the caller-supplied arguments and
// returns exactly one Result.
func (e *Executor) Invoke(ctx context.Context, name string, args map[string]any) Result {
	desc, adapter, ok := e.registry.Get(name)
	if !ok {
		return Result{ToolName: name, Success: false, Error: fmt.Sprintf("Unknown tool: %s", name)}
	}

	for _, field := range desc.requiredFields() {
		if _, present := args[field]; !present {
			return Result{ToolName: name, Success: false, Error: fmt.Sprintf("missing required argument: %s", field)}
		}
	}

	invokeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	value, err := e.run(invokeCtx, adapter, args)
	elapsed := time.Since(started)

	if err != nil {
		e.log.Debug().
			Str("tool", name).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("tool invocation failed")
		return Result{ToolName: name, Success: false, Error: err.Error()}
	}

	e.log.Debug().
		Str("tool", name).
		Dur("elapsed", elapsed).
		Msg("tool invocation completed")
	return Result{ToolName: name, Success: true, Result: value}
}

// run executes the adapter on its own goroutine so a stuck adapter
// cannot outlive the timeout, and recovers panics into errors.
func (e *Executor) run(ctx context.Context, adapter Adapter, args map[string]any) (value any, err error) {
	type outcome struct {
		value any
		err   error
	}
	// Buffered so an adapter finishing after the timeout does not leak
	// a blocked goroutine.
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		v, err := adapter.Execute(ctx, args)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("tool execution timed out after %s", e.timeout)
		}
		return nil, ctx.Err()
	}
}
