package tool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoRegistry() *Registry {
	r := NewRegistry()
	r.Register(Descriptor{
		Name:        "echo",
		Description: "Echo the input back.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
	}, AdapterFunc(func(ctx context.Context, args map[string]any) (any, error) {
		return args["message"], nil
	}))
	return r
}

func TestExecutor_Invoke_Success(t *testing.T) {
	e := NewExecutor(echoRegistry(), time.Second)

	result := e.Invoke(context.Background(), "echo", map[string]any{"message": "hi"})
	assert.True(t, result.Success)
	assert.Equal(t, "echo", result.ToolName)
	assert.Equal(t, "hi", result.Result)
	assert.Empty(t, result.Error)
}

func TestExecutor_Invoke_UnknownTool(t *testing.T) {
	e := NewExecutor(echoRegistry(), time.Second)

	result := e.Invoke(context.Background(), "bogus", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "Unknown tool: bogus", result.Error)
}

func TestExecutor_Invoke_MissingRequiredField(t *testing.T) {
	e := NewExecutor(echoRegistry(), time.Second)

	result := e.Invoke(context.Background(), "echo", map[string]any{"other": 1})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "message")
}

func TestExecutor_Invoke_AdapterError(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "fail"}, AdapterFunc(func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("backend unavailable")
	}))
	e := NewExecutor(r, time.Second)

	result := e.Invoke(context.Background(), "fail", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "backend unavailable", result.Error)
}

func TestExecutor_Invoke_PanicRecovered(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "boom"}, AdapterFunc(func(ctx context.Context, args map[string]any) (any, error) {
		panic("kaboom")
	}))
	e := NewExecutor(r, time.Second)

	result := e.Invoke(context.Background(), "boom", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "kaboom")
}

func TestExecutor_Invoke_Timeout(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "slow"}, AdapterFunc(func(ctx context.Context, args map[string]any) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	e := NewExecutor(r, 50*time.Millisecond)

	start := time.Now()
	result := e.Invoke(context.Background(), "slow", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutor_Invoke_TimeoutIgnoringContext(t *testing.T) {
	// An adapter that never checks its context still cannot hang the
	// invocation.
	r := NewRegistry()
	block := make(chan struct{})
	defer close(block)
	r.Register(Descriptor{Name: "stuck"}, AdapterFunc(func(ctx context.Context, args map[string]any) (any, error) {
		<-block
		return nil, nil
	}))
	e := NewExecutor(r, 50*time.Millisecond)

	result := e.Invoke(context.Background(), "stuck", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
}

func TestExecutor_Invoke_ConcurrentOneResultEach(t *testing.T) {
	e := NewExecutor(echoRegistry(), time.Second)

	var wg sync.WaitGroup
	results := make([]Result, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Invoke(context.Background(), "echo", map[string]any{"message": i})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.True(t, res.Success, "invocation %d failed: %s", i, res.Error)
	}
}

func TestRegistry_List_Sorted(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "zeta"}, AdapterFunc(nil))
	r.Register(Descriptor{Name: "alpha"}, AdapterFunc(nil))
	r.Register(Descriptor{Name: "mid"}, AdapterFunc(nil))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "mid", list[1].Name)
	assert.Equal(t, "zeta", list[2].Name)
}

func TestDescriptor_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		want   []string
	}{
		{"with required", `{"type":"object","required":["a","b"]}`, []string{"a", "b"}},
		{"no required", `{"type":"object","properties":{}}`, nil},
		{"empty schema", ``, nil},
		{"invalid schema", `not json`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Descriptor{Name: "x", InputSchema: json.RawMessage(tt.schema)}
			assert.Equal(t, tt.want, d.requiredFields())
		})
	}
}
