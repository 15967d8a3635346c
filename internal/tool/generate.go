package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// GenerateBackend is the adapter for the text_generate tool. It posts
// the prompt to an external generative endpoint; the backend's own
// behavior is outside this server's contract, only the call boundary
// is ours.
type GenerateBackend struct {
	url    string
	apiKey string
	client *http.Client
}

// GenerateOptions configures the backend boundary.
type GenerateOptions struct {
	// URL of the generative endpoint.
	URL string
	// APIKeyEnv names an environment variable holding a bearer token.
	APIKeyEnv string
	// Client overrides the HTTP client, used in tests.
	Client *http.Client
}

// NewGenerateBackend creates the adapter, or nil when no URL is
// configured so the tool is simply not registered.
func NewGenerateBackend(opts GenerateOptions) *GenerateBackend {
	if opts.URL == "" {
		return nil
	}
	client := opts.Client
	if client == nil {
		// Per-invocation deadlines come from the executor's context.
		client = &http.Client{}
	}
	var apiKey string
	if opts.APIKeyEnv != "" {
		apiKey = os.Getenv(opts.APIKeyEnv)
	}
	return &GenerateBackend{url: opts.URL, apiKey: apiKey, client: client}
}

type generateRequest struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// Execute implements Adapter.
func (g *GenerateBackend) Execute(ctx context.Context, args map[string]any) (any, error) {
	prompt, ok := args["prompt"].(string)
	if !ok || prompt == "" {
		return nil, fmt.Errorf("prompt must be a non-empty string")
	}

	req := generateRequest{Prompt: prompt}
	if mt, ok := args["maxTokens"].(float64); ok {
		req.MaxTokens = int(mt)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate backend: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("generate backend: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("generate backend: status %d: %s", resp.StatusCode, data)
	}

	// Pass the backend's JSON through untouched when possible.
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return string(data), nil
	}
	return parsed, nil
}
