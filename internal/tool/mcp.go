package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencode-ai/agentmesh/internal/logging"
)

// MCPTransportType selects how an external MCP server is reached.
type MCPTransportType string

const (
	MCPTransportStdio  MCPTransportType = "stdio"
	MCPTransportRemote MCPTransportType = "remote"
)

// MCPConfig describes one external MCP server whose tools are proxied
// into the mesh tool table.
type MCPConfig struct {
	Type        MCPTransportType  `json:"type"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	// Timeout in milliseconds for connect and list-tools.
	Timeout int `json:"timeout,omitempty"`
}

// MCPProxy holds a session to one external MCP server. Each proxied
// tool is registered under "<server>_<tool>" with the adapter
// delegating to the remote server.
type MCPProxy struct {
	name    string
	session *sdkmcp.ClientSession
}

// ConnectMCP connects to an external MCP server and registers its
// tools into the registry. The returned proxy must be closed at server
// shutdown.
func ConnectMCP(ctx context.Context, r *Registry, name string, cfg MCPConfig) (*MCPProxy, error) {
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "agentmesh",
		Version: "1.0.0",
	}, nil)

	session, err := connectMCPTransport(ctx, client, cfg, timeout)
	if err != nil {
		return nil, err
	}

	proxy := &MCPProxy{name: name, session: session}

	listCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := session.ListTools(listCtx, nil)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("list tools on %s: %w", name, err)
	}

	log := logging.Component("mcp")
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		desc := Descriptor{
			Name:        sanitizeMCPName(name) + "_" + sanitizeMCPName(t.Name),
			Description: t.Description,
			InputSchema: schema,
		}
		r.Register(desc, proxy.adapter(t.Name))
		log.Debug().Str("server", name).Str("tool", desc.Name).Msg("proxied MCP tool")
	}
	log.Info().Str("server", name).Int("tools", len(result.Tools)).Msg("connected MCP server")

	return proxy, nil
}

func connectMCPTransport(ctx context.Context, client *sdkmcp.Client, cfg MCPConfig, timeout time.Duration) (*sdkmcp.ClientSession, error) {
	switch cfg.Type {
	case MCPTransportRemote:
		httpClient := httpClientWithHeaders(cfg.Headers)
		transports := []sdkmcp.Transport{
			&sdkmcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient},
			&sdkmcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient},
		}
		var lastErr error
		for _, transport := range transports {
			session, err := client.Connect(ctx, transport, nil)
			if err != nil {
				lastErr = err
				continue
			}
			return session, nil
		}
		return nil, fmt.Errorf("connect remote MCP server: %w", lastErr)

	case MCPTransportStdio, "":
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("stdio MCP server requires a command")
		}
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Environment {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		return client.Connect(connectCtx, &sdkmcp.CommandTransport{Command: cmd}, nil)

	default:
		return nil, fmt.Errorf("unknown MCP transport type: %s", cfg.Type)
	}
}

// adapter builds the Adapter delegating one tool call to the remote
// server. Remote tool errors come back as normal adapter errors so the
// executor reports them as {success:false}.
func (p *MCPProxy) adapter(remoteName string) Adapter {
	return AdapterFunc(func(ctx context.Context, args map[string]any) (any, error) {
		result, err := p.session.CallTool(ctx, &sdkmcp.CallToolParams{
			Name:      remoteName,
			Arguments: args,
		})
		if err != nil {
			return nil, err
		}

		var text strings.Builder
		for _, content := range result.Content {
			if tc, ok := content.(*sdkmcp.TextContent); ok {
				text.WriteString(tc.Text)
			}
		}

		if result.IsError {
			if text.Len() > 0 {
				return nil, fmt.Errorf("tool error: %s", text.String())
			}
			return nil, fmt.Errorf("tool execution failed on %s", p.name)
		}
		return text.String(), nil
	})
}

// Close terminates the session to the external server.
func (p *MCPProxy) Close() error {
	if p.session == nil {
		return nil
	}
	return p.session.Close()
}

func sanitizeMCPName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// httpClientWithHeaders wraps the default transport so every request to
// a remote MCP server carries the configured headers.
func httpClientWithHeaders(headers map[string]string) *http.Client {
	client := &http.Client{}
	if len(headers) == 0 {
		return client
	}
	client.Transport = &headerRoundTripper{headers: headers, next: http.DefaultTransport}
	return client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}
