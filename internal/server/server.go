// Package server hosts the mesh: the HTTP listener, the websocket
// endpoint agents connect through, the message router, and the
// read-only admin API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentmesh/internal/agent"
	"github.com/opencode-ai/agentmesh/internal/contextstore"
	"github.com/opencode-ai/agentmesh/internal/event"
	"github.com/opencode-ai/agentmesh/internal/logging"
	"github.com/opencode-ai/agentmesh/internal/session"
	"github.com/opencode-ai/agentmesh/internal/tool"
	"github.com/opencode-ai/agentmesh/pkg/types"
)

// ServerName identifies this server in the handshake.
const ServerName = "agentmesh"

// ServerVersion is reported in the handshake and /status.
const ServerVersion = "1.0.0"

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         8700,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout; websocket connections are long-lived
	}
}

// Server owns the registries and routes every inbound envelope.
type Server struct {
	config    *Config
	appConfig *types.Config
	router    *chi.Mux
	httpSrv   *http.Server

	sessions *session.Registry
	agents   *agent.Registry
	contexts *contextstore.Store
	tools    *tool.Registry
	executor *tool.Executor
	bus      *event.Bus
	audit    *auditSink

	mcpProxies []*tool.MCPProxy

	janitorCancel context.CancelFunc

	log zerolog.Logger
}

// New creates a server from the application config. Collaborator
// backends (audit sink, generative backend, MCP servers) attach only
// when configured.
func New(cfg *Config, appConfig *types.Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if appConfig == nil {
		appConfig = &types.Config{}
	}

	retention := contextstore.Options{}
	if r := appConfig.Retention; r != nil {
		retention.TTL = time.Duration(r.ContextTTL) * time.Millisecond
		retention.MaxPerAgent = r.ContextMaxPerAgent
	}

	s := &Server{
		config:    cfg,
		appConfig: appConfig,
		router:    chi.NewRouter(),
		sessions:  session.NewRegistry(appConfig.SessionQueueSize),
		agents:    agent.NewRegistry(),
		contexts:  contextstore.New(retention),
		tools:     tool.NewRegistry(),
		bus:       event.NewBus(),
		log:       logging.Component("server"),
	}

	toolTimeout := time.Duration(appConfig.ToolTimeout) * time.Millisecond
	s.executor = tool.NewExecutor(s.tools, toolTimeout)

	s.registerTools()

	if appConfig.Audit != nil && appConfig.Audit.Dir != "" {
		s.audit = newAuditSink(appConfig.Audit.Dir)
		s.audit.attach(s.bus)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// registerTools fills the tool table from the built-in set, honoring
// per-tool enable flags from config.
func (s *Server) registerTools() {
	var backend *tool.GenerateBackend
	if g := s.appConfig.Generator; g != nil {
		backend = tool.NewGenerateBackend(tool.GenerateOptions{
			URL:       g.URL,
			APIKeyEnv: g.APIKeyEnv,
		})
	}

	staging := tool.NewRegistry()
	tool.RegisterBuiltins(staging, s.Snapshot, s.contexts, backend)

	for _, desc := range staging.List() {
		if enabled, ok := s.appConfig.Tools[desc.Name]; ok && !enabled {
			continue
		}
		_, adapter, _ := staging.Get(desc.Name)
		s.tools.Register(desc, adapter)
	}
}

// InitializeMCP connects configured MCP servers and proxies their tools
// into the tool table. Individual server failures are logged and
// skipped, never fatal.
func (s *Server) InitializeMCP(ctx context.Context) {
	for name, cfg := range s.appConfig.MCP {
		if cfg.Enabled != nil && !*cfg.Enabled {
			continue
		}
		proxy, err := tool.ConnectMCP(ctx, s.tools, name, tool.MCPConfig{
			Type:        tool.MCPTransportType(cfg.Type),
			URL:         cfg.URL,
			Headers:     cfg.Headers,
			Command:     cfg.Command,
			Environment: cfg.Environment,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			s.log.Warn().Str("server", name).Err(err).Msg("MCP server unavailable")
			continue
		}
		s.mcpProxies = append(s.mcpProxies, proxy)
	}
}

// StartJanitors launches the retention sweepers. They stop when the
// server shuts down.
func (s *Server) StartJanitors() {
	ctx, cancel := context.WithCancel(context.Background())
	s.janitorCancel = cancel

	r := s.appConfig.Retention
	if r == nil {
		return
	}

	interval := time.Duration(r.SweepInterval) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}

	s.contexts.StartJanitor(ctx, interval)

	agentRetention := time.Duration(r.AgentRetention) * time.Millisecond
	if agentRetention > 0 {
		go s.sweepDisconnected(ctx, interval, agentRetention)
	}
}

// sweepDisconnected evicts long-disconnected agents together with their
// context history.
func (s *Server) sweepDisconnected(ctx context.Context, interval, retention time.Duration) {
	log := logging.Component("janitor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.agents.EvictDisconnectedBefore(time.Now().Add(-retention))
			for _, id := range evicted {
				s.contexts.EvictAgent(id)
			}
			if len(evicted) > 0 {
				log.Debug().Int("evicted", len(evicted)).Msg("disconnected agents evicted")
			}
		}
	}
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the listener, closes every session and detaches the
// collaborator backends.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.sessions.CloseAll()
	for _, proxy := range s.mcpProxies {
		proxy.Close()
	}
	if s.janitorCancel != nil {
		s.janitorCancel()
	}
	if s.audit != nil {
		s.audit.detach()
	}
	s.bus.Close()
	return err
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Snapshot reports the mesh's current shape. Serves /status and the
// mesh_status tool.
func (s *Server) Snapshot() any {
	return map[string]any{
		"server":          ServerName,
		"version":         ServerVersion,
		"isRunning":       true,
		"host":            s.config.Host,
		"port":            s.config.Port,
		"connectedAgents": s.agents.ActiveCount(),
		"activeSessions":  s.sessions.Len(),
		"contexts":        s.contexts.Len(),
		"channels":        s.agents.Len(),
		"tools":           s.tools.Len(),
	}
}
