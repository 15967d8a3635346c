package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentmesh/internal/config"
	"github.com/opencode-ai/agentmesh/internal/logging"
	"github.com/opencode-ai/agentmesh/internal/server"
	"github.com/opencode-ai/agentmesh/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
	serveNoCORS   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentmesh server",
	Long: `Start the mesh server. Agent processes connect over the websocket
endpoint at /ws; a read-only admin API is served over HTTP alongside.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false, "Disable CORS on the admin API")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	applyLogConfig(appConfig)

	serverConfig := server.DefaultConfig()
	serverConfig.Host = appConfig.Host
	serverConfig.Port = appConfig.Port
	serverConfig.EnableCORS = !serveNoCORS
	if serveHostname != "" {
		serverConfig.Host = serveHostname
	}
	if servePort != 0 {
		serverConfig.Port = servePort
	}

	srv := server.New(serverConfig, appConfig)

	ctx := context.Background()
	srv.InitializeMCP(ctx)
	srv.StartJanitors()

	// Config edits apply the log level without a restart; everything
	// else needs one.
	watcher, err := config.NewWatcher(workDir, func(cfg *types.Config) {
		applyLogConfig(cfg)
	})
	if err != nil {
		logging.Warn().Err(err).Msg("config watcher unavailable")
	}
	if watcher != nil {
		watcher.Start()
		defer watcher.Stop()
	}

	go func() {
		logging.Info().
			Str("host", serverConfig.Host).
			Int("port", serverConfig.Port).
			Str("version", Version).
			Msg("agentmesh server starting")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}

// applyLogConfig lets the config file raise or lower the level under
// the flag default.
func applyLogConfig(cfg *types.Config) {
	if cfg.LogLevel != "" {
		logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	}
}
