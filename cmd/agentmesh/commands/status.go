package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentmesh/internal/config"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running agentmesh server",
	Long:  `Fetch the mesh snapshot from a running server's admin API.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "Server base URL (default from config)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	baseURL := statusURL
	if baseURL == "" {
		workDir, err := GetWorkDir("")
		if err != nil {
			return err
		}
		cfg, err := config.Load(workDir)
		if err != nil {
			return err
		}
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/status")
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var snapshot map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}
