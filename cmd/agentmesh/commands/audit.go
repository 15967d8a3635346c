package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentmesh/internal/config"
	"github.com/opencode-ai/agentmesh/internal/storage"
)

var (
	auditDir   string
	auditLimit int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print the persisted audit trail",
	Long: `Read the audit sink's event documents and print them as JSON lines,
oldest first. The server writes the sink only when audit.dir is
configured.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditDir, "dir", "", "Audit directory (default from config)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "Print at most this many events (0 = all)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	dir := auditDir
	if dir == "" {
		workDir, err := GetWorkDir("")
		if err != nil {
			return err
		}
		cfg, err := config.Load(workDir)
		if err != nil {
			return err
		}
		if cfg.Audit != nil && cfg.Audit.Dir != "" {
			dir = cfg.Audit.Dir
		} else {
			dir = config.GetPaths().AuditPath()
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store := storage.New(dir)
	out := cmd.OutOrStdout()

	// Keys are ULIDs, so directory order is chronological.
	printed := 0
	err := store.Scan(ctx, []string{"events"}, func(key string, data json.RawMessage) error {
		if auditLimit > 0 && printed >= auditLimit {
			return nil
		}
		fmt.Fprintln(out, string(data))
		printed++
		return nil
	})
	if err != nil {
		return err
	}

	if printed == 0 {
		fmt.Fprintln(out, "no audit events recorded")
	}
	return nil
}
