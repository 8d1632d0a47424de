package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muxd/dispatchd/internal/audit"
	"github.com/muxd/dispatchd/pkg/config"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the failed-request audit ledger",
	Long: `List requests the dispatcher recorded as abandoned while in
upstream-failed mode. Requires audit.enabled in the configuration.`,
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if !cfg.Audit.Enabled {
		return fmt.Errorf("audit ledger is not enabled in configuration")
	}

	ledger, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("failed to open audit ledger: %w", err)
	}
	defer ledger.Close()

	entries, err := ledger.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list audit ledger: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("no failed requests recorded")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  cookie=%d connection=%d listener=%s packet_len=%d reason=%q\n",
			e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Cookie, e.ConnectionID, e.Listener, e.PacketLen, e.Reason)
	}

	return nil
}
