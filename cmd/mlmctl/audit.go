package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiernet/internal/provider"
	"github.com/tiernet/internal/worker"
)

func init() {
	rootCmd.AddCommand(auditCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Replay the ledger and compare against stored member state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, func(ctx context.Context, c *provider.Container) error {
			report, err := worker.RunAudit(ctx, c.ReplayService)
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if !report.Clean() {
				return fmt.Errorf("ledger drift detected for %d field(s)", len(report.Drifts))
			}
			return nil
		})
	},
}
