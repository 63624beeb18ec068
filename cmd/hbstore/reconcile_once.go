package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newReconcileOnceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-once",
		Short: "Run exactly one reconcile cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Cycle.Run(context.Background())
			if err != nil {
				return fmt.Errorf("reconcile cycle: %w", err)
			}
			if result.Skipped {
				return fmt.Errorf("reconcile cycle skipped: lock already held")
			}

			a.Log.Info("reconcile-once complete",
				"added", result.Added, "updated", result.Updated, "removed", result.Removed,
				"failed", result.Failed, "exported_files", result.ExportedFiles,
			)
			return nil
		},
	}
}
