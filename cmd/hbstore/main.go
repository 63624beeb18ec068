// Command hbstore is this service's entry point: a cobra root command with
// serve/reconcile-once/version subcommands, wiring configuration, logging,
// the package store, catalog, probe, ingest worker, exporters, reconciler,
// scheduler, file lock, and download API together.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "hbstore",
		Short: "Content-delivery backend for a homebrew PKG store",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newReconcileOnceCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}
