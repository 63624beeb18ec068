package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabiocdo/hb-store-cdn/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%+v\n", version.Get())
			return nil
		},
	}
}
