package main

import (
	"github.com/spf13/cobra"

	"github.com/fancl20/e2ei/pkg/config"
)

func newSampleConfig() *cobra.Command {
	return &cobra.Command{
		Use:   "sample-config",
		Short: "Print a sample configuration file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			config.Default().Sample(cmd.OutOrStdout(), nil, nil)
		},
	}
}
