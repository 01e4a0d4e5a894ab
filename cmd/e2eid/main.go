// e2eid manages the E2E identity PKI environment and computes trust verdicts
// for MLS groups.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand(filepath.Base(os.Args[0])).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCommand(executable string) *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   executable,
		Short: "E2E identity trust service",
		Args:  cobra.NoArgs,
		// Errors are printed in main.
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.config, "config", "",
		"TOML configuration file (defaults are used if empty)")

	cmd.AddCommand(
		newAnchor(&flags),
		newIntermediate(&flags),
		newCRL(&flags),
		newDump(&flags),
		newReset(&flags),
		newVerify(&flags),
		newServe(&flags),
		newSampleConfig(),
	)
	return cmd
}
