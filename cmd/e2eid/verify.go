package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/e2ei"
)

var verdictColors = map[e2ei.Verdict]*color.Color{
	e2ei.Verified:    color.New(color.FgGreen, color.Bold),
	e2ei.NotVerified: color.New(color.FgRed, color.Bold),
	e2ei.NotEnabled:  color.New(color.FgYellow),
}

func newVerify(flags *rootFlags) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "verify [--strict] <descriptor-file>",
		Short: "Compute the trust verdict of a group descriptor",
		Long: `Compute the trust verdict of a group descriptor before joining.

By default the check is best effort: a descriptor that cannot be parsed or
authenticated is reported as not_verified. With --strict such a descriptor is
an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return run(cmd, flags, func(ctx context.Context, a *app) error {
				v := a.verifier(nil)
				var verdict e2ei.Verdict
				if strict {
					verdict, err = v.CredentialInUse(ctx, raw, credential.X509)
				} else {
					verdict, err = v.VerifyGroupState(ctx, raw)
				}
				if err != nil {
					return err
				}
				printVerdict(cmd.OutOrStdout(), verdict)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on descriptors that do not authenticate")
	return cmd
}

func printVerdict(w io.Writer, v e2ei.Verdict) {
	c, ok := verdictColors[v]
	if !ok {
		fmt.Fprintln(w, v)
		return
	}
	c.Fprintln(w, v)
}
