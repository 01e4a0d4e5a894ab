package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scionproto/scion/pkg/log"
	"github.com/scionproto/scion/pkg/private/serrors"
)

// run opens the app, calls f and closes the app again.
func run(cmd *cobra.Command, flags *rootFlags, f func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, flags, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	defer log.HandlePanic()
	return f(ctx, a)
}

func newAnchor(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "anchor <pem-file>",
		Short: "Register the trust anchor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return run(cmd, flags, func(ctx context.Context, a *app) error {
				if err := a.mgr.RegisterTrustAnchor(ctx, string(raw)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Trust anchor registered")
				return nil
			})
		},
	}
}

func newIntermediate(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "intermediate <pem-file>",
		Short: "Register an intermediate CA and print its CRL distribution points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return run(cmd, flags, func(ctx context.Context, a *app) error {
				dps, err := a.mgr.RegisterIntermediatePEM(ctx, string(raw))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if dps == nil {
					fmt.Fprintln(out, "Certificate is the trust anchor, skipped")
					return nil
				}
				for _, dp := range dps {
					fmt.Fprintln(out, dp)
				}
				return nil
			})
		},
	}
}

func newCRL(flags *rootFlags) *cobra.Command {
	var dp string
	cmd := &cobra.Command{
		Use:   "crl --dp <url> <crl-file>",
		Short: "Register a CRL fetched from a distribution point",
		Long: `Register a CRL fetched from a distribution point.

The file can be DER or PEM encoded. The expiration of the CRL and whether it
changed the set of revoked certificates is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dp == "" {
				return serrors.New("--dp must be set")
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			return run(cmd, flags, func(ctx context.Context, a *app) error {
				reg, err := a.mgr.RegisterCRL(ctx, dp, raw)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if reg.Expiration.IsZero() {
					fmt.Fprintln(out, "Expiration: none")
				} else {
					fmt.Fprintf(out, "Expiration: %s\n", reg.Expiration.UTC().Format("2006-01-02T15:04:05Z"))
				}
				fmt.Fprintf(out, "Dirty:      %t\n", reg.Dirty)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dp, "dp", "", "distribution point the CRL was fetched from")
	return cmd
}

func newDump(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the active PKI environment as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd, flags, func(ctx context.Context, a *app) error {
				env, err := a.mgr.Dump(ctx)
				if err != nil {
					return err
				}
				if env == nil {
					return serrors.New("no PKI environment configured")
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "    ")
				return enc.Encode(env)
			})
		},
	}
}

func newReset(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove all PKI material from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd, flags, func(ctx context.Context, a *app) error {
				return a.mgr.Reset(ctx)
			})
		},
	}
}
