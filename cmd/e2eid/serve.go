package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scionproto/scion/pkg/log"
	"github.com/scionproto/scion/pkg/private/serrors"

	"github.com/fancl20/e2ei/pkg/group"
	"github.com/fancl20/e2ei/pkg/service"
)

const selfSignedValidity = 7 * 24 * time.Hour

func newServe(flags *rootFlags) *cobra.Command {
	var caOut string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the PKI and verification services over HTTP/3",
		Long: `Serve the PKI and verification services over HTTP/3.

If no TLS certificate is configured a self-signed one is generated. Use
--ca-out to write the generated CA so that clients can trust it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := openApp(ctx, flags, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer a.Close()
			defer log.HandlePanic()
			return serve(ctx, a, caOut)
		},
	}
	cmd.Flags().StringVar(&caOut, "ca-out", "",
		"file the self-signed CA certificate is written to")
	return cmd
}

func serve(ctx context.Context, a *app, caOut string) error {
	logger := log.FromCtx(ctx)
	cfg := a.cfg.Service

	tlsConfig, err := serverTLSConfig(cfg.Address, cfg.CertFile, cfg.KeyFile, caOut)
	if err != nil {
		return err
	}
	handler := service.NewHandler(a.mgr, a.verifier(group.NewMemoryRoster()))
	srv := service.NewServer(cfg.Address, tlsConfig, handler)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer log.HandlePanic()
		logger.Info("Starting service", "address", cfg.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return serrors.Join(err, nil, "address", cfg.Address)
		}
		return nil
	})
	g.Go(func() error {
		defer log.HandlePanic()
		<-ctx.Done()
		return srv.Close()
	})

	if addr := a.cfg.Metrics.Prometheus; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			defer log.HandlePanic()
			logger.Info("Exporting prometheus metrics", "address", addr)
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return serrors.Join(err, nil, "prometheus", addr)
			}
			return nil
		})
		g.Go(func() error {
			defer log.HandlePanic()
			<-ctx.Done()
			return metricsSrv.Close()
		})
	}

	err = g.Wait()
	logger.Info("Service stopped")
	return err
}

func serverTLSConfig(addr, certFile, keyFile, caOut string) (*tls.Config, error) {
	if certFile != "" {
		return service.LoadTLSConfig(certFile, keyFile)
	}
	cfg, ca, err := service.SelfSignedTLSConfig(addr, selfSignedValidity)
	if err != nil {
		return nil, err
	}
	if caOut != "" {
		if err := os.WriteFile(caOut, []byte(ca.PEM()), 0o644); err != nil {
			return nil, serrors.Join(err, nil, "file", caOut)
		}
	}
	return cfg, nil
}
