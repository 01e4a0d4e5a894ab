package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scionproto/scion/pkg/log"
	"github.com/scionproto/scion/pkg/private/serrors"

	"github.com/fancl20/e2ei/pkg/config"
	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/e2ei"
	"github.com/fancl20/e2ei/pkg/group"
	"github.com/fancl20/e2ei/pkg/metrics"
	"github.com/fancl20/e2ei/pkg/pki"
	"github.com/fancl20/e2ei/pkg/trust"
)

type rootFlags struct {
	config string
}

func (f *rootFlags) load() (*config.Config, error) {
	if f.config == "" {
		return config.Default(), nil
	}
	return config.LoadFile(f.config)
}

// app bundles the components shared by the subcommands.
type app struct {
	cfg     *config.Config
	db      trust.DB
	metrics *metrics.Metrics
	mgr     *pki.Manager
}

// openApp loads the configuration, sets up logging and restores the PKI
// environment from the configured store. Metrics are registered with reg if
// it is not nil.
func openApp(ctx context.Context, flags *rootFlags, reg prometheus.Registerer) (*app, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	if err := log.Setup(cfg.Logging); err != nil {
		return nil, serrors.Join(err, nil, "op", "log setup")
	}
	db, err := cfg.General.OpenStore()
	if err != nil {
		return nil, err
	}
	m := metrics.New(reg)
	mgr := pki.NewManager(db, pki.WithMetrics(m))
	if err := mgr.Restore(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &app{
		cfg:     cfg,
		db:      db,
		metrics: m,
		mgr:     mgr,
	}, nil
}

// verifier creates a verifier with the configured certificate cache.
func (a *app) verifier(roster group.Roster) *e2ei.Verifier {
	return e2ei.NewVerifier(a.mgr, group.DefaultParser{}, roster,
		e2ei.WithEngineOptions(
			e2ei.WithParser(credential.NewParser(a.cfg.Cache.CertificateTTL.Duration)),
			e2ei.WithEngineMetrics(a.metrics),
		),
	)
}

func (a *app) Close() error {
	log.Flush()
	return a.db.Close()
}
