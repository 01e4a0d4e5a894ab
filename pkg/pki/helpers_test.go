package pki_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scionproto/scion/pkg/log"
	"github.com/scionproto/scion/pkg/log/testlog"
	"github.com/scionproto/scion/pkg/scrypto/cppki"

	"github.com/fancl20/e2ei/pkg/pki"
	"github.com/fancl20/e2ei/pkg/trust"
	"github.com/fancl20/e2ei/pkg/trust/impl/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testDP = "https://acme.wire.example/crl/intermediate"

func testValidity() cppki.Validity {
	return cppki.Validity{
		NotBefore: testNow.Add(-time.Hour),
		NotAfter:  testNow.Add(30 * 24 * time.Hour),
	}
}

type fixture struct {
	root  *pki.Authority
	inter *pki.Authority
	db    *memory.DB
	mgr   *pki.Manager
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root, err := pki.NewRootAuthority("Wire Test Root", testValidity())
	if err != nil {
		t.Fatalf("NewRootAuthority failed: %v", err)
	}
	inter, err := root.NewIntermediate("Wire Test Intermediate", testValidity(), testDP)
	if err != nil {
		t.Fatalf("NewIntermediate failed: %v", err)
	}
	f := &fixture{
		root:  root,
		inter: inter,
		db:    memory.New(),
		now:   testNow,
	}
	f.mgr = pki.NewManager(f.db, pki.WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) ctx(t *testing.T) context.Context {
	return log.CtxWith(context.Background(), testlog.NewLogger(t))
}

func (f *fixture) setup(t *testing.T) {
	t.Helper()
	if err := f.mgr.RegisterTrustAnchor(f.ctx(t), f.root.PEM()); err != nil {
		t.Fatalf("RegisterTrustAnchor failed: %v", err)
	}
	if _, err := f.mgr.RegisterIntermediatePEM(f.ctx(t), f.inter.PEM()); err != nil {
		t.Fatalf("RegisterIntermediatePEM failed: %v", err)
	}
}

// failingDB fails listing CRLs once armed, which breaks every rebuild.
type failingDB struct {
	trust.DB
	failCRLs bool
}

var errInjected = errors.New("injected storage failure")

func (db *failingDB) CRLs(ctx context.Context) ([]trust.CRL, error) {
	if db.failCRLs {
		return nil, errInjected
	}
	return db.DB.CRLs(ctx)
}
