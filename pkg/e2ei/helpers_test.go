package e2ei_test

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scionproto/scion/pkg/log"
	"github.com/scionproto/scion/pkg/log/testlog"
	"github.com/scionproto/scion/pkg/scrypto/cppki"

	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/e2ei"
	"github.com/fancl20/e2ei/pkg/group"
	"github.com/fancl20/e2ei/pkg/pki"
	"github.com/fancl20/e2ei/pkg/trust"
	"github.com/fancl20/e2ei/pkg/trust/impl/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testDomain = "wire.example"
	testDP     = "https://acme.wire.example/crl/intermediate"
	testCS     = credential.MLS128DHKEMX25519AES128GCMSHA256Ed25519
)

func caValidity() cppki.Validity {
	return cppki.Validity{NotBefore: testNow.Add(-time.Hour), NotAfter: testNow.Add(365 * 24 * time.Hour)}
}

func leafValidity() cppki.Validity {
	return cppki.Validity{NotBefore: testNow.Add(-time.Hour), NotAfter: testNow.Add(24 * time.Hour)}
}

// clock is a manually advanced clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type member struct {
	cert *x509.Certificate
	key  ed25519.PrivateKey
	cred credential.Credential
}

func (m member) node() *group.LeafNode {
	return &group.LeafNode{Credential: m.cred, SignatureKey: m.key.Public().(ed25519.PublicKey)}
}

type fixture struct {
	root  *pki.Authority
	inter *pki.Authority
	db    trust.DB
	clock *clock
	mgr   *pki.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDB(t, memory.New())
}

func newFixtureWithDB(t *testing.T, db trust.DB) *fixture {
	t.Helper()
	root, err := pki.NewRootAuthority("Wire Test Root", caValidity())
	require.NoError(t, err)
	inter, err := root.NewIntermediate("Wire Test Intermediate", caValidity(), testDP)
	require.NoError(t, err)
	f := &fixture{
		root:  root,
		inter: inter,
		db:    db,
		clock: &clock{now: testNow},
	}
	f.mgr = pki.NewManager(db, pki.WithClock(f.clock.Now))
	return f
}

func testCtx(t *testing.T) context.Context {
	return log.CtxWith(context.Background(), testlog.NewLogger(t))
}

// setup registers the root and the intermediate.
func (f *fixture) setup(t *testing.T) {
	t.Helper()
	require.NoError(t, f.mgr.RegisterTrustAnchor(testCtx(t), f.root.PEM()))
	_, err := f.mgr.RegisterIntermediatePEM(testCtx(t), f.inter.PEM())
	require.NoError(t, err)
}

func (f *fixture) engine() *e2ei.Engine {
	return e2ei.NewEngine(e2ei.WithEngineClock(f.clock.Now))
}

// verdict computes the verdict of creds against the active environment.
func (f *fixture) verdict(t *testing.T, creds ...credential.Credential) e2ei.Verdict {
	t.Helper()
	e := f.engine()
	var v e2ei.Verdict
	f.mgr.View(func(env *pki.Environment) {
		v = e.ComputeVerdict(testCtx(t), testCS, creds, env)
	})
	return v
}

func issue(t *testing.T, ca *pki.Authority, handle string, validity cppki.Validity) member {
	t.Helper()
	cert, key, err := ca.IssueLeaf(pki.LeafParams{
		ClientID:    handle + "_wire!1",
		Handle:      handle,
		Domain:      testDomain,
		DisplayName: handle,
		Validity:    validity,
	})
	require.NoError(t, err)
	return member{cert: cert, key: key, cred: credential.NewX509(cert.Raw)}
}

func (f *fixture) member(t *testing.T, handle string) member {
	t.Helper()
	return issue(t, f.inter, handle, leafValidity())
}

func basic(name string) credential.Credential {
	return credential.NewBasic([]byte(name))
}

func garbage() credential.Credential {
	return credential.NewX509([]byte("not a certificate"))
}
