package e2ei_test

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scionproto/scion/pkg/scrypto/cppki"

	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/e2ei"
	"github.com/fancl20/e2ei/pkg/metrics"
	"github.com/fancl20/e2ei/pkg/pki"
)

func TestVerdictEncoding(t *testing.T) {
	assert.EqualValues(t, 1, e2ei.Verified)
	assert.EqualValues(t, 2, e2ei.NotVerified)
	assert.EqualValues(t, 3, e2ei.NotEnabled)

	raw, err := json.Marshal(map[string]e2ei.Verdict{"state": e2ei.NotEnabled})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"not_enabled"}`, string(raw))

	var decoded map[string]e2ei.Verdict
	require.NoError(t, json.Unmarshal([]byte(`{"state":"verified"}`), &decoded))
	assert.Equal(t, e2ei.Verified, decoded["state"])

	var v e2ei.Verdict
	assert.Error(t, v.UnmarshalText([]byte("maybe")))
	_, err = e2ei.Verdict(9).MarshalText()
	assert.Error(t, err)
}

func TestComputeVerdictWithoutPKI(t *testing.T) {
	ctx := testCtx(t)
	f := newFixture(t)
	foreign, err := pki.NewRootAuthority("Unregistered Root", caValidity())
	require.NoError(t, err)
	valid := issue(t, foreign, "alice", leafValidity())
	expired := issue(t, foreign, "bob", cppki.Validity{
		NotBefore: testNow.Add(-48 * time.Hour),
		NotAfter:  testNow.Add(-24 * time.Hour),
	})
	e := f.engine()

	testCases := map[string]struct {
		creds []credential.Credential
		want  e2ei.Verdict
	}{
		"empty":            {want: e2ei.NotEnabled},
		"basic only":       {creds: []credential.Credential{basic("a"), basic("b")}, want: e2ei.NotEnabled},
		"unparseable only": {creds: []credential.Credential{garbage(), basic("b")}, want: e2ei.NotEnabled},
		"valid":            {creds: []credential.Credential{valid.cred}, want: e2ei.Verified},
		"expired":          {creds: []credential.Credential{expired.cred}, want: e2ei.NotVerified},
		"basic first":      {creds: []credential.Credential{basic("a"), valid.cred}, want: e2ei.NotVerified},
		"basic last":       {creds: []credential.Credential{valid.cred, basic("a")}, want: e2ei.NotVerified},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.ComputeVerdict(ctx, testCS, tc.creds, nil))
		})
	}
}

func TestComputeVerdict(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	alice, bob, carol := f.member(t, "alice"), f.member(t, "bob"), f.member(t, "carol")

	t.Run("all valid", func(t *testing.T) {
		assert.Equal(t, e2ei.Verified, f.verdict(t, alice.cred, bob.cred, carol.cred))
	})
	t.Run("unknown ciphersuite", func(t *testing.T) {
		var v e2ei.Verdict
		f.mgr.View(func(env *pki.Environment) {
			v = f.engine().ComputeVerdict(testCtx(t), credential.Ciphersuite(0x99),
				[]credential.Credential{alice.cred}, env)
		})
		assert.Equal(t, e2ei.NotVerified, v)
	})
	t.Run("invalid identity", func(t *testing.T) {
		cert, _, err := f.inter.IssueLeaf(pki.LeafParams{
			ClientID: "nodevice", Handle: "dave", Domain: testDomain,
			DisplayName: "Dave", Validity: leafValidity(),
		})
		require.NoError(t, err)
		assert.Equal(t, e2ei.NotVerified, f.verdict(t, alice.cred, credential.NewX509(cert.Raw)))
	})

	foreignRoot, err := pki.NewRootAuthority("Foreign Root", caValidity())
	require.NoError(t, err)
	bad := map[string]credential.Credential{
		"expired": issue(t, f.inter, "eve", cppki.Validity{
			NotBefore: testNow.Add(-48 * time.Hour),
			NotAfter:  testNow.Add(-time.Minute),
		}).cred,
		"not yet valid": issue(t, f.inter, "eve", cppki.Validity{
			NotBefore: testNow.Add(time.Hour),
			NotAfter:  testNow.Add(2 * time.Hour),
		}).cred,
		"foreign chain": issue(t, foreignRoot, "eve", leafValidity()).cred,
		"basic":         basic("eve"),
		"unparseable":   garbage(),
	}
	for name, c := range bad {
		for pos := 0; pos < 3; pos++ {
			t.Run(fmt.Sprintf("%s at %d", name, pos), func(t *testing.T) {
				creds := slices.Insert([]credential.Credential{alice.cred, bob.cred}, pos, c)
				assert.Equal(t, e2ei.NotVerified, f.verdict(t, creds...))
			})
		}
	}
}

// TestComputeVerdictOrderIndependent checks that the early exits never change
// the verdict: every ordering of every small group gives the same result.
func TestComputeVerdictOrderIndependent(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	foreignRoot, err := pki.NewRootAuthority("Foreign Root", caValidity())
	require.NoError(t, err)

	kinds := []struct {
		name  string
		cred  credential.Credential
		x509  bool
		valid bool
	}{
		{name: "basic", cred: basic("b")},
		{name: "unparseable", cred: garbage()},
		{name: "valid", cred: f.member(t, "alice").cred, x509: true, valid: true},
		{name: "expired", cred: issue(t, f.inter, "bob", cppki.Validity{
			NotBefore: testNow.Add(-48 * time.Hour),
			NotAfter:  testNow.Add(-time.Hour),
		}).cred, x509: true},
		{name: "foreign", cred: issue(t, foreignRoot, "carol", leafValidity()).cred, x509: true},
	}

	e := f.engine()
	ctx := testCtx(t)
	var walk func(idx []int)
	walk = func(idx []int) {
		if len(idx) > 0 {
			creds := make([]credential.Credential, 0, len(idx))
			names := make([]string, 0, len(idx))
			anyX509, allValid := false, true
			for _, i := range idx {
				creds = append(creds, kinds[i].cred)
				names = append(names, kinds[i].name)
				anyX509 = anyX509 || kinds[i].x509
				allValid = allValid && kinds[i].valid
			}
			want := e2ei.NotVerified
			switch {
			case !anyX509:
				want = e2ei.NotEnabled
			case allValid:
				want = e2ei.Verified
			}
			var got e2ei.Verdict
			f.mgr.View(func(env *pki.Environment) {
				got = e.ComputeVerdict(ctx, testCS, creds, env)
			})
			if got != want {
				t.Errorf("%s: got %v, want %v", strings.Join(names, ","), got, want)
			}
		}
		if len(idx) == 4 {
			return
		}
		for i := range kinds {
			walk(append(idx, i))
		}
	}
	walk(nil)
}

func TestExpiryTransition(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	alice := issue(t, f.inter, "alice", cppki.Validity{
		NotBefore: testNow.Add(-time.Hour),
		NotAfter:  testNow.Add(time.Hour),
	})

	assert.Equal(t, e2ei.Verified, f.verdict(t, alice.cred))
	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, e2ei.NotVerified, f.verdict(t, alice.cred))

	f.mgr.View(func(env *pki.Environment) {
		assert.True(t, testNow.Add(2*time.Hour).Equal(env.TimeOfInterest()))
	})
}

func TestRevocationScenario(t *testing.T) {
	ctx := testCtx(t)
	f := newFixture(t)
	f.setup(t)
	alice := f.member(t, "alice")

	empty, err := f.inter.IssueCRL(testNow.Add(-time.Minute), testNow.Add(24*time.Hour))
	require.NoError(t, err)
	reg, err := f.mgr.RegisterCRL(ctx, testDP, empty)
	require.NoError(t, err)
	assert.False(t, reg.Dirty)
	assert.Equal(t, e2ei.Verified, f.verdict(t, alice.cred))

	revoked, err := f.inter.IssueCRL(testNow, testNow.Add(24*time.Hour), alice.cert)
	require.NoError(t, err)
	reg, err = f.mgr.RegisterCRL(ctx, testDP, revoked)
	require.NoError(t, err)
	assert.True(t, reg.Dirty)
	assert.True(t, testNow.Add(24*time.Hour).Equal(reg.Expiration), "expiration %v", reg.Expiration)
	assert.Equal(t, e2ei.NotVerified, f.verdict(t, alice.cred))

	bob := f.member(t, "bob")
	assert.Equal(t, e2ei.Verified, f.verdict(t, bob.cred))
	assert.Equal(t, e2ei.NotVerified, f.verdict(t, bob.cred, alice.cred))
}

func TestSecondAnchorDoesNotAffectVerdict(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	alice := f.member(t, "alice")

	other, err := pki.NewRootAuthority("Other Root", caValidity())
	require.NoError(t, err)
	err = f.mgr.RegisterTrustAnchor(testCtx(t), other.PEM())
	assert.ErrorIs(t, err, pki.ErrAlreadyRegistered)

	assert.Equal(t, e2ei.Verified, f.verdict(t, alice.cred))
	assert.Equal(t, e2ei.NotVerified, f.verdict(t, issue(t, other, "bob", leafValidity()).cred))
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	e := e2ei.NewEngine(e2ei.WithEngineMetrics(metrics.New(reg)))
	ctx := testCtx(t)

	e.ComputeVerdict(ctx, testCS, []credential.Credential{basic("a")}, nil)
	e.ComputeVerdict(ctx, testCS, []credential.Credential{garbage()}, nil)

	count, err := testutil.GatherAndCount(reg, "e2ei_verdicts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPackageComputeVerdict(t *testing.T) {
	assert.Equal(t, e2ei.NotEnabled, e2ei.ComputeVerdict(testCtx(t), testCS, nil, nil))
}
