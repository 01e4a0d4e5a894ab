package pki_test

import (
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/fancl20/e2ei/pkg/pki"
)

func buildEnv(t *testing.T, f *fixture, crls map[string][]byte) *pki.Environment {
	t.Helper()
	key, err := pki.SKIAKIPair(f.inter.Certificate)
	if err != nil {
		t.Fatalf("SKIAKIPair failed: %v", err)
	}
	parsed := make(map[string]*x509.RevocationList, len(crls))
	for dp, der := range crls {
		crl, err := pki.DecodeCRL(der)
		if err != nil {
			t.Fatalf("DecodeCRL failed: %v", err)
		}
		parsed[dp] = crl
	}
	env, err := pki.Build(pki.EnvironmentParams{
		TrustAnchor:    f.root.Certificate,
		Intermediates:  map[string]*x509.Certificate{key: f.inter.Certificate},
		CRLs:           parsed,
		TimeOfInterest: testNow,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return env
}

func TestBuildWithoutAnchor(t *testing.T) {
	_, err := pki.Build(pki.EnvironmentParams{TimeOfInterest: testNow})
	if !errors.Is(err, pki.ErrNotSetup) {
		t.Errorf("expected ErrNotSetup, got %v", err)
	}
}

func TestValidateCertAndRevocation(t *testing.T) {
	f := newFixture(t)
	leaf, _, err := f.inter.IssueLeaf(pki.LeafParams{
		ClientID: "bob!2", Handle: "bob", Domain: "wire.example",
		DisplayName: "Bob", Validity: testValidity(),
	})
	if err != nil {
		t.Fatalf("IssueLeaf failed: %v", err)
	}

	t.Run("Valid", func(t *testing.T) {
		env := buildEnv(t, f, nil)
		if err := env.ValidateCertAndRevocation(leaf); err != nil {
			t.Errorf("ValidateCertAndRevocation failed: %v", err)
		}
		if env.IsRevoked(leaf) {
			t.Error("leaf must not be revoked")
		}
	})
	t.Run("Time of interest after expiry", func(t *testing.T) {
		env := buildEnv(t, f, nil)
		env.SetTimeOfInterest(testNow.Add(365 * 24 * time.Hour))
		err := env.ValidateCertAndRevocation(leaf)
		if !errors.Is(err, pki.ErrValidationFailed) {
			t.Errorf("expected ErrValidationFailed, got %v", err)
		}
	})
	t.Run("Revoked leaf", func(t *testing.T) {
		crl, err := f.inter.IssueCRL(testNow, testNow.Add(time.Hour), leaf)
		if err != nil {
			t.Fatalf("IssueCRL failed: %v", err)
		}
		env := buildEnv(t, f, map[string][]byte{testDP: crl})
		if !env.IsRevoked(leaf) {
			t.Error("leaf should be revoked")
		}
		err = env.ValidateCertAndRevocation(leaf)
		if !errors.Is(err, pki.ErrValidationFailed) {
			t.Errorf("expected ErrValidationFailed, got %v", err)
		}
	})
	t.Run("Revoked intermediate", func(t *testing.T) {
		crl, err := f.root.IssueCRL(testNow, testNow.Add(time.Hour), f.inter.Certificate)
		if err != nil {
			t.Fatalf("IssueCRL failed: %v", err)
		}
		env := buildEnv(t, f, map[string][]byte{"https://root.example/crl": crl})
		if env.IsRevoked(leaf) {
			t.Error("leaf itself is not listed")
		}
		err = env.ValidateCertAndRevocation(leaf)
		if !errors.Is(err, pki.ErrValidationFailed) {
			t.Errorf("a revoked issuer must invalidate the chain, got %v", err)
		}
	})
	t.Run("Serial listed by a different issuer", func(t *testing.T) {
		other, err := f.root.NewIntermediate("Sibling", testValidity())
		if err != nil {
			t.Fatalf("NewIntermediate failed: %v", err)
		}
		crl, err := other.IssueCRL(testNow, testNow.Add(time.Hour), leaf)
		if err != nil {
			t.Fatalf("IssueCRL failed: %v", err)
		}
		env := buildEnv(t, f, map[string][]byte{testDP: crl})
		if err := env.ValidateCertAndRevocation(leaf); err != nil {
			t.Errorf("CRL of an unknown issuer must be ignored: %v", err)
		}
	})
}

func TestValidateCRL(t *testing.T) {
	f := newFixture(t)
	env := buildEnv(t, f, nil)

	for name, issuer := range map[string]*pki.Authority{"root": f.root, "intermediate": f.inter} {
		t.Run(name, func(t *testing.T) {
			der, err := issuer.IssueCRL(testNow, testNow.Add(time.Hour))
			if err != nil {
				t.Fatalf("IssueCRL failed: %v", err)
			}
			crl, err := pki.DecodeCRL(der)
			if err != nil {
				t.Fatalf("DecodeCRL failed: %v", err)
			}
			if err := env.ValidateCRL(crl); err != nil {
				t.Errorf("ValidateCRL failed: %v", err)
			}
		})
	}
	t.Run("unknown issuer", func(t *testing.T) {
		other, err := pki.NewRootAuthority("Other Root", testValidity())
		if err != nil {
			t.Fatalf("NewRootAuthority failed: %v", err)
		}
		der, err := other.IssueCRL(testNow, testNow.Add(time.Hour))
		if err != nil {
			t.Fatalf("IssueCRL failed: %v", err)
		}
		crl, err := pki.DecodeCRL(der)
		if err != nil {
			t.Fatalf("DecodeCRL failed: %v", err)
		}
		if err := env.ValidateCRL(crl); !errors.Is(err, pki.ErrValidationFailed) {
			t.Errorf("expected ErrValidationFailed, got %v", err)
		}
	})
}

func TestDecodeCRLPEM(t *testing.T) {
	f := newFixture(t)
	der, err := f.root.IssueCRL(testNow, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("IssueCRL failed: %v", err)
	}
	crl, err := pki.DecodeCRL(der)
	if err != nil {
		t.Fatalf("DecodeCRL(DER) failed: %v", err)
	}
	fromPEM, err := pki.DecodeCRL([]byte(pki.EncodeCRLPEM(crl)))
	if err != nil {
		t.Fatalf("DecodeCRL(PEM) failed: %v", err)
	}
	if string(fromPEM.Raw) != string(der) {
		t.Error("PEM round trip is not lossless")
	}
	if _, err := pki.DecodeCRL([]byte(f.root.PEM())); !errors.Is(err, pki.ErrMalformedInput) {
		t.Errorf("certificate PEM must be rejected as CRL, got %v", err)
	}
}
