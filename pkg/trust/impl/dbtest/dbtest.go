package dbtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/fancl20/e2ei/pkg/trust"
)

var (
	// DefaultTimeout is the default timeout for running the test harness.
	DefaultTimeout = 5 * time.Second
)

// Config holds the configuration for the trust database testing harness.
type Config struct {
	Timeout time.Duration
}

// InitDefaults initializes the default values for the config.
func (cfg *Config) InitDefaults() {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
}

// TestableDB extends the trust db interface with methods that are needed for testing.
type TestableDB interface {
	trust.DB
	// Prepare should reset the internal state so that the db is empty and is ready to be tested.
	Prepare(*testing.T, context.Context)
}

// Run should be used to test any implementation of the trust.DB interface.
// An implementation interface should at least have one test method that calls
// this test-suite.
func Run(t *testing.T, db TestableDB, cfg Config) {
	cfg.InitDefaults()
	tests := map[string]func(*testing.T, trust.DB, Config){
		"test trust anchor":  testTrustAnchor,
		"test intermediates": testIntermediates,
		"test CRLs":          testCRLs,
		"test wipe":          testWipe,
	}
	// Run test suite on DB directly.
	for name, test := range tests {
		t.Run("DB: "+name, func(t *testing.T) {
			ctx, cancelF := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancelF()
			db.Prepare(t, ctx)
			test(t, db, cfg)
			db.Close()
		})
	}
}

func testTrustAnchor(t *testing.T, db trust.DB, cfg Config) {
	ctx, cancelF := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancelF()

	t.Run("Empty", func(t *testing.T) {
		_, err := db.TrustAnchor(ctx)
		if !errors.Is(err, trust.ErrNotFound) {
			t.Errorf("TrustAnchor on empty DB: got %v, want ErrNotFound", err)
		}
		if err := db.RemoveTrustAnchor(ctx); err != nil {
			t.Errorf("RemoveTrustAnchor on empty DB failed: %v", err)
		}
	})
	t.Run("Save and find", func(t *testing.T) {
		ta := trust.TrustAnchor{Content: []byte("root-1")}
		if err := db.SaveTrustAnchor(ctx, ta); err != nil {
			t.Fatalf("SaveTrustAnchor failed: %v", err)
		}
		got, err := db.TrustAnchor(ctx)
		if err != nil {
			t.Fatalf("TrustAnchor failed: %v", err)
		}
		if !cmp.Equal(ta, got) {
			t.Errorf("TrustAnchor mismatch (-want +got):\n%s", cmp.Diff(ta, got))
		}
	})
	t.Run("Save replaces", func(t *testing.T) {
		ta := trust.TrustAnchor{Content: []byte("root-2")}
		if err := db.SaveTrustAnchor(ctx, ta); err != nil {
			t.Fatalf("SaveTrustAnchor failed: %v", err)
		}
		got, err := db.TrustAnchor(ctx)
		if err != nil {
			t.Fatalf("TrustAnchor failed: %v", err)
		}
		if !cmp.Equal(ta, got) {
			t.Errorf("TrustAnchor mismatch (-want +got):\n%s", cmp.Diff(ta, got))
		}
	})
	t.Run("Save empty", func(t *testing.T) {
		if err := db.SaveTrustAnchor(ctx, trust.TrustAnchor{}); err == nil {
			t.Error("SaveTrustAnchor should reject an empty anchor")
		}
	})
	t.Run("Remove", func(t *testing.T) {
		if err := db.RemoveTrustAnchor(ctx); err != nil {
			t.Fatalf("RemoveTrustAnchor failed: %v", err)
		}
		if _, err := db.TrustAnchor(ctx); !errors.Is(err, trust.ErrNotFound) {
			t.Errorf("TrustAnchor after remove: got %v, want ErrNotFound", err)
		}
	})
}

func testIntermediates(t *testing.T, db trust.DB, cfg Config) {
	ctx, cancelF := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancelF()

	b := trust.IntermediateCert{SKIAKIPair: "bb:aa", Content: []byte("inter-b")}
	a := trust.IntermediateCert{SKIAKIPair: "aa:aa", Content: []byte("inter-a")}

	t.Run("Empty", func(t *testing.T) {
		if _, err := db.Intermediate(ctx, a.SKIAKIPair); !errors.Is(err, trust.ErrNotFound) {
			t.Errorf("Intermediate on empty DB: got %v, want ErrNotFound", err)
		}
		certs, err := db.Intermediates(ctx)
		if err != nil {
			t.Fatalf("Intermediates failed: %v", err)
		}
		if len(certs) != 0 {
			t.Errorf("Intermediates on empty DB returned %d entries", len(certs))
		}
	})
	t.Run("Save and list ordered", func(t *testing.T) {
		for _, c := range []trust.IntermediateCert{b, a} {
			if err := db.SaveIntermediate(ctx, c); err != nil {
				t.Fatalf("SaveIntermediate(%s) failed: %v", c.SKIAKIPair, err)
			}
		}
		certs, err := db.Intermediates(ctx)
		if err != nil {
			t.Fatalf("Intermediates failed: %v", err)
		}
		want := []trust.IntermediateCert{a, b}
		if !cmp.Equal(want, certs) {
			t.Errorf("Intermediates mismatch (-want +got):\n%s", cmp.Diff(want, certs))
		}
		got, err := db.Intermediate(ctx, b.SKIAKIPair)
		if err != nil {
			t.Fatalf("Intermediate failed: %v", err)
		}
		if !cmp.Equal(b, got) {
			t.Errorf("Intermediate mismatch (-want +got):\n%s", cmp.Diff(b, got))
		}
	})
	t.Run("Upsert", func(t *testing.T) {
		updated := trust.IntermediateCert{SKIAKIPair: a.SKIAKIPair, Content: []byte("inter-a2")}
		if err := db.SaveIntermediate(ctx, updated); err != nil {
			t.Fatalf("SaveIntermediate failed: %v", err)
		}
		certs, err := db.Intermediates(ctx)
		if err != nil {
			t.Fatalf("Intermediates failed: %v", err)
		}
		want := []trust.IntermediateCert{updated, b}
		if !cmp.Equal(want, certs) {
			t.Errorf("Intermediates mismatch (-want +got):\n%s", cmp.Diff(want, certs))
		}
	})
	t.Run("Save invalid", func(t *testing.T) {
		if err := db.SaveIntermediate(ctx, trust.IntermediateCert{Content: []byte("x")}); err == nil {
			t.Error("SaveIntermediate should reject a missing key")
		}
	})
	t.Run("Remove", func(t *testing.T) {
		if err := db.RemoveIntermediate(ctx, b.SKIAKIPair); err != nil {
			t.Fatalf("RemoveIntermediate failed: %v", err)
		}
		if _, err := db.Intermediate(ctx, b.SKIAKIPair); !errors.Is(err, trust.ErrNotFound) {
			t.Errorf("Intermediate after remove: got %v, want ErrNotFound", err)
		}
		certs, err := db.Intermediates(ctx)
		if err != nil {
			t.Fatalf("Intermediates failed: %v", err)
		}
		if len(certs) != 1 {
			t.Errorf("expected 1 intermediate after remove, got %d", len(certs))
		}
	})
}

func testCRLs(t *testing.T, db trust.DB, cfg Config) {
	ctx, cancelF := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancelF()

	dp1 := trust.CRL{DistributionPoint: "https://acme.example.com/crl/1", Content: []byte("crl-1")}
	dp2 := trust.CRL{DistributionPoint: "https://acme.example.com/crl/2", Content: []byte("crl-2")}

	t.Run("Empty", func(t *testing.T) {
		if _, err := db.CRL(ctx, dp1.DistributionPoint); !errors.Is(err, trust.ErrNotFound) {
			t.Errorf("CRL on empty DB: got %v, want ErrNotFound", err)
		}
	})
	t.Run("Save and list ordered", func(t *testing.T) {
		for _, c := range []trust.CRL{dp2, dp1} {
			if err := db.SaveCRL(ctx, c); err != nil {
				t.Fatalf("SaveCRL(%s) failed: %v", c.DistributionPoint, err)
			}
		}
		crls, err := db.CRLs(ctx)
		if err != nil {
			t.Fatalf("CRLs failed: %v", err)
		}
		want := []trust.CRL{dp1, dp2}
		if !cmp.Equal(want, crls) {
			t.Errorf("CRLs mismatch (-want +got):\n%s", cmp.Diff(want, crls))
		}
	})
	t.Run("Replace same distribution point", func(t *testing.T) {
		replaced := trust.CRL{DistributionPoint: dp1.DistributionPoint, Content: []byte("crl-1-next")}
		if err := db.SaveCRL(ctx, replaced); err != nil {
			t.Fatalf("SaveCRL failed: %v", err)
		}
		got, err := db.CRL(ctx, dp1.DistributionPoint)
		if err != nil {
			t.Fatalf("CRL failed: %v", err)
		}
		if !cmp.Equal(replaced, got) {
			t.Errorf("CRL mismatch (-want +got):\n%s", cmp.Diff(replaced, got))
		}
		crls, err := db.CRLs(ctx)
		if err != nil {
			t.Fatalf("CRLs failed: %v", err)
		}
		if len(crls) != 2 {
			t.Errorf("expected 2 CRLs after replacement, got %d", len(crls))
		}
	})
	t.Run("Save invalid", func(t *testing.T) {
		if err := db.SaveCRL(ctx, trust.CRL{DistributionPoint: "x"}); err == nil {
			t.Error("SaveCRL should reject a CRL without content")
		}
	})
	t.Run("Remove", func(t *testing.T) {
		if err := db.RemoveCRL(ctx, dp2.DistributionPoint); err != nil {
			t.Fatalf("RemoveCRL failed: %v", err)
		}
		if _, err := db.CRL(ctx, dp2.DistributionPoint); !errors.Is(err, trust.ErrNotFound) {
			t.Errorf("CRL after remove: got %v, want ErrNotFound", err)
		}
	})
}

func testWipe(t *testing.T, db trust.DB, cfg Config) {
	ctx, cancelF := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancelF()

	if err := db.SaveTrustAnchor(ctx, trust.TrustAnchor{Content: []byte("root")}); err != nil {
		t.Fatalf("SaveTrustAnchor failed: %v", err)
	}
	if err := db.SaveIntermediate(ctx, trust.IntermediateCert{SKIAKIPair: "a:b", Content: []byte("i")}); err != nil {
		t.Fatalf("SaveIntermediate failed: %v", err)
	}
	if err := db.SaveCRL(ctx, trust.CRL{DistributionPoint: "dp", Content: []byte("c")}); err != nil {
		t.Fatalf("SaveCRL failed: %v", err)
	}
	if err := db.Wipe(ctx); err != nil {
		t.Fatalf("Wipe failed: %v", err)
	}
	if _, err := db.TrustAnchor(ctx); !errors.Is(err, trust.ErrNotFound) {
		t.Errorf("TrustAnchor after wipe: got %v, want ErrNotFound", err)
	}
	certs, err := db.Intermediates(ctx)
	if err != nil {
		t.Fatalf("Intermediates failed: %v", err)
	}
	crls, err := db.CRLs(ctx)
	if err != nil {
		t.Fatalf("CRLs failed: %v", err)
	}
	if len(certs) != 0 || len(crls) != 0 {
		t.Errorf("expected empty DB after wipe, got %d intermediates and %d CRLs", len(certs), len(crls))
	}
	// The DB must remain usable.
	if err := db.SaveCRL(ctx, trust.CRL{DistributionPoint: "dp", Content: []byte("c")}); err != nil {
		t.Errorf("SaveCRL after wipe failed: %v", err)
	}
}
