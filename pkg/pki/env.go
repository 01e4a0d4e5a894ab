package pki

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/scionproto/scion/pkg/private/serrors"
	"github.com/scionproto/scion/pkg/scrypto/cppki"

	"github.com/fancl20/e2ei/pkg/trust"
)

// EnvironmentParams holds the material an Environment is built from.
type EnvironmentParams struct {
	TrustAnchor *x509.Certificate
	// Intermediates maps the SKI:AKI key to the intermediate certificate.
	Intermediates map[string]*x509.Certificate
	// CRLs maps the distribution point to the revocation list.
	CRLs           map[string]*x509.RevocationList
	TimeOfInterest time.Time
}

type fingerprint [sha256.Size]byte

// Environment is the in-memory validation context. It is immutable apart
// from its time of interest, which can be moved concurrently.
type Environment struct {
	anchor           *x509.Certificate
	intermediateKeys []string
	intermediates    map[string]*x509.Certificate
	crlKeys          []string
	crls             map[string]*x509.RevocationList

	roots *x509.CertPool
	pool  *x509.CertPool
	// revoked holds the revoked serial numbers per issuing CA.
	revoked map[fingerprint]map[string]struct{}

	timeOfInterest atomic.Int64
}

// Build creates a validation context from the given material.
func Build(params EnvironmentParams) (*Environment, error) {
	if params.TrustAnchor == nil {
		return nil, serrors.Join(ErrNotSetup, nil)
	}
	e := &Environment{
		anchor:           params.TrustAnchor,
		intermediateKeys: slices.Sorted(maps.Keys(params.Intermediates)),
		intermediates:    maps.Clone(params.Intermediates),
		crlKeys:          slices.Sorted(maps.Keys(params.CRLs)),
		crls:             maps.Clone(params.CRLs),
		roots:            x509.NewCertPool(),
		pool:             x509.NewCertPool(),
		revoked:          make(map[fingerprint]map[string]struct{}),
	}
	if e.intermediates == nil {
		e.intermediates = map[string]*x509.Certificate{}
	}
	if e.crls == nil {
		e.crls = map[string]*x509.RevocationList{}
	}
	e.roots.AddCert(e.anchor)
	for _, k := range e.intermediateKeys {
		e.pool.AddCert(e.intermediates[k])
	}
	for _, dp := range e.crlKeys {
		crl := e.crls[dp]
		issuer := e.crlIssuer(crl)
		if issuer == nil {
			// Issuer no longer known. The CRL is kept for the dump but has no
			// effect on revocation.
			continue
		}
		fp := fingerprint(sha256.Sum256(issuer.Raw))
		serials, ok := e.revoked[fp]
		if !ok {
			serials = make(map[string]struct{})
			e.revoked[fp] = serials
		}
		for _, entry := range crl.RevokedCertificateEntries {
			serials[entry.SerialNumber.String()] = struct{}{}
		}
	}
	e.SetTimeOfInterest(params.TimeOfInterest)
	return e, nil
}

// Restore builds the validation context from the content of db. It returns
// nil and no error if no trust anchor is stored.
func Restore(ctx context.Context, db trust.DB, now time.Time) (*Environment, error) {
	ta, err := db.TrustAnchor(ctx)
	if errors.Is(err, trust.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, serrors.Join(err, nil, "entity", "trust_anchor")
	}
	anchor, err := DecodeCertificateDER(ta.Content)
	if err != nil {
		return nil, serrors.Join(err, nil, "entity", "trust_anchor")
	}

	stored, err := db.Intermediates(ctx)
	if err != nil {
		return nil, serrors.Join(err, nil, "entity", "intermediates")
	}
	intermediates := make(map[string]*x509.Certificate, len(stored))
	for _, c := range stored {
		cert, err := DecodeCertificateDER(c.Content)
		if err != nil {
			return nil, serrors.Join(err, nil, "ski_aki", c.SKIAKIPair)
		}
		intermediates[c.SKIAKIPair] = cert
	}

	storedCRLs, err := db.CRLs(ctx)
	if err != nil {
		return nil, serrors.Join(err, nil, "entity", "crls")
	}
	crls := make(map[string]*x509.RevocationList, len(storedCRLs))
	for _, c := range storedCRLs {
		crl, err := DecodeCRL(c.Content)
		if err != nil {
			return nil, serrors.Join(err, nil, "distribution_point", c.DistributionPoint)
		}
		crls[c.DistributionPoint] = crl
	}

	return Build(EnvironmentParams{
		TrustAnchor:    anchor,
		Intermediates:  intermediates,
		CRLs:           crls,
		TimeOfInterest: now,
	})
}

// TimeOfInterest returns the reference time of all validity checks.
func (e *Environment) TimeOfInterest() time.Time {
	return time.Unix(0, e.timeOfInterest.Load())
}

// SetTimeOfInterest moves the reference time. It is safe to call while the
// environment is shared.
func (e *Environment) SetTimeOfInterest(t time.Time) {
	e.timeOfInterest.Store(t.UnixNano())
}

// TrustAnchor returns the root certificate.
func (e *Environment) TrustAnchor() *x509.Certificate {
	return e.anchor
}

// Intermediates returns the intermediate certificates ordered by SKI:AKI key.
func (e *Environment) Intermediates() []*x509.Certificate {
	certs := make([]*x509.Certificate, 0, len(e.intermediateKeys))
	for _, k := range e.intermediateKeys {
		certs = append(certs, e.intermediates[k])
	}
	return certs
}

// CRLs returns the revocation lists ordered by distribution point.
func (e *Environment) CRLs() []*x509.RevocationList {
	crls := make([]*x509.RevocationList, 0, len(e.crlKeys))
	for _, k := range e.crlKeys {
		crls = append(crls, e.crls[k])
	}
	return crls
}

// ValidateCertAndRevocation checks that cert chains to the trust anchor through
// the registered intermediates at the time of interest, and that no
// certificate of the chain below the anchor is revoked by its issuer.
func (e *Environment) ValidateCertAndRevocation(cert *x509.Certificate) error {
	toi := e.TimeOfInterest()
	chains, err := cert.Verify(x509.VerifyOptions{
		Roots:         e.roots,
		Intermediates: e.pool,
		CurrentTime:   toi,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return serrors.Join(ErrValidationFailed, err,
			"subject", cert.Subject.String(), "time_of_interest", toi)
	}
	for _, chain := range chains {
		for i := 0; i+1 < len(chain); i++ {
			if e.revokedBy(chain[i], chain[i+1]) {
				return serrors.Join(ErrValidationFailed, nil,
					"reason", "certificate revoked",
					"subject", chain[i].Subject.String(),
					"serial", chain[i].SerialNumber.String())
			}
		}
	}
	return nil
}

// ValidateCRL checks that the CRL is signed by the trust anchor or a
// registered intermediate, and that the signing CA is itself valid.
func (e *Environment) ValidateCRL(crl *x509.RevocationList) error {
	issuer := e.crlIssuer(crl)
	if issuer == nil {
		return serrors.Join(ErrValidationFailed, nil,
			"reason", "CRL issuer unknown", "issuer", crl.Issuer.String())
	}
	if err := e.ValidateCertAndRevocation(issuer); err != nil {
		return serrors.Join(ErrValidationFailed, err,
			"reason", "CRL issuer invalid", "issuer", crl.Issuer.String())
	}
	return nil
}

// IsRevoked reports whether cert is listed on a CRL of a known issuer.
func (e *Environment) IsRevoked(cert *x509.Certificate) bool {
	for _, ca := range e.cas() {
		if !bytes.Equal(ca.RawSubject, cert.RawIssuer) {
			continue
		}
		if e.revokedBy(cert, ca) {
			return true
		}
	}
	return false
}

func (e *Environment) revokedBy(cert, issuer *x509.Certificate) bool {
	serials, ok := e.revoked[fingerprint(sha256.Sum256(issuer.Raw))]
	if !ok {
		return false
	}
	if _, ok := serials[cert.SerialNumber.String()]; !ok {
		return false
	}
	return cert.CheckSignatureFrom(issuer) == nil
}

func (e *Environment) cas() []*x509.Certificate {
	return append([]*x509.Certificate{e.anchor}, e.Intermediates()...)
}

func (e *Environment) crlIssuer(crl *x509.RevocationList) *x509.Certificate {
	for _, ca := range e.cas() {
		if !bytes.Equal(ca.RawSubject, crl.RawIssuer) {
			continue
		}
		if crl.CheckSignatureFrom(ca) == nil {
			return ca
		}
	}
	return nil
}

func validity(cert *x509.Certificate) cppki.Validity {
	return cppki.Validity{NotBefore: cert.NotBefore, NotAfter: cert.NotAfter}
}
