package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by the lookup methods of a DB when no entity is
// stored under the requested key. Every other error returned by a DB is a
// storage failure.
var ErrNotFound = errors.New("not found")

// TrustAnchor is the persisted root certificate. At most one exists per DB.
type TrustAnchor struct {
	// Content is the DER encoding of the certificate.
	Content []byte
}

// IntermediateCert is a persisted intermediate CA certificate.
type IntermediateCert struct {
	// SKIAKIPair identifies the CA across re-registrations. It has the form
	// "<subject key id hex>:<authority key id hex>".
	SKIAKIPair string
	// Content is the DER encoding of the certificate.
	Content []byte
}

// CRL is a persisted certificate revocation list.
type CRL struct {
	// DistributionPoint is the URL the CRL was fetched from.
	DistributionPoint string
	// Content is the DER encoding of the CRL.
	Content []byte
}

// MarshalJSON marshals the intermediate for well formated log output.
func (c IntermediateCert) MarshalJSON() ([]byte, error) {
	j := struct {
		SKIAKIPair string `json:"ski_aki"`
		Size       int    `json:"size"`
	}{
		SKIAKIPair: c.SKIAKIPair,
		Size:       len(c.Content),
	}
	return json.Marshal(j)
}

// MarshalJSON marshals the CRL for well formated log output.
func (c CRL) MarshalJSON() ([]byte, error) {
	j := struct {
		DistributionPoint string `json:"distribution_point"`
		Size              int    `json:"size"`
	}{
		DistributionPoint: c.DistributionPoint,
		Size:              len(c.Content),
	}
	return json.Marshal(j)
}

// DB is the database interface for PKI material.
type DB interface {
	// TrustAnchor returns the stored trust anchor or ErrNotFound.
	TrustAnchor(ctx context.Context) (TrustAnchor, error)
	// SaveTrustAnchor stores the trust anchor, replacing any existing one.
	SaveTrustAnchor(ctx context.Context, ta TrustAnchor) error
	// RemoveTrustAnchor removes the trust anchor. Removing a missing anchor is
	// not an error.
	RemoveTrustAnchor(ctx context.Context) error

	// Intermediate returns the intermediate stored under key or ErrNotFound.
	Intermediate(ctx context.Context, skiAKIPair string) (IntermediateCert, error)
	// Intermediates returns all stored intermediates ordered by key.
	Intermediates(ctx context.Context) ([]IntermediateCert, error)
	// SaveIntermediate upserts the intermediate under its SKIAKIPair.
	SaveIntermediate(ctx context.Context, cert IntermediateCert) error
	// RemoveIntermediate removes the intermediate stored under key.
	RemoveIntermediate(ctx context.Context, skiAKIPair string) error

	// CRL returns the CRL stored for the distribution point or ErrNotFound.
	CRL(ctx context.Context, distributionPoint string) (CRL, error)
	// CRLs returns all stored CRLs ordered by distribution point.
	CRLs(ctx context.Context) ([]CRL, error)
	// SaveCRL upserts the CRL under its distribution point.
	SaveCRL(ctx context.Context, crl CRL) error
	// RemoveCRL removes the CRL stored for the distribution point.
	RemoveCRL(ctx context.Context, distributionPoint string) error

	// Wipe removes every stored entity.
	Wipe(ctx context.Context) error

	Close() error
}

// ValidateIntermediate checks the fields of an intermediate before it is
// persisted.
func ValidateIntermediate(cert IntermediateCert) error {
	if cert.SKIAKIPair == "" {
		return fmt.Errorf("intermediate without SKI:AKI key")
	}
	if len(cert.Content) == 0 {
		return fmt.Errorf("intermediate %q without content", cert.SKIAKIPair)
	}
	return nil
}

// ValidateCRL checks the fields of a CRL before it is persisted.
func ValidateCRL(crl CRL) error {
	if crl.DistributionPoint == "" {
		return fmt.Errorf("CRL without distribution point")
	}
	if len(crl.Content) == 0 {
		return fmt.Errorf("CRL %q without content", crl.DistributionPoint)
	}
	return nil
}
