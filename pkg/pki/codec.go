package pki

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"slices"
	"strings"
	"time"

	"github.com/scionproto/scion/pkg/private/serrors"
)

const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypeCRL         = "X509 CRL"
)

// DistributionPoints is the set of CRL distribution point URIs found in a
// certificate, sorted and without duplicates.
type DistributionPoints []string

// DecodeCertificatePEM decodes a single PEM encoded certificate.
func DecodeCertificatePEM(data string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, serrors.Join(ErrMalformedInput, nil, "reason", "no PEM block found")
	}
	if block.Type != pemTypeCertificate {
		return nil, serrors.Join(ErrMalformedInput, nil, "pem_type", block.Type)
	}
	return DecodeCertificateDER(block.Bytes)
}

// DecodeCertificateDER decodes a DER encoded certificate.
func DecodeCertificateDER(der []byte) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, serrors.Join(ErrMalformedInput, err)
	}
	return cert, nil
}

// DecodeCRL decodes a certificate revocation list. Both DER and PEM input is
// accepted.
func DecodeCRL(data []byte) (*x509.RevocationList, error) {
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != pemTypeCRL {
			return nil, serrors.Join(ErrMalformedInput, nil, "pem_type", block.Type)
		}
		data = block.Bytes
	}
	crl, err := x509.ParseRevocationList(data)
	if err != nil {
		return nil, serrors.Join(ErrMalformedInput, err)
	}
	return crl, nil
}

// EncodeCertificatePEM encodes the certificate as a PEM block.
func EncodeCertificatePEM(cert *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: cert.Raw}))
}

// EncodeCRLPEM encodes the CRL as a PEM block.
func EncodeCRLPEM(crl *x509.RevocationList) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypeCRL, Bytes: crl.Raw}))
}

// SKIAKIPair returns the identity key of a CA certificate. The authority key
// part is empty if the certificate carries no AKI.
func SKIAKIPair(cert *x509.Certificate) (string, error) {
	if len(cert.SubjectKeyId) == 0 {
		return "", serrors.Join(ErrMalformedInput, nil,
			"reason", "certificate without subject key identifier",
			"subject", cert.Subject.String())
	}
	return hex.EncodeToString(cert.SubjectKeyId) + ":" + hex.EncodeToString(cert.AuthorityKeyId), nil
}

// ExtractDistributionPoints returns the CRL distribution points of the
// certificate. The result is never nil.
func ExtractDistributionPoints(cert *x509.Certificate) DistributionPoints {
	dps := DistributionPoints{}
	for _, dp := range cert.CRLDistributionPoints {
		if dp = strings.TrimSpace(dp); dp != "" {
			dps = append(dps, dp)
		}
	}
	slices.Sort(dps)
	return slices.Compact(dps)
}

// CRLExpiration returns the next update time of the CRL, or the zero time if
// the CRL does not announce one.
func CRLExpiration(crl *x509.RevocationList) time.Time {
	return crl.NextUpdate
}

type revokedEntry struct {
	serial string
	when   int64
}

func revokedSet(crl *x509.RevocationList) map[revokedEntry]struct{} {
	set := make(map[revokedEntry]struct{}, len(crl.RevokedCertificateEntries))
	for _, e := range crl.RevokedCertificateEntries {
		set[revokedEntry{
			serial: e.SerialNumber.String(),
			when:   e.RevocationTime.Unix(),
		}] = struct{}{}
	}
	return set
}

// sameRevokedSet compares the revoked entries of two CRLs, ignoring their
// order and everything else in the list.
func sameRevokedSet(a, b *x509.RevocationList) bool {
	sa, sb := revokedSet(a), revokedSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for e := range sa {
		if _, ok := sb[e]; !ok {
			return false
		}
	}
	return true
}

func sameCertificate(a *x509.Certificate, der []byte) bool {
	return bytes.Equal(a.Raw, der)
}
