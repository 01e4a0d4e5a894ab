package credential

import (
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/scionproto/scion/pkg/private/serrors"
	"github.com/scionproto/scion/pkg/scrypto/cppki"
)

const identityScheme = "wireapp"

var (
	// ErrInvalidIdentity indicates that the identity claims of a certificate
	// are missing or inconsistent.
	ErrInvalidIdentity = errors.New("invalid identity claims")
	// ErrHashUnavailable indicates that the ciphersuite hash is unknown or not
	// linked into the binary.
	ErrHashUnavailable = errors.New("hash algorithm unavailable")
)

// Status is the certificate status of an identity at the time of interest.
type Status uint8

const (
	Valid Status = iota + 1
	Expired
	Revoked
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	case Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Revoker is the part of the validation context used to compute the status
// of an identity.
type Revoker interface {
	IsRevoked(cert *x509.Certificate) bool
	TimeOfInterest() time.Time
}

// Identity holds the identity claims of an X509 credential.
type Identity struct {
	// ClientID has the form "<user>!<device>".
	ClientID    string `json:"client_id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Domain      string `json:"domain"`
	// Thumbprint is the hex digest of the subject public key info.
	Thumbprint   string `json:"thumbprint"`
	SerialNumber string `json:"serial_number"`
	Status       Status `json:"status"`
}

// ExtractIdentity reads the identity claims from the URI subject alternative
// names of cert. The status is computed against env at its time of interest,
// or against the current time if env is nil.
func ExtractIdentity(cert *x509.Certificate, hash crypto.Hash, env Revoker) (Identity, error) {
	if hash == 0 || !hash.Available() {
		return Identity{}, serrors.Join(ErrHashUnavailable, nil, "hash", hash)
	}

	var clientID, clientDomain, handle, handleDomain string
	for _, u := range cert.URIs {
		if u.Scheme != identityScheme || u.User == nil {
			continue
		}
		name := u.User.Username()
		if h, ok := strings.CutPrefix(name, "@"); ok {
			handle, handleDomain = h, u.Host
			continue
		}
		clientID, clientDomain = name, u.Host
	}
	if err := validateClientID(clientID); err != nil {
		return Identity{}, err
	}
	if handle == "" {
		return Identity{}, serrors.Join(ErrInvalidIdentity, nil, "reason", "missing handle")
	}
	if clientDomain == "" || clientDomain != handleDomain {
		return Identity{}, serrors.Join(ErrInvalidIdentity, nil,
			"reason", "domain mismatch",
			"client_domain", clientDomain, "handle_domain", handleDomain)
	}

	h := hash.New()
	h.Write(cert.RawSubjectPublicKeyInfo)

	now := time.Now()
	if env != nil {
		now = env.TimeOfInterest()
	}
	status := Valid
	switch {
	case env != nil && env.IsRevoked(cert):
		status = Revoked
	case !(cppki.Validity{NotBefore: cert.NotBefore, NotAfter: cert.NotAfter}).Contains(now):
		status = Expired
	}

	return Identity{
		ClientID:     clientID,
		Handle:       handle,
		DisplayName:  cert.Subject.CommonName,
		Domain:       clientDomain,
		Thumbprint:   hex.EncodeToString(h.Sum(nil)),
		SerialNumber: cert.SerialNumber.String(),
		Status:       status,
	}, nil
}

func validateClientID(clientID string) error {
	if clientID == "" {
		return serrors.Join(ErrInvalidIdentity, nil, "reason", "missing client id")
	}
	user, device, ok := strings.Cut(clientID, "!")
	if !ok || user == "" || device == "" || strings.Contains(device, "!") {
		return serrors.Join(ErrInvalidIdentity, nil,
			"reason", "malformed client id", "client_id", clientID)
	}
	return nil
}
