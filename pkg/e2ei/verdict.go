// Package e2ei computes the end-to-end identity verdict of a group from the
// credentials of its members and the active PKI environment.
package e2ei

import (
	"github.com/scionproto/scion/pkg/private/serrors"
)

// Verdict is the end-to-end identity state of a group. The numeric values are
// part of the persisted and serialized contract.
type Verdict uint8

const (
	// Verified means every member holds a valid certificate.
	Verified Verdict = 1
	// NotVerified means at least one member is Basic or holds a certificate
	// that is expired, revoked or does not chain to the trust anchor.
	NotVerified Verdict = 2
	// NotEnabled means no member holds a parseable certificate.
	NotEnabled Verdict = 3
)

func (v Verdict) String() string {
	switch v {
	case Verified:
		return "verified"
	case NotVerified:
		return "not_verified"
	case NotEnabled:
		return "not_enabled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	switch v {
	case Verified, NotVerified, NotEnabled:
		return []byte(v.String()), nil
	}
	return nil, serrors.New("invalid verdict", "value", uint8(v))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Verdict) UnmarshalText(b []byte) error {
	switch string(b) {
	case "verified":
		*v = Verified
	case "not_verified":
		*v = NotVerified
	case "not_enabled":
		*v = NotEnabled
	default:
		return serrors.New("unknown verdict", "value", string(b))
	}
	return nil
}
