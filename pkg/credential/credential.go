// Package credential models member credentials and the identity claims
// carried by X.509 credentials.
package credential

import (
	"fmt"
	"slices"
)

// Type is the credential type codepoint.
type Type uint16

const (
	// Basic is a bare identity without certificate.
	Basic Type = 1
	// X509 is a certificate chain, leaf first.
	X509 Type = 2
)

func (t Type) String() string {
	switch t {
	case Basic:
		return "basic"
	case X509:
		return "x509"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
}

// IsValid reports whether t is a known credential type.
func (t Type) IsValid() bool {
	switch t {
	case Basic, X509:
		return true
	default:
		return false
	}
}

// Credential is the credential of a single group member. Identity is set for
// Basic credentials, Certificates for X509 credentials.
type Credential struct {
	Type         Type
	Identity     []byte
	Certificates [][]byte
}

// NewBasic creates a basic credential.
func NewBasic(identity []byte) Credential {
	return Credential{Type: Basic, Identity: slices.Clone(identity)}
}

// NewX509 creates an X509 credential from a DER chain, leaf first.
func NewX509(chain ...[]byte) Credential {
	return Credential{Type: X509, Certificates: chain}
}
