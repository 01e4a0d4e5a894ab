package credential

import (
	"crypto"
	_ "crypto/sha256" // register hash
	_ "crypto/sha512" // register hash
	"fmt"
)

// Ciphersuite is the group ciphersuite codepoint.
type Ciphersuite uint16

const (
	MLS128DHKEMX25519AES128GCMSHA256Ed25519        Ciphersuite = 0x0001
	MLS128DHKEMP256AES128GCMSHA256P256             Ciphersuite = 0x0002
	MLS128DHKEMX25519CHACHA20POLY1305SHA256Ed25519 Ciphersuite = 0x0003
	MLS256DHKEMX448AES256GCMSHA512Ed448            Ciphersuite = 0x0004
	MLS256DHKEMP521AES256GCMSHA512P521             Ciphersuite = 0x0005
	MLS256DHKEMX448CHACHA20POLY1305SHA512Ed448     Ciphersuite = 0x0006
	MLS256DHKEMP384AES256GCMSHA384P384             Ciphersuite = 0x0007
	// MLS128X25519Kyber768Draft00AES128GCMSHA256Ed25519 is the hybrid post
	// quantum suite from the private use range.
	MLS128X25519Kyber768Draft00AES128GCMSHA256Ed25519 Ciphersuite = 0xF031
)

var ciphersuiteNames = map[Ciphersuite]string{
	MLS128DHKEMX25519AES128GCMSHA256Ed25519:           "MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519",
	MLS128DHKEMP256AES128GCMSHA256P256:                "MLS_128_DHKEMP256_AES128GCM_SHA256_P256",
	MLS128DHKEMX25519CHACHA20POLY1305SHA256Ed25519:    "MLS_128_DHKEMX25519_CHACHA20POLY1305_SHA256_Ed25519",
	MLS256DHKEMX448AES256GCMSHA512Ed448:               "MLS_256_DHKEMX448_AES256GCM_SHA512_Ed448",
	MLS256DHKEMP521AES256GCMSHA512P521:                "MLS_256_DHKEMP521_AES256GCM_SHA512_P521",
	MLS256DHKEMX448CHACHA20POLY1305SHA512Ed448:        "MLS_256_DHKEMX448_CHACHA20POLY1305_SHA512_Ed448",
	MLS256DHKEMP384AES256GCMSHA384P384:                "MLS_256_DHKEMP384_AES256GCM_SHA384_P384",
	MLS128X25519Kyber768Draft00AES128GCMSHA256Ed25519: "MLS_128_X25519KYBER768DRAFT00_AES128GCM_SHA256_Ed25519",
}

// IsValid reports whether cs is a known ciphersuite.
func (cs Ciphersuite) IsValid() bool {
	_, ok := ciphersuiteNames[cs]
	return ok
}

// HashAlg returns the hash algorithm of the ciphersuite, or 0 for unknown
// ciphersuites.
func (cs Ciphersuite) HashAlg() crypto.Hash {
	switch cs {
	case MLS128DHKEMX25519AES128GCMSHA256Ed25519,
		MLS128DHKEMP256AES128GCMSHA256P256,
		MLS128DHKEMX25519CHACHA20POLY1305SHA256Ed25519,
		MLS128X25519Kyber768Draft00AES128GCMSHA256Ed25519:
		return crypto.SHA256
	case MLS256DHKEMP384AES256GCMSHA384P384:
		return crypto.SHA384
	case MLS256DHKEMX448AES256GCMSHA512Ed448,
		MLS256DHKEMP521AES256GCMSHA512P521,
		MLS256DHKEMX448CHACHA20POLY1305SHA512Ed448:
		return crypto.SHA512
	default:
		return 0
	}
}

func (cs Ciphersuite) String() string {
	if name, ok := ciphersuiteNames[cs]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%04x)", uint16(cs))
}
