package pki

import (
	"errors"

	"github.com/scionproto/scion/pkg/private/prom"

	"github.com/fancl20/e2ei/pkg/trust"
)

var (
	// ErrAlreadyRegistered indicates that a trust anchor is already registered.
	ErrAlreadyRegistered = errors.New("trust anchor already registered")
	// ErrNotSetup indicates that the operation requires a registered trust anchor.
	ErrNotSetup = errors.New("no trust anchor registered")
	// ErrMalformedInput indicates that a certificate or CRL could not be decoded.
	ErrMalformedInput = errors.New("malformed input")
	// ErrValidationFailed indicates that an expiration, signature, chain or
	// revocation check failed.
	ErrValidationFailed = errors.New("validation failed")
	// ErrConsumerMisuse indicates that the caller did not perform the required
	// setup, e.g. a trust anchor is stored but the environment was never
	// restored.
	ErrConsumerMisuse = errors.New("environment not restored")
)

// resultLabel classifies err for the metrics result label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return prom.Success
	case errors.Is(err, ErrMalformedInput):
		return prom.ErrParse
	case errors.Is(err, ErrValidationFailed):
		return prom.ErrValidate
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrNotSetup),
		errors.Is(err, ErrConsumerMisuse):
		return prom.ErrInvalidReq
	case errors.Is(err, trust.ErrNotFound):
		return prom.ErrNotFound
	default:
		return prom.ErrDB
	}
}
