package credential

import (
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/scionproto/scion/pkg/private/serrors"
)

// DefaultCertificateTTL is the default lifetime of a parsed leaf in the cache.
const DefaultCertificateTTL = 10 * time.Minute

var (
	// ErrNotX509 indicates that the credential carries no certificate.
	ErrNotX509 = errors.New("not an X509 credential")
	// ErrEmptyChain indicates an X509 credential without certificates.
	ErrEmptyChain = errors.New("empty certificate chain")
)

// Parser parses leaf certificates of X509 credentials. Parsed certificates
// are memoized by their DER digest. Only parsing is cached, never the result
// of a validation.
type Parser struct {
	cache *cache.Cache
}

// NewParser creates a parser whose cache entries live for ttl. A ttl <= 0
// selects DefaultCertificateTTL.
func NewParser(ttl time.Duration) *Parser {
	if ttl <= 0 {
		ttl = DefaultCertificateTTL
	}
	return &Parser{cache: cache.New(ttl, 2*ttl)}
}

// ParseLeaf returns the parsed leaf certificate of c.
func (p *Parser) ParseLeaf(c Credential) (*x509.Certificate, error) {
	switch c.Type {
	case X509:
	case Basic:
		return nil, ErrNotX509
	default:
		return nil, serrors.Join(ErrNotX509, nil, "type", c.Type)
	}
	if len(c.Certificates) == 0 {
		return nil, ErrEmptyChain
	}
	der := c.Certificates[0]
	sum := sha256.Sum256(der)
	key := string(sum[:])
	if cached, ok := p.cache.Get(key); ok {
		return cached.(*x509.Certificate), nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, serrors.Join(err, nil, "op", "parse leaf certificate")
	}
	p.cache.Set(key, cert, cache.DefaultExpiration)
	return cert, nil
}

// Len returns the number of cached certificates.
func (p *Parser) Len() int {
	return p.cache.ItemCount()
}
