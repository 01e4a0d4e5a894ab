package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/fancl20/e2ei/pkg/trust"
)

// DB implements trust.DB using in-memory maps.
type DB struct {
	mu            sync.RWMutex
	anchor        []byte
	intermediates map[string][]byte // SKI:AKI -> DER
	crls          map[string][]byte // distribution point -> DER
}

// New creates a new empty DB.
func New() *DB {
	return &DB{
		intermediates: make(map[string][]byte),
		crls:          make(map[string][]byte),
	}
}

func (s *DB) TrustAnchor(ctx context.Context) (trust.TrustAnchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.anchor == nil {
		return trust.TrustAnchor{}, trust.ErrNotFound
	}
	return trust.TrustAnchor{Content: slices.Clone(s.anchor)}, nil
}

func (s *DB) SaveTrustAnchor(ctx context.Context, ta trust.TrustAnchor) error {
	if len(ta.Content) == 0 {
		return fmt.Errorf("trust anchor without content")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = slices.Clone(ta.Content)
	return nil
}

func (s *DB) RemoveTrustAnchor(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = nil
	return nil
}

func (s *DB) Intermediate(ctx context.Context, skiAKIPair string) (trust.IntermediateCert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.intermediates[skiAKIPair]
	if !ok {
		return trust.IntermediateCert{}, trust.ErrNotFound
	}
	return trust.IntermediateCert{SKIAKIPair: skiAKIPair, Content: slices.Clone(v)}, nil
}

func (s *DB) Intermediates(ctx context.Context) ([]trust.IntermediateCert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var certs []trust.IntermediateCert
	for _, k := range slices.Sorted(maps.Keys(s.intermediates)) {
		certs = append(certs, trust.IntermediateCert{
			SKIAKIPair: k,
			Content:    slices.Clone(s.intermediates[k]),
		})
	}
	return certs, nil
}

func (s *DB) SaveIntermediate(ctx context.Context, cert trust.IntermediateCert) error {
	if err := trust.ValidateIntermediate(cert); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intermediates[cert.SKIAKIPair] = slices.Clone(cert.Content)
	return nil
}

func (s *DB) RemoveIntermediate(ctx context.Context, skiAKIPair string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intermediates, skiAKIPair)
	return nil
}

func (s *DB) CRL(ctx context.Context, distributionPoint string) (trust.CRL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.crls[distributionPoint]
	if !ok {
		return trust.CRL{}, trust.ErrNotFound
	}
	return trust.CRL{DistributionPoint: distributionPoint, Content: slices.Clone(v)}, nil
}

func (s *DB) CRLs(ctx context.Context) ([]trust.CRL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var crls []trust.CRL
	for _, k := range slices.Sorted(maps.Keys(s.crls)) {
		crls = append(crls, trust.CRL{
			DistributionPoint: k,
			Content:           slices.Clone(s.crls[k]),
		})
	}
	return crls, nil
}

func (s *DB) SaveCRL(ctx context.Context, crl trust.CRL) error {
	if err := trust.ValidateCRL(crl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crls[crl.DistributionPoint] = slices.Clone(crl.Content)
	return nil
}

func (s *DB) RemoveCRL(ctx context.Context, distributionPoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.crls, distributionPoint)
	return nil
}

func (s *DB) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchor = nil
	clear(s.intermediates)
	clear(s.crls)
	return nil
}

// Close is a no-op; the content is dropped with the DB.
func (s *DB) Close() error { return nil }
