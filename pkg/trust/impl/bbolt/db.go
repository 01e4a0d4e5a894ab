package bbolt

import (
	"context"
	"fmt"
	"slices"

	"go.etcd.io/bbolt"

	"github.com/fancl20/e2ei/pkg/trust"
)

var (
	anchorBucket       = []byte("trust_anchor")
	intermediateBucket = []byte("intermediates")
	crlBucket          = []byte("crls")

	// The trust anchor is a singleton, it always lives under the same key.
	anchorKey = []byte("singleton")
)

type bboltDB struct {
	db *bbolt.DB
}

// New opens (or creates) the bbolt database at path.
func New(path string, opts *bbolt.Options) (trust.DB, error) {
	db, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, err
	}

	if err := db.Update(createBuckets); err != nil {
		db.Close()
		return nil, err
	}

	return &bboltDB{
		db: db,
	}, nil
}

func createBuckets(tx *bbolt.Tx) error {
	for _, s := range [][]byte{anchorBucket, intermediateBucket, crlBucket} {
		if _, err := tx.CreateBucketIfNotExists(s); err != nil {
			return err
		}
	}
	return nil
}

// TrustAnchor returns the stored trust anchor.
func (b *bboltDB) TrustAnchor(ctx context.Context) (trust.TrustAnchor, error) {
	var ta trust.TrustAnchor
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(anchorBucket).Get(anchorKey)
		if v == nil {
			return trust.ErrNotFound
		}
		ta.Content = slices.Clone(v)
		return nil
	})
	return ta, err
}

// SaveTrustAnchor stores the trust anchor.
func (b *bboltDB) SaveTrustAnchor(ctx context.Context, ta trust.TrustAnchor) error {
	if len(ta.Content) == 0 {
		return fmt.Errorf("trust anchor without content")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(anchorBucket).Put(anchorKey, ta.Content)
	})
}

// RemoveTrustAnchor removes the trust anchor.
func (b *bboltDB) RemoveTrustAnchor(ctx context.Context) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(anchorBucket).Delete(anchorKey)
	})
}

// Intermediate returns the intermediate stored under key.
func (b *bboltDB) Intermediate(ctx context.Context, skiAKIPair string) (trust.IntermediateCert, error) {
	var cert trust.IntermediateCert
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(intermediateBucket).Get([]byte(skiAKIPair))
		if v == nil {
			return trust.ErrNotFound
		}
		cert = trust.IntermediateCert{SKIAKIPair: skiAKIPair, Content: slices.Clone(v)}
		return nil
	})
	return cert, err
}

// Intermediates returns all stored intermediates.
func (b *bboltDB) Intermediates(ctx context.Context) ([]trust.IntermediateCert, error) {
	var certs []trust.IntermediateCert
	if err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(intermediateBucket).ForEach(func(k, v []byte) error {
			certs = append(certs, trust.IntermediateCert{
				SKIAKIPair: string(k),
				Content:    slices.Clone(v),
			})
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return certs, nil
}

// SaveIntermediate upserts the intermediate.
func (b *bboltDB) SaveIntermediate(ctx context.Context, cert trust.IntermediateCert) error {
	if err := trust.ValidateIntermediate(cert); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(intermediateBucket).Put([]byte(cert.SKIAKIPair), cert.Content)
	})
}

// RemoveIntermediate removes the intermediate stored under key.
func (b *bboltDB) RemoveIntermediate(ctx context.Context, skiAKIPair string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(intermediateBucket).Delete([]byte(skiAKIPair))
	})
}

// CRL returns the CRL stored for the distribution point.
func (b *bboltDB) CRL(ctx context.Context, distributionPoint string) (trust.CRL, error) {
	var crl trust.CRL
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(crlBucket).Get([]byte(distributionPoint))
		if v == nil {
			return trust.ErrNotFound
		}
		crl = trust.CRL{DistributionPoint: distributionPoint, Content: slices.Clone(v)}
		return nil
	})
	return crl, err
}

// CRLs returns all stored CRLs.
func (b *bboltDB) CRLs(ctx context.Context) ([]trust.CRL, error) {
	var crls []trust.CRL
	if err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(crlBucket).ForEach(func(k, v []byte) error {
			crls = append(crls, trust.CRL{
				DistributionPoint: string(k),
				Content:           slices.Clone(v),
			})
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return crls, nil
}

// SaveCRL upserts the CRL.
func (b *bboltDB) SaveCRL(ctx context.Context, crl trust.CRL) error {
	if err := trust.ValidateCRL(crl); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(crlBucket).Put([]byte(crl.DistributionPoint), crl.Content)
	})
}

// RemoveCRL removes the CRL stored for the distribution point.
func (b *bboltDB) RemoveCRL(ctx context.Context, distributionPoint string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(crlBucket).Delete([]byte(distributionPoint))
	})
}

// Wipe removes every stored entity.
func (b *bboltDB) Wipe(ctx context.Context) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, s := range [][]byte{anchorBucket, intermediateBucket, crlBucket} {
			if err := tx.DeleteBucket(s); err != nil {
				return err
			}
		}
		return createBuckets(tx)
	})
}

func (b *bboltDB) Close() error {
	return b.db.Close()
}
