package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/fancl20/e2ei/pkg/trust"
)

type sqliteDB struct {
	db *sql.DB
}

// New opens (or creates) the sqlite database at path and applies the schema
// if the database is new.
func New(path string) (trust.DB, error) {
	connParams := make(url.Values)
	connParams.Add("_txlock", "immediate")
	connParams.Add("_pragma", "journal_mode(WAL)")
	connParams.Add("_pragma", "busy_timeout(1000)")
	connUrl := path + "?" + connParams.Encode()
	if !strings.HasPrefix(path, "file:") {
		connUrl = "file:" + connUrl
	}

	db, err := sql.Open("sqlite", connUrl)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := setup(db); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteDB{db: db}, nil
}

func setup(db *sql.DB) error {
	var existingVersion int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&existingVersion); err != nil {
		return fmt.Errorf("checking database schema version: %w", err)
	}
	switch {
	case existingVersion == 0:
		if _, err := db.Exec(Schema); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			return fmt.Errorf("writing schema version: %w", err)
		}
		return nil
	case existingVersion != SchemaVersion:
		return fmt.Errorf("database schema version mismatch: expected %d, have %d",
			SchemaVersion, existingVersion,
		)
	default:
		return nil
	}
}

func (s *sqliteDB) TrustAnchor(ctx context.Context) (trust.TrustAnchor, error) {
	var ta trust.TrustAnchor
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM trust_anchor WHERE id = 0`).Scan(&ta.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return trust.TrustAnchor{}, trust.ErrNotFound
	}
	if err != nil {
		return trust.TrustAnchor{}, err
	}
	return ta, nil
}

func (s *sqliteDB) SaveTrustAnchor(ctx context.Context, ta trust.TrustAnchor) error {
	if len(ta.Content) == 0 {
		return fmt.Errorf("trust anchor without content")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO trust_anchor (id, content) VALUES (0, ?)`, ta.Content)
	return err
}

func (s *sqliteDB) RemoveTrustAnchor(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trust_anchor`)
	return err
}

func (s *sqliteDB) Intermediate(ctx context.Context, skiAKIPair string) (trust.IntermediateCert, error) {
	cert := trust.IntermediateCert{SKIAKIPair: skiAKIPair}
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM intermediates WHERE ski_aki = ?`, skiAKIPair).Scan(&cert.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return trust.IntermediateCert{}, trust.ErrNotFound
	}
	if err != nil {
		return trust.IntermediateCert{}, err
	}
	return cert, nil
}

func (s *sqliteDB) Intermediates(ctx context.Context) ([]trust.IntermediateCert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ski_aki, content FROM intermediates ORDER BY ski_aki`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var certs []trust.IntermediateCert
	for rows.Next() {
		var c trust.IntermediateCert
		if err := rows.Scan(&c.SKIAKIPair, &c.Content); err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

func (s *sqliteDB) SaveIntermediate(ctx context.Context, cert trust.IntermediateCert) error {
	if err := trust.ValidateIntermediate(cert); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO intermediates (ski_aki, content) VALUES (?, ?)`,
		cert.SKIAKIPair, cert.Content)
	return err
}

func (s *sqliteDB) RemoveIntermediate(ctx context.Context, skiAKIPair string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM intermediates WHERE ski_aki = ?`, skiAKIPair)
	return err
}

func (s *sqliteDB) CRL(ctx context.Context, distributionPoint string) (trust.CRL, error) {
	crl := trust.CRL{DistributionPoint: distributionPoint}
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM crls WHERE distribution_point = ?`, distributionPoint,
	).Scan(&crl.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return trust.CRL{}, trust.ErrNotFound
	}
	if err != nil {
		return trust.CRL{}, err
	}
	return crl, nil
}

func (s *sqliteDB) CRLs(ctx context.Context) ([]trust.CRL, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT distribution_point, content FROM crls ORDER BY distribution_point`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var crls []trust.CRL
	for rows.Next() {
		var c trust.CRL
		if err := rows.Scan(&c.DistributionPoint, &c.Content); err != nil {
			return nil, err
		}
		crls = append(crls, c)
	}
	return crls, rows.Err()
}

func (s *sqliteDB) SaveCRL(ctx context.Context, crl trust.CRL) error {
	if err := trust.ValidateCRL(crl); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO crls (distribution_point, content) VALUES (?, ?)`,
		crl.DistributionPoint, crl.Content)
	return err
}

func (s *sqliteDB) RemoveCRL(ctx context.Context, distributionPoint string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM crls WHERE distribution_point = ?`, distributionPoint)
	return err
}

func (s *sqliteDB) Wipe(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"trust_anchor", "intermediates", "crls"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("wiping %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteDB) Close() error {
	return s.db.Close()
}
