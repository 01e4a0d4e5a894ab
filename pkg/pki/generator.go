package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"time"

	"github.com/scionproto/scion/pkg/scrypto/cppki"
)

// Authority is a certificate authority together with its signing key. It is
// used to build throw-away PKIs, e.g. in tests or for local setups.
type Authority struct {
	Certificate *x509.Certificate
	Key         crypto.Signer

	crlNumber int64
}

// LeafParams describes an end entity certificate.
type LeafParams struct {
	// ClientID is the "<user>!<device>" part of the client identity URI.
	ClientID string
	// Handle is the user handle without the leading "@".
	Handle      string
	Domain      string
	DisplayName string
	Validity    cppki.Validity
	// Key is the Ed25519 key of the leaf. A key is generated if nil.
	Key ed25519.PrivateKey
}

// NewRootAuthority creates a self-signed root CA.
func NewRootAuthority(commonName string, validity cppki.Validity) (*Authority, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}
	tpl, err := caTemplate(commonName, privKey.Public(), validity)
	if err != nil {
		return nil, err
	}
	// Root can issue CA certificates (path length 1).
	tpl.MaxPathLen = 1

	cert, err := createCertificate(tpl, tpl, privKey.Public(), privKey)
	if err != nil {
		return nil, err
	}
	return &Authority{Certificate: cert, Key: privKey}, nil
}

// NewIntermediate creates an intermediate CA issued by a. The distribution
// points are embedded in the intermediate certificate.
func (a *Authority) NewIntermediate(commonName string, validity cppki.Validity,
	distributionPoints ...string) (*Authority, error) {

	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}
	tpl, err := caTemplate(commonName, privKey.Public(), validity)
	if err != nil {
		return nil, err
	}
	tpl.MaxPathLen = 0
	tpl.MaxPathLenZero = true
	tpl.CRLDistributionPoints = distributionPoints

	cert, err := createCertificate(tpl, a.Certificate, privKey.Public(), a.Key)
	if err != nil {
		return nil, err
	}
	return &Authority{Certificate: cert, Key: privKey}, nil
}

// IssueLeaf issues an end entity certificate carrying the client identity
// URIs. It returns the certificate and its private key.
func (a *Authority) IssueLeaf(p LeafParams) (*x509.Certificate, ed25519.PrivateKey, error) {
	key := p.Key
	if key == nil {
		var err error
		if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, nil, fmt.Errorf("failed to generate Ed25519 key: %w", err)
		}
	}
	pubKey := key.Public()

	serialNumber, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}
	clientURI, err := url.Parse(fmt.Sprintf("wireapp://%s@%s", p.ClientID, p.Domain))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid client id: %w", err)
	}
	handleURI := &url.URL{Scheme: "wireapp", User: url.User("@" + p.Handle), Host: p.Domain}

	tpl := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   p.DisplayName,
			Organization: []string{p.Domain},
		},
		NotBefore:             p.Validity.NotBefore,
		NotAfter:              p.Validity.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		URIs:                  []*url.URL{clientURI, handleURI},
	}
	cert, err := createCertificate(tpl, a.Certificate, pubKey, a.Key)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

// IssueCRL creates a DER encoded CRL signed by a that revokes the given
// certificates at thisUpdate.
func (a *Authority) IssueCRL(thisUpdate, nextUpdate time.Time,
	revoked ...*x509.Certificate) ([]byte, error) {

	a.crlNumber++
	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, c := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   c.SerialNumber,
			RevocationTime: thisUpdate,
		})
	}
	tpl := &x509.RevocationList{
		Number:                    big.NewInt(a.crlNumber),
		ThisUpdate:                thisUpdate,
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: entries,
	}
	der, err := x509.CreateRevocationList(rand.Reader, tpl, a.Certificate, a.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to create CRL: %w", err)
	}
	return der, nil
}

// IssueTLSCertificate issues a TLS server certificate for hosts. Hosts that
// parse as IP addresses become IP SANs, all others DNS SANs.
func (a *Authority) IssueTLSCertificate(validity cppki.Validity,
	hosts ...string) (*tls.Certificate, error) {

	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}
	serialNumber, err := randomSerial()
	if err != nil {
		return nil, err
	}
	tpl := &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: a.Certificate.Subject.CommonName + " TLS"},
		NotBefore:             validity.NotBefore,
		NotAfter:              validity.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tpl.IPAddresses = append(tpl.IPAddresses, ip)
			continue
		}
		tpl.DNSNames = append(tpl.DNSNames, h)
	}
	cert, err := createCertificate(tpl, a.Certificate, privKey.Public(), a.Key)
	if err != nil {
		return nil, err
	}
	return &tls.Certificate{
		Certificate: [][]byte{cert.Raw, a.Certificate.Raw},
		PrivateKey:  privKey,
		Leaf:        cert,
	}, nil
}

// PEM returns the PEM encoding of the authority certificate.
func (a *Authority) PEM() string {
	return EncodeCertificatePEM(a.Certificate)
}

func caTemplate(commonName string, pubKey crypto.PublicKey,
	validity cppki.Validity) (*x509.Certificate, error) {

	serialNumber, err := randomSerial()
	if err != nil {
		return nil, err
	}
	subjectKeyID, err := cppki.SubjectKeyID(pubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to compute subject key identifier: %w", err)
	}
	return &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             validity.NotBefore,
		NotAfter:              validity.NotAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
		SubjectKeyId:          subjectKeyID,
	}, nil
}

func randomSerial() (*big.Int, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}

func createCertificate(tpl, parent *x509.Certificate, pubKey crypto.PublicKey,
	signer crypto.Signer) (*x509.Certificate, error) {

	certBytes, err := x509.CreateCertificate(rand.Reader, tpl, parent, pubKey, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}
	return cert, nil
}
