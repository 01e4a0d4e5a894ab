package service

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"

	"github.com/scionproto/scion/pkg/private/serrors"
	"github.com/scionproto/scion/pkg/scrypto/cppki"

	"github.com/fancl20/e2ei/pkg/pki"
)

// Server is the HTTP/3 RPC server.
type Server struct {
	server *http3.Server
	addr   string
}

// NewServer creates a server for the handler. tlsConfig must hold a server
// certificate.
func NewServer(addr string, tlsConfig *tls.Config, handler http.Handler) *Server {
	tlsConfig = tlsConfig.Clone()
	tlsConfig.NextProtos = []string{http3.NextProtoH3}
	return &Server{
		addr: addr,
		server: &http3.Server{
			Addr:      addr,
			Handler:   handler,
			TLSConfig: tlsConfig,
		},
	}
}

// ListenAndServe listens on the configured UDP address and serves requests.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Serve serves requests on conn.
func (s *Server) Serve(conn net.PacketConn) error {
	return s.server.Serve(conn)
}

// Close stops the server.
func (s *Server) Close() error {
	return s.server.Close()
}

// LoadTLSConfig loads the server certificate from the PEM files.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, serrors.Join(err, nil, "cert_file", certFile, "key_file", keyFile)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// SelfSignedTLSConfig generates a throw-away CA and a server certificate for
// the host part of addr. The CA is returned so that clients can trust it.
func SelfSignedTLSConfig(addr string, validity time.Duration) (*tls.Config, *pki.Authority, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, nil, serrors.Join(err, nil, "address", addr)
	}
	now := time.Now()
	v := cppki.Validity{NotBefore: now.Add(-time.Minute), NotAfter: now.Add(validity)}
	ca, err := pki.NewRootAuthority("e2eid self-signed", v)
	if err != nil {
		return nil, nil, err
	}
	hosts := []string{host}
	if host == "" || host == "0.0.0.0" || host == "::" {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}
	cert, err := ca.IssueTLSCertificate(v, hosts...)
	if err != nil {
		return nil, nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{*cert}}, ca, nil
}
