// Package config contains the configuration of the e2eid daemon and CLI.
package config

import (
	"io"
	"net"
	"slices"
	"time"

	"github.com/scionproto/scion/pkg/log"
	"github.com/scionproto/scion/pkg/private/serrors"
	"github.com/scionproto/scion/pkg/private/util"
	"github.com/scionproto/scion/private/config"

	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/trust"
	"github.com/fancl20/e2ei/pkg/trust/impl/bbolt"
	"github.com/fancl20/e2ei/pkg/trust/impl/memory"
	"github.com/fancl20/e2ei/pkg/trust/impl/sqlite"
)

// Store backends.
const (
	BackendBbolt  = "bbolt"
	BackendSqlite = "sqlite"
	BackendMemory = "memory"
)

const (
	DefaultStorePath      = "e2ei.db"
	DefaultServiceAddress = "127.0.0.1:3443"
)

var backends = []string{BackendBbolt, BackendSqlite, BackendMemory}

var _ config.Config = (*Config)(nil)

// Config is the top level configuration.
type Config struct {
	General General    `toml:"general,omitempty"`
	Cache   Cache      `toml:"cache,omitempty"`
	Logging log.Config `toml:"log,omitempty"`
	Service Service    `toml:"service,omitempty"`
	Metrics Metrics    `toml:"metrics,omitempty"`
}

func (cfg *Config) InitDefaults() {
	config.InitAll(
		&cfg.General,
		&cfg.Cache,
		&cfg.Logging,
		&cfg.Service,
		&cfg.Metrics,
	)
}

func (cfg *Config) Validate() error {
	return config.ValidateAll(
		&cfg.General,
		&cfg.Cache,
		&cfg.Logging,
		&cfg.Service,
		&cfg.Metrics,
	)
}

func (cfg *Config) Sample(dst io.Writer, path config.Path, _ config.CtxMap) {
	config.WriteSample(dst, path, nil,
		&cfg.General,
		&cfg.Cache,
		&cfg.Logging,
		&cfg.Service,
		&cfg.Metrics,
	)
}

// LoadFile decodes the TOML file, initializes the defaults and validates the
// result. Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := config.LoadFile(path, &cfg); err != nil {
		return nil, serrors.Join(err, nil, "file", path)
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.InitDefaults()
	return &cfg
}

// General holds the store settings.
type General struct {
	// StoreBackend is one of bbolt, sqlite or memory. (default bbolt)
	StoreBackend string `toml:"store_backend,omitempty"`
	// StorePath is the database file of the bbolt and sqlite backends.
	StorePath string `toml:"store_path,omitempty"`
}

func (cfg *General) InitDefaults() {
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendBbolt
	}
	if cfg.StorePath == "" {
		cfg.StorePath = DefaultStorePath
	}
}

func (cfg *General) Validate() error {
	if !slices.Contains(backends, cfg.StoreBackend) {
		return serrors.New("unknown store backend", "backend", cfg.StoreBackend,
			"supported", backends)
	}
	return nil
}

func (cfg *General) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, generalSample)
}

func (cfg *General) ConfigName() string {
	return "general"
}

// OpenStore opens the configured entity store.
func (cfg *General) OpenStore() (trust.DB, error) {
	switch cfg.StoreBackend {
	case BackendBbolt:
		return bbolt.New(cfg.StorePath, nil)
	case BackendSqlite:
		return sqlite.New(cfg.StorePath)
	case BackendMemory:
		return memory.New(), nil
	}
	return nil, serrors.New("unknown store backend", "backend", cfg.StoreBackend)
}

// Cache holds the parsed certificate cache settings.
type Cache struct {
	// CertificateTTL is the lifetime of a parsed leaf certificate.
	CertificateTTL util.DurWrap `toml:"certificate_ttl,omitempty"`
}

func (cfg *Cache) InitDefaults() {
	if cfg.CertificateTTL.Duration == 0 {
		cfg.CertificateTTL.Duration = credential.DefaultCertificateTTL
	}
}

func (cfg *Cache) Validate() error {
	if cfg.CertificateTTL.Duration < time.Second {
		return serrors.New("certificate_ttl must be at least 1s",
			"certificate_ttl", cfg.CertificateTTL)
	}
	return nil
}

func (cfg *Cache) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, cacheSample)
}

func (cfg *Cache) ConfigName() string {
	return "cache"
}

// Service holds the RPC listener settings.
type Service struct {
	// Address is the UDP address the HTTP/3 server listens on.
	Address string `toml:"address,omitempty"`
	// CertFile and KeyFile hold the TLS server certificate. If both are empty
	// a self-signed certificate is generated on startup.
	CertFile string `toml:"cert_file,omitempty"`
	KeyFile  string `toml:"key_file,omitempty"`
}

func (cfg *Service) InitDefaults() {
	if cfg.Address == "" {
		cfg.Address = DefaultServiceAddress
	}
}

func (cfg *Service) Validate() error {
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return serrors.Join(err, nil, "address", cfg.Address)
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return serrors.New("cert_file and key_file must be set together")
	}
	return nil
}

func (cfg *Service) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, serviceSample)
}

func (cfg *Service) ConfigName() string {
	return "service"
}

// Metrics holds the prometheus exporter settings.
type Metrics struct {
	config.NoDefaulter
	// Prometheus is the address the metrics are served on. Empty disables the
	// exporter.
	Prometheus string `toml:"prometheus,omitempty"`
}

func (cfg *Metrics) Validate() error {
	if cfg.Prometheus == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Prometheus); err != nil {
		return serrors.Join(err, nil, "prometheus", cfg.Prometheus)
	}
	return nil
}

func (cfg *Metrics) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, metricsSample)
}

func (cfg *Metrics) ConfigName() string {
	return "metrics"
}
