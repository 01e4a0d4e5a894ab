package config_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fancl20/e2ei/pkg/config"
	"github.com/fancl20/e2ei/pkg/trust"
)

func TestConfigSample(t *testing.T) {
	var sample bytes.Buffer
	var cfg config.Config
	cfg.Sample(&sample, nil, nil)

	err := toml.NewDecoder(bytes.NewReader(sample.Bytes())).DisallowUnknownFields().Decode(&cfg)
	require.NoError(t, err, sample.String())
	cfg.InitDefaults()
	require.NoError(t, cfg.Validate())

	def := config.Default()
	assert.Equal(t, def.General, cfg.General)
	assert.Equal(t, def.Cache, cfg.Cache)
	assert.Equal(t, def.Service, cfg.Service)
	assert.Equal(t, def.Metrics, cfg.Metrics)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	write := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(dir, t.Name()+".toml")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("valid", func(t *testing.T) {
		cfg, err := config.LoadFile(write(t, `
[general]
store_backend = "sqlite"
store_path = "/var/lib/e2ei/trust.sqlite"

[cache]
certificate_ttl = "30s"

[service]
address = "[::1]:4443"
`))
		require.NoError(t, err)
		assert.Equal(t, config.BackendSqlite, cfg.General.StoreBackend)
		assert.Equal(t, "/var/lib/e2ei/trust.sqlite", cfg.General.StorePath)
		assert.Equal(t, 30*time.Second, cfg.Cache.CertificateTTL.Duration)
		assert.Equal(t, "[::1]:4443", cfg.Service.Address)
		assert.Empty(t, cfg.Metrics.Prometheus)
	})
	t.Run("defaults", func(t *testing.T) {
		cfg, err := config.LoadFile(write(t, ""))
		require.NoError(t, err)
		assert.Equal(t, config.BackendBbolt, cfg.General.StoreBackend)
		assert.Equal(t, config.DefaultServiceAddress, cfg.Service.Address)
		assert.Equal(t, 10*time.Minute, cfg.Cache.CertificateTTL.Duration)
	})

	testCases := map[string]string{
		"unknown key":      "[general]\nstore = \"x\"\n",
		"unknown backend":  "[general]\nstore_backend = \"etcd\"\n",
		"bad address":      "[service]\naddress = \"localhost\"\n",
		"cert without key": "[service]\ncert_file = \"server.pem\"\n",
		"bad metrics":      "[metrics]\nprometheus = \"nope\"\n",
		"short ttl":        "[cache]\ncertificate_ttl = \"1ms\"\n",
		"not toml":         "[general",
	}
	for name, content := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFile(write(t, content))
			assert.Error(t, err)
		})
	}

	_, err := config.LoadFile(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	for _, backend := range []string{config.BackendBbolt, config.BackendSqlite, config.BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.General{
				StoreBackend: backend,
				StorePath:    filepath.Join(t.TempDir(), "trust.db"),
			}
			db, err := cfg.OpenStore()
			require.NoError(t, err)
			defer db.Close()

			_, err = db.TrustAnchor(context.Background())
			assert.ErrorIs(t, err, trust.ErrNotFound)
		})
	}

	_, err := (&config.General{StoreBackend: "etcd"}).OpenStore()
	assert.Error(t, err)
}
