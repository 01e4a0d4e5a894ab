package pki

import (
	"context"
	"crypto/x509"
	"errors"
	"sync"
	"time"

	"github.com/scionproto/scion/pkg/log"
	"github.com/scionproto/scion/pkg/private/serrors"

	"github.com/fancl20/e2ei/pkg/metrics"
	"github.com/fancl20/e2ei/pkg/trust"
)

// CRLRegistration is the result of a CRL registration.
type CRLRegistration struct {
	// Expiration is the next update time announced by the CRL. It is the zero
	// time if the CRL has none.
	Expiration time.Time `json:"expiration"`
	// Dirty is set if the revoked entries differ from the previously stored
	// CRL of the same distribution point.
	Dirty bool `json:"dirty"`
}

// DumpedEnvironment is the PEM export of the active environment.
type DumpedEnvironment struct {
	RootCA        string   `json:"root_ca"`
	Intermediates []string `json:"intermediates"`
	CRLs          []string `json:"crls"`
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the clock used for validation and the time of interest.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithMetrics sets the metrics the manager reports to.
func WithMetrics(metrics *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// Manager owns the active PKI environment. Every mutation is persisted to the
// store first and the environment is then rebuilt from the store and swapped
// in. Readers never observe a partially applied mutation.
type Manager struct {
	db      trust.DB
	now     func() time.Time
	metrics *metrics.Metrics

	mu  sync.RWMutex
	env *Environment
}

// NewManager creates a manager backed by db. The environment stays unset
// until Restore is called.
func NewManager(db trust.DB, opts ...ManagerOption) *Manager {
	m := &Manager{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterTrustAnchor registers the PEM encoded root certificate. Only its
// self-consistency and validity period are checked.
func (m *Manager) RegisterTrustAnchor(ctx context.Context, pemCert string) (err error) {
	defer func() { m.metrics.Registration(metrics.TypeTrustAnchor, resultLabel(err)) }()

	cert, err := DecodeCertificatePEM(pemCert)
	if err != nil {
		return err
	}
	if err := validateTrustAnchor(cert, m.now()); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch _, err := m.db.TrustAnchor(ctx); {
	case err == nil:
		return serrors.Join(ErrAlreadyRegistered, nil)
	case !errors.Is(err, trust.ErrNotFound):
		return serrors.Join(err, nil, "op", "load trust anchor")
	}
	if err := m.db.SaveTrustAnchor(ctx, trust.TrustAnchor{Content: cert.Raw}); err != nil {
		return serrors.Join(err, nil, "op", "save trust anchor")
	}
	if err := m.rebuildLocked(ctx); err != nil {
		if rerr := m.db.RemoveTrustAnchor(ctx); rerr != nil {
			log.FromCtx(ctx).Error("Rolling back trust anchor failed", "err", rerr)
		}
		return err
	}
	log.FromCtx(ctx).Info("Registered trust anchor", "subject", cert.Subject.String())
	return nil
}

// RegisterIntermediatePEM registers a PEM encoded intermediate CA. See
// RegisterIntermediateDER.
func (m *Manager) RegisterIntermediatePEM(ctx context.Context, pemCert string) (DistributionPoints, error) {
	cert, err := DecodeCertificatePEM(pemCert)
	if err != nil {
		m.metrics.Registration(metrics.TypeIntermediate, resultLabel(err))
		return nil, err
	}
	return m.registerIntermediate(ctx, cert)
}

// RegisterIntermediateDER registers a DER encoded intermediate CA. The
// certificate is validated against the active environment. The returned
// distribution points are those the caller should fetch CRLs from. A
// certificate identical to the trust anchor is ignored and nil is returned.
func (m *Manager) RegisterIntermediateDER(ctx context.Context, der []byte) (DistributionPoints, error) {
	cert, err := DecodeCertificateDER(der)
	if err != nil {
		m.metrics.Registration(metrics.TypeIntermediate, resultLabel(err))
		return nil, err
	}
	return m.registerIntermediate(ctx, cert)
}

func (m *Manager) registerIntermediate(ctx context.Context,
	cert *x509.Certificate) (_ DistributionPoints, err error) {

	defer func() { m.metrics.Registration(metrics.TypeIntermediate, resultLabel(err)) }()

	anchor, err := m.storedAnchor(ctx)
	if err != nil {
		return nil, err
	}
	// Some CA federation endpoints repeat the root.
	if sameCertificate(cert, anchor.Content) {
		return nil, nil
	}
	dps := ExtractDistributionPoints(cert)
	key, err := SKIAKIPair(cert)
	if err != nil {
		return nil, err
	}
	check := func(env *Environment) error {
		if !cert.BasicConstraintsValid || !cert.IsCA {
			return serrors.Join(ErrValidationFailed, nil,
				"reason", "not a CA certificate", "subject", cert.Subject.String())
		}
		return env.ValidateCertAndRevocation(cert)
	}
	validated, err := m.validate(check)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.env != validated && m.env != nil && sameCertificate(cert, m.env.TrustAnchor().Raw) {
		return nil, nil
	}
	if err := m.revalidateLocked(validated, check); err != nil {
		return nil, err
	}
	prev, err := m.db.Intermediate(ctx, key)
	if err != nil && !errors.Is(err, trust.ErrNotFound) {
		return nil, serrors.Join(err, nil, "op", "load intermediate", "ski_aki", key)
	}
	hadPrev := err == nil
	entity := trust.IntermediateCert{SKIAKIPair: key, Content: cert.Raw}
	if err := m.db.SaveIntermediate(ctx, entity); err != nil {
		return nil, serrors.Join(err, nil, "op", "save intermediate", "ski_aki", key)
	}
	if err := m.rebuildLocked(ctx); err != nil {
		var rerr error
		if hadPrev {
			rerr = m.db.SaveIntermediate(ctx, prev)
		} else {
			rerr = m.db.RemoveIntermediate(ctx, key)
		}
		if rerr != nil {
			log.FromCtx(ctx).Error("Rolling back intermediate failed", "ski_aki", key, "err", rerr)
		}
		return nil, err
	}
	log.FromCtx(ctx).Info("Registered intermediate", "ski_aki", key,
		"subject", cert.Subject.String(), "distribution_points", []string(dps))
	return dps, nil
}

// RegisterCRL registers the revocation list fetched from distributionPoint.
// The CRL must be signed by the trust anchor or a registered intermediate. Any
// CRL previously stored for the same distribution point is replaced.
func (m *Manager) RegisterCRL(ctx context.Context, distributionPoint string,
	raw []byte) (_ CRLRegistration, err error) {

	defer func() { m.metrics.Registration(metrics.TypeCRL, resultLabel(err)) }()

	if distributionPoint == "" {
		return CRLRegistration{}, serrors.Join(ErrMalformedInput, nil,
			"reason", "empty distribution point")
	}
	crl, err := DecodeCRL(raw)
	if err != nil {
		return CRLRegistration{}, err
	}
	if _, err := m.storedAnchor(ctx); err != nil {
		return CRLRegistration{}, err
	}
	check := func(env *Environment) error {
		return env.ValidateCRL(crl)
	}
	validated, err := m.validate(check)
	if err != nil {
		return CRLRegistration{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.revalidateLocked(validated, check); err != nil {
		return CRLRegistration{}, err
	}
	var dirty bool
	prev, err := m.db.CRL(ctx, distributionPoint)
	switch {
	case err == nil:
		old, err := DecodeCRL(prev.Content)
		if err != nil {
			return CRLRegistration{}, serrors.Join(err, nil,
				"op", "decode stored CRL", "distribution_point", distributionPoint)
		}
		dirty = !sameRevokedSet(old, crl)
	case !errors.Is(err, trust.ErrNotFound):
		return CRLRegistration{}, serrors.Join(err, nil,
			"op", "load CRL", "distribution_point", distributionPoint)
	}
	hadPrev := err == nil
	entity := trust.CRL{DistributionPoint: distributionPoint, Content: crl.Raw}
	if err := m.db.SaveCRL(ctx, entity); err != nil {
		return CRLRegistration{}, serrors.Join(err, nil,
			"op", "save CRL", "distribution_point", distributionPoint)
	}
	if err := m.rebuildLocked(ctx); err != nil {
		var rerr error
		if hadPrev {
			rerr = m.db.SaveCRL(ctx, prev)
		} else {
			rerr = m.db.RemoveCRL(ctx, distributionPoint)
		}
		if rerr != nil {
			log.FromCtx(ctx).Error("Rolling back CRL failed",
				"distribution_point", distributionPoint, "err", rerr)
		}
		return CRLRegistration{}, err
	}
	reg := CRLRegistration{Expiration: CRLExpiration(crl), Dirty: dirty}
	log.FromCtx(ctx).Info("Registered CRL", "distribution_point", distributionPoint,
		"dirty", reg.Dirty, "expiration", reg.Expiration)
	return reg, nil
}

// Restore rebuilds the environment from the store. If no trust anchor is
// stored the environment is cleared.
func (m *Manager) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuildLocked(ctx)
}

// Reset wipes the store and clears the environment.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.Wipe(ctx); err != nil {
		return serrors.Join(err, nil, "op", "wipe")
	}
	m.env = nil
	m.metrics.Entities(0, 0, 0)
	log.FromCtx(ctx).Info("PKI environment reset")
	return nil
}

// Dump exports the active environment as PEM. It returns nil if no
// environment is configured.
func (m *Manager) Dump(ctx context.Context) (*DumpedEnvironment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.env == nil {
		return nil, nil
	}
	d := &DumpedEnvironment{
		RootCA:        EncodeCertificatePEM(m.env.TrustAnchor()),
		Intermediates: []string{},
		CRLs:          []string{},
	}
	for _, c := range m.env.Intermediates() {
		d.Intermediates = append(d.Intermediates, EncodeCertificatePEM(c))
	}
	for _, c := range m.env.CRLs() {
		d.CRLs = append(d.CRLs, EncodeCRLPEM(c))
	}
	return d, nil
}

// IsConfigured reports whether an environment is active.
func (m *Manager) IsConfigured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.env != nil
}

// View calls f with the active environment while holding the read lock. The
// environment is nil if none is configured. f must not retain it.
func (m *Manager) View(f func(env *Environment)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f(m.env)
}

// RefreshTimeOfInterest moves the time of interest of the active environment
// to now.
func (m *Manager) RefreshTimeOfInterest() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.env != nil {
		m.env.SetTimeOfInterest(m.now())
	}
}

// Now returns the current time of the manager clock.
func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) storedAnchor(ctx context.Context) (trust.TrustAnchor, error) {
	ta, err := m.db.TrustAnchor(ctx)
	if errors.Is(err, trust.ErrNotFound) {
		return trust.TrustAnchor{}, serrors.Join(ErrNotSetup, nil)
	}
	if err != nil {
		return trust.TrustAnchor{}, serrors.Join(err, nil, "op", "load trust anchor")
	}
	return ta, nil
}

// validate runs f against the active environment under the read lock, with
// the time of interest moved to now. It returns the environment f ran
// against.
func (m *Manager) validate(f func(env *Environment) error) (*Environment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.env == nil {
		return nil, serrors.Join(ErrConsumerMisuse, nil)
	}
	m.env.SetTimeOfInterest(m.now())
	return m.env, f(m.env)
}

// revalidateLocked runs f again if the environment was swapped since it was
// validated. It must be called with the writer lock held.
func (m *Manager) revalidateLocked(validated *Environment, f func(env *Environment) error) error {
	if m.env == validated {
		return nil
	}
	if m.env == nil {
		return serrors.Join(ErrNotSetup, nil, "reason", "environment reset during registration")
	}
	m.env.SetTimeOfInterest(m.now())
	return f(m.env)
}

// rebuildLocked must be called with the writer lock held.
func (m *Manager) rebuildLocked(ctx context.Context) error {
	env, err := Restore(ctx, m.db, m.now())
	if err != nil {
		m.metrics.Rebuild(resultLabel(err))
		log.FromCtx(ctx).Error("Rebuilding PKI environment failed", "err", err)
		return err
	}
	m.metrics.Rebuild(resultLabel(nil))
	m.env = env
	if env == nil {
		m.metrics.Entities(0, 0, 0)
		return nil
	}
	m.metrics.Entities(1, len(env.intermediateKeys), len(env.crlKeys))
	return nil
}

func validateTrustAnchor(cert *x509.Certificate, now time.Time) error {
	if !cert.BasicConstraintsValid || !cert.IsCA {
		return serrors.Join(ErrValidationFailed, nil,
			"reason", "not a CA certificate", "subject", cert.Subject.String())
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		return serrors.Join(ErrValidationFailed, err,
			"reason", "not self-signed", "subject", cert.Subject.String())
	}
	if v := validity(cert); !v.Contains(now) {
		return serrors.Join(ErrValidationFailed, nil,
			"reason", "outside validity period", "subject", cert.Subject.String(),
			"not_before", v.NotBefore, "not_after", v.NotAfter)
	}
	return nil
}
