package e2ei

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/scionproto/scion/pkg/log"
	"github.com/scionproto/scion/pkg/private/serrors"
	"github.com/scionproto/scion/pkg/scrypto/cppki"

	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/metrics"
	"github.com/fancl20/e2ei/pkg/pki"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithParser sets the leaf parser. Engines sharing a parser share its cache.
func WithParser(p *credential.Parser) EngineOption {
	return func(e *Engine) {
		e.parser = p
	}
}

// WithEngineClock sets the clock used to refresh the time of interest.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithEngineMetrics sets the metrics the engine reports verdicts to.
func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine computes verdicts. It is safe for concurrent use.
type Engine struct {
	parser  *credential.Parser
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewEngine creates an engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.parser == nil {
		e.parser = credential.NewParser(credential.DefaultCertificateTTL)
	}
	return e
}

var defaultEngine = NewEngine()

// ComputeVerdict computes the verdict of creds with the default engine.
func ComputeVerdict(ctx context.Context, cs credential.Ciphersuite,
	creds []credential.Credential, env *pki.Environment) Verdict {

	return defaultEngine.ComputeVerdict(ctx, cs, creds, env)
}

// ComputeVerdict computes the verdict of the ordered member credentials
// creds. env may be nil if no PKI is configured, in which case chain and
// revocation checks are skipped.
//
// A credential that is not X509 or whose leaf does not parse only ends the
// scan once an X509 credential was seen. An X509 credential whose identity,
// validity period, chain or revocation check fails ends it immediately.
func (e *Engine) ComputeVerdict(ctx context.Context, cs credential.Ciphersuite,
	creds []credential.Credential, env *pki.Environment) Verdict {

	return e.compute(ctx, metrics.SourceEngine, cs, creds, env)
}

func (e *Engine) compute(ctx context.Context, source string, cs credential.Ciphersuite,
	creds []credential.Credential, env *pki.Environment) Verdict {

	logger := log.FromCtx(ctx)
	toi := e.now()
	var revoker credential.Revoker
	if env != nil {
		env.SetTimeOfInterest(toi)
		toi = env.TimeOfInterest()
		revoker = env
	}

	sawX509 := false
	verdict := Verified
	scanned := 0
	for i, c := range creds {
		scanned++
		cert, err := e.parser.ParseLeaf(c)
		if err != nil {
			verdict = NotVerified
			if sawX509 {
				break
			}
			continue
		}
		sawX509 = true
		if err := e.check(cert, cs, toi, env, revoker); err != nil {
			logger.Debug("Member credential not verified", "index", i,
				"serial", cert.SerialNumber.String(), "err", err)
			verdict = NotVerified
			break
		}
	}
	if !sawX509 {
		verdict = NotEnabled
	}

	e.metrics.Verdict(source, verdict.String())
	logger.Debug("Computed verdict", "source", source, "verdict", verdict,
		"members", len(creds), "scanned", scanned, "pki", env != nil)
	return verdict
}

func (e *Engine) check(cert *x509.Certificate, cs credential.Ciphersuite, toi time.Time,
	env *pki.Environment, revoker credential.Revoker) error {

	if _, err := credential.ExtractIdentity(cert, cs.HashAlg(), revoker); err != nil {
		return err
	}
	validity := cppki.Validity{NotBefore: cert.NotBefore, NotAfter: cert.NotAfter}
	if !validity.Contains(toi) {
		return serrors.Join(pki.ErrValidationFailed, nil, "reason", "outside validity period",
			"time_of_interest", toi)
	}
	if env != nil {
		return env.ValidateCertAndRevocation(cert)
	}
	return nil
}
