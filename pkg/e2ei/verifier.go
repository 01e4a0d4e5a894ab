package e2ei

import (
	"context"

	"github.com/scionproto/scion/pkg/log"
	"github.com/scionproto/scion/pkg/private/serrors"

	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/group"
	"github.com/fancl20/e2ei/pkg/metrics"
	"github.com/fancl20/e2ei/pkg/pki"
)

// VerifierOption configures a Verifier.
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	engineOpts []EngineOption
}

// WithEngineOptions passes opts to the engine of the verifier. The engine
// clock defaults to the clock of the manager.
func WithEngineOptions(opts ...EngineOption) VerifierOption {
	return func(o *verifierOptions) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// Verifier applies the engine to group descriptors and joined conversations.
// Every computation reads the environment under the manager read lock.
type Verifier struct {
	mgr    *pki.Manager
	parser group.Parser
	roster group.Roster
	engine *Engine
}

// NewVerifier creates a verifier. roster may be nil if ConversationState is
// not used.
func NewVerifier(mgr *pki.Manager, parser group.Parser, roster group.Roster,
	opts ...VerifierOption) *Verifier {

	var o verifierOptions
	for _, opt := range opts {
		opt(&o)
	}
	engineOpts := append([]EngineOption{WithEngineClock(mgr.Now)}, o.engineOpts...)
	return &Verifier{
		mgr:    mgr,
		parser: parser,
		roster: roster,
		engine: NewEngine(engineOpts...),
	}
}

// VerifyGroupState is the best-effort check of a group that has not been
// joined yet. A descriptor that does not parse or authenticate yields
// NotVerified. The returned error is always nil and is kept for callers that
// treat both checks alike.
func (v *Verifier) VerifyGroupState(ctx context.Context, raw []byte) (Verdict, error) {
	v.mgr.RefreshTimeOfInterest()
	d, err := v.parser.Parse(ctx, raw, true)
	if err != nil {
		log.FromCtx(ctx).Debug("Group descriptor rejected", "err", err)
		return NotVerified, nil
	}
	return v.run(ctx, metrics.SourceGroupState, d.Ciphersuite, d.Credentials()), nil
}

// CredentialInUse is the strict check of a group that has not been joined
// yet. The descriptor is parsed in hardened mode and every parse or
// authentication failure is returned. ct names the credential type the
// caller is about to use; the verdict covers every member credential
// whatever ct is.
func (v *Verifier) CredentialInUse(ctx context.Context, raw []byte,
	ct credential.Type) (Verdict, error) {

	d, err := v.parser.Parse(ctx, raw, true)
	if err != nil {
		return 0, err
	}
	log.FromCtx(ctx).Debug("Checking credential in use", "credential_type", ct)
	return v.run(ctx, metrics.SourceInUse, d.Ciphersuite, d.Credentials()), nil
}

// JoinConversation records the members of the descriptor as conversation id
// and returns the verdict of the joined conversation. The descriptor is
// parsed in hardened mode. The roster must implement group.Joiner.
func (v *Verifier) JoinConversation(ctx context.Context, id group.ConversationID,
	raw []byte) (Verdict, error) {

	joiner, err := v.joiner()
	if err != nil {
		return 0, err
	}
	d, err := v.parser.Parse(ctx, raw, true)
	if err != nil {
		return 0, err
	}
	joiner.Join(id, d)
	log.FromCtx(ctx).Debug("Joined conversation", "conversation", string(id),
		"members", len(d.Credentials()))
	return v.run(ctx, metrics.SourceConversation, d.Ciphersuite, d.Credentials()), nil
}

// LeaveConversation drops conversation id from the roster.
func (v *Verifier) LeaveConversation(ctx context.Context, id group.ConversationID) error {
	joiner, err := v.joiner()
	if err != nil {
		return err
	}
	joiner.Remove(id)
	log.FromCtx(ctx).Debug("Left conversation", "conversation", string(id))
	return nil
}

func (v *Verifier) joiner() (group.Joiner, error) {
	j, ok := v.roster.(group.Joiner)
	if !ok {
		return nil, serrors.Join(pki.ErrConsumerMisuse, nil, "reason", "roster does not accept joins")
	}
	return j, nil
}

// ConversationState computes the verdict of a joined conversation.
func (v *Verifier) ConversationState(ctx context.Context, id group.ConversationID) (Verdict, error) {
	if v.roster == nil {
		return 0, serrors.Join(pki.ErrConsumerMisuse, nil, "reason", "no roster configured")
	}
	cs, creds, err := v.roster.Members(ctx, id)
	if err != nil {
		return 0, err
	}
	return v.run(ctx, metrics.SourceConversation, cs, creds), nil
}

func (v *Verifier) run(ctx context.Context, source string, cs credential.Ciphersuite,
	creds []credential.Credential) Verdict {

	var verdict Verdict
	v.mgr.View(func(env *pki.Environment) {
		verdict = v.engine.compute(ctx, source, cs, creds, env)
	})
	return verdict
}
