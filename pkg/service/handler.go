package service

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/scionproto/scion/pkg/log"

	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/e2ei"
	"github.com/fancl20/e2ei/pkg/group"
	"github.com/fancl20/e2ei/pkg/pki"
)

// NewHandler returns the mux serving both services.
func NewHandler(mgr *pki.Manager, verifier *e2ei.Verifier, opts ...connect.HandlerOption) http.Handler {
	h := &handler{mgr: mgr, verifier: verifier}
	opts = append([]connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(loggingInterceptor()),
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle(PKIServiceRegisterTrustAnchorProcedure, connect.NewUnaryHandler(
		PKIServiceRegisterTrustAnchorProcedure, h.registerTrustAnchor, opts...))
	mux.Handle(PKIServiceRegisterIntermediateProcedure, connect.NewUnaryHandler(
		PKIServiceRegisterIntermediateProcedure, h.registerIntermediate, opts...))
	mux.Handle(PKIServiceRegisterCRLProcedure, connect.NewUnaryHandler(
		PKIServiceRegisterCRLProcedure, h.registerCRL, opts...))
	mux.Handle(PKIServiceDumpProcedure, connect.NewUnaryHandler(
		PKIServiceDumpProcedure, h.dump, opts...))
	mux.Handle(PKIServiceIsConfiguredProcedure, connect.NewUnaryHandler(
		PKIServiceIsConfiguredProcedure, h.isConfigured, opts...))
	mux.Handle(VerificationServiceVerifyGroupStateProcedure, connect.NewUnaryHandler(
		VerificationServiceVerifyGroupStateProcedure, h.verifyGroupState, opts...))
	mux.Handle(VerificationServiceCredentialInUseProcedure, connect.NewUnaryHandler(
		VerificationServiceCredentialInUseProcedure, h.credentialInUse, opts...))
	mux.Handle(VerificationServiceConversationStateProcedure, connect.NewUnaryHandler(
		VerificationServiceConversationStateProcedure, h.conversationState, opts...))
	mux.Handle(VerificationServiceJoinConversationProcedure, connect.NewUnaryHandler(
		VerificationServiceJoinConversationProcedure, h.joinConversation, opts...))
	mux.Handle(VerificationServiceLeaveConversationProcedure, connect.NewUnaryHandler(
		VerificationServiceLeaveConversationProcedure, h.leaveConversation, opts...))
	return mux
}

type handler struct {
	mgr      *pki.Manager
	verifier *e2ei.Verifier
}

func (h *handler) registerTrustAnchor(ctx context.Context,
	req *connect.Request[RegisterTrustAnchorRequest]) (*connect.Response[RegisterTrustAnchorResponse], error) {

	if err := h.mgr.RegisterTrustAnchor(ctx, req.Msg.PEM); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RegisterTrustAnchorResponse{}), nil
}

func (h *handler) registerIntermediate(ctx context.Context,
	req *connect.Request[RegisterIntermediateRequest]) (*connect.Response[RegisterIntermediateResponse], error) {

	dps, err := h.mgr.RegisterIntermediatePEM(ctx, req.Msg.PEM)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RegisterIntermediateResponse{
		DistributionPoints: []string(dps),
		Skipped:            dps == nil,
	}), nil
}

func (h *handler) registerCRL(ctx context.Context,
	req *connect.Request[RegisterCRLRequest]) (*connect.Response[RegisterCRLResponse], error) {

	reg, err := h.mgr.RegisterCRL(ctx, req.Msg.DistributionPoint, req.Msg.CRL)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&reg), nil
}

func (h *handler) dump(ctx context.Context,
	_ *connect.Request[DumpRequest]) (*connect.Response[DumpResponse], error) {

	env, err := h.mgr.Dump(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&DumpResponse{Environment: env}), nil
}

func (h *handler) isConfigured(_ context.Context,
	_ *connect.Request[IsConfiguredRequest]) (*connect.Response[IsConfiguredResponse], error) {

	return connect.NewResponse(&IsConfiguredResponse{Configured: h.mgr.IsConfigured()}), nil
}

func (h *handler) verifyGroupState(ctx context.Context,
	req *connect.Request[VerifyGroupStateRequest]) (*connect.Response[VerdictResponse], error) {

	v, err := h.verifier.VerifyGroupState(ctx, req.Msg.Descriptor)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&VerdictResponse{Verdict: v}), nil
}

func (h *handler) credentialInUse(ctx context.Context,
	req *connect.Request[CredentialInUseRequest]) (*connect.Response[VerdictResponse], error) {

	ct := req.Msg.CredentialType
	if ct == 0 {
		ct = credential.X509
	}
	v, err := h.verifier.CredentialInUse(ctx, req.Msg.Descriptor, ct)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&VerdictResponse{Verdict: v}), nil
}

func (h *handler) conversationState(ctx context.Context,
	req *connect.Request[ConversationStateRequest]) (*connect.Response[VerdictResponse], error) {

	v, err := h.verifier.ConversationState(ctx, group.ConversationID(req.Msg.ConversationID))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&VerdictResponse{Verdict: v}), nil
}

func (h *handler) joinConversation(ctx context.Context,
	req *connect.Request[JoinConversationRequest]) (*connect.Response[VerdictResponse], error) {

	v, err := h.verifier.JoinConversation(ctx, group.ConversationID(req.Msg.ConversationID),
		req.Msg.Descriptor)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&VerdictResponse{Verdict: v}), nil
}

func (h *handler) leaveConversation(ctx context.Context,
	req *connect.Request[LeaveConversationRequest]) (*connect.Response[LeaveConversationResponse], error) {

	if err := h.verifier.LeaveConversation(ctx, group.ConversationID(req.Msg.ConversationID)); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LeaveConversationResponse{}), nil
}

// toConnectError maps the error taxonomy onto connect codes.
func toConnectError(err error) error {
	var code connect.Code
	switch {
	case errors.Is(err, pki.ErrAlreadyRegistered):
		code = connect.CodeAlreadyExists
	case errors.Is(err, pki.ErrNotSetup), errors.Is(err, pki.ErrConsumerMisuse):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, pki.ErrMalformedInput), errors.Is(err, group.ErrMalformed),
		errors.Is(err, group.ErrRejected):
		code = connect.CodeInvalidArgument
	case errors.Is(err, pki.ErrValidationFailed), errors.Is(err, group.ErrUnauthenticated):
		code = connect.CodePermissionDenied
	case errors.Is(err, group.ErrConversationNotFound):
		code = connect.CodeNotFound
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}

func loggingInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			ctx, logger := log.WithLabels(ctx, "procedure", req.Spec().Procedure,
				"peer", req.Peer().Addr)
			resp, err := next(ctx, req)
			if err != nil {
				logger.Debug("Request failed", "code", connect.CodeOf(err), "err", err)
			}
			return resp, err
		}
	}
}
