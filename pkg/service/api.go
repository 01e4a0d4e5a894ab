// Package service exposes the PKI environment manager and the verifier as
// connect RPC services. Messages are JSON encoded.
package service

import (
	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/e2ei"
	"github.com/fancl20/e2ei/pkg/pki"
)

const (
	PKIServiceName          = "e2ei.v1.PKIService"
	VerificationServiceName = "e2ei.v1.VerificationService"
)

const (
	// PKIServiceRegisterTrustAnchorProcedure is the HTTP path for the
	// RegisterTrustAnchor RPC.
	PKIServiceRegisterTrustAnchorProcedure = "/" + PKIServiceName + "/RegisterTrustAnchor"
	// PKIServiceRegisterIntermediateProcedure is the HTTP path for the
	// RegisterIntermediate RPC.
	PKIServiceRegisterIntermediateProcedure = "/" + PKIServiceName + "/RegisterIntermediate"
	// PKIServiceRegisterCRLProcedure is the HTTP path for the RegisterCRL RPC.
	PKIServiceRegisterCRLProcedure = "/" + PKIServiceName + "/RegisterCRL"
	// PKIServiceDumpProcedure is the HTTP path for the Dump RPC.
	PKIServiceDumpProcedure = "/" + PKIServiceName + "/Dump"
	// PKIServiceIsConfiguredProcedure is the HTTP path for the IsConfigured RPC.
	PKIServiceIsConfiguredProcedure = "/" + PKIServiceName + "/IsConfigured"

	// VerificationServiceVerifyGroupStateProcedure is the HTTP path for the
	// VerifyGroupState RPC.
	VerificationServiceVerifyGroupStateProcedure = "/" + VerificationServiceName + "/VerifyGroupState"
	// VerificationServiceCredentialInUseProcedure is the HTTP path for the
	// CredentialInUse RPC.
	VerificationServiceCredentialInUseProcedure = "/" + VerificationServiceName + "/CredentialInUse"
	// VerificationServiceConversationStateProcedure is the HTTP path for the
	// ConversationState RPC.
	VerificationServiceConversationStateProcedure = "/" + VerificationServiceName + "/ConversationState"
	// VerificationServiceJoinConversationProcedure is the HTTP path for the
	// JoinConversation RPC.
	VerificationServiceJoinConversationProcedure = "/" + VerificationServiceName + "/JoinConversation"
	// VerificationServiceLeaveConversationProcedure is the HTTP path for the
	// LeaveConversation RPC.
	VerificationServiceLeaveConversationProcedure = "/" + VerificationServiceName + "/LeaveConversation"
)

type RegisterTrustAnchorRequest struct {
	PEM string `json:"pem"`
}

type RegisterTrustAnchorResponse struct{}

type RegisterIntermediateRequest struct {
	PEM string `json:"pem"`
}

type RegisterIntermediateResponse struct {
	// DistributionPoints are the CRL locations announced by the intermediate.
	DistributionPoints []string `json:"distribution_points"`
	// Skipped is set if the certificate is the trust anchor and nothing was
	// stored.
	Skipped bool `json:"skipped"`
}

type RegisterCRLRequest struct {
	DistributionPoint string `json:"distribution_point"`
	// CRL is the PEM or DER encoded revocation list.
	CRL []byte `json:"crl"`
}

type RegisterCRLResponse = pki.CRLRegistration

type DumpRequest struct{}

type DumpResponse struct {
	// Environment is nil if no PKI is configured.
	Environment *pki.DumpedEnvironment `json:"environment,omitempty"`
}

type IsConfiguredRequest struct{}

type IsConfiguredResponse struct {
	Configured bool `json:"configured"`
}

type VerifyGroupStateRequest struct {
	Descriptor []byte `json:"descriptor"`
}

type CredentialInUseRequest struct {
	Descriptor []byte `json:"descriptor"`
	// CredentialType defaults to X509.
	CredentialType credential.Type `json:"credential_type,omitempty"`
}

type ConversationStateRequest struct {
	ConversationID string `json:"conversation_id"`
}

type JoinConversationRequest struct {
	ConversationID string `json:"conversation_id"`
	Descriptor     []byte `json:"descriptor"`
}

type LeaveConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type LeaveConversationResponse struct{}

type VerdictResponse struct {
	Verdict e2ei.Verdict `json:"verdict"`
}
