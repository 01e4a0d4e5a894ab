package service

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/quic-go/quic-go/http3"

	"github.com/fancl20/e2ei/pkg/credential"
	"github.com/fancl20/e2ei/pkg/e2ei"
	"github.com/fancl20/e2ei/pkg/group"
	"github.com/fancl20/e2ei/pkg/pki"
)

// Client calls both services of a remote server.
type Client struct {
	registerTrustAnchor  *connect.Client[RegisterTrustAnchorRequest, RegisterTrustAnchorResponse]
	registerIntermediate *connect.Client[RegisterIntermediateRequest, RegisterIntermediateResponse]
	registerCRL          *connect.Client[RegisterCRLRequest, RegisterCRLResponse]
	dump                 *connect.Client[DumpRequest, DumpResponse]
	isConfigured         *connect.Client[IsConfiguredRequest, IsConfiguredResponse]
	verifyGroupState     *connect.Client[VerifyGroupStateRequest, VerdictResponse]
	credentialInUse      *connect.Client[CredentialInUseRequest, VerdictResponse]
	conversationState    *connect.Client[ConversationStateRequest, VerdictResponse]
	joinConversation     *connect.Client[JoinConversationRequest, VerdictResponse]
	leaveConversation    *connect.Client[LeaveConversationRequest, LeaveConversationResponse]
}

// NewClient creates a client for the server at baseURL.
func NewClient(clt connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		registerTrustAnchor: connect.NewClient[RegisterTrustAnchorRequest, RegisterTrustAnchorResponse](
			clt, baseURL+PKIServiceRegisterTrustAnchorProcedure, opts...),
		registerIntermediate: connect.NewClient[RegisterIntermediateRequest, RegisterIntermediateResponse](
			clt, baseURL+PKIServiceRegisterIntermediateProcedure, opts...),
		registerCRL: connect.NewClient[RegisterCRLRequest, RegisterCRLResponse](
			clt, baseURL+PKIServiceRegisterCRLProcedure, opts...),
		dump: connect.NewClient[DumpRequest, DumpResponse](
			clt, baseURL+PKIServiceDumpProcedure, opts...),
		isConfigured: connect.NewClient[IsConfiguredRequest, IsConfiguredResponse](
			clt, baseURL+PKIServiceIsConfiguredProcedure, opts...),
		verifyGroupState: connect.NewClient[VerifyGroupStateRequest, VerdictResponse](
			clt, baseURL+VerificationServiceVerifyGroupStateProcedure, opts...),
		credentialInUse: connect.NewClient[CredentialInUseRequest, VerdictResponse](
			clt, baseURL+VerificationServiceCredentialInUseProcedure, opts...),
		conversationState: connect.NewClient[ConversationStateRequest, VerdictResponse](
			clt, baseURL+VerificationServiceConversationStateProcedure, opts...),
		joinConversation: connect.NewClient[JoinConversationRequest, VerdictResponse](
			clt, baseURL+VerificationServiceJoinConversationProcedure, opts...),
		leaveConversation: connect.NewClient[LeaveConversationRequest, LeaveConversationResponse](
			clt, baseURL+VerificationServiceLeaveConversationProcedure, opts...),
	}
}

// NewHTTP3Client returns an HTTP client speaking HTTP/3. The caller closes
// the returned transport.
func NewHTTP3Client(tlsConfig *tls.Config) (*http.Client, *http3.Transport) {
	tr := &http3.Transport{TLSClientConfig: tlsConfig}
	return &http.Client{Transport: tr}, tr
}

func (c *Client) RegisterTrustAnchor(ctx context.Context, pem string) error {
	_, err := c.registerTrustAnchor.CallUnary(ctx,
		connect.NewRequest(&RegisterTrustAnchorRequest{PEM: pem}))
	return err
}

// RegisterIntermediate returns nil distribution points if the server skipped
// the certificate because it is the trust anchor.
func (c *Client) RegisterIntermediate(ctx context.Context, pem string) (pki.DistributionPoints, error) {
	resp, err := c.registerIntermediate.CallUnary(ctx,
		connect.NewRequest(&RegisterIntermediateRequest{PEM: pem}))
	if err != nil {
		return nil, err
	}
	if resp.Msg.Skipped {
		return nil, nil
	}
	if resp.Msg.DistributionPoints == nil {
		return pki.DistributionPoints{}, nil
	}
	return pki.DistributionPoints(resp.Msg.DistributionPoints), nil
}

func (c *Client) RegisterCRL(ctx context.Context, dp string, crl []byte) (pki.CRLRegistration, error) {
	resp, err := c.registerCRL.CallUnary(ctx,
		connect.NewRequest(&RegisterCRLRequest{DistributionPoint: dp, CRL: crl}))
	if err != nil {
		return pki.CRLRegistration{}, err
	}
	return *resp.Msg, nil
}

// Dump returns nil if the server has no PKI configured.
func (c *Client) Dump(ctx context.Context) (*pki.DumpedEnvironment, error) {
	resp, err := c.dump.CallUnary(ctx, connect.NewRequest(&DumpRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.Environment, nil
}

func (c *Client) IsConfigured(ctx context.Context) (bool, error) {
	resp, err := c.isConfigured.CallUnary(ctx, connect.NewRequest(&IsConfiguredRequest{}))
	if err != nil {
		return false, err
	}
	return resp.Msg.Configured, nil
}

func (c *Client) VerifyGroupState(ctx context.Context, descriptor []byte) (e2ei.Verdict, error) {
	resp, err := c.verifyGroupState.CallUnary(ctx,
		connect.NewRequest(&VerifyGroupStateRequest{Descriptor: descriptor}))
	if err != nil {
		return 0, err
	}
	return resp.Msg.Verdict, nil
}

func (c *Client) CredentialInUse(ctx context.Context, descriptor []byte,
	ct credential.Type) (e2ei.Verdict, error) {

	resp, err := c.credentialInUse.CallUnary(ctx, connect.NewRequest(&CredentialInUseRequest{
		Descriptor:     descriptor,
		CredentialType: ct,
	}))
	if err != nil {
		return 0, err
	}
	return resp.Msg.Verdict, nil
}

func (c *Client) ConversationState(ctx context.Context, id group.ConversationID) (e2ei.Verdict, error) {
	resp, err := c.conversationState.CallUnary(ctx,
		connect.NewRequest(&ConversationStateRequest{ConversationID: string(id)}))
	if err != nil {
		return 0, err
	}
	return resp.Msg.Verdict, nil
}

func (c *Client) JoinConversation(ctx context.Context, id group.ConversationID,
	descriptor []byte) (e2ei.Verdict, error) {

	resp, err := c.joinConversation.CallUnary(ctx, connect.NewRequest(&JoinConversationRequest{
		ConversationID: string(id),
		Descriptor:     descriptor,
	}))
	if err != nil {
		return 0, err
	}
	return resp.Msg.Verdict, nil
}

func (c *Client) LeaveConversation(ctx context.Context, id group.ConversationID) error {
	_, err := c.leaveConversation.CallUnary(ctx,
		connect.NewRequest(&LeaveConversationRequest{ConversationID: string(id)}))
	return err
}
