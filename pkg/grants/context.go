// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

// Package grants implements the token-endpoint processing pipeline: client
// authentication, grant-type authorization, per-grant handlers, scope and
// resource validation, and token issuance.
package grants

import (
	"context"

	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
)

// ClientAssertionTypeJWTBearer is the assertion type of RFC 7523 client
// authentication.
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// TokenRequest is the parsed body of a POST to the token endpoint, plus the
// transport-level authentication material the handler extracted.
type TokenRequest struct {
	// GrantType is the grant_type parameter.
	GrantType string

	// Code and CodeVerifier serve authorization_code redemptions.
	Code         string
	CodeVerifier string

	// RedirectURI must byte-match the one used at authorization time.
	RedirectURI string

	// RefreshToken serves refresh_token redemptions.
	RefreshToken string

	// AuthReqID serves CIBA redemptions.
	AuthReqID string

	// Scope is the requested scope; empty means the full granted scope.
	Scope []string

	// Resources are the RFC 8707 resource indicators.
	Resources []string

	// ClientID and ClientSecret carry secret-based credentials.
	ClientID     string
	ClientSecret string

	// SecretViaBasic records whether the secret arrived in the Authorization
	// header (client_secret_basic) or the body (client_secret_post).
	SecretViaBasic bool

	// ClientAssertionType and ClientAssertion carry RFC 7523 credentials.
	ClientAssertionType string
	ClientAssertion     string

	// PeerSubjectDN is the subject of the request's verified TLS client
	// certificate, when the transport performed mTLS.
	PeerSubjectDN string

	// PeerCertSelfSigned records whether the peer certificate chained to a
	// trusted CA (tls_client_auth) or only to itself (self_signed variant).
	PeerCertSelfSigned bool
}

// TokenContext is the mutable state threaded through the validator pipeline.
// Validators run strictly in order, so each may rely on the outputs of the
// ones before it.
type TokenContext struct {
	// Request is the request under validation.
	Request *TokenRequest

	// Client is set by the client validator.
	Client *oidc.ClientInfo

	// Grant is set by the grant handler.
	Grant *oidc.AuthorizedGrant

	// GrantedScope and GrantedResources are set by the scope and resource
	// validators.
	GrantedScope     []string
	GrantedResources []string

	// RedeemedCode is the authorization code consumed by this request, kept
	// so issued jtis can be recorded against it.
	RedeemedCode string

	// RotatedJTI is the predecessor refresh token to mark Used after the
	// successor is issued.
	RotatedJTI string

	// AuthReqID is the CIBA transaction this request redeemed.
	AuthReqID string
}

// TokenContextValidator inspects and annotates the context, returning a
// protocol error to short-circuit processing.
type TokenContextValidator func(ctx context.Context, tc *TokenContext) error

// RunValidators executes the validators in order, stopping at the first
// error.
func RunValidators(ctx context.Context, tc *TokenContext, validators []TokenContextValidator) error {
	for _, v := range validators {
		if err := v(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}
