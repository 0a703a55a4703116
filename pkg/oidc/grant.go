// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"slices"
	"strings"
	"time"

	"github.com/lighthouse-oidc/lighthouse/pkg/jose"
)

// AuthorizationContext captures the parameters of a completed authorization
// request for later token issuance.
type AuthorizationContext struct {
	// ClientID is the requesting client.
	ClientID string `json:"client_id"`

	// Scope is the granted scope, in request order.
	Scope []string `json:"scope,omitempty"`

	// RequestedClaims is the serialized claims request parameter, if any.
	RequestedClaims string `json:"requested_claims,omitempty"`

	// RedirectURI is the redirect URI the authorization response used.
	RedirectURI string `json:"redirect_uri,omitempty"`

	// Nonce is the client-supplied nonce, echoed into the id token.
	Nonce string `json:"nonce,omitempty"`

	// CodeChallenge is the PKCE challenge bound to the authorization code.
	CodeChallenge string `json:"code_challenge,omitempty"`

	// CodeChallengeMethod is "plain" or "S256".
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`

	// Resources are the RFC 8707 resource indicators.
	Resources []string `json:"resources,omitempty"`
}

// Authorization-context claim names used by ApplyTo / FromPayload.
const (
	claimRedirectURI         = "redirect_uri"
	claimCodeChallenge       = "code_challenge"
	claimCodeChallengeMethod = "code_challenge_method"
	claimResource            = "resource"
)

// ApplyTo writes the context into a JWT payload. FromPayload inverts it.
func (c AuthorizationContext) ApplyTo(p jose.Payload) {
	setNonEmpty := func(name, value string) {
		if value != "" {
			p[name] = value
		}
	}
	setNonEmpty(jose.ClaimClientID, c.ClientID)
	if len(c.Scope) > 0 {
		p[jose.ClaimScope] = strings.Join(c.Scope, " ")
	}
	setNonEmpty(jose.ClaimRequestedClaims, c.RequestedClaims)
	setNonEmpty(claimRedirectURI, c.RedirectURI)
	setNonEmpty(jose.ClaimNonce, c.Nonce)
	setNonEmpty(claimCodeChallenge, c.CodeChallenge)
	setNonEmpty(claimCodeChallengeMethod, c.CodeChallengeMethod)
	if len(c.Resources) > 0 {
		p[claimResource] = c.Resources
	}
}

// AuthorizationContextFromPayload reads a context previously written with
// ApplyTo.
func AuthorizationContextFromPayload(p jose.Payload) AuthorizationContext {
	ctx := AuthorizationContext{Scope: p.Scope()}
	ctx.ClientID, _ = p.ClientID()
	ctx.RequestedClaims, _ = p.RequestedClaims()
	ctx.RedirectURI, _ = p.GetString(claimRedirectURI)
	ctx.Nonce, _ = p.Nonce()
	ctx.CodeChallenge, _ = p.GetString(claimCodeChallenge)
	ctx.CodeChallengeMethod, _ = p.GetString(claimCodeChallengeMethod)
	ctx.Resources = p.GetStrings(claimResource)
	return ctx
}

// HasScope reports whether the context granted the scope.
func (c AuthorizationContext) HasScope(scope string) bool {
	return slices.Contains(c.Scope, scope)
}

// IssuedToken records a token minted under a grant, for cascading
// revocation.
type IssuedToken struct {
	// JTI is the token identifier.
	JTI string `json:"jti"`

	// ExpiresAt is the token expiry.
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthorizedGrant ties an authenticated session to an authorization context
// and the tokens issued under it.
type AuthorizedGrant struct {
	// Session is the authenticated user session.
	Session *AuthSession `json:"session"`

	// Context is the captured authorization request.
	Context AuthorizationContext `json:"context"`

	// IssuedTokens lists tokens minted under this grant.
	IssuedTokens []IssuedToken `json:"issued_tokens,omitempty"`
}

// RecordIssuedToken appends a minted token to the grant.
func (g *AuthorizedGrant) RecordIssuedToken(jti string, expiresAt time.Time) {
	g.IssuedTokens = append(g.IssuedTokens, IssuedToken{JTI: jti, ExpiresAt: expiresAt})
}
