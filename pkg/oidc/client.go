// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Grant type identifiers.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
	GrantCIBA              = "urn:openid:params:grant-type:ciba"
)

// Client authentication methods (RFC 8705, OIDC Core §9).
const (
	AuthMethodNone              = "none"
	AuthMethodSecretBasic       = "client_secret_basic"
	AuthMethodSecretPost        = "client_secret_post"
	AuthMethodSecretJWT         = "client_secret_jwt"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
	AuthMethodTLSClientAuth     = "tls_client_auth"
	AuthMethodSelfSignedTLSAuth = "self_signed_tls_client_auth"
)

// CIBA token delivery modes.
const (
	DeliveryModePoll = "poll"
	DeliveryModePing = "ping"
	DeliveryModePush = "push"
)

// Subject identifier types.
const (
	SubjectTypePublic   = "public"
	SubjectTypePairwise = "pairwise"
)

// ClientInfo is the registered metadata of a relying party.
type ClientInfo struct {
	// ID is the client identifier.
	ID string

	// Name is a human-readable client name.
	Name string

	// Secret is the shared client secret for secret-based auth methods.
	// Empty for public clients.
	Secret string

	// AllowedGrantTypes lists the grant types this client may use.
	AllowedGrantTypes []string

	// AllowedAuthMethods lists the token-endpoint auth methods this client
	// may use.
	AllowedAuthMethods []string

	// RedirectURIs lists the registered redirect URIs.
	RedirectURIs []string

	// SectorIdentifierURI groups clients for pairwise subject derivation.
	SectorIdentifierURI string

	// JWKS is the client's inline key set, when registered by value.
	JWKS jwk.Set

	// JWKSURI is the client's key set location, when registered by reference.
	JWKSURI string

	// AccessTokenTTL overrides the server default when non-zero.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL overrides the server default when non-zero.
	RefreshTokenTTL time.Duration

	// IdentityTokenTTL overrides the server default when non-zero.
	IdentityTokenTTL time.Duration

	// SubjectType selects public or pairwise subject identifiers.
	SubjectType string

	// RequirePKCE forces PKCE on authorization_code exchanges.
	RequirePKCE bool

	// AllowedScopes lists the scopes this client may request; empty means
	// the server-wide scope policy applies alone.
	AllowedScopes []string

	// TLSSubjectDN is the expected certificate subject for tls_client_auth.
	TLSSubjectDN string

	// IdentityTokenSignedAlg is the signing algorithm for id tokens;
	// defaults to the server signing algorithm when empty.
	IdentityTokenSignedAlg string

	// IdentityTokenEncryptedAlg, when set together with
	// IdentityTokenEncryptedEnc, requests an encrypted (nested) id token.
	IdentityTokenEncryptedAlg string

	// IdentityTokenEncryptedEnc is the content-encryption algorithm for
	// encrypted id tokens.
	IdentityTokenEncryptedEnc string

	// BackChannelDeliveryMode is the CIBA delivery mode: poll, ping or push.
	BackChannelDeliveryMode string

	// ClientNotificationEndpoint receives ping and push notifications.
	ClientNotificationEndpoint string

	// PollInterval is the minimum interval between CIBA polls; zero means
	// the server default.
	PollInterval time.Duration
}

// Validate checks the registration invariants.
func (c *ClientInfo) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("client id is required")
	}

	switch c.BackChannelDeliveryMode {
	case "", DeliveryModePoll:
	case DeliveryModePing, DeliveryModePush:
		if c.ClientNotificationEndpoint == "" {
			return fmt.Errorf("client %s: %s mode requires a client_notification_endpoint", c.ID, c.BackChannelDeliveryMode)
		}
	default:
		return fmt.Errorf("client %s: unknown backchannel delivery mode %q", c.ID, c.BackChannelDeliveryMode)
	}

	for _, gt := range c.AllowedGrantTypes {
		switch gt {
		case GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials, GrantCIBA:
		default:
			return fmt.Errorf("client %s: unknown grant type %q", c.ID, gt)
		}
	}
	return nil
}

// AllowsGrantType reports whether the client may use the grant type.
func (c *ClientInfo) AllowsGrantType(grantType string) bool {
	for _, gt := range c.AllowedGrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// AllowsAuthMethod reports whether the client may authenticate with the
// method. An empty registration allows every secret- and key-based method.
func (c *ClientInfo) AllowsAuthMethod(method string) bool {
	if len(c.AllowedAuthMethods) == 0 {
		return method != AuthMethodNone
	}
	for _, m := range c.AllowedAuthMethods {
		if m == method {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether the redirect URI is registered.
// Comparison is byte-exact.
func (c *ClientInfo) AllowsRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// IsPublic reports whether the client has no credential.
func (c *ClientInfo) IsPublic() bool {
	return c.Secret == "" && c.JWKS == nil && c.JWKSURI == ""
}
