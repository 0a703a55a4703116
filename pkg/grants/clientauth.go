// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/lighthouse-oidc/lighthouse/pkg/jose"
	"github.com/lighthouse-oidc/lighthouse/pkg/keys"
	"github.com/lighthouse-oidc/lighthouse/pkg/logger"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
	"github.com/lighthouse-oidc/lighthouse/pkg/storage"
)

// errInvalidClient is the uniform failure: the endpoint never reveals which
// part of client authentication failed.
var errInvalidClient = oidcerr.InvalidClient("client authentication failed")

// ClientAuthenticator authenticates token-endpoint callers across the
// supported methods: none, client_secret_basic, client_secret_post,
// client_secret_jwt, private_key_jwt, tls_client_auth and
// self_signed_tls_client_auth.
type ClientAuthenticator struct {
	// Clients resolves registrations.
	Clients storage.ClientInfoProvider

	// ClientKeys resolves keys for private_key_jwt.
	ClientKeys keys.ClientKeysProvider

	// TokenEndpoint is the required audience of client assertions.
	TokenEndpoint string

	// AssertionReplay enforces one-time presentation of assertion jtis.
	AssertionReplay jose.ReplayCache

	// ClockSkew applies to assertion time checks.
	ClockSkew time.Duration

	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time
}

// Validator returns the pipeline step that authenticates the client and
// writes it into the context.
func (a *ClientAuthenticator) Validator() TokenContextValidator {
	return func(ctx context.Context, tc *TokenContext) error {
		client, err := a.Authenticate(ctx, tc.Request)
		if err != nil {
			return err
		}
		tc.Client = client
		return nil
	}
}

// Authenticate runs the method the request's credential shape selects.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, req *TokenRequest) (*oidc.ClientInfo, error) {
	switch {
	case req.ClientAssertion != "":
		if req.ClientAssertionType != ClientAssertionTypeJWTBearer {
			return nil, oidcerr.InvalidClient("unsupported client_assertion_type")
		}
		return a.authenticateAssertion(ctx, req.ClientAssertion)
	case req.ClientSecret != "":
		return a.authenticateSecret(ctx, req)
	case req.PeerSubjectDN != "":
		return a.authenticateTLS(ctx, req)
	default:
		return a.authenticateNone(ctx, req)
	}
}

func (a *ClientAuthenticator) lookup(ctx context.Context, clientID string) (*oidc.ClientInfo, error) {
	if clientID == "" {
		return nil, errInvalidClient
	}
	client, err := a.Clients.GetClientInfo(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errInvalidClient
		}
		return nil, oidcerr.Wrap(oidcerr.CodeInvalidClient, "client lookup failed", err)
	}
	return client, nil
}

func (a *ClientAuthenticator) authenticateSecret(ctx context.Context, req *TokenRequest) (*oidc.ClientInfo, error) {
	method := oidc.AuthMethodSecretPost
	if req.SecretViaBasic {
		method = oidc.AuthMethodSecretBasic
	}

	client, err := a.lookup(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.AllowsAuthMethod(method) || client.Secret == "" {
		return nil, errInvalidClient
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(req.ClientSecret)) != 1 {
		return nil, errInvalidClient
	}
	return client, nil
}

func (a *ClientAuthenticator) authenticateNone(ctx context.Context, req *TokenRequest) (*oidc.ClientInfo, error) {
	client, err := a.lookup(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(client.AllowedAuthMethods, oidc.AuthMethodNone) {
		return nil, errInvalidClient
	}
	return client, nil
}

func (a *ClientAuthenticator) authenticateTLS(ctx context.Context, req *TokenRequest) (*oidc.ClientInfo, error) {
	method := oidc.AuthMethodTLSClientAuth
	if req.PeerCertSelfSigned {
		method = oidc.AuthMethodSelfSignedTLSAuth
	}

	client, err := a.lookup(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.AllowsAuthMethod(method) || client.TLSSubjectDN == "" {
		return nil, errInvalidClient
	}
	if client.TLSSubjectDN != req.PeerSubjectDN {
		return nil, errInvalidClient
	}
	return client, nil
}

// authenticateAssertion validates an RFC 7523 client assertion: iss and sub
// name the client, aud is the token endpoint, and the jti is single-use.
func (a *ClientAuthenticator) authenticateAssertion(ctx context.Context, assertion string) (*oidc.ClientInfo, error) {
	unverified, err := jose.ParseCompact(assertion)
	if err != nil {
		return nil, errInvalidClient
	}
	clientID, ok := unverified.Payload.Issuer()
	if !ok || clientID == "" {
		return nil, errInvalidClient
	}
	client, err := a.lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}

	symmetric := strings.HasPrefix(unverified.Header.Algorithm, "HS")
	method := oidc.AuthMethodPrivateKeyJWT
	if symmetric {
		method = oidc.AuthMethodSecretJWT
	}
	if !client.AllowsAuthMethod(method) {
		return nil, errInvalidClient
	}

	token, jwtErr := a.validateAssertion(ctx, assertion, client, symmetric)
	if jwtErr != nil {
		logger.Debugw("client assertion rejected", "client_id", clientID, "kind", jwtErr.Kind)
		if jwtErr.Kind == oidcerr.KindReplayed {
			return nil, oidcerr.Wrap(oidcerr.CodeInvalidClient, "client assertion has already been used", jwtErr)
		}
		return nil, errInvalidClient
	}

	if sub, _ := token.Payload.Subject(); sub != clientID {
		return nil, errInvalidClient
	}
	return client, nil
}

func (a *ClientAuthenticator) validateAssertion(ctx context.Context, assertion string, client *oidc.ClientInfo, symmetric bool) (*jose.JSONWebToken, *oidcerr.JWTError) {
	params := jose.ValidationParams{
		ClockSkew:   a.ClockSkew,
		Now:         a.Now,
		ReplayCache: a.AssertionReplay,
		ValidateIssuer: func(issuer string) bool {
			return issuer == client.ID
		},
		ValidateAudience: func(auds []string) bool {
			return slices.Contains(auds, a.TokenEndpoint)
		},
		IssuerSigningKeys: func(ctx context.Context, _ string) ([]jwk.Key, error) {
			return a.assertionKeys(ctx, client, symmetric)
		},
	}

	token, jwtErr := jose.Validate(ctx, assertion, params)
	if jwtErr != nil && jwtErr.Kind == oidcerr.KindInvalidSignature && !symmetric {
		// A kid miss usually means the client rotated its JWKS; refetch once.
		type invalidator interface{ Invalidate(*oidc.ClientInfo) }
		if inv, ok := a.ClientKeys.(invalidator); ok {
			inv.Invalidate(client)
			return jose.Validate(ctx, assertion, params)
		}
	}
	return token, jwtErr
}

func (a *ClientAuthenticator) assertionKeys(ctx context.Context, client *oidc.ClientInfo, symmetric bool) ([]jwk.Key, error) {
	if symmetric {
		if client.Secret == "" {
			return nil, errInvalidClient
		}
		key, err := jwk.Import([]byte(client.Secret))
		if err != nil {
			return nil, err
		}
		return []jwk.Key{key}, nil
	}
	if a.ClientKeys == nil {
		return nil, errInvalidClient
	}
	return a.ClientKeys.GetSigningKeys(ctx, client)
}
