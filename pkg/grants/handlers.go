// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"errors"
	"fmt"

	"github.com/lighthouse-oidc/lighthouse/pkg/jose"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
	"github.com/lighthouse-oidc/lighthouse/pkg/storage"
	"github.com/lighthouse-oidc/lighthouse/pkg/tokens"
)

// BackChannelGrantSource resolves a CIBA auth_req_id into its authorized
// grant. Implemented by the CIBA engine; the pending, denied and expired
// states surface as the corresponding protocol errors.
type BackChannelGrantSource interface {
	Redeem(ctx context.Context, client *oidc.ClientInfo, authReqID string) (*oidc.AuthorizedGrant, error)
}

// grantTypeValidator refuses grant types outside the client's registration.
func grantTypeValidator() TokenContextValidator {
	return func(_ context.Context, tc *TokenContext) error {
		if tc.Request.GrantType == "" {
			return oidcerr.InvalidRequest("grant_type is required")
		}
		if !tc.Client.AllowsGrantType(tc.Request.GrantType) {
			return oidcerr.UnauthorizedClient(fmt.Sprintf("client may not use grant type %q", tc.Request.GrantType))
		}
		return nil
	}
}

// authorizationCodeHandler redeems the code, verifies PKCE and the
// redirect_uri binding, and installs the stored grant.
func authorizationCodeHandler(redeemer *tokens.CodeRedeemer) TokenContextValidator {
	return func(ctx context.Context, tc *TokenContext) error {
		req := tc.Request
		if req.Code == "" {
			return oidcerr.InvalidRequest("code is required")
		}

		grant, err := redeemer.Redeem(ctx, req.Code)
		if err != nil {
			return err
		}
		if grant.Context.ClientID != tc.Client.ID {
			return oidcerr.InvalidGrant("authorization code was issued to another client")
		}
		if grant.Context.RedirectURI != req.RedirectURI {
			return oidcerr.InvalidGrant("redirect_uri does not match the authorization request")
		}
		if err := VerifyPKCE(grant.Context.CodeChallenge, grant.Context.CodeChallengeMethod, req.CodeVerifier, tc.Client.RequirePKCE); err != nil {
			return err
		}

		tc.Grant = grant
		tc.RedeemedCode = req.Code
		return nil
	}
}

// refreshTokenHandler validates the presented refresh token and rebuilds the
// grant it carries. The predecessor jti is queued for rotation.
func refreshTokenHandler(refresh *tokens.RefreshTokenService, sessions storage.SessionStore) TokenContextValidator {
	return func(ctx context.Context, tc *TokenContext) error {
		req := tc.Request
		if req.RefreshToken == "" {
			return oidcerr.InvalidRequest("refresh_token is required")
		}

		token, jwtErr := refresh.Validate(ctx, req.RefreshToken)
		if jwtErr != nil {
			return jwtErr.ToProtocol()
		}

		authCtx := oidc.AuthorizationContextFromPayload(token.Payload)
		if authCtx.ClientID != tc.Client.ID {
			return oidcerr.InvalidGrant("refresh token was issued to another client")
		}

		tc.Grant = &oidc.AuthorizedGrant{
			Session: resolveSession(ctx, sessions, token.Payload),
			Context: authCtx,
		}
		tc.RotatedJTI, _ = token.Payload.JTI()
		return nil
	}
}

// resolveSession looks the sid up in the session store when one is wired,
// falling back to a session synthesized from the token claims. A sign-out
// deletes the stored session, which downgrades but does not invalidate the
// refresh token.
func resolveSession(ctx context.Context, sessions storage.SessionStore, payload jose.Payload) *oidc.AuthSession {
	sub, _ := payload.Subject()
	if sub == "" {
		return nil
	}
	sid, _ := payload.SID()
	if sid != "" && sessions != nil {
		if session, err := sessions.GetSession(ctx, sid); err == nil {
			return session
		} else if !errors.Is(err, storage.ErrNotFound) {
			return &oidc.AuthSession{Subject: sub, SessionID: sid}
		}
	}
	return &oidc.AuthSession{Subject: sub, SessionID: sid}
}

// clientCredentialsHandler synthesizes a user-less grant for the
// authenticated client.
func clientCredentialsHandler() TokenContextValidator {
	return func(_ context.Context, tc *TokenContext) error {
		tc.Grant = &oidc.AuthorizedGrant{
			Context: oidc.AuthorizationContext{
				ClientID:  tc.Client.ID,
				Scope:     tc.Request.Scope,
				Resources: tc.Request.Resources,
			},
		}
		return nil
	}
}

// cibaHandler redeems the auth_req_id through the engine. Push-mode clients
// never poll: their tokens were delivered out-of-band.
func cibaHandler(source BackChannelGrantSource) TokenContextValidator {
	return func(ctx context.Context, tc *TokenContext) error {
		req := tc.Request
		if req.AuthReqID == "" {
			return oidcerr.InvalidRequest("auth_req_id is required")
		}
		if source == nil {
			return oidcerr.UnsupportedGrantType("backchannel authentication is not enabled")
		}
		if tc.Client.BackChannelDeliveryMode == oidc.DeliveryModePush {
			return oidcerr.InvalidGrant("push mode clients receive tokens directly")
		}

		grant, err := source.Redeem(ctx, tc.Client, req.AuthReqID)
		if err != nil {
			return err
		}
		tc.Grant = grant
		tc.AuthReqID = req.AuthReqID
		return nil
	}
}
