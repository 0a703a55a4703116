// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package grants

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/lighthouse-oidc/lighthouse/pkg/logger"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
	"github.com/lighthouse-oidc/lighthouse/pkg/storage"
	"github.com/lighthouse-oidc/lighthouse/pkg/tokens"
)

// ScopeOpenID marks requests that want an identity token.
const ScopeOpenID = "openid"

// ProcessorConfig wires the collaborators of the token-endpoint processor.
type ProcessorConfig struct {
	// ClientAuth authenticates callers.
	ClientAuth *ClientAuthenticator

	// AccessTokens, RefreshTokens and IdentityTokens mint the responses.
	AccessTokens   *tokens.AccessTokenService
	RefreshTokens  *tokens.RefreshTokenService
	IdentityTokens *tokens.IdentityTokenService

	// Redeemer enforces single-use authorization codes.
	Redeemer *tokens.CodeRedeemer

	// Sessions resolves sid claims on refresh; optional.
	Sessions storage.SessionStore

	// BackChannel resolves CIBA redemptions; nil disables the grant type.
	BackChannel BackChannelGrantSource

	// Scopes and Resources are the server-wide policies.
	Scopes    ScopeManager
	Resources ResourceManager
}

// Processor runs the ordered validator pipeline and issues tokens. The
// pipeline and the grant-type dispatch table are resolved once at
// construction.
type Processor struct {
	cfg        ProcessorConfig
	validators []TokenContextValidator
	handlers   map[string]TokenContextValidator
}

// NewProcessor builds the processor and its pipeline.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.ClientAuth == nil {
		return nil, fmt.Errorf("a client authenticator is required")
	}
	if cfg.AccessTokens == nil {
		return nil, fmt.Errorf("an access token service is required")
	}

	p := &Processor{cfg: cfg}
	p.handlers = map[string]TokenContextValidator{
		oidc.GrantClientCredentials: clientCredentialsHandler(),
	}
	if cfg.Redeemer != nil {
		p.handlers[oidc.GrantAuthorizationCode] = authorizationCodeHandler(cfg.Redeemer)
	}
	if cfg.RefreshTokens != nil {
		p.handlers[oidc.GrantRefreshToken] = refreshTokenHandler(cfg.RefreshTokens, cfg.Sessions)
	}
	if cfg.BackChannel != nil {
		p.handlers[oidc.GrantCIBA] = cibaHandler(cfg.BackChannel)
	}

	p.validators = []TokenContextValidator{
		cfg.ClientAuth.Validator(),
		grantTypeValidator(),
		p.dispatchGrant,
		scopeValidator(cfg.Scopes),
		resourceValidator(cfg.Resources),
	}
	return p, nil
}

// dispatchGrant routes to the handler registered for the grant type.
func (p *Processor) dispatchGrant(ctx context.Context, tc *TokenContext) error {
	handler, ok := p.handlers[tc.Request.GrantType]
	if !ok {
		return oidcerr.UnsupportedGrantType(fmt.Sprintf("grant type %q is not supported", tc.Request.GrantType))
	}
	return handler(ctx, tc)
}

// Process validates the request and issues the token response.
func (p *Processor) Process(ctx context.Context, req *TokenRequest) (*oidc.TokenResponse, error) {
	tc := &TokenContext{Request: req}
	if err := RunValidators(ctx, tc, p.validators); err != nil {
		return nil, err
	}

	grant := *tc.Grant
	grant.Context.Scope = tc.GrantedScope
	grant.Context.Resources = tc.GrantedResources

	resp, issued, err := p.issue(ctx, tc.Client, &grant, issueOptions{
		code:       tc.RedeemedCode,
		grantType:  req.GrantType,
		authReqID:  tc.AuthReqID,
		rotatedJTI: tc.RotatedJTI,
	})
	if err != nil {
		return nil, err
	}

	if tc.RedeemedCode != "" && p.cfg.Redeemer != nil {
		if err := p.cfg.Redeemer.RecordIssuedTokens(ctx, tc.RedeemedCode, issued); err != nil {
			logger.Errorw("failed to record issued tokens against authorization code", "error", err)
		}
	}
	return resp, nil
}

// IssueForGrant mints a token response for an already-authorized grant,
// bypassing request validation. The CIBA push handler uses it to generate
// the delivered response.
func (p *Processor) IssueForGrant(ctx context.Context, client *oidc.ClientInfo, grant *oidc.AuthorizedGrant, authReqID string) (*oidc.TokenResponse, error) {
	resp, _, err := p.issue(ctx, client, grant, issueOptions{
		grantType: oidc.GrantCIBA,
		authReqID: authReqID,
	})
	return resp, err
}

type issueOptions struct {
	grantType  string
	code       string
	authReqID  string
	rotatedJTI string
}

func (p *Processor) issue(ctx context.Context, client *oidc.ClientInfo, grant *oidc.AuthorizedGrant, opts issueOptions) (*oidc.TokenResponse, []*tokens.Issued, error) {
	access, err := p.cfg.AccessTokens.Create(ctx, client, grant)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	issued := []*tokens.Issued{access}
	grant.RecordIssuedToken(access.JTI, access.ExpiresAt)

	resp := &oidc.TokenResponse{
		AccessToken: access.Encoded,
		TokenType:   tokens.TokenTypeBearer,
		ExpiresIn:   int64(access.TTL.Seconds()),
		AuthReqID:   opts.authReqID,
	}
	if len(grant.Context.Scope) > 0 {
		resp.Scope = strings.Join(grant.Context.Scope, " ")
	}

	if p.refreshable(client, opts.grantType) {
		refresh, err := p.cfg.RefreshTokens.Create(ctx, client, grant)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to issue refresh token: %w", err)
		}
		issued = append(issued, refresh)
		grant.RecordIssuedToken(refresh.JTI, refresh.ExpiresAt)
		resp.RefreshToken = refresh.Encoded
	}

	if p.cfg.IdentityTokens != nil && grant.Session != nil && slices.Contains(grant.Context.Scope, ScopeOpenID) {
		identity, err := p.cfg.IdentityTokens.Create(ctx, client, grant, tokens.Artifacts{
			AccessToken: access.Encoded,
			Code:        opts.code,
			AuthReqID:   opts.authReqID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to issue identity token: %w", err)
		}
		issued = append(issued, identity)
		resp.IDToken = identity.Encoded
		grant.Session.AppendAffectedClient(client.ID)
	}

	if opts.rotatedJTI != "" && p.cfg.RefreshTokens != nil {
		if err := p.cfg.RefreshTokens.MarkRotated(ctx, opts.rotatedJTI); err != nil {
			return nil, nil, err
		}
	}
	return resp, issued, nil
}

// refreshable reports whether this issuance should mint a refresh token:
// the client must hold the refresh_token grant, and client_credentials
// responses never carry one (RFC 6749 §4.4.3).
func (p *Processor) refreshable(client *oidc.ClientInfo, grantType string) bool {
	if p.cfg.RefreshTokens == nil || grantType == oidc.GrantClientCredentials {
		return false
	}
	return client.AllowsGrantType(oidc.GrantRefreshToken)
}
