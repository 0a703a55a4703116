// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"context"
	"strings"

	"github.com/lighthouse-oidc/lighthouse/pkg/jose"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidc"
	"github.com/lighthouse-oidc/lighthouse/pkg/oidcerr"
)

// AccessTokenService mints and validates access tokens.
type AccessTokenService struct {
	cfg *Config
}

// NewAccessTokenService builds the service over a shared configuration.
func NewAccessTokenService(cfg *Config) *AccessTokenService {
	cfg.applyDefaults()
	return &AccessTokenService{cfg: cfg}
}

// Create mints an access token for the grant. The aud claim carries the
// resource indicators when the grant is resource-bound; client_id and azp
// both name the requesting client, and sub carries the session subject for
// user-bound grants.
func (s *AccessTokenService) Create(ctx context.Context, client *oidc.ClientInfo, grant *oidc.AuthorizedGrant) (*Issued, error) {
	ttl := s.cfg.AccessTokenTTL
	if client.AccessTokenTTL > 0 {
		ttl = client.AccessTokenTTL
	}

	var subject, sid string
	if grant.Session != nil {
		subject = grant.Session.Subject
		sid = grant.Session.SessionID
	}
	payload := s.cfg.baseClaims(subject, grant.Context.Resources, ttl)
	payload[jose.ClaimClientID] = client.ID
	payload[jose.ClaimAZP] = client.ID
	if sid != "" {
		payload[jose.ClaimSID] = sid
	}
	if len(grant.Context.Scope) > 0 {
		payload[jose.ClaimScope] = strings.Join(grant.Context.Scope, " ")
	}

	issued, err := s.cfg.mint(ctx, payload, s.cfg.SigningAlgorithm, "at+jwt")
	if err != nil {
		return nil, err
	}
	if err := s.cfg.register(ctx, issued); err != nil {
		return nil, err
	}
	return issued, nil
}

// Parse decodes an access token without verifying it.
func (s *AccessTokenService) Parse(encoded string) (*jose.JSONWebToken, error) {
	return jose.ParseCompact(encoded)
}

// Validate verifies the token and its registry status.
func (s *AccessTokenService) Validate(ctx context.Context, encoded string) (*jose.JSONWebToken, *oidcerr.JWTError) {
	return s.cfg.validate(ctx, encoded, 0)
}
